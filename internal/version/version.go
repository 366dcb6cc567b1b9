// Package version holds build-time version metadata, set with -ldflags.
package version

import "runtime"

var (
	Version   = "dev"
	Commit    = "none"
	Date      = "unknown"
	GoVersion = runtime.Version()
)

// Info returns the version metadata as a map for API and CLI output.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"commit":     Commit,
		"date":       Date,
		"go_version": GoVersion,
	}
}
