// Package boot implements the A/B system selection program run by
// "wdog start": the status ledger of each installed system image, the
// fix-up pass that completes interrupted swaps, golden image install,
// and the supervisor launch loop.
//
// Every mutation of the systems directory is a rename or an atomic file
// replace, so a power loss at any point leaves a layout the next fix-up
// pass can resolve.
package boot

import (
	"path/filepath"

	"github.com/kahiteam/wdog/internal/config"
)

// Names inside the systems directory.
const (
	CurrentName = "current"
	UnpackName  = "unpack"

	statusFile     = "status"
	indexFile      = "index"
	versionFile    = "version"
	infoFile       = "info.properties"
	ldconfigMarker = "needs_ldconfig"
)

// Layout locates the files the boot program reads and writes.
type Layout struct {
	SystemsDir           string
	AppsDir              string
	GoldenDir            string
	InstalledVersionFile string
	BootCountFile        string
	NoRebootFile         string
}

// LayoutFromConfig builds a Layout from the [boot] section.
func LayoutFromConfig(c config.BootConfig) Layout {
	return Layout{
		SystemsDir:           c.SystemsDir,
		AppsDir:              c.AppsDir,
		GoldenDir:            c.GoldenDir,
		InstalledVersionFile: c.InstalledVersionFile,
		BootCountFile:        c.BootCountFile,
		NoRebootFile:         c.NoRebootFile,
	}
}

// Current is the binding of the active system.
func (l Layout) Current() string { return filepath.Join(l.SystemsDir, CurrentName) }

// Unpack is the staging directory of an install in progress.
func (l Layout) Unpack() string { return filepath.Join(l.SystemsDir, UnpackName) }

// AppsUnpack is the staging directory of an app install in progress.
func (l Layout) AppsUnpack() string { return filepath.Join(l.AppsDir, UnpackName) }

// System is the directory of system index i.
func (l Layout) System(i int) string {
	return filepath.Join(l.SystemsDir, itoa(i))
}

// LdconfigMarker exists while the library cache must be rebuilt.
func (l Layout) LdconfigMarker() string { return filepath.Join(l.SystemsDir, ldconfigMarker) }

// GoldenSystem is the factory system image.
func (l Layout) GoldenSystem() string { return filepath.Join(l.GoldenDir, "system") }

// GoldenVersionFile holds the version of the factory image.
func (l Layout) GoldenVersionFile() string {
	return filepath.Join(l.GoldenSystem(), versionFile)
}
