package config

import (
	"errors"
	"fmt"
	"os"
)

// ErrNoConfig is returned by Resolve when no config file exists in any of
// the searched locations.
var ErrNoConfig = errors.New("no config file found")

// DefaultSearchPaths is the ordered list of config file paths to try.
var DefaultSearchPaths = []string{
	"./wdog.toml",
	"/etc/wdog/wdog.toml",
	"/etc/wdog.toml",
}

// Resolve finds the config file path by checking, in order:
//  1. Explicit path from -c flag (if non-empty)
//  2. WDOG_CONFIG environment variable
//  3. DefaultSearchPaths
func Resolve(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("cannot read config: %s: %w", explicit, err)
		}
		return explicit, nil
	}

	if env := os.Getenv("WDOG_CONFIG"); env != "" {
		if _, err := os.Stat(env); err != nil {
			return "", fmt.Errorf("cannot read config: %s: %w", env, err)
		}
		return env, nil
	}

	for _, p := range DefaultSearchPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w; searched %v", ErrNoConfig, DefaultSearchPaths)
}
