package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExpandVariables expands %(here)s and ${ENV_VAR} references in the path
// and URL fields of a config. %(here)s is the directory of configPath.
func ExpandVariables(cfg *Config, configPath string) error {
	here := filepath.Dir(configPath)

	fields := []struct {
		name string
		ptr  *string
	}{
		{"daemon.logfile", &cfg.Daemon.Logfile},
		{"daemon.pidfile", &cfg.Daemon.Pidfile},
		{"server.unix.file", &cfg.Server.Unix.File},
		{"device.path", &cfg.Device.Path},
		{"boot.systems_dir", &cfg.Boot.SystemsDir},
		{"boot.apps_dir", &cfg.Boot.AppsDir},
		{"boot.golden_dir", &cfg.Boot.GoldenDir},
		{"boot.installed_version_file", &cfg.Boot.InstalledVersionFile},
		{"boot.boot_count_file", &cfg.Boot.BootCountFile},
		{"boot.no_reboot_file", &cfg.Boot.NoRebootFile},
		{"boot.logfile", &cfg.Boot.Logfile},
	}
	for _, f := range fields {
		v, err := ExpandString(*f.ptr, here)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.ptr = v
	}

	for name, wh := range cfg.Webhooks {
		v, err := ExpandString(wh.URL, here)
		if err != nil {
			return fmt.Errorf("webhooks.%s.url: %w", name, err)
		}
		wh.URL = v
		cfg.Webhooks[name] = wh
	}

	for i, pattern := range cfg.Include {
		v, err := ExpandString(pattern, here)
		if err != nil {
			return fmt.Errorf("include[%d]: %w", i, err)
		}
		cfg.Include[i] = v
	}
	return nil
}

// ExpandString expands %(here)s and ${ENV_VAR} in s. "%%" and "$$" are
// escapes for a literal percent and dollar sign.
func ExpandString(s, here string) (string, error) {
	if s == "" {
		return s, nil
	}

	var b strings.Builder
	for i := 0; i < len(s); {
		switch {
		case strings.HasPrefix(s[i:], "%%"), strings.HasPrefix(s[i:], "$$"):
			b.WriteByte(s[i])
			i += 2
		case strings.HasPrefix(s[i:], "%("):
			end := strings.Index(s[i:], ")s")
			if end < 0 {
				return "", fmt.Errorf("unclosed template variable at position %d in %q", i, s)
			}
			name := s[i+2 : i+end]
			if name != "here" {
				return "", fmt.Errorf("unknown template variable: %%(%s)s", name)
			}
			b.WriteString(here)
			i += end + 2
		case strings.HasPrefix(s[i:], "${"):
			end := strings.IndexByte(s[i:], '}')
			if end < 0 {
				return "", fmt.Errorf("unclosed environment variable reference at position %d in %q", i, s)
			}
			name := s[i+2 : i+end]
			val, ok := os.LookupEnv(name)
			if !ok {
				return "", fmt.Errorf("undefined environment variable: ${%s}", name)
			}
			b.WriteString(val)
			i += end + 1
		default:
			b.WriteByte(s[i])
			i++
		}
	}
	return b.String(), nil
}
