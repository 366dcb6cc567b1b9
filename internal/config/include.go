package config

import (
	"fmt"
	"path/filepath"
	"sort"
)

// ResolveIncludes loads every file matched by the include patterns and
// merges its apps and webhooks into cfg. Installing an app is typically
// done by dropping a file with its [apps.<name>] table into an included
// directory. Returns warnings for patterns that match no files.
func ResolveIncludes(cfg *Config, configDir string) ([]string, error) {
	if len(cfg.Include) == 0 {
		return nil, nil
	}

	var warnings []string
	seen := make(map[string]bool)

	for _, pattern := range cfg.Include {
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(configDir, pattern)
		}

		matches, err := filepath.Glob(pattern)
		if err != nil {
			return warnings, fmt.Errorf("invalid include pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			warnings = append(warnings, fmt.Sprintf("include pattern %q matched no files", pattern))
			continue
		}
		sort.Strings(matches)

		for _, path := range matches {
			absPath, err := filepath.Abs(path)
			if err != nil {
				return warnings, fmt.Errorf("cannot resolve include path %q: %w", path, err)
			}
			if seen[absPath] {
				return warnings, fmt.Errorf("circular include detected: %s", absPath)
			}
			seen[absPath] = true

			included, incWarnings, err := Load(absPath)
			warnings = append(warnings, incWarnings...)
			if err != nil {
				return warnings, fmt.Errorf("include %s: %w", absPath, err)
			}
			if err := mergeApps(cfg, included, absPath); err != nil {
				return warnings, err
			}
			mergeWebhooks(cfg, included)
		}
	}

	cfg.Include = nil
	return warnings, nil
}

func mergeApps(dst, src *Config, srcPath string) error {
	for name, app := range src.Apps {
		if _, ok := dst.Apps[name]; ok {
			return fmt.Errorf("duplicate app %q: defined in both main config and %s", name, srcPath)
		}
		if dst.Apps == nil {
			dst.Apps = make(map[string]AppConfig)
		}
		dst.Apps[name] = app
	}
	return nil
}

func mergeWebhooks(dst, src *Config) {
	for name, wh := range src.Webhooks {
		if dst.Webhooks == nil {
			dst.Webhooks = make(map[string]WebhookConfig)
		}
		dst.Webhooks[name] = wh
	}
}

// LoadWithIncludes loads a config file, expands variables and resolves all
// includes.
func LoadWithIncludes(path string) (*Config, []string, error) {
	cfg, warnings, err := Load(path)
	if err != nil {
		return nil, warnings, err
	}

	if err := ExpandVariables(cfg, path); err != nil {
		return nil, warnings, fmt.Errorf("variable expansion failed: %w", err)
	}

	incWarnings, err := ResolveIncludes(cfg, filepath.Dir(path))
	warnings = append(warnings, incWarnings...)
	if err != nil {
		return nil, warnings, err
	}
	return cfg, warnings, nil
}
