package config

import (
	"fmt"
	"strconv"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true, "critical": true,
}

var validLogFormats = map[string]bool{"json": true, "text": true}

// MaxTimeout is the largest finite watchdog timeout in milliseconds. The
// next value up, 0xffffffff, is the never sentinel.
const MaxTimeout = 0xfffffffe

// Validate checks the config for semantic errors and returns all of them.
func Validate(cfg *Config) []error {
	var errs []error

	if !validLogLevels[strings.ToLower(cfg.Daemon.LogLevel)] {
		errs = append(errs, fmt.Errorf("daemon.log_level: invalid level %q", cfg.Daemon.LogLevel))
	}
	if !validLogFormats[strings.ToLower(cfg.Daemon.LogFormat)] {
		errs = append(errs, fmt.Errorf("daemon.log_format: must be json or text, got %q", cfg.Daemon.LogFormat))
	}
	if cfg.Daemon.ExternalKickInterval < 0 {
		errs = append(errs, fmt.Errorf("daemon.external_kick_interval: must be positive, got %d", cfg.Daemon.ExternalKickInterval))
	}
	if _, err := strconv.ParseUint(cfg.Server.Unix.Chmod, 8, 32); err != nil {
		errs = append(errs, fmt.Errorf("server.unix.chmod: invalid octal mode %q", cfg.Server.Unix.Chmod))
	}
	if cfg.Server.HTTP.Enabled && cfg.Server.HTTP.Listen == "" {
		errs = append(errs, fmt.Errorf("server.http.listen: required when the http server is enabled"))
	}
	if cfg.Device.Timeout < 0 {
		errs = append(errs, fmt.Errorf("device.timeout: must be >= 0, got %d", cfg.Device.Timeout))
	}
	if cfg.Framework.Timeout < 0 || cfg.Framework.UpdateDaemonTimeout < 0 {
		errs = append(errs, fmt.Errorf("framework: timeouts must be positive"))
	}
	if int64(cfg.Framework.Timeout) > MaxTimeout || int64(cfg.Framework.UpdateDaemonTimeout) > MaxTimeout {
		errs = append(errs, fmt.Errorf("framework: timeouts must be <= %d", MaxTimeout))
	}

	for name, app := range cfg.Apps {
		prefix := fmt.Sprintf("apps.%s", name)
		if name == FrameworkApp {
			errs = append(errs, fmt.Errorf("%s: app name %q is reserved", prefix, FrameworkApp))
		}
		errs = append(errs, checkTimeout(prefix+".watchdog_timeout", app.WatchdogTimeout)...)
		errs = append(errs, checkTimeout(prefix+".max_watchdog_timeout", app.MaxWatchdogTimeout)...)
		for proc, p := range app.Procs {
			pp := fmt.Sprintf("%s.procs.%s", prefix, proc)
			errs = append(errs, checkTimeout(pp+".watchdog_timeout", p.WatchdogTimeout)...)
			errs = append(errs, checkTimeout(pp+".max_watchdog_timeout", p.MaxWatchdogTimeout)...)
		}
	}

	for name, wh := range cfg.Webhooks {
		if strings.TrimSpace(wh.URL) == "" {
			errs = append(errs, fmt.Errorf("webhooks.%s: url is required", name))
		}
		switch wh.Template {
		case "", "generic", "slack":
		default:
			errs = append(errs, fmt.Errorf("webhooks.%s: unknown template %q", name, wh.Template))
		}
	}

	if cfg.Boot.LogfileBackups < 0 {
		errs = append(errs, fmt.Errorf("boot.logfile_backups: must be >= 0"))
	}

	return errs
}

// checkTimeout accepts -1 (never) and millisecond values from 0 to
// MaxTimeout.
func checkTimeout(field string, v *int) []error {
	if v == nil {
		return nil
	}
	if *v < -1 || int64(*v) > MaxTimeout {
		return []error{fmt.Errorf("%s: must be -1 (never) or 0..%d, got %d", field, MaxTimeout, *v)}
	}
	return nil
}
