// Package config handles loading and validating wdog configuration.
package config

import "sort"

// FrameworkApp is the app name under which framework daemon watchdogs are
// registered.
const FrameworkApp = "framework"

// Config is the top-level wdog configuration.
type Config struct {
	Daemon    DaemonConfig             `toml:"daemon"`
	Server    ServerConfig             `toml:"server"`
	Device    DeviceConfig             `toml:"device"`
	Framework FrameworkConfig          `toml:"framework"`
	Apps      map[string]AppConfig     `toml:"apps"`
	Webhooks  map[string]WebhookConfig `toml:"webhooks"`
	Boot      BootConfig               `toml:"boot"`
	Include   []string                 `toml:"include"`
}

// DaemonConfig holds watchdog daemon settings.
type DaemonConfig struct {
	Logfile   string `toml:"logfile"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	Syslog    bool   `toml:"syslog"`
	Pidfile   string `toml:"pidfile"`

	// ExternalKickInterval is the period, in milliseconds, of the check
	// that services the external watchdog.
	ExternalKickInterval int `toml:"external_kick_interval"`
	ShutdownTimeout      int `toml:"shutdown_timeout"`
}

// ServerConfig holds API listener settings.
type ServerConfig struct {
	Unix UnixServerConfig `toml:"unix"`
	HTTP HTTPServerConfig `toml:"http"`
}

// UnixServerConfig holds Unix domain socket settings.
type UnixServerConfig struct {
	File  string `toml:"file"`
	Chmod string `toml:"chmod"`
}

// HTTPServerConfig holds the optional TCP listener. Clients on TCP have no
// peer credentials and must name their pid explicitly.
type HTTPServerConfig struct {
	Enabled  bool   `toml:"enabled"`
	Listen   string `toml:"listen"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// DeviceConfig selects the external (hardware) watchdog.
type DeviceConfig struct {
	Enabled    bool   `toml:"enabled"`
	Path       string `toml:"path"`
	Timeout    int    `toml:"timeout"` // seconds, 0 keeps the driver default
	MagicClose *bool  `toml:"magic_close"`
}

// FrameworkConfig controls the mandatory watchdogs of framework daemons.
type FrameworkConfig struct {
	Watchdog            bool     `toml:"watchdog"`
	Timeout             int      `toml:"timeout"`
	UpdateDaemonTimeout int      `toml:"update_daemon_timeout"`
	Daemons             []string `toml:"daemons"`
}

// AppConfig holds the watchdog settings of one installed app.
type AppConfig struct {
	StartManual        bool                  `toml:"start_manual"`
	WatchdogTimeout    *int                  `toml:"watchdog_timeout"`
	MaxWatchdogTimeout *int                  `toml:"max_watchdog_timeout"`
	Procs              map[string]ProcConfig `toml:"procs"`
}

// ProcConfig holds per-process overrides inside an app.
type ProcConfig struct {
	WatchdogTimeout    *int `toml:"watchdog_timeout"`
	MaxWatchdogTimeout *int `toml:"max_watchdog_timeout"`
}

// WebhookConfig holds per-webhook settings.
type WebhookConfig struct {
	URL      string            `toml:"url"`
	Events   []string          `toml:"events"`
	Headers  map[string]string `toml:"headers"`
	Timeout  int               `toml:"timeout"`
	Retries  int               `toml:"retries"`
	Template string            `toml:"template"`
}

// BootConfig holds the paths and commands used by "wdog start".
type BootConfig struct {
	SystemsDir           string   `toml:"systems_dir"`
	AppsDir              string   `toml:"apps_dir"`
	GoldenDir            string   `toml:"golden_dir"`
	InstalledVersionFile string   `toml:"installed_version_file"`
	BootCountFile        string   `toml:"boot_count_file"`
	NoRebootFile         string   `toml:"no_reboot_file"`
	LdconfigCommand      string   `toml:"ldconfig_command"`
	RebootCommand        string   `toml:"reboot_command"`
	Supervisor           string   `toml:"supervisor"`
	SupervisorArgs       []string `toml:"supervisor_args"`
	Logfile              string   `toml:"logfile"`
	LogfileMaxbytes      string   `toml:"logfile_maxbytes"`
	LogfileBackups       int      `toml:"logfile_backups"`
	ConsoleLines         int      `toml:"console_lines"`
}

// KickTimeout resolves the configured kick timeout of a process in
// milliseconds, looking at the process first and then its app. The level
// names where the value came from and is empty when nothing is configured.
func (c *Config) KickTimeout(app, proc string) (ms int, level string) {
	a, ok := c.Apps[app]
	if !ok {
		return 0, ""
	}
	if p, ok := a.Procs[proc]; ok && p.WatchdogTimeout != nil {
		return *p.WatchdogTimeout, "proc"
	}
	if a.WatchdogTimeout != nil {
		return *a.WatchdogTimeout, "app"
	}
	return 0, ""
}

// MandatoryTimeouts returns the max watchdog timeout of every process of an
// app that must always be watched. The app-level value is the default for
// its processes; zero disables the mandatory watchdog.
func (a AppConfig) MandatoryTimeouts() map[string]int {
	out := make(map[string]int)
	for name, p := range a.Procs {
		ms := 0
		if a.MaxWatchdogTimeout != nil {
			ms = *a.MaxWatchdogTimeout
		}
		if p.MaxWatchdogTimeout != nil {
			ms = *p.MaxWatchdogTimeout
		}
		if ms != 0 {
			out[name] = ms
		}
	}
	return out
}

// MandatoryWatchdogs returns the mandatory watchdogs an installed app asks
// for, keyed by process name. Unknown and start_manual apps have none.
func (c *Config) MandatoryWatchdogs(app string) map[string]int {
	a, ok := c.Apps[app]
	if !ok || a.StartManual {
		return nil
	}
	return a.MandatoryTimeouts()
}

// AppNames returns the configured app names in sorted order.
func (c *Config) AppNames() []string {
	names := make([]string, 0, len(c.Apps))
	for name := range c.Apps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
