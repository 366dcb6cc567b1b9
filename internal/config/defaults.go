package config

// Default values shared with the daemon and the boot program.
const (
	DefaultExternalKickInterval = 30000
	DefaultFrameworkTimeout     = 30000
	DefaultUpdateDaemonTimeout  = 600000
)

// DefaultFrameworkDaemons lists the framework daemons that get a mandatory
// watchdog when [framework] watchdog is enabled.
var DefaultFrameworkDaemons = []string{"supervisor", "configTree", "logDaemon", "updateDaemon"}

// ApplyDefaults fills in zero-value fields with their default values.
func ApplyDefaults(cfg *Config) {
	d := &cfg.Daemon
	if d.LogLevel == "" {
		d.LogLevel = "info"
	}
	if d.LogFormat == "" {
		d.LogFormat = "json"
	}
	if d.Pidfile == "" {
		d.Pidfile = "/var/run/wdog.pid"
	}
	if d.ExternalKickInterval == 0 {
		d.ExternalKickInterval = DefaultExternalKickInterval
	}
	if d.ShutdownTimeout == 0 {
		d.ShutdownTimeout = 10
	}

	if cfg.Server.Unix.File == "" {
		cfg.Server.Unix.File = "/var/run/wdog.sock"
	}
	if cfg.Server.Unix.Chmod == "" {
		cfg.Server.Unix.Chmod = "0770"
	}

	if cfg.Device.Path == "" {
		cfg.Device.Path = "/dev/watchdog"
	}
	if cfg.Device.MagicClose == nil {
		t := true
		cfg.Device.MagicClose = &t
	}

	f := &cfg.Framework
	if f.Timeout == 0 {
		f.Timeout = DefaultFrameworkTimeout
	}
	if f.UpdateDaemonTimeout == 0 {
		f.UpdateDaemonTimeout = DefaultUpdateDaemonTimeout
	}
	if len(f.Daemons) == 0 {
		f.Daemons = append([]string(nil), DefaultFrameworkDaemons...)
	}

	for name, wh := range cfg.Webhooks {
		if wh.Timeout == 0 {
			wh.Timeout = 5
		}
		if wh.Retries == 0 {
			wh.Retries = 3
		}
		cfg.Webhooks[name] = wh
	}

	b := &cfg.Boot
	if b.SystemsDir == "" {
		b.SystemsDir = "/legato/systems"
	}
	if b.AppsDir == "" {
		b.AppsDir = "/legato/apps"
	}
	if b.GoldenDir == "" {
		b.GoldenDir = "/mnt/legato"
	}
	if b.InstalledVersionFile == "" {
		b.InstalledVersionFile = "/legato/mntLegatoVersion"
	}
	if b.BootCountFile == "" {
		b.BootCountFile = "/legato/bootCount"
	}
	if b.NoRebootFile == "" {
		b.NoRebootFile = "/tmp/legato/.DEBUG_NO_REBOOT"
	}
	if b.LdconfigCommand == "" {
		b.LdconfigCommand = "/sbin/ldconfig"
	}
	if b.RebootCommand == "" {
		b.RebootCommand = "/sbin/reboot"
	}
	if b.Supervisor == "" {
		b.Supervisor = "bin/supervisor"
	}
	if b.SupervisorArgs == nil {
		b.SupervisorArgs = []string{"--no-daemonize"}
	}
	if b.LogfileMaxbytes == "" {
		b.LogfileMaxbytes = "1MB"
	}
	if b.LogfileBackups == 0 {
		b.LogfileBackups = 3
	}
	if b.ConsoleLines == 0 {
		b.ConsoleLines = 100
	}
}
