package config

// DefaultConfigTOML is a complete, commented sample wdog.toml.
const DefaultConfigTOML = `# wdog configuration file

[daemon]
# logfile = ""                    # daemon log file path (default: stdout)
# log_level = "info"              # debug, info, warn, error, critical
# log_format = "json"             # json, text
# syslog = false                  # also forward daemon logs to syslog
# pidfile = "/var/run/wdog.pid"
# external_kick_interval = 30000  # ms between external watchdog checks
# shutdown_timeout = 10           # seconds to drain API clients on stop

[server.unix]
# file = "/var/run/wdog.sock"     # API socket; clients are identified by peer pid
# chmod = "0770"

[server.http]
# enabled = false
# listen = "127.0.0.1:9877"
# username = ""                   # HTTP Basic Auth username
# password = ""                   # bcrypt hash (see "wdog hash-password")

[device]
# enabled = false                 # service a hardware watchdog
# path = "/dev/watchdog"
# timeout = 0                     # seconds, 0 keeps the driver default
# magic_close = true              # disarm the device on clean shutdown

[framework]
# watchdog = false                # mandatory watchdogs for framework daemons
# timeout = 30000                 # ms, kicked every timeout/4
# update_daemon_timeout = 600000  # ms
# daemons = ["supervisor", "configTree", "logDaemon", "updateDaemon"]

# Per-app watchdog settings. Timeouts are in milliseconds; -1 means never.
# [apps.example]
# start_manual = false            # no mandatory watchdogs until started by hand
# watchdog_timeout = 5000         # default kick timeout of the app's processes
# max_watchdog_timeout = 60000    # mandatory watchdog for every listed process
# [apps.example.procs.worker]
# watchdog_timeout = 2000
# max_watchdog_timeout = 30000

# Webhooks receive watchdog events as JSON.
# [webhooks.supervisor]
# url = "http://127.0.0.1:9000/events"
# events = ["WATCHDOG_EXPIRED", "WATCHDOG_DOUBLE_FAULT"]
# timeout = 5
# retries = 3
# template = "generic"            # or "slack"

[boot]
# systems_dir = "/legato/systems"
# apps_dir = "/legato/apps"
# golden_dir = "/mnt/legato"
# installed_version_file = "/legato/mntLegatoVersion"
# boot_count_file = "/legato/bootCount"
# no_reboot_file = "/tmp/legato/.DEBUG_NO_REBOOT"
# ldconfig_command = "/sbin/ldconfig"
# reboot_command = "/sbin/reboot"
# supervisor = "bin/supervisor"   # relative to the current system
# supervisor_args = ["--no-daemonize"]
# logfile = ""                    # supervisor output log
# logfile_maxbytes = "1MB"
# logfile_backups = 3
# console_lines = 100             # lines dumped to the console before a reboot

# include = ["apps.d/*.toml"]
`
