// Package daemon runs the watchdog service: it owns the registry, the
// platform watchdog, the HTTP API, webhooks and the signal loop.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/kahiteam/wdog/internal/api"
	"github.com/kahiteam/wdog/internal/clock"
	"github.com/kahiteam/wdog/internal/config"
	"github.com/kahiteam/wdog/internal/events"
	"github.com/kahiteam/wdog/internal/logging"
	"github.com/kahiteam/wdog/internal/metrics"
	"github.com/kahiteam/wdog/internal/platform"
	"github.com/kahiteam/wdog/internal/process"
	"github.com/kahiteam/wdog/internal/version"
	"github.com/kahiteam/wdog/internal/watchdog"
)

// Platform is a platform watchdog the daemon can disarm on exit.
type Platform interface {
	watchdog.Platform
	Close() error
}

// Options configure a Daemon. Zero fields are derived from Config.
type Options struct {
	Config     *config.Config
	ConfigPath string
	Logger     *slog.Logger

	Platform  Platform
	Inspector watchdog.ProcessInspector
	Reporter  watchdog.FaultReporter
	Clock     clock.Clock

	// Signals enables the OS signal loop.
	Signals bool
}

// Daemon is the watchdog daemon.
type Daemon struct {
	mu         sync.Mutex
	config     *config.Config
	configPath string
	logger     *slog.Logger

	platform Platform
	bus      *events.Bus
	metrics  *metrics.Collector
	webhooks *events.WebhookManager
	svc      *watchdog.Service
	server   *api.Server
	signals  bool

	started    time.Time
	shutting   bool
	shutdownCh chan struct{}
	doneCh     chan struct{}
}

// New builds a daemon from its options.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil {
		return nil, errors.New("daemon: nil config")
	}
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	plat := opts.Platform
	if plat == nil {
		plat = SelectPlatform(cfg.Device, logger)
	}
	inspector := opts.Inspector
	if inspector == nil {
		ins, err := process.NewProcInspector("")
		if err != nil {
			return nil, err
		}
		inspector = ins
	}

	bus := events.NewBus(logger)
	reporter := opts.Reporter
	if reporter == nil {
		reporter = events.Reporter{Bus: bus}
	}

	m := metrics.New()
	m.SetBuildInfo(version.Version, version.GoVersion)

	d := &Daemon{
		config:     cfg,
		configPath: opts.ConfigPath,
		logger:     logger,
		platform:   plat,
		bus:        bus,
		metrics:    m,
		signals:    opts.Signals,
		shutdownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
	}

	d.svc = watchdog.NewService(watchdog.Options{
		Clock:                opts.Clock,
		Platform:             plat,
		Reporter:             reporter,
		Inspector:            inspector,
		Policy:               cfg,
		Metrics:              m,
		Bus:                  bus,
		Logger:               logger,
		ExternalKickInterval: time.Duration(cfg.Daemon.ExternalKickInterval) * time.Millisecond,
	})

	d.server = api.NewServer(api.Config{
		Username: cfg.Server.HTTP.Username,
		Password: cfg.Server.HTTP.Password,
		Metrics:  m.Handler(),
	}, d.svc, d, logger)

	return d, nil
}

// SelectPlatform returns the hardware watchdog device when it is enabled in
// the config, else a no-op platform.
func SelectPlatform(dev config.DeviceConfig, logger *slog.Logger) Platform {
	if !dev.Enabled {
		return platform.NewNop(platform.Options{Logger: logger})
	}
	magic := dev.MagicClose == nil || *dev.MagicClose
	return platform.NewDevice(platform.Options{
		Path:       dev.Path,
		Timeout:    dev.Timeout,
		MagicClose: magic,
		Logger:     logger,
	})
}

// FrameworkDaemons returns the framework watchdogs the config asks for.
func FrameworkDaemons(f config.FrameworkConfig) []watchdog.FrameworkDaemon {
	if !f.Watchdog {
		return nil
	}
	out := make([]watchdog.FrameworkDaemon, 0, len(f.Daemons))
	for _, name := range f.Daemons {
		timeout := f.Timeout
		if name == "updateDaemon" {
			timeout = f.UpdateDaemonTimeout
		}
		out = append(out, watchdog.FrameworkDaemon{Name: name, Timeout: timeout})
	}
	return out
}

// WebhookConfigs converts the [webhooks] section, sorted by name.
func WebhookConfigs(hooks map[string]config.WebhookConfig) []events.WebhookConfig {
	names := make([]string, 0, len(hooks))
	for name := range hooks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]events.WebhookConfig, 0, len(hooks))
	for _, name := range names {
		h := hooks[name]
		evs := make([]events.EventType, 0, len(h.Events))
		for _, e := range h.Events {
			evs = append(evs, events.EventType(e))
		}
		out = append(out, events.WebhookConfig{
			Name:       name,
			URL:        h.URL,
			Events:     evs,
			Headers:    h.Headers,
			Timeout:    time.Duration(h.Timeout) * time.Second,
			MaxRetries: h.Retries,
			Template:   h.Template,
		})
	}
	return out
}

// Service returns the watchdog service.
func (d *Daemon) Service() *watchdog.Service { return d.svc }

// Bus returns the event bus.
func (d *Daemon) Bus() *events.Bus { return d.bus }

// Server returns the API server.
func (d *Daemon) Server() *api.Server { return d.server }

// Run starts the daemon and blocks until ctx is cancelled, Shutdown is
// called, a stop signal arrives or the watchdog service fails.
func (d *Daemon) Run(ctx context.Context) error {
	defer close(d.doneCh)
	cfg := d.config
	if err := WritePIDFile(cfg.Daemon.Pidfile); err != nil {
		return err
	}
	defer RemovePIDFile(cfg.Daemon.Pidfile)
	d.started = time.Now()

	d.webhooks = events.NewWebhookManager(d.bus, WebhookConfigs(cfg.Webhooks), d.logger)
	defer d.webhooks.Stop()

	svcCtx, cancelSvc := context.WithCancel(context.Background())
	defer cancelSvc()
	svcErr := make(chan error, 1)
	go func() {
		svcErr <- d.svc.Run(svcCtx, cfg.AppNames(), FrameworkDaemons(cfg.Framework))
	}()

	if err := d.startServers(); err != nil {
		cancelSvc()
		<-svcErr
		return err
	}

	var sigC <-chan os.Signal
	if d.signals {
		sq := NewSignalQueue()
		defer sq.Stop()
		sigC = sq.C
	}

	uptime := time.NewTicker(10 * time.Second)
	defer uptime.Stop()

	d.logger.Info("wdog running", "pid", os.Getpid(), "socket", cfg.Server.Unix.File)

	var runErr error
loop:
	for {
		select {
		case sig := <-sigC:
			if d.handleSignal(sig) {
				break loop
			}
		case <-d.shutdownCh:
			break loop
		case <-ctx.Done():
			break loop
		case err := <-svcErr:
			runErr = fmt.Errorf("watchdog service stopped: %w", err)
			svcErr = nil
			break loop
		case <-uptime.C:
			d.metrics.SetDaemonUptime(time.Since(d.started).Seconds())
		}
	}

	d.logger.Info("shutting down")
	d.mu.Lock()
	d.shutting = true
	d.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Daemon.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := d.server.Stop(stopCtx); err != nil {
		d.logger.Warn("api shutdown", "error", err)
	}

	cancelSvc()
	if svcErr != nil {
		<-svcErr
	}
	if err := d.platform.Close(); err != nil {
		d.logger.Warn("cannot close platform watchdog", "error", err)
	}

	d.logger.Info("shutdown complete")
	return runErr
}

func (d *Daemon) startServers() error {
	srv := d.config.Server
	mode, err := ParseSocketMode(srv.Unix.Chmod)
	if err != nil {
		return err
	}
	if err := ValidateSocketPermissions(srv.Unix.File); err != nil {
		return err
	}
	if err := d.server.StartUnix(srv.Unix.File, mode); err != nil {
		return err
	}
	if srv.HTTP.Enabled {
		if err := d.server.StartTCP(srv.HTTP.Listen); err != nil {
			_ = d.server.Stop(context.Background())
			return err
		}
	}
	return nil
}

// handleSignal processes a signal and returns true if shutdown should begin.
func (d *Daemon) handleSignal(sig os.Signal) bool {
	d.logger.Info("received signal", "signal", sig.String())

	switch sig {
	case syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT:
		return true
	case syscall.SIGHUP:
		if _, _, err := d.Reload(context.Background()); err != nil {
			d.logger.Error("reload failed", "error", err)
		}
		return false
	default:
		d.logger.Warn("unhandled signal", "signal", sig.String())
		return false
	}
}

// Reload re-reads the config file and reconciles installed apps: new apps
// get their mandatory watchdogs and removed apps lose them. Existing
// watchdogs keep their intervals.
func (d *Daemon) Reload(ctx context.Context) (added, removed []string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.shutting {
		return nil, nil, errors.New("reload during shutdown")
	}
	d.logger.Info("reloading config", "path", d.configPath)

	newCfg, warnings, err := config.LoadWithIncludes(d.configPath)
	if err != nil {
		d.metrics.IncConfigReloadError()
		return nil, nil, err
	}
	for _, w := range warnings {
		d.logger.Warn("config warning", "warning", w)
	}

	added, removed = appDiff(d.config, newCfg)
	d.logger.Info("config diff", "added", added, "removed", removed)
	if err := d.svc.Reload(ctx, newCfg, newCfg.AppNames(), removed); err != nil {
		d.metrics.IncConfigReloadError()
		return nil, nil, err
	}
	d.config = newCfg
	d.metrics.IncConfigReload()
	return added, removed, nil
}

// appDiff lists the apps present only in next and only in prev.
func appDiff(prev, next *config.Config) (added, removed []string) {
	for _, name := range next.AppNames() {
		if _, ok := prev.Apps[name]; !ok {
			added = append(added, name)
		}
	}
	for _, name := range prev.AppNames() {
		if _, ok := next.Apps[name]; !ok {
			removed = append(removed, name)
		}
	}
	return added, removed
}

// Shutdown triggers a graceful shutdown.
func (d *Daemon) Shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.shutting {
		d.shutting = true
		close(d.shutdownCh)
	}
}

// Done returns a channel that closes when Run has returned.
func (d *Daemon) Done() <-chan struct{} { return d.doneCh }

// IsShuttingDown returns true if the daemon is shutting down.
func (d *Daemon) IsShuttingDown() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutting
}

// Version returns version info.
func (d *Daemon) Version() map[string]string { return version.Info() }
