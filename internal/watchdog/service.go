package watchdog

import (
	"context"
	"fmt"
)

// Service serializes registry access through a Reactor so that HTTP
// handlers, timers and signal handlers can share one registry.
type Service struct {
	reactor *Reactor
	reg     *Registry
}

// NewService builds a registry whose timers deliver expiries to the
// service's reactor. opts.Dispatch is overwritten.
func NewService(opts Options) *Service {
	reactor := NewReactor()
	opts.Dispatch = reactor.Dispatch
	return &Service{reactor: reactor, reg: NewRegistry(opts)}
}

// Run starts the registry and services requests until ctx is cancelled.
func (s *Service) Run(ctx context.Context, apps []string, framework []FrameworkDaemon) error {
	errc := make(chan error, 1)
	s.reactor.Post(func() { errc <- s.reg.Start(apps, framework) })

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.reactor.Run(runCtx)
	}()

	select {
	case err := <-errc:
		if err != nil {
			cancel()
			<-done
			return err
		}
	case <-ctx.Done():
		<-done
		return ctx.Err()
	}

	<-ctx.Done()
	<-done
	s.reg.Stop()
	return nil
}

// Kick refreshes the lease of pid.
func (s *Service) Kick(ctx context.Context, pid int) error {
	return s.reactor.Call(ctx, func() { s.reg.Kick(pid) })
}

// Timeout sets a one-off timeout for pid.
func (s *Service) Timeout(ctx context.Context, pid int, ms int32) error {
	if ms < 0 && ms != TimeoutNever {
		return fmt.Errorf("invalid watchdog timeout %d", ms)
	}
	return s.reactor.Call(ctx, func() { s.reg.Timeout(pid, ms) })
}

// Disconnect ends the session of pid.
func (s *Service) Disconnect(ctx context.Context, pid int) error {
	return s.reactor.Call(ctx, func() { s.reg.OnClientDisconnect(pid) })
}

// DisconnectAsync queues the end of a session without waiting, for use
// from connection state callbacks.
func (s *Service) DisconnectAsync(pid int) {
	s.reactor.Post(func() { s.reg.OnClientDisconnect(pid) })
}

// WatchdogTimeout returns the kick interval of pid.
func (s *Service) WatchdogTimeout(ctx context.Context, pid int) (int64, error) {
	var ms int64
	var err error
	if cerr := s.reactor.Call(ctx, func() { ms, err = s.reg.GetWatchdogTimeout(pid) }); cerr != nil {
		return 0, cerr
	}
	return ms, err
}

// MaxWatchdogTimeout returns the max kick interval of pid.
func (s *Service) MaxWatchdogTimeout(ctx context.Context, pid int) (int64, error) {
	var ms int64
	var err error
	if cerr := s.reactor.Call(ctx, func() { ms, err = s.reg.GetMaxWatchdogTimeout(pid) }); cerr != nil {
		return 0, cerr
	}
	return ms, err
}

// InstallApp creates the mandatory watchdogs of an app.
func (s *Service) InstallApp(ctx context.Context, app string) (int, error) {
	var n int
	err := s.reactor.Call(ctx, func() { n = s.reg.InstallApp(app) })
	return n, err
}

// UninstallApp removes the mandatory watchdogs of an app.
func (s *Service) UninstallApp(ctx context.Context, app string) (int, error) {
	var n int
	err := s.reactor.Call(ctx, func() { n = s.reg.UninstallApp(app) })
	return n, err
}

// KickFramework restarts the watchdog of a framework daemon.
func (s *Service) KickFramework(ctx context.Context, daemon string) error {
	var err error
	if cerr := s.reactor.Call(ctx, func() { err = s.reg.KickFramework(daemon) }); cerr != nil {
		return cerr
	}
	return err
}

// Snapshot lists every watchdog.
func (s *Service) Snapshot(ctx context.Context) ([]Entry, error) {
	var out []Entry
	err := s.reactor.Call(ctx, func() { out = s.reg.Snapshot() })
	return out, err
}

// Healthy reports whether every watchdog is alive.
func (s *Service) Healthy(ctx context.Context) (bool, error) {
	var ok bool
	err := s.reactor.Call(ctx, func() { ok = s.reg.Healthy() })
	return ok, err
}

// Reload swaps the policy and reconciles installed apps: apps in apps that
// have no mandatory watchdogs yet are installed, and apps in removed are
// uninstalled.
func (s *Service) Reload(ctx context.Context, p Policy, apps, removed []string) error {
	return s.reactor.Call(ctx, func() {
		s.reg.SetPolicy(p)
		for _, app := range removed {
			s.reg.UninstallApp(app)
		}
		for _, app := range apps {
			s.reg.InstallApp(app)
		}
	})
}
