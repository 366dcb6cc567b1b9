package ctl

import (
	"context"
	"log/slog"
	"time"
)

// FrameworkKickClient is the part of Client used by FrameworkKicker.
type FrameworkKickClient interface {
	KickFramework(ctx context.Context, daemon string) error
}

// FrameworkKicker keeps the watchdog of a framework daemon alive by kicking
// it at a quarter of its timeout.
type FrameworkKicker struct {
	Client  FrameworkKickClient
	Daemon  string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Interval returns the kick period.
func (k *FrameworkKicker) Interval() time.Duration {
	d := k.Timeout / 4
	if d <= 0 {
		d = time.Second
	}
	return d
}

// Run kicks until ctx is cancelled. Failed kicks are logged and retried on
// the next tick.
func (k *FrameworkKicker) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.Interval())
	defer ticker.Stop()

	k.kick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			k.kick(ctx)
		}
	}
}

func (k *FrameworkKicker) kick(ctx context.Context) {
	if err := k.Client.KickFramework(ctx, k.Daemon); err != nil && ctx.Err() == nil {
		if k.Logger != nil {
			k.Logger.Warn("framework kick failed", "daemon", k.Daemon, "error", err)
		}
	}
}
