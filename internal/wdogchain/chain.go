// Package wdogchain lets several goroutines of one client process share its
// watchdog. Each goroutine owns a link; the process watchdog is kicked only
// once every running link has kicked since the previous process kick.
package wdogchain

import (
	"context"
	"fmt"
	"log/slog"
	"math/bits"
	"sync"
	"time"

	"github.com/kahiteam/wdog/internal/logging"
	"github.com/kahiteam/wdog/internal/watchdog"
)

// MaxLinks is the number of links a chain can hold.
const MaxLinks = 32

// MaxMonitoredLoops bounds the links that may monitor an event loop.
const MaxMonitoredLoops = 8

// Client is the watchdog API of the calling process. *ctl.Client satisfies
// it; a pid of 0 addresses the caller.
type Client interface {
	Kick(ctx context.Context, pid int) error
	SetTimeout(ctx context.Context, pid int, ms int32) error
}

// Loop runs work on a monitored event loop. Post reports false once the
// loop no longer accepts work. *watchdog.Reactor satisfies it.
type Loop interface {
	Post(f func()) bool
}

// Chain is a set of links guarding one process watchdog.
type Chain struct {
	client Client
	logger *slog.Logger

	mu       sync.Mutex
	count    int
	running  uint32 // links that are started
	kicked   uint32 // running links kicked since the last process kick
	monitors map[int]context.CancelFunc
}

// New creates a chain of count links, all of them running.
func New(client Client, count int, logger *slog.Logger) (*Chain, error) {
	if count < 1 || count > MaxLinks {
		return nil, fmt.Errorf("wdogchain: link count %d out of range 1..%d", count, MaxLinks)
	}
	return NewSome(client, count, mask(count), logger)
}

// NewSome creates a chain of count links where only the links in which
// start out running.
func NewSome(client Client, count int, which uint32, logger *slog.Logger) (*Chain, error) {
	if count < 1 || count > MaxLinks {
		return nil, fmt.Errorf("wdogchain: link count %d out of range 1..%d", count, MaxLinks)
	}
	if which&^mask(count) != 0 {
		return nil, fmt.Errorf("wdogchain: start mask %#x exceeds %d links", which, count)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Chain{
		client:   client,
		logger:   logger,
		count:    count,
		running:  which,
		monitors: make(map[int]context.CancelFunc),
	}, nil
}

func mask(n int) uint32 {
	if n >= 32 {
		return ^uint32(0)
	}
	return uint32(1)<<n - 1
}

func (c *Chain) check(link int) error {
	if link < 0 || link >= c.count {
		return fmt.Errorf("wdogchain: link %d out of range 0..%d", link, c.count-1)
	}
	return nil
}

// Running returns how many links are started.
func (c *Chain) Running() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bits.OnesCount32(c.running)
}

// Kick marks link as kicked, starting it if it was stopped. When every
// running link has kicked, the process watchdog is kicked and the round
// starts over.
func (c *Chain) Kick(ctx context.Context, link int) error {
	c.mu.Lock()
	if err := c.check(link); err != nil {
		c.mu.Unlock()
		return err
	}
	bit := uint32(1) << link
	c.running |= bit
	c.kicked |= bit
	complete := c.completeLocked()
	c.mu.Unlock()

	if !complete {
		return nil
	}
	c.logger.Debug("watchdog chain complete, kicking process watchdog")
	return c.client.Kick(ctx, 0)
}

// completeLocked reports whether every running link has kicked and, if so,
// resets the round.
func (c *Chain) completeLocked() bool {
	if c.running&^c.kicked != 0 {
		return false
	}
	c.kicked = 0
	return true
}

// Stop stops link and any loop monitor it owns. Stopping the last running
// link disables the process watchdog; otherwise the remaining links may now
// complete the round.
func (c *Chain) Stop(ctx context.Context, link int) error {
	c.mu.Lock()
	if err := c.check(link); err != nil {
		c.mu.Unlock()
		return err
	}
	bit := uint32(1) << link
	c.running &^= bit
	c.kicked &^= bit
	if cancel, ok := c.monitors[link]; ok {
		cancel()
		delete(c.monitors, link)
	}
	allStopped := c.running == 0
	complete := !allStopped && c.completeLocked()
	c.mu.Unlock()

	switch {
	case allStopped:
		c.logger.Info("all watchdog chain links stopped, disabling process watchdog")
		return c.client.SetTimeout(ctx, 0, watchdog.TimeoutNever)
	case complete:
		return c.client.Kick(ctx, 0)
	}
	return nil
}

// MonitorLoop kicks link from inside loop every interval, so the link only
// advances while the loop is servicing work. It kicks once immediately.
// Monitoring ends when ctx is done, the loop stops accepting work, or the
// link is stopped.
func (c *Chain) MonitorLoop(ctx context.Context, link int, interval time.Duration, loop Loop) error {
	if link < 0 || link >= MaxMonitoredLoops {
		return fmt.Errorf("wdogchain: loop monitor link %d out of range 0..%d", link, MaxMonitoredLoops-1)
	}
	if interval <= 0 {
		return fmt.Errorf("wdogchain: invalid monitor interval %v", interval)
	}
	c.mu.Lock()
	if err := c.check(link); err != nil {
		c.mu.Unlock()
		return err
	}
	if _, ok := c.monitors[link]; ok {
		c.mu.Unlock()
		return fmt.Errorf("wdogchain: link %d already monitors a loop", link)
	}
	mctx, cancel := context.WithCancel(ctx)
	c.monitors[link] = cancel
	c.mu.Unlock()

	kick := func() {
		if err := c.Kick(mctx, link); err != nil && mctx.Err() == nil {
			c.logger.Warn("watchdog chain kick failed", "link", link, "error", err)
		}
	}
	if !loop.Post(kick) {
		c.stopMonitor(link)
		return fmt.Errorf("wdogchain: loop for link %d is not running", link)
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-mctx.Done():
				return
			case <-ticker.C:
				if !loop.Post(kick) {
					c.logger.Warn("monitored loop stopped", "link", link)
					c.stopMonitor(link)
					return
				}
			}
		}
	}()
	return nil
}

func (c *Chain) stopMonitor(link int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.monitors[link]; ok {
		cancel()
		delete(c.monitors, link)
	}
}
