package wdogchain

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/kahiteam/wdog/internal/logging"
)

// ForPID returns a Client that addresses pid instead of the caller. It lets
// a helper process run a chain on behalf of another one.
func ForPID(c Client, pid int) Client {
	return pidClient{c: c, pid: pid}
}

type pidClient struct {
	c   Client
	pid int
}

func (p pidClient) Kick(ctx context.Context, _ int) error { return p.c.Kick(ctx, p.pid) }

func (p pidClient) SetTimeout(ctx context.Context, _ int, ms int32) error {
	return p.c.SetTimeout(ctx, p.pid, ms)
}

// Heartbeat drives one chain link per file. A link is kicked each time its
// file's modification time advances and stopped when the file is removed,
// so cooperating shell workers share a watchdog by touching their files.
// A file present at start counts as a first beat. Files are checked on
// every change event of their directory and at least once per Interval.
type Heartbeat struct {
	Chain    *Chain
	Files    []string
	Interval time.Duration
	Logger   *slog.Logger
}

// Run watches the files until ctx is done or every link has stopped.
func (h *Heartbeat) Run(ctx context.Context) error {
	if len(h.Files) == 0 || len(h.Files) > MaxLinks {
		return fmt.Errorf("wdogchain: %d heartbeat files, want 1..%d", len(h.Files), MaxLinks)
	}
	if h.Interval <= 0 {
		return fmt.Errorf("wdogchain: invalid heartbeat interval %v", h.Interval)
	}
	if h.Logger == nil {
		h.Logger = logging.Discard()
	}

	tracked := make(map[string]bool, len(h.Files))
	for _, f := range h.Files {
		tracked[filepath.Clean(f)] = true
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		h.Logger.Warn("file events unavailable, polling only", "error", err)
		fw = nil
	} else {
		defer fw.Close()
		for dir := range dirsOf(h.Files) {
			if err := fw.Add(dir); err != nil {
				h.Logger.Warn("cannot watch heartbeat directory", "dir", dir, "error", err)
			}
		}
	}

	st := newBeatState(len(h.Files))
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()
	for {
		if err := h.poll(ctx, st); err != nil {
			return err
		}
		if h.Chain.Running() == 0 {
			return nil
		}
		if err := h.wait(ctx, ticker.C, fw, tracked); err != nil {
			return err
		}
	}
}

func dirsOf(files []string) map[string]bool {
	dirs := make(map[string]bool)
	for _, f := range files {
		dirs[filepath.Dir(f)] = true
	}
	return dirs
}

// wait returns when a tracked file changed or the ticker fired.
func (h *Heartbeat) wait(ctx context.Context, tick <-chan time.Time, fw *fsnotify.Watcher, tracked map[string]bool) error {
	var events <-chan fsnotify.Event
	var errs <-chan error
	if fw != nil {
		events, errs = fw.Events, fw.Errors
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if tracked[filepath.Clean(ev.Name)] {
				return nil
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			h.Logger.Warn("heartbeat watch failed", "error", err)
		}
	}
}

type beatState struct {
	seen []time.Time
	gone []bool
}

func newBeatState(n int) *beatState {
	return &beatState{seen: make([]time.Time, n), gone: make([]bool, n)}
}

func (h *Heartbeat) poll(ctx context.Context, st *beatState) error {
	for i, path := range h.Files {
		if st.gone[i] {
			continue
		}
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			st.gone[i] = true
			h.Logger.Info("heartbeat file gone, stopping link", "link", i, "file", path)
			if err := h.Chain.Stop(ctx, i); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("heartbeat %s: %w", path, err)
		}
		if mt := info.ModTime(); mt.After(st.seen[i]) {
			st.seen[i] = mt
			if err := h.Chain.Kick(ctx, i); err != nil {
				return err
			}
		}
	}
	return nil
}
