package wdogchain

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kahiteam/wdog/internal/watchdog"
)

func touch(t *testing.T, path string, at time.Time) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatal(err)
	}
}

func TestForPIDAddressesTarget(t *testing.T) {
	fc := newFakeClient()
	c := ForPID(fc, 4242)
	_ = c.Kick(context.Background(), 0)
	_ = c.SetTimeout(context.Background(), 0, watchdog.TimeoutNever)
	if len(fc.pids) != 2 || fc.pids[0] != 4242 || fc.pids[1] != 4242 {
		t.Fatalf("pids = %v, want [4242 4242]", fc.pids)
	}
}

func TestHeartbeatKicksWhenEveryFileBeats(t *testing.T) {
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a"), filepath.Join(dir, "b")
	base := time.Now().Add(-time.Hour)
	touch(t, a, base)
	touch(t, b, base)

	fc := newFakeClient()
	chain, err := New(fc, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	h := &Heartbeat{Chain: chain, Files: []string{a, b}, Interval: time.Second}
	st := newBeatState(2)
	ctx := context.Background()

	steps := []struct {
		name  string
		do    func()
		kicks int
	}{
		{"files present at start", func() {}, 1},
		{"no change", func() {}, 1},
		{"a beats", func() { touch(t, a, base.Add(time.Second)) }, 1},
		{"a beats again", func() { touch(t, a, base.Add(2*time.Second)) }, 1},
		{"b beats", func() { touch(t, b, base.Add(time.Second)) }, 2},
		{"b beats alone", func() { touch(t, b, base.Add(2*time.Second)) }, 2},
		// With only b running, b's pending beat completes the round.
		{"a removed", func() { os.Remove(a) }, 3},
	}
	for _, s := range steps {
		s.do()
		if err := h.poll(ctx, st); err != nil {
			t.Fatalf("%s: %v", s.name, err)
		}
		if got := fc.kickCount(); got != s.kicks {
			t.Fatalf("%s: process kicks = %d, want %d", s.name, got, s.kicks)
		}
	}
	if chain.Running() != 1 {
		t.Fatalf("Running = %d, want 1", chain.Running())
	}

	os.Remove(b)
	if err := h.poll(ctx, st); err != nil {
		t.Fatal(err)
	}
	if len(fc.timeouts) != 1 || fc.timeouts[0] != watchdog.TimeoutNever {
		t.Fatalf("timeouts = %v, want [never]", fc.timeouts)
	}
}

func TestHeartbeatRunEndsWhenAllFilesGone(t *testing.T) {
	dir := t.TempDir()
	fc := newFakeClient()
	chain, _ := New(fc, 2, nil)
	h := &Heartbeat{
		Chain:    chain,
		Files:    []string{filepath.Join(dir, "x"), filepath.Join(dir, "y")},
		Interval: 10 * time.Millisecond,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if fc.kickCount() != 0 || len(fc.timeouts) != 1 {
		t.Fatalf("kicks = %d, timeouts = %v", fc.kickCount(), fc.timeouts)
	}
}

func TestHeartbeatRunStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "w")
	touch(t, f, time.Now())
	chain, _ := New(newFakeClient(), 1, nil)
	h := &Heartbeat{Chain: chain, Files: []string{f}, Interval: 10 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.Run(ctx) }()
	cancel()
	select {
	case err := <-errc:
		if err != context.Canceled {
			t.Fatalf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHeartbeatValidation(t *testing.T) {
	chain, _ := New(newFakeClient(), 1, nil)
	ctx := context.Background()
	if err := (&Heartbeat{Chain: chain, Interval: time.Second}).Run(ctx); err == nil {
		t.Error("no files accepted")
	}
	if err := (&Heartbeat{Chain: chain, Files: []string{"f"}}).Run(ctx); err == nil {
		t.Error("zero interval accepted")
	}
}

func TestHeartbeatRunReactsToFileEvents(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "worker")
	touch(t, f, time.Now())
	fc := newFakeClient()
	chain, _ := New(fc, 1, nil)
	// The interval is far away, so only a change event can wake Run.
	h := &Heartbeat{Chain: chain, Files: []string{f}, Interval: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- h.Run(ctx) }()

	select {
	case <-fc.kicked:
	case <-time.After(5 * time.Second):
		t.Fatal("no kick for the file present at start")
	}
	touch(t, f, time.Now().Add(time.Minute))
	select {
	case <-fc.kicked:
	case <-time.After(5 * time.Second):
		t.Fatal("touching the file did not kick")
	}

	if err := os.Remove(f); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-errc:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("removing the last file did not end Run")
	}
}
