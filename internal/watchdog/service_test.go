package watchdog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kahiteam/wdog/internal/clock"
	"github.com/kahiteam/wdog/internal/logging"
	"github.com/kahiteam/wdog/internal/platform"
	"github.com/kahiteam/wdog/internal/process"
)

type chanReporter chan int

func (c chanReporter) WatchdogTimedOut(pid int) { c <- pid }

func TestReactorRunsInOrder(t *testing.T) {
	r := NewReactor()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()

	var got []int
	for i := range 10 {
		r.Post(func() { got = append(got, i) })
	}
	if err := r.Call(ctx, func() {}); err != nil {
		t.Fatal(err)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("order = %v", got)
		}
	}
	cancel()
	<-done

	if r.Post(func() {}) {
		t.Error("Post accepted work after stop")
	}
	if err := r.Call(context.Background(), func() {}); !errors.Is(err, ErrStopped) {
		t.Errorf("Call after stop = %v, want ErrStopped", err)
	}
}

func TestReactorCallHonoursContext(t *testing.T) {
	r := NewReactor()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := r.Call(ctx, func() {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Call without runner = %v, want DeadlineExceeded", err)
	}
}

type serviceHarness struct {
	svc    *Service
	clk    *clock.FakeClock
	plat   *platform.Fake
	ins    *process.FakeInspector
	rep    chanReporter
	cancel context.CancelFunc
	errc   chan error
}

func startService(t *testing.T, framework []FrameworkDaemon) *serviceHarness {
	t.Helper()
	h := &serviceHarness{
		clk:  clock.Fake(time.Unix(0, 0)),
		plat: &platform.Fake{},
		ins:  process.NewFakeInspector(),
		rep:  make(chanReporter, 8),
		errc: make(chan error, 1),
	}
	h.svc = NewService(Options{
		Clock:     h.clk,
		Platform:  h.plat,
		Reporter:  h.rep,
		Inspector: h.ins,
		Logger:    logging.Discard(),
		Fatal:     func(msg string) { t.Errorf("unexpected fatal: %s", msg) },
	})
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.errc <- h.svc.Run(ctx, nil, framework) }()
	t.Cleanup(func() {
		cancel()
		<-h.errc
	})
	return h
}

func TestServiceKickAndQuery(t *testing.T) {
	h := startService(t, nil)
	ctx := context.Background()

	if err := h.svc.Kick(ctx, 100); err != nil {
		t.Fatal(err)
	}
	ms, err := h.svc.WatchdogTimeout(ctx, 100)
	if err != nil || ms != DefaultTimeout {
		t.Fatalf("WatchdogTimeout = %d, %v", ms, err)
	}
	if _, err := h.svc.MaxWatchdogTimeout(ctx, 100); !errors.Is(err, ErrNotFound) {
		t.Errorf("MaxWatchdogTimeout error = %v", err)
	}
	snap, err := h.svc.Snapshot(ctx)
	if err != nil || len(snap) != 1 || snap[0].PID != 100 {
		t.Fatalf("Snapshot = %+v, %v", snap, err)
	}
	if ok, _ := h.svc.Healthy(ctx); !ok {
		t.Error("service unhealthy")
	}
	if err := h.svc.Disconnect(ctx, 100); err != nil {
		t.Fatal(err)
	}
	snap, _ = h.svc.Snapshot(ctx)
	if len(snap) != 0 {
		t.Errorf("snapshot after disconnect = %+v", snap)
	}
}

func TestServiceRejectsInvalidTimeout(t *testing.T) {
	h := startService(t, nil)
	if err := h.svc.Timeout(context.Background(), 1, -7); err == nil {
		t.Error("negative timeout accepted")
	}
}

func TestServiceExpiryDeliveredThroughReactor(t *testing.T) {
	h := startService(t, nil)
	if err := h.svc.Timeout(context.Background(), 200, TimeoutNow); err != nil {
		t.Fatal(err)
	}
	select {
	case pid := <-h.rep:
		if pid != 200 {
			t.Errorf("expired pid = %d, want 200", pid)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("expiry not reported")
	}
}

func TestServiceFrameworkKick(t *testing.T) {
	h := startService(t, []FrameworkDaemon{{Name: "supervisor", Timeout: 30000}})
	ctx := context.Background()
	if err := h.svc.KickFramework(ctx, "supervisor"); err != nil {
		t.Fatal(err)
	}
	if err := h.svc.KickFramework(ctx, "other"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown daemon error = %v", err)
	}
	n, err := h.svc.UninstallApp(ctx, FrameworkApp)
	if err != nil || n != 1 {
		t.Errorf("UninstallApp = %d, %v", n, err)
	}
}

func TestServiceRunStopsOnCancel(t *testing.T) {
	h := startService(t, nil)
	if err := h.svc.Kick(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	h.cancel()
	select {
	case err := <-h.errc:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
		h.errc <- err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	if h.plat.Inits() != 1 {
		t.Errorf("platform inits = %d", h.plat.Inits())
	}
}

func TestServiceStartFailure(t *testing.T) {
	plat := &platform.Fake{InitErr: errors.New("no device")}
	svc := NewService(Options{Clock: clock.Fake(time.Unix(0, 0)), Platform: plat, Logger: logging.Discard()})
	if err := svc.Run(context.Background(), nil, nil); err == nil {
		t.Fatal("Run succeeded without a platform watchdog")
	}
}
