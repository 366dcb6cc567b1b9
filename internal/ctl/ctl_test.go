package ctl

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kahiteam/wdog/internal/api"
	"github.com/kahiteam/wdog/internal/clock"
	"github.com/kahiteam/wdog/internal/logging"
	"github.com/kahiteam/wdog/internal/platform"
	"github.com/kahiteam/wdog/internal/process"
	"github.com/kahiteam/wdog/internal/watchdog"
	"gopkg.in/yaml.v3"
)

type staticPolicy map[string]map[string]int

func (p staticPolicy) KickTimeout(app, proc string) (int, string) { return 0, "" }
func (p staticPolicy) MandatoryWatchdogs(app string) map[string]int {
	return p[app]
}

// newTestDaemon serves a real registry over HTTP and returns a client for it.
func newTestDaemon(t *testing.T) *Client {
	t.Helper()
	svc := watchdog.NewService(watchdog.Options{
		Clock:     clock.Fake(time.Unix(0, 0)),
		Platform:  &platform.Fake{},
		Inspector: process.NewFakeInspector(),
		Policy:    staticPolicy{"gps": {"gpsd": 60000, "fixer": 120000}},
		Logger:    logging.Discard(),
		Fatal:     func(msg string) { t.Errorf("unexpected fatal: %s", msg) },
	})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- svc.Run(ctx, nil, []watchdog.FrameworkDaemon{{Name: "supervisor", Timeout: 30000}})
	}()

	srv := api.NewServer(api.Config{}, svc, nil, logging.Discard())
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hs.Close()
		cancel()
		<-errc
	})
	return NewTCPClient(strings.TrimPrefix(hs.URL, "http://"), "", "")
}

func TestKickAndTimeouts(t *testing.T) {
	c := newTestDaemon(t)
	ctx := context.Background()

	if err := c.Kick(ctx, 321); err != nil {
		t.Fatal(err)
	}
	ms, err := c.GetTimeout(ctx, 321)
	if err != nil {
		t.Fatal(err)
	}
	if ms != watchdog.DefaultTimeout {
		t.Fatalf("timeout = %d, want %d", ms, watchdog.DefaultTimeout)
	}

	if err := c.SetTimeout(ctx, 321, watchdog.TimeoutNever); err != nil {
		t.Fatal(err)
	}
	if err := c.SetTimeout(ctx, 321, -9); err == nil {
		t.Fatal("expected error for invalid timeout")
	}

	_, err = c.GetMaxTimeout(ctx, 321)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetMaxTimeout error = %v, want ErrNotFound", err)
	}
}

func TestKickWithoutPIDOverTCP(t *testing.T) {
	c := newTestDaemon(t)
	err := c.Kick(context.Background(), 0)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "BAD_REQUEST" {
		t.Fatalf("err = %v, want BAD_REQUEST", err)
	}
}

func TestListAndDisconnect(t *testing.T) {
	c := newTestDaemon(t)
	ctx := context.Background()

	if err := c.Kick(ctx, 10); err != nil {
		t.Fatal(err)
	}
	entries, err := c.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// framework/supervisor plus pid 10.
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].App != watchdog.FrameworkApp || entries[1].PID != 10 {
		t.Fatalf("unexpected order %+v", entries)
	}

	if err := c.Disconnect(ctx, 10); err != nil {
		t.Fatal(err)
	}
	entries, _ = c.List(ctx)
	if len(entries) != 1 {
		t.Fatalf("entries after disconnect = %+v", entries)
	}
}

func TestInstallUninstall(t *testing.T) {
	c := newTestDaemon(t)
	ctx := context.Background()

	n, err := c.InstallApp(ctx, "gps")
	if err != nil || n != 2 {
		t.Fatalf("InstallApp = %d, %v", n, err)
	}
	n, err = c.InstallApp(ctx, "gps")
	if err != nil || n != 0 {
		t.Fatalf("second InstallApp = %d, %v", n, err)
	}
	n, err = c.UninstallApp(ctx, "gps")
	if err != nil || n != 2 {
		t.Fatalf("UninstallApp = %d, %v", n, err)
	}
}

func TestFrameworkKickUnknown(t *testing.T) {
	c := newTestDaemon(t)
	ctx := context.Background()
	if err := c.KickFramework(ctx, "supervisor"); err != nil {
		t.Fatal(err)
	}
	if err := c.KickFramework(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestHealth(t *testing.T) {
	c := newTestDaemon(t)
	status, err := c.Health(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if status != "ok" {
		t.Fatalf("status = %q", status)
	}
}

func TestConnectionFailure(t *testing.T) {
	c := NewUnixClient("/nonexistent/wdog.sock")
	err := c.Kick(context.Background(), 1)
	if err == nil || !strings.Contains(err.Error(), "connection failed") {
		t.Fatalf("err = %v", err)
	}
}

// --- Formatting ---

func sampleEntries() []watchdog.Entry {
	return []watchdog.Entry{
		{PID: -1, App: "gps", Proc: "gpsd", Mandatory: true, KickInterval: 60000, MaxKickInterval: 60000, Running: true, State: watchdog.StateDetached},
		{PID: 42, KickInterval: -1, MaxKickInterval: -1, State: watchdog.StateDisabled},
	}
}

func TestWriteListTable(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteList(sampleEntries(), "", &buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"PID", "gpsd", "mandatory", "60000ms", "never", "detached", "42"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\033[") {
		t.Error("colors written to a non-terminal")
	}
}

func TestWriteListYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteList(sampleEntries(), FormatYAML, &buf); err != nil {
		t.Fatal(err)
	}
	var got []watchdog.Entry
	if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Proc != "gpsd" || got[1].KickInterval != -1 {
		t.Fatalf("got %+v", got)
	}
}

func TestWriteListJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteList(sampleEntries(), FormatJSON, &buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"kick_interval_ms": 60000`) {
		t.Fatalf("unexpected json %s", buf.String())
	}
}

func TestFormatUnknown(t *testing.T) {
	if err := Format(nil, "xml", &bytes.Buffer{}); err == nil {
		t.Fatal("expected error")
	}
}
