// Package testutil provides shared test helpers for the wdog test suite.
package testutil

import (
	"context"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kahiteam/wdog/internal/api"
	"github.com/kahiteam/wdog/internal/clock"
	"github.com/kahiteam/wdog/internal/config"
	"github.com/kahiteam/wdog/internal/logging"
	"github.com/kahiteam/wdog/internal/platform"
	"github.com/kahiteam/wdog/internal/process"
	"github.com/kahiteam/wdog/internal/watchdog"
)

// TempDir creates a temporary directory for testing and registers cleanup.
func TempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "wdog-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

// FreeSocket returns a unique Unix socket path in a temporary directory.
// The socket file does not exist yet; it is created by the server.
func FreeSocket(t *testing.T) string {
	t.Helper()
	return filepath.Join(TempDir(t), "wdog.sock")
}

// FreeTCPPort returns an available TCP port by binding to :0 and releasing.
func FreeTCPPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("cannot find free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

// MustParseConfig parses a TOML string into a Config, failing the test on
// error.
func MustParseConfig(t *testing.T, toml string) *config.Config {
	t.Helper()
	cfg, warnings, err := config.LoadBytes([]byte(toml), "test.toml")
	if err != nil {
		t.Fatalf("MustParseConfig: %v", err)
	}
	for _, w := range warnings {
		t.Logf("config warning: %s", w)
	}
	return cfg
}

// WaitFor polls condition until it returns true or the timeout expires.
func WaitFor(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("WaitFor: condition not met within timeout")
}

// WriteFile writes content to a file in the given directory.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("cannot write %s: %v", path, err)
	}
	return path
}

// BuildTree creates files under root from a map of slash-separated
// relative paths to contents, creating parent directories as needed.
func BuildTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("cannot write %s: %v", path, err)
		}
	}
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger { return logging.Discard() }

// Env is a watchdog registry served on a private Unix socket, backed by a
// fake platform watchdog and a fake process table.
type Env struct {
	Service    *watchdog.Service
	Server     *api.Server
	Platform   *platform.Fake
	Inspector  *process.FakeInspector
	Clock      *clock.FakeClock
	SocketPath string
	Dir        string
}

// StartService starts a registry configured from configTOML and serves its
// API on a Unix socket. Everything is torn down when the test ends.
func StartService(t *testing.T, configTOML string) *Env {
	t.Helper()
	cfg := MustParseConfig(t, configTOML)
	dir := TempDir(t)
	env := &Env{
		Platform:   &platform.Fake{},
		Inspector:  process.NewFakeInspector(),
		Clock:      clock.Fake(time.Unix(0, 0)),
		SocketPath: filepath.Join(dir, "wdog.sock"),
		Dir:        dir,
	}
	logger := DiscardLogger()
	env.Service = watchdog.NewService(watchdog.Options{
		Clock:     env.Clock,
		Platform:  env.Platform,
		Inspector: env.Inspector,
		Policy:    cfg,
		Logger:    logger,
		Fatal:     func(msg string) { t.Errorf("unexpected fatal: %s", msg) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- env.Service.Run(ctx, cfg.AppNames(), nil) }()

	env.Server = api.NewServer(api.Config{}, env.Service, nil, logger)
	if err := env.Server.StartUnix(env.SocketPath, 0700); err != nil {
		cancel()
		<-errc
		t.Fatalf("cannot start api server: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = env.Server.Stop(stopCtx)
		cancel()
		<-errc
	})

	WaitFor(t, func() bool {
		conn, err := net.Dial("unix", env.SocketPath)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 5*time.Second)
	return env
}

// Entries returns the registry snapshot, failing the test on error.
func (e *Env) Entries(t *testing.T) []watchdog.Entry {
	t.Helper()
	entries, err := e.Service.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return entries
}
