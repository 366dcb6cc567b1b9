package api

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestPeerCredentialIdentity(t *testing.T) {
	srv, wd, _ := testServer()
	sockPath := filepath.Join(t.TempDir(), "w.sock")
	if err := srv.StartUnix(sockPath, 0700); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = srv.Stop(context.Background()) }()

	client := unixClient(sockPath)
	resp, err := client.Post("http://unix/v1/watchdog/kick", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	wd.mu.Lock()
	kicks := append([]int(nil), wd.kicks...)
	wd.mu.Unlock()
	if len(kicks) != 1 || kicks[0] != os.Getpid() {
		t.Fatalf("kicks = %v, want [%d]", kicks, os.Getpid())
	}

	// Closing the connection ends the session bound through credentials.
	client.CloseIdleConnections()
	select {
	case pid := <-wd.async:
		if pid != os.Getpid() {
			t.Fatalf("disconnected pid %d, want %d", pid, os.Getpid())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("connection close did not disconnect the session")
	}
}

func TestExplicitPIDNotBoundToConnection(t *testing.T) {
	srv, wd, _ := testServer()
	sockPath := filepath.Join(t.TempDir(), "w.sock")
	if err := srv.StartUnix(sockPath, 0700); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = srv.Stop(context.Background()) }()

	client := unixClient(sockPath)
	resp, err := client.Post("http://unix/v1/watchdog/kick", "application/json", strings.NewReader(`{"pid": 4242}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	client.CloseIdleConnections()

	select {
	case pid := <-wd.async:
		t.Fatalf("unexpected disconnect of pid %d", pid)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestOlderConnectionCloseKeepsSession(t *testing.T) {
	srv, wd, _ := testServer()
	sockPath := filepath.Join(t.TempDir(), "w.sock")
	if err := srv.StartUnix(sockPath, 0700); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = srv.Stop(context.Background()) }()

	kick := func(c *http.Client) {
		t.Helper()
		resp, err := c.Post("http://unix/v1/watchdog/kick", "application/json", strings.NewReader("{}"))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
	}

	first, second := unixClient(sockPath), unixClient(sockPath)
	kick(first)
	kick(second)

	// The process now kicks on the second connection; the first one
	// closing must not end its session.
	first.CloseIdleConnections()
	select {
	case pid := <-wd.async:
		t.Fatalf("stale connection disconnected pid %d", pid)
	case <-time.After(200 * time.Millisecond):
	}

	second.CloseIdleConnections()
	select {
	case pid := <-wd.async:
		if pid != os.Getpid() {
			t.Fatalf("disconnected pid %d, want %d", pid, os.Getpid())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("closing the owning connection did not disconnect the session")
	}
}
