//go:build e2e

package e2e

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/kahiteam/wdog/internal/ctl"
)

// hashPassword uses the wdog binary to generate a bcrypt hash.
func hashPassword(t *testing.T, password string) string {
	t.Helper()
	cmd := exec.Command(wdogBinary, "hash-password")
	cmd.Stdin = strings.NewReader(password + "\n")
	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("hash-password: %v", err)
	}
	return strings.TrimSpace(string(out))
}

func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func startAuthDaemon(t *testing.T) string {
	t.Helper()
	addr := freePort(t)
	startDaemon(t, fmt.Sprintf(`
[server.http]
enabled = true
listen = %q
username = "admin"
password = %q
`, addr, hashPassword(t, "testpass")))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("tcp", addr); err == nil {
			conn.Close()
			return addr
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("tcp listener %s not ready", addr)
	return ""
}

func TestAuth_TCPWithCreds(t *testing.T) {
	addr := startAuthDaemon(t)
	c := ctl.NewTCPClient(addr, "admin", "testpass")
	defer c.Close()
	if err := c.Kick(context.Background(), 4242); err != nil {
		t.Fatalf("kick with credentials: %v", err)
	}
	entries, err := c.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].PID != 4242 {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestAuth_TCPNoCreds(t *testing.T) {
	addr := startAuthDaemon(t)
	c := ctl.NewTCPClient(addr, "", "")
	defer c.Close()
	err := c.Kick(context.Background(), 4242)
	var apiErr *ctl.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 401 {
		t.Fatalf("kick without credentials = %v, want 401", err)
	}
}

func TestAuth_TCPBadCreds(t *testing.T) {
	addr := startAuthDaemon(t)
	c := ctl.NewTCPClient(addr, "admin", "wrong")
	defer c.Close()
	var apiErr *ctl.APIError
	if err := c.Kick(context.Background(), 4242); !errors.As(err, &apiErr) || apiErr.Status != 401 {
		t.Fatalf("kick with bad credentials = %v, want 401", err)
	}
	// Probes stay open.
	if h, err := c.Health(context.Background()); err != nil || h != "ok" {
		t.Fatalf("health = %q, %v", h, err)
	}
}
