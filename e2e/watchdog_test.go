//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/kahiteam/wdog/internal/boot"
	"github.com/kahiteam/wdog/internal/watchdog"
)

// A shell script kicks its own watchdog through the CLI: ctl defaults to
// the parent pid, which is the script.
func TestWatchdog_ShellKick(t *testing.T) {
	td := startDaemon(t, "")
	script := writeScript(t, td.dir, "app.sh", fmt.Sprintf(
		"%s ctl -s %s timeout 60000 && %s ctl -s %s kick && echo $$ && sleep 30",
		wdogBinary, td.socketPath, wdogBinary, td.socketPath))

	cmd := exec.Command(script)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatal(err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})

	buf := make([]byte, 32)
	n, err := stdout.Read(buf)
	if err != nil {
		t.Fatalf("read script pid: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		t.Fatalf("script pid %q: %v", buf[:n], err)
	}

	entries, err := td.client.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.PID == pid {
			if e.State != watchdog.StateAttached {
				t.Fatalf("script watchdog state = %q, want attached", e.State)
			}
			return
		}
	}
	t.Fatalf("no watchdog for script pid %d in %+v", pid, entries)
}

func TestWatchdog_ListFormats(t *testing.T) {
	td := startDaemon(t, `
[apps.gps.procs.gpsd]
max_watchdog_timeout = 60000
`)
	out, err := wdog(t, "ctl", "-s", td.socketPath, "list", "-o", "json")
	if err != nil {
		t.Fatal(err)
	}
	var entries []watchdog.Entry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("list json: %v\n%s", err, out)
	}
	if len(entries) != 1 || !entries[0].Mandatory || entries[0].MaxKickInterval != 60000 {
		t.Fatalf("entries = %+v", entries)
	}

	out, err = wdog(t, "ctl", "-s", td.socketPath, "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "gpsd") || !strings.Contains(out, "mandatory") {
		t.Errorf("table output = %q", out)
	}
}

func TestWatchdog_PeerDisconnect(t *testing.T) {
	td := startDaemon(t, "")
	if err := td.client.Kick(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	if _, err := td.client.GetTimeout(context.Background(), os.Getpid()); err != nil {
		t.Fatalf("watchdog bound to the test process: %v", err)
	}
	td.client.Close()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		entries, err := td.client.List(context.Background())
		if err == nil && len(entries) == 0 {
			return
		}
		// List opened a new connection; close it again so it cannot hold
		// anything open.
		td.client.Close()
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("watchdog not removed after the client disconnected")
}

func TestBoot_StatusAndMark(t *testing.T) {
	root := t.TempDir()
	systems := filepath.Join(root, "systems")
	for path, content := range map[string]string{
		"current/index":  "1",
		"current/status": "tried 2",
		"0/index":        "0",
		"0/status":       "good",
	} {
		p := filepath.Join(systems, path)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	cfg := filepath.Join(root, "wdog.toml")
	body := fmt.Sprintf("[boot]\nsystems_dir = %q\nboot_count_file = %q\n", systems, filepath.Join(root, "bootCount"))
	if err := os.WriteFile(cfg, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := wdog(t, "boot", "mark", "good", "-c", cfg); err != nil {
		t.Fatal(err)
	}
	out, err := wdog(t, "boot", "status", "-o", "yaml", "-c", cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "current: 1") || !strings.Contains(out, "status: good") {
		t.Fatalf("status yaml = %s", out)
	}
	st, _ := boot.ReadStatus(filepath.Join(systems, "current"))
	if st.State != boot.StateGood {
		t.Errorf("current status = %v", st)
	}
}
