package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kahiteam/wdog/internal/boot"
	"github.com/kahiteam/wdog/internal/ctl"
	"github.com/kahiteam/wdog/internal/testutil"
	"github.com/kahiteam/wdog/internal/watchdog"
	"golang.org/x/crypto/bcrypt"
)

// run executes the root command with fresh flag values and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, ctlSocket, ctlAddr, ctlUser, ctlPass = "", "", "", "", ""
	ctlPID, ctlOutput, bootOutput = 0, ctl.FormatTable, ctl.FormatTable
	ctlFrameworkTimeout, ctlHeartbeatInterval = 0, time.Second
	initOutput, initStdout, initForce = "", false, false

	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRootCommandHelp(t *testing.T) {
	out, err := run(t, "--help")
	if err != nil {
		t.Fatal(err)
	}
	for _, sub := range []string{"daemon", "start", "ctl", "boot", "version", "init", "hash-password", "completion"} {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"wdog", "commit:", "built:", "go:", "os/arch:"} {
		if !strings.Contains(out, want) {
			t.Errorf("version output missing %q", want)
		}
	}
}

func TestUnknownSubcommand(t *testing.T) {
	if _, err := run(t, "nonexistent"); err == nil {
		t.Fatal("expected error for unknown subcommand")
	}
}

func TestParseTimeout(t *testing.T) {
	tests := []struct {
		in   string
		want int32
		ok   bool
	}{
		{"5000", 5000, true},
		{"0", 0, true},
		{"never", watchdog.TimeoutNever, true},
		{"NEVER", watchdog.TimeoutNever, true},
		{"-1", watchdog.TimeoutNever, true},
		{"-3", 0, false},
		{"soon", 0, false},
		{"99999999999", 0, false},
	}
	for _, tt := range tests {
		got, err := parseTimeout(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("parseTimeout(%q) = %d, %v", tt.in, got, err)
		}
	}
}

func TestInitCommand(t *testing.T) {
	out, err := run(t, "init", "--stdout")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "[daemon]") {
		t.Error("sample config missing [daemon]")
	}

	path := filepath.Join(t.TempDir(), "wdog.toml")
	if _, err := run(t, "init", "-o", path); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "init", "-o", path); err == nil {
		t.Fatal("expected refusal to overwrite")
	}
	if _, err := run(t, "init", "-o", path, "--force"); err != nil {
		t.Fatal(err)
	}
	// The generated file must load.
	if _, err := run(t, "boot", "status", "-c", path, "-o", "json"); err != nil {
		t.Fatalf("generated config: %v", err)
	}
}

func TestHashPassword(t *testing.T) {
	pw, err := readPasswordLine(strings.NewReader("s3cret\n"))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := writeHash(&buf, pw); err != nil {
		t.Fatal(err)
	}
	hash := strings.TrimSpace(buf.String())
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")); err != nil {
		t.Fatalf("hash does not match: %v", err)
	}
	if err := writeHash(&buf, nil); err == nil {
		t.Fatal("expected error for empty password")
	}
}

func TestCtlCommands(t *testing.T) {
	env := testutil.StartService(t, `
[apps.gps.procs.gpsd]
max_watchdog_timeout = 60000
`)
	sock := env.SocketPath

	if _, err := run(t, "ctl", "-s", sock, "kick", "--pid", "4242"); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, "ctl", "-s", sock, "get-timeout", "--pid", "4242")
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out); got != fmt.Sprintf("%dms", watchdog.DefaultTimeout) {
		t.Errorf("get-timeout = %q", got)
	}

	if _, err := run(t, "ctl", "-s", sock, "timeout", "never", "--pid", "4242"); err != nil {
		t.Fatal(err)
	}
	// A timeout applies to the current lease only; the configured
	// interval is unchanged.
	out, _ = run(t, "ctl", "-s", sock, "get-timeout", "--pid", "4242")
	if got := strings.TrimSpace(out); got != fmt.Sprintf("%dms", watchdog.DefaultTimeout) {
		t.Errorf("get-timeout after never = %q", got)
	}
	if _, err := run(t, "ctl", "-s", sock, "get-max", "--pid", "4242"); err == nil {
		t.Error("get-max of a plain watchdog should fail")
	}

	out, err = run(t, "ctl", "-s", sock, "list", "-o", "json")
	if err != nil {
		t.Fatal(err)
	}
	var entries []watchdog.Entry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("list output: %v\n%s", err, out)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	if e := entries[1]; e.PID != 4242 || e.State != watchdog.StateDisabled {
		t.Errorf("plain watchdog after never = %+v", e)
	}

	if _, err := run(t, "ctl", "-s", sock, "disconnect", "--pid", "4242"); err != nil {
		t.Fatal(err)
	}
	out, err = run(t, "ctl", "-s", sock, "uninstall", "gps")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "gps: removed 1 watchdogs") {
		t.Errorf("uninstall output = %q", out)
	}
	if n := len(env.Entries(t)); n != 0 {
		t.Errorf("%d watchdogs left", n)
	}

	if _, err := run(t, "ctl", "-s", sock, "timeout", "soon"); err == nil {
		t.Error("invalid timeout accepted")
	}
	if _, err := run(t, "ctl", "-s", sock, "framework-kick", "nobody"); err == nil {
		t.Error("unknown framework daemon accepted")
	}
	// Every worker file already gone: the chain stops at once and
	// disables the watchdog of the target.
	dir := t.TempDir()
	if _, err := run(t, "ctl", "-s", sock, "heartbeat", "--pid", "5151", "--interval", "10ms",
		filepath.Join(dir, "w1"), filepath.Join(dir, "w2")); err != nil {
		t.Fatal(err)
	}
	var disabled bool
	for _, e := range env.Entries(t) {
		if e.PID == 5151 {
			disabled = e.State == watchdog.StateDisabled
		}
	}
	if !disabled {
		t.Errorf("heartbeat did not disable the watchdog of 5151: %+v", env.Entries(t))
	}

	out, err = run(t, "ctl", "-s", sock, "health")
	if err != nil || strings.TrimSpace(out) != "ok" {
		t.Errorf("health = %q, %v", out, err)
	}
}

func writeBootConfig(t *testing.T, root string) string {
	t.Helper()
	return testutil.WriteFile(t, root, "wdog.toml", fmt.Sprintf(`
[boot]
systems_dir = %q
apps_dir = %q
golden_dir = %q
installed_version_file = %q
boot_count_file = %q
no_reboot_file = %q
`,
		filepath.Join(root, "systems"), filepath.Join(root, "apps"),
		filepath.Join(root, "golden"), filepath.Join(root, "installedVersion"),
		filepath.Join(root, "bootCount"), filepath.Join(root, "noReboot")))
}

func TestBootCommands(t *testing.T) {
	root := t.TempDir()
	cfg := writeBootConfig(t, root)
	testutil.BuildTree(t, root, map[string]string{
		"systems/current/index":   "3",
		"systems/current/status":  "tried 1",
		"systems/current/version": "v3",
		"systems/2/index":         "2",
		"systems/2/status":        "good",
		"systems/2/version":       "v2",
	})

	out, err := run(t, "boot", "status", "-c", cfg, "-o", "json")
	if err != nil {
		t.Fatal(err)
	}
	var r boot.Report
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		t.Fatalf("status output: %v\n%s", err, out)
	}
	if r.Current != 3 || r.Newest != 2 || len(r.Systems) != 2 {
		t.Fatalf("report = %+v", r)
	}
	if r.Systems[0].Status != "tried 1" || r.Systems[1].Status != "good" {
		t.Errorf("systems = %+v", r.Systems)
	}

	out, err = run(t, "boot", "status", "-c", cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "current: 3") || !strings.Contains(out, "NAME") {
		t.Errorf("table output = %q", out)
	}

	if _, err := run(t, "boot", "mark", "maybe", "-c", cfg); err == nil {
		t.Error("invalid mark accepted")
	}
	if _, err := run(t, "boot", "mark", "good", "-c", cfg); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "boot", "revert", "-c", cfg); err == nil {
		t.Fatal("revert of a good system should fail")
	}

	if _, err := run(t, "boot", "mark", "bad", "-c", cfg); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "boot", "revert", "-c", cfg); err != nil {
		t.Fatal(err)
	}
	idx, err := os.ReadFile(filepath.Join(root, "systems", "current", "index"))
	if err != nil {
		t.Fatal(err)
	}
	if string(idx) != "2" {
		t.Errorf("current index after revert = %q", idx)
	}
	if _, err := os.Stat(filepath.Join(root, "systems", "2")); !os.IsNotExist(err) {
		t.Error("reverted system still present under its index")
	}
}
