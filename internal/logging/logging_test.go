package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(LogConfig{Output: &buf})
	logger.Info("test message", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v\nraw: %s", err, buf.String())
	}

	ts, _ := entry["time"].(string)
	if _, err := time.Parse(time.RFC3339Nano, ts); err != nil {
		t.Errorf("timestamp not RFC3339: %q", ts)
	}
	if level, _ := entry["level"].(string); level != "INFO" {
		t.Errorf("level = %q, want INFO", level)
	}
	if msg, _ := entry["msg"].(string); msg != "test message" {
		t.Errorf("msg = %q, want %q", msg, "test message")
	}
	if v, _ := entry["key"].(string); v != "value" {
		t.Errorf("key = %q, want %q", v, "value")
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(LogConfig{Format: "text", Output: &buf})
	logger.Info("hello text")

	if !strings.Contains(buf.String(), "hello text") {
		t.Errorf("text output missing message: %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err == nil {
		t.Error("text format should not produce valid JSON")
	}
}

func TestCriticalLevelName(t *testing.T) {
	var buf bytes.Buffer
	logger := New(LogConfig{Output: &buf})
	Critical(logger, "proc timed out", "pid", 42)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if level, _ := entry["level"].(string); level != "CRITICAL" {
		t.Errorf("level = %q, want CRITICAL", level)
	}
}

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		name      string
		cfgLevel  string
		logLevel  string
		wantEmpty bool
	}{
		{"error cfg filters info", "error", "info", true},
		{"error cfg keeps error", "error", "error", false},
		{"debug cfg keeps debug", "debug", "debug", false},
		{"warn cfg filters info", "warn", "info", true},
		{"info cfg filters debug", "info", "debug", true},
		{"critical cfg filters error", "critical", "error", true},
		{"critical cfg keeps critical", "critical", "critical", false},
		{"unknown cfg means info", "chatty", "info", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(LogConfig{Level: tc.cfgLevel, Output: &buf})

			switch tc.logLevel {
			case "debug":
				logger.Debug("test")
			case "info":
				logger.Info("test")
			case "error":
				logger.Error("test")
			case "critical":
				Critical(logger, "test")
			}

			got := buf.String()
			if tc.wantEmpty && got != "" {
				t.Fatalf("expected no output, got: %s", got)
			}
			if !tc.wantEmpty && got == "" {
				t.Fatal("expected output, got nothing")
			}
		})
	}
}

func TestDaemonLoggerStdout(t *testing.T) {
	logger, cleanup, err := DaemonLogger("info", "json", "", false)
	if err != nil {
		t.Fatalf("DaemonLogger with empty logfile: %v", err)
	}
	if cleanup != nil {
		t.Error("cleanup should be nil when no logfile is set")
	}
	if logger == nil {
		t.Fatal("logger should not be nil")
	}
}

func TestDaemonLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wdog.log")

	logger, cleanup, err := DaemonLogger("debug", "json", path, false)
	if err != nil {
		t.Fatalf("DaemonLogger with temp file: %v", err)
	}
	if cleanup == nil {
		t.Fatal("cleanup should not be nil when logfile is set")
	}
	defer cleanup()

	logger.Info("daemon file test", "key", "val")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "daemon file test") {
		t.Errorf("log file missing expected message, got: %s", string(data))
	}
}

func TestDaemonLoggerBadPath(t *testing.T) {
	_, _, err := DaemonLogger("info", "json", "/no/such/directory/logfile.log", false)
	if err == nil {
		t.Fatal("expected error for invalid log path, got nil")
	}
	if !strings.Contains(err.Error(), "cannot open log file") {
		t.Errorf("error message = %q", err.Error())
	}
}
