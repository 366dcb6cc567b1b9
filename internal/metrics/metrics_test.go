package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricsHandler(t *testing.T) {
	c := New()
	body := scrape(t, c)
	if !strings.Contains(body, "go_goroutines") {
		t.Fatal("expected go_goroutines metric")
	}
}

func TestWatchdogGauge(t *testing.T) {
	c := New()
	c.SetWatchdogs("plain", 3)
	c.SetWatchdogs("mandatory", 2)
	c.SetWatchdogs("plain", 1)

	body := scrape(t, c)
	if !strings.Contains(body, `wdog_watchdogs{kind="plain"} 1`) {
		t.Fatalf("expected plain gauge, got:\n%s", body)
	}
	if !strings.Contains(body, `wdog_watchdogs{kind="mandatory"} 2`) {
		t.Fatalf("expected mandatory gauge, got:\n%s", body)
	}
}

func TestCounters(t *testing.T) {
	c := New()
	for range 5 {
		c.IncKick()
	}
	c.IncExpiry("plain")
	c.IncExpiry("mandatory")
	c.IncExpiry("mandatory")
	c.IncDoubleFault()
	c.IncExternalKick()
	c.IncExternalKick()
	c.IncExternalKickFailure()

	body := scrape(t, c)
	for _, want := range []string{
		"wdog_kicks_total 5",
		`wdog_expiries_total{kind="plain"} 1`,
		`wdog_expiries_total{kind="mandatory"} 2`,
		"wdog_double_faults_total 1",
		"wdog_external_kicks_total 2",
		"wdog_external_kick_failures_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in:\n%s", want, body)
		}
	}
}

func TestDaemonMetrics(t *testing.T) {
	c := New()
	c.SetDaemonUptime(12)
	c.IncConfigReload()
	c.IncConfigReloadError()
	c.SetBuildInfo("1.2.3", "go1.26")

	body := scrape(t, c)
	for _, want := range []string{
		"wdog_daemon_uptime_seconds 12",
		"wdog_config_reload_total 1",
		"wdog_config_reload_errors_total 1",
		`wdog_info{go_version="go1.26",version="1.2.3"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q", want)
		}
	}
}

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics scrape failed: %d", w.Code)
	}
	body, _ := io.ReadAll(w.Body)
	return string(body)
}
