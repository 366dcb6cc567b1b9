package events

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func webhookLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWebhookDelivery(t *testing.T) {
	bodies := make(chan []byte, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	bus := NewBus(webhookLogger())
	wm := NewWebhookManager(bus, []WebhookConfig{
		{Name: "supervisor", URL: ts.URL, Events: []EventType{WatchdogExpired}},
	}, webhookLogger())
	defer wm.Stop()

	Reporter{Bus: bus}.WatchdogTimedOut(77)

	var body []byte
	select {
	case body = <-bodies:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not delivered")
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("invalid JSON payload: %s", body)
	}
	if payload["event"] != "WATCHDOG_EXPIRED" {
		t.Fatalf("event = %v, want WATCHDOG_EXPIRED", payload["event"])
	}
	details := payload["details"].(map[string]any)
	if details["pid"] != "77" {
		t.Errorf("details.pid = %v, want 77", details["pid"])
	}
}

func TestWebhookRetryOnFailure(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	bus := NewBus(webhookLogger())
	wm := NewWebhookManager(bus, []WebhookConfig{{
		Name:       "retry",
		URL:        ts.URL,
		Events:     []EventType{WatchdogDoubleFault},
		MaxRetries: 5,
		RetryDelay: time.Millisecond,
	}}, webhookLogger())

	bus.Publish(Event{Type: WatchdogDoubleFault})
	wm.Stop()

	if got := attempts.Load(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestWebhookCircuitBreaker(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	bus := NewBus(webhookLogger())
	wm := NewWebhookManager(bus, []WebhookConfig{{
		Name:       "breaker",
		URL:        ts.URL,
		Events:     []EventType{WatchdogExpired},
		MaxRetries: 1,
	}}, webhookLogger())
	defer wm.Stop()

	for i := range breakerThreshold {
		bus.Publish(Event{Type: WatchdogExpired})
		waitFor(t, func() bool { return attempts.Load() == int32(i+1) })
		// Let the failure be recorded before the next delivery starts.
		wm.wg.Wait()
	}

	bus.Publish(Event{Type: WatchdogExpired})
	wm.wg.Wait()
	if got := attempts.Load(); got != breakerThreshold {
		t.Fatalf("attempts = %d after breaker tripped, want %d", got, breakerThreshold)
	}
}

func TestWebhookNoMatchingEvent(t *testing.T) {
	var received atomic.Bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Store(true)
	}))
	defer ts.Close()

	bus := NewBus(webhookLogger())
	wm := NewWebhookManager(bus, []WebhookConfig{
		{Name: "selective", URL: ts.URL, Events: []EventType{WatchdogDoubleFault}},
	}, webhookLogger())

	bus.Publish(Event{Type: AppInstalled})
	wm.Stop()
	if received.Load() {
		t.Fatal("webhook fired for non-matching event")
	}
}

func TestWebhookHeadersAndSlackTemplate(t *testing.T) {
	type request struct {
		auth string
		body []byte
	}
	got := make(chan request, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- request{auth: r.Header.Get("Authorization"), body: body}
	}))
	defer ts.Close()

	bus := NewBus(webhookLogger())
	wm := NewWebhookManager(bus, []WebhookConfig{{
		Name:     "slack",
		URL:      ts.URL,
		Events:   []EventType{AppUninstalled},
		Headers:  map[string]string{"Authorization": "Bearer token123"},
		Template: "slack",
	}}, webhookLogger())
	defer wm.Stop()

	bus.Publish(Event{Type: AppUninstalled, Data: map[string]string{"app": "gps"}})

	var req request
	select {
	case req = <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not delivered")
	}
	if req.auth != "Bearer token123" {
		t.Errorf("Authorization = %q", req.auth)
	}
	var body map[string]string
	if err := json.Unmarshal(req.body, &body); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(body["text"], "APP_UNINSTALLED") || !strings.Contains(body["text"], "app=gps") {
		t.Errorf("text = %q", body["text"])
	}
}

func TestWebhookDefaults(t *testing.T) {
	bus := NewBus(webhookLogger())
	wm := NewWebhookManager(bus, []WebhookConfig{
		{Name: "d", URL: "https://example.com", Events: []EventType{WatchdogExpired}},
	}, webhookLogger())
	defer wm.Stop()

	cfg := wm.hooks[0].cfg
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cfg.Timeout)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.Template != "generic" {
		t.Errorf("Template = %q, want generic", cfg.Template)
	}
}

func TestWebhookInvalidURLSkipped(t *testing.T) {
	bus := NewBus(webhookLogger())
	wm := NewWebhookManager(bus, []WebhookConfig{
		{Name: "plain", URL: "http://example.com/hook"},
		{Name: "ok", URL: "https://example.com/hook"},
	}, webhookLogger())
	defer wm.Stop()

	if len(wm.hooks) != 1 || wm.hooks[0].cfg.Name != "ok" {
		t.Fatalf("hooks = %d, want only the https one", len(wm.hooks))
	}
}

func TestFormatEventDataSorted(t *testing.T) {
	got := formatEventData(map[string]string{"proc": "gpsd", "app": "gps"})
	if got != "app=gps proc=gpsd" {
		t.Errorf("formatEventData = %q", got)
	}
}

func TestValidateWebhookURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://supervisor.example/hooks", false},
		{"http://supervisor.example/hooks", true},
		{"http://localhost:8080/webhook", false},
		{"http://127.0.0.1:8080/webhook", false},
		{"ftp://example.com/x", true},
		{"not-a-url", true},
		{"", true},
	}
	for _, tc := range tests {
		err := ValidateWebhookURL(tc.url)
		if (err != nil) != tc.wantErr {
			t.Errorf("ValidateWebhookURL(%q) error = %v, wantErr %v", tc.url, err, tc.wantErr)
		}
	}
}
