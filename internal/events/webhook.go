package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// WebhookConfig describes a single webhook destination.
type WebhookConfig struct {
	Name       string
	URL        string
	Events     []EventType
	Headers    map[string]string
	Timeout    time.Duration
	MaxRetries int
	Template   string // "generic" or "slack"

	// RetryDelay is the first backoff between attempts; it doubles after
	// every failure. Zero selects one second.
	RetryDelay time.Duration
}

// breakerThreshold is the number of consecutive failed deliveries after
// which a webhook stops sending.
const breakerThreshold = 5

// WebhookManager subscribes to events and delivers HTTP POST notifications.
type WebhookManager struct {
	bus    *Bus
	logger *slog.Logger
	hooks  []*webhookEntry
	mu     sync.Mutex
	subIDs []uint64
	wg     sync.WaitGroup
}

type webhookEntry struct {
	cfg      WebhookConfig
	client   *http.Client
	failures int
	tripped  bool
}

// NewWebhookManager creates a webhook manager and subscribes to events.
func NewWebhookManager(bus *Bus, configs []WebhookConfig, logger *slog.Logger) *WebhookManager {
	wm := &WebhookManager{bus: bus, logger: logger}
	for _, cfg := range configs {
		if err := ValidateWebhookURL(cfg.URL); err != nil {
			logger.Warn("webhook disabled", "webhook", cfg.Name, "error", err)
			continue
		}
		if cfg.Timeout == 0 {
			cfg.Timeout = 5 * time.Second
		}
		if cfg.MaxRetries == 0 {
			cfg.MaxRetries = 3
		}
		if cfg.Template == "" {
			cfg.Template = "generic"
		}
		if cfg.RetryDelay == 0 {
			cfg.RetryDelay = time.Second
		}
		wm.hooks = append(wm.hooks, &webhookEntry{
			cfg:    cfg,
			client: &http.Client{Timeout: cfg.Timeout},
		})
	}
	wm.subscribe()
	return wm
}

func (wm *WebhookManager) subscribe() {
	seen := make(map[EventType]bool)
	for _, h := range wm.hooks {
		for _, et := range h.cfg.Events {
			if seen[et] {
				continue
			}
			seen[et] = true
			id := wm.bus.Subscribe(et, wm.dispatch)
			wm.subIDs = append(wm.subIDs, id)
		}
	}
}

// Stop unsubscribes from all events and waits for deliveries in flight.
func (wm *WebhookManager) Stop() {
	for _, id := range wm.subIDs {
		wm.bus.Unsubscribe(id)
	}
	wm.wg.Wait()
}

// dispatch runs on the publisher's goroutine; delivery happens in the
// background so the registry reactor never waits on the network.
func (wm *WebhookManager) dispatch(e Event) {
	for _, h := range wm.hooks {
		if !h.matchesEvent(e.Type) {
			continue
		}
		wm.wg.Add(1)
		go func() {
			defer wm.wg.Done()
			wm.deliver(h, e)
		}()
	}
}

func (h *webhookEntry) matchesEvent(et EventType) bool {
	for _, t := range h.cfg.Events {
		if t == et {
			return true
		}
	}
	return false
}

func (wm *WebhookManager) deliver(h *webhookEntry, e Event) {
	wm.mu.Lock()
	tripped := h.tripped
	wm.mu.Unlock()
	if tripped {
		return
	}

	payload := buildPayload(h.cfg.Template, e)

	var lastErr error
	delay := h.cfg.RetryDelay
	for attempt := range h.cfg.MaxRetries {
		if attempt > 0 {
			time.Sleep(delay)
			delay *= 2
		}
		if lastErr = wm.send(h, payload); lastErr == nil {
			wm.mu.Lock()
			h.failures = 0
			wm.mu.Unlock()
			return
		}
	}

	wm.mu.Lock()
	h.failures++
	if h.failures >= breakerThreshold && !h.tripped {
		h.tripped = true
		wm.logger.Warn("webhook circuit breaker tripped", "name", h.cfg.Name, "url", h.cfg.URL)
	}
	wm.mu.Unlock()

	wm.logger.Error("webhook delivery failed",
		"name", h.cfg.Name,
		"url", h.cfg.URL,
		"event", string(e.Type),
		"error", lastErr,
	)
}

func (wm *WebhookManager) send(h *webhookEntry, payload []byte) error {
	req, err := http.NewRequest(http.MethodPost, h.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "wdog-webhook/1.0")
	for k, v := range h.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// buildPayload generates the JSON body for a template.
func buildPayload(template string, e Event) []byte {
	var payload any
	switch template {
	case "slack":
		payload = map[string]string{"text": fmt.Sprintf("[%s] %s %s", e.Type, hostname(), formatEventData(e.Data))}
	default:
		payload = map[string]any{
			"event":     string(e.Type),
			"timestamp": e.Timestamp.Format(time.RFC3339),
			"host":      hostname(),
			"details":   e.Data,
		}
	}
	data, _ := json.Marshal(payload)
	return data
}

func formatEventData(data map[string]string) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+data[k])
	}
	return strings.Join(parts, " ")
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// ValidateWebhookURL checks that a URL is absolute and uses HTTPS unless it
// points at the local host.
func ValidateWebhookURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid webhook URL format: %s", rawURL)
	}
	switch u.Scheme {
	case "https":
	case "http":
		host := u.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			return fmt.Errorf("webhook URL must use HTTPS unless local: %s", rawURL)
		}
	default:
		return fmt.Errorf("unsupported webhook URL scheme %q", u.Scheme)
	}
	return nil
}
