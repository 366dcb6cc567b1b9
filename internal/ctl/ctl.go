// Package ctl implements the control client for a running wdog daemon,
// used by the CLI and by framework daemons that kick their watchdog.
package ctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kahiteam/wdog/internal/watchdog"
)

// ErrNotFound is matched by errors for requests the daemon answered with 404.
var ErrNotFound = errors.New("not found")

// APIError is an error reported by the daemon.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string { return e.Message }

func (e *APIError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// Client communicates with a wdog daemon API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
}

// NewUnixClient creates a client that connects via Unix socket. The
// connection is kept alive between requests so that the daemon can tie the
// caller's watchdog session to it.
func NewUnixClient(socketPath string) *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
				MaxIdleConnsPerHost: 1,
			},
			Timeout: 30 * time.Second,
		},
		baseURL: "http://unix",
	}
}

// NewTCPClient creates a client that connects via TCP.
func NewTCPClient(addr, username, password string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    "http://" + addr,
		username:   username,
		password:   password,
	}
}

// Close drops idle connections, which ends the caller's session.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return c.httpClient.Do(req)
}

// call performs a request and decodes a successful JSON response into out.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = "unknown error"
		}
		return &APIError{Status: resp.StatusCode, Code: e.Code, Message: e.Error}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}
	return nil
}

// pidRequest carries an optional explicit pid; zero means the daemon uses
// the peer credentials of the connection.
type pidRequest struct {
	PID          *int   `json:"pid,omitempty"`
	Milliseconds *int64 `json:"milliseconds,omitempty"`
}

func optPID(pid int) *int {
	if pid == 0 {
		return nil
	}
	return &pid
}

func pidQuery(pid int) string {
	if pid == 0 {
		return ""
	}
	return "?" + url.Values{"pid": {strconv.Itoa(pid)}}.Encode()
}

// --- Watchdog operations ---

// Kick refreshes the watchdog of pid, or of the calling process when pid is 0.
func (c *Client) Kick(ctx context.Context, pid int) error {
	return c.call(ctx, "POST", "/v1/watchdog/kick", pidRequest{PID: optPID(pid)}, nil)
}

// SetTimeout sets a one-off timeout in milliseconds.
func (c *Client) SetTimeout(ctx context.Context, pid int, ms int32) error {
	v := int64(ms)
	return c.call(ctx, "POST", "/v1/watchdog/timeout", pidRequest{PID: optPID(pid), Milliseconds: &v}, nil)
}

type timeoutResponse struct {
	PID          int   `json:"pid"`
	Milliseconds int64 `json:"milliseconds"`
}

// GetTimeout returns the configured kick interval in milliseconds.
func (c *Client) GetTimeout(ctx context.Context, pid int) (int64, error) {
	var resp timeoutResponse
	err := c.call(ctx, "GET", "/v1/watchdog/timeout"+pidQuery(pid), nil, &resp)
	return resp.Milliseconds, err
}

// GetMaxTimeout returns the max kick interval in milliseconds. Processes
// without one yield an error matching ErrNotFound.
func (c *Client) GetMaxTimeout(ctx context.Context, pid int) (int64, error) {
	var resp timeoutResponse
	err := c.call(ctx, "GET", "/v1/watchdog/max"+pidQuery(pid), nil, &resp)
	return resp.Milliseconds, err
}

// Disconnect ends the watchdog session of pid.
func (c *Client) Disconnect(ctx context.Context, pid int) error {
	return c.call(ctx, "DELETE", "/v1/watchdog/session"+pidQuery(pid), nil, nil)
}

// List returns every watchdog known to the daemon.
func (c *Client) List(ctx context.Context) ([]watchdog.Entry, error) {
	var entries []watchdog.Entry
	err := c.call(ctx, "GET", "/v1/watchdogs", nil, &entries)
	return entries, err
}

type appResponse struct {
	App       string `json:"app"`
	Watchdogs int    `json:"watchdogs"`
}

// InstallApp creates the mandatory watchdogs of an app.
func (c *Client) InstallApp(ctx context.Context, app string) (int, error) {
	var resp appResponse
	err := c.call(ctx, "POST", "/v1/apps/"+url.PathEscape(app), nil, &resp)
	return resp.Watchdogs, err
}

// UninstallApp removes the mandatory watchdogs of an app.
func (c *Client) UninstallApp(ctx context.Context, app string) (int, error) {
	var resp appResponse
	err := c.call(ctx, "DELETE", "/v1/apps/"+url.PathEscape(app), nil, &resp)
	return resp.Watchdogs, err
}

// KickFramework restarts the watchdog of a framework daemon.
func (c *Client) KickFramework(ctx context.Context, daemon string) error {
	return c.call(ctx, "POST", "/v1/framework/"+url.PathEscape(daemon)+"/kick", nil, nil)
}

// --- Daemon info ---

// Health checks daemon liveness.
func (c *Client) Health(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, "GET", "/healthz", nil)
	if err != nil {
		return "", fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("invalid response: %w", err)
	}
	return body["status"], nil
}

// Version returns the daemon's build information.
func (c *Client) Version(ctx context.Context) (map[string]string, error) {
	var v map[string]string
	err := c.call(ctx, "GET", "/v1/version", nil, &v)
	return v, err
}
