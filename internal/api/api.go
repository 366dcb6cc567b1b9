// Package api exposes the watchdog service over a Unix socket and an
// optional TCP listener.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/kahiteam/wdog/internal/watchdog"
	"golang.org/x/crypto/bcrypt"
)

// Watchdogs is the registry surface served over HTTP.
type Watchdogs interface {
	Kick(ctx context.Context, pid int) error
	Timeout(ctx context.Context, pid int, ms int32) error
	Disconnect(ctx context.Context, pid int) error
	DisconnectAsync(pid int)
	WatchdogTimeout(ctx context.Context, pid int) (int64, error)
	MaxWatchdogTimeout(ctx context.Context, pid int) (int64, error)
	InstallApp(ctx context.Context, app string) (int, error)
	UninstallApp(ctx context.Context, app string) (int, error)
	KickFramework(ctx context.Context, daemon string) error
	Snapshot(ctx context.Context) ([]watchdog.Entry, error)
	Healthy(ctx context.Context) (bool, error)
}

// DaemonInfo describes the running daemon.
type DaemonInfo interface {
	IsShuttingDown() bool
	Version() map[string]string
}

// Server is the HTTP API server for wdog.
type Server struct {
	watchdogs  Watchdogs
	daemon     DaemonInfo
	metrics    http.Handler
	logger     *slog.Logger
	mux        *http.ServeMux
	unixLn     net.Listener
	tcpLn      net.Listener
	unixServer *http.Server
	tcpServer  *http.Server

	authUser string
	authPass string // bcrypt hash

	mu       sync.Mutex
	sessions map[net.Conn]*session
	owners   map[int]*session
}

// Config holds API server configuration.
type Config struct {
	Username string
	Password string // bcrypt hash

	// Metrics, when set, is mounted at GET /metrics.
	Metrics http.Handler
}

// NewServer creates an API server with the given dependencies.
func NewServer(cfg Config, wd Watchdogs, di DaemonInfo, logger *slog.Logger) *Server {
	s := &Server{
		watchdogs: wd,
		daemon:    di,
		metrics:   cfg.Metrics,
		logger:    logger,
		authUser:  cfg.Username,
		authPass:  cfg.Password,
		sessions:  make(map[net.Conn]*session),
		owners:    make(map[int]*session),
	}
	s.mux = s.buildMux()
	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()

	// Probe endpoints, no auth required.
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	mux.HandleFunc("POST /v1/watchdog/kick", s.requireAuth(s.handleKick))
	mux.HandleFunc("POST /v1/watchdog/timeout", s.requireAuth(s.handleSetTimeout))
	mux.HandleFunc("GET /v1/watchdog/timeout", s.requireAuth(s.handleGetTimeout))
	mux.HandleFunc("GET /v1/watchdog/max", s.requireAuth(s.handleGetMax))
	mux.HandleFunc("DELETE /v1/watchdog/session", s.requireAuth(s.handleDisconnect))
	mux.HandleFunc("GET /v1/watchdogs", s.requireAuth(s.handleList))

	mux.HandleFunc("POST /v1/apps/{name}", s.requireAuth(s.handleInstallApp))
	mux.HandleFunc("DELETE /v1/apps/{name}", s.requireAuth(s.handleUninstallApp))
	mux.HandleFunc("POST /v1/framework/{daemon}/kick", s.requireAuth(s.handleFrameworkKick))

	mux.HandleFunc("GET /v1/version", s.requireAuth(s.handleVersion))

	return mux
}

// StartUnix creates and begins serving on a Unix domain socket. Requests on
// this listener carry the peer credentials of the connecting process.
func (s *Server) StartUnix(path string, mode os.FileMode) error {
	if err := removeStaleSocket(path); err != nil {
		return fmt.Errorf("cannot create socket: %s: %w", path, err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("cannot create socket: %s: %w", path, err)
	}

	if err := os.Chmod(path, mode); err != nil {
		ln.Close()
		return fmt.Errorf("cannot set socket permissions: %s: %w", path, err)
	}

	s.unixLn = ln
	s.unixServer = &http.Server{
		Handler:     s.mux,
		ConnContext: s.connContext,
		ConnState:   s.connState,
	}

	go func() {
		if err := s.unixServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("unix server error", "error", err)
		}
	}()

	s.logger.Info("unix socket server started", "path", path)
	return nil
}

// StartTCP begins serving on a TCP address.
func (s *Server) StartTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("cannot bind %s: %w", addr, err)
	}

	s.tcpLn = ln
	s.tcpServer = &http.Server{Handler: s.mux}

	host, _, _ := net.SplitHostPort(addr)
	if host == "0.0.0.0" || host == "" || host == "::" {
		s.logger.Warn("HTTP server bound to all interfaces", "addr", addr)
	}

	go func() {
		if err := s.tcpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("tcp server error", "error", err)
		}
	}()

	s.logger.Info("tcp http server started", "addr", addr)
	return nil
}

// Stop gracefully shuts down all listeners.
func (s *Server) Stop(ctx context.Context) error {
	var errs []error
	if s.unixServer != nil {
		if err := s.unixServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.tcpServer != nil {
		if err := s.tcpServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("server shutdown errors: %v", errs)
	}
	return nil
}

// UnixAddr returns the address of the Unix listener, or empty if not started.
func (s *Server) UnixAddr() string {
	if s.unixLn != nil {
		return s.unixLn.Addr().String()
	}
	return ""
}

// TCPAddr returns the address of the TCP listener, or empty if not started.
func (s *Server) TCPAddr() string {
	if s.tcpLn != nil {
		return s.tcpLn.Addr().String()
	}
	return ""
}

func removeStaleSocket(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	return os.Remove(path)
}

// --- Auth middleware ---

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Unix socket connections are authenticated by the socket mode.
		if isUnixConn(r) {
			next(w, r)
			return
		}

		if s.authUser == "" {
			next(w, r)
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="wdog"`)
			writeError(w, http.StatusUnauthorized, "authentication required", "UNAUTHORIZED")
			return
		}

		if user != s.authUser || !checkPassword(pass, s.authPass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="wdog"`)
			writeError(w, http.StatusUnauthorized, "invalid credentials", "UNAUTHORIZED")
			return
		}

		next(w, r)
	}
}

func isUnixConn(r *http.Request) bool {
	// When served over Unix socket, RemoteAddr is typically empty or "@".
	return r.RemoteAddr == "" || r.RemoteAddr == "@"
}

func checkPassword(plain, hash string) bool {
	if hash == "" {
		return plain == ""
	}
	if strings.HasPrefix(hash, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
	}
	// Plaintext fallback for testing only.
	return plain == hash
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}

func classifyError(err error) int {
	switch {
	case errors.Is(err, watchdog.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, watchdog.ErrExists):
		return http.StatusConflict
	case errors.Is(err, watchdog.ErrStopped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case strings.Contains(err.Error(), "invalid"):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	default:
		return "SERVER_ERROR"
	}
}

func writeErr(w http.ResponseWriter, err error) {
	status := classifyError(err)
	writeError(w, status, err.Error(), errorCode(status))
}
