package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
)

var errNoIdentity = errors.New("invalid request: no pid given and no peer credentials")

type kickRequest struct {
	PID *int `json:"pid,omitempty"`
}

type timeoutRequest struct {
	PID          *int   `json:"pid,omitempty"`
	Milliseconds *int64 `json:"milliseconds"`
}

type timeoutResponse struct {
	PID          int   `json:"pid"`
	Milliseconds int64 `json:"milliseconds"`
}

// resolvePID picks the client identity of a request: an explicit pid wins,
// otherwise the peer credentials of the Unix connection are used and the pid
// is bound to that connection's session.
func resolvePID(r *http.Request, explicit *int) (int, error) {
	if explicit != nil {
		if *explicit <= 0 {
			return 0, fmt.Errorf("invalid pid %d", *explicit)
		}
		return *explicit, nil
	}
	sess := sessionFrom(r.Context())
	if sess == nil || sess.peerPID <= 0 {
		return 0, errNoIdentity
	}
	sess.bind(sess.peerPID)
	return sess.peerPID, nil
}

func queryPID(r *http.Request) (*int, error) {
	v := r.URL.Query().Get("pid")
	if v == "" {
		return nil, nil
	}
	pid, err := strconv.Atoi(v)
	if err != nil {
		return nil, fmt.Errorf("invalid pid %q", v)
	}
	return &pid, nil
}

// decodeBody decodes an optional JSON body into v.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.daemon != nil && s.daemon.IsShuttingDown() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "shutting_down",
		})
		return
	}
	ok, err := s.watchdogs.Healthy(r.Context())
	if err != nil || !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleKick(w http.ResponseWriter, r *http.Request) {
	var req kickRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
		return
	}
	pid, err := resolvePID(r, req.PID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
		return
	}
	if err := s.watchdogs.Kick(r.Context(), pid); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pid": pid})
}

func (s *Server) handleSetTimeout(w http.ResponseWriter, r *http.Request) {
	var req timeoutRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
		return
	}
	if req.Milliseconds == nil {
		writeError(w, http.StatusBadRequest, "milliseconds is required", "BAD_REQUEST")
		return
	}
	ms := *req.Milliseconds
	if ms > math.MaxInt32 || ms < math.MinInt32 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid watchdog timeout %d", ms), "BAD_REQUEST")
		return
	}
	pid, err := resolvePID(r, req.PID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
		return
	}
	if err := s.watchdogs.Timeout(r.Context(), pid, int32(ms)); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, timeoutResponse{PID: pid, Milliseconds: ms})
}

func (s *Server) handleGetTimeout(w http.ResponseWriter, r *http.Request) {
	s.getTimeout(w, r, s.watchdogs.WatchdogTimeout)
}

func (s *Server) handleGetMax(w http.ResponseWriter, r *http.Request) {
	s.getTimeout(w, r, s.watchdogs.MaxWatchdogTimeout)
}

func (s *Server) getTimeout(w http.ResponseWriter, r *http.Request, get func(ctx context.Context, pid int) (int64, error)) {
	explicit, err := queryPID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
		return
	}
	pid, err := resolvePID(r, explicit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
		return
	}
	ms, err := get(r.Context(), pid)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, timeoutResponse{PID: pid, Milliseconds: ms})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	explicit, err := queryPID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
		return
	}
	pid, err := resolvePID(r, explicit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
		return
	}
	if err := s.watchdogs.Disconnect(r.Context(), pid); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pid": pid})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.watchdogs.Snapshot(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleInstallApp(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	n, err := s.watchdogs.InstallApp(r.Context(), name)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"app": name, "watchdogs": n})
}

func (s *Server) handleUninstallApp(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	n, err := s.watchdogs.UninstallApp(r.Context(), name)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"app": name, "watchdogs": n})
}

func (s *Server) handleFrameworkKick(w http.ResponseWriter, r *http.Request) {
	daemon := r.PathValue("daemon")
	if err := s.watchdogs.KickFramework(r.Context(), daemon); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"daemon": daemon})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if s.daemon == nil {
		writeJSON(w, http.StatusOK, map[string]string{})
		return
	}
	writeJSON(w, http.StatusOK, s.daemon.Version())
}
