package api

import (
	"context"
	"net"
	"net/http"
	"sync"
)

type sessionKey struct{}

// session tracks the client processes identified on one Unix connection.
type session struct {
	srv     *Server
	peerPID int // 0 when the kernel did not report credentials

	mu   sync.Mutex
	pids map[int]struct{}
}

// bind ties pid to this session. The newest session a pid was seen on owns
// it; closing an older one leaves the pid alone.
func (c *session) bind(pid int) {
	c.mu.Lock()
	if c.pids == nil {
		c.pids = make(map[int]struct{})
	}
	c.pids[pid] = struct{}{}
	c.mu.Unlock()

	c.srv.mu.Lock()
	c.srv.owners[pid] = c
	c.srv.mu.Unlock()
}

func (c *session) bound() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, 0, len(c.pids))
	for pid := range c.pids {
		out = append(out, pid)
	}
	return out
}

func sessionFrom(ctx context.Context) *session {
	c, _ := ctx.Value(sessionKey{}).(*session)
	return c
}

func (s *Server) connContext(ctx context.Context, conn net.Conn) context.Context {
	c := &session{srv: s}
	if uc, ok := conn.(*net.UnixConn); ok {
		pid, err := peerPID(uc)
		if err != nil {
			s.logger.Warn("cannot read peer credentials", "error", err)
		}
		c.peerPID = pid
	}
	s.mu.Lock()
	s.sessions[conn] = c
	s.mu.Unlock()
	return context.WithValue(ctx, sessionKey{}, c)
}

// connState ends the watchdog session of every process still owned by a
// connection once it closes.
func (s *Server) connState(conn net.Conn, state http.ConnState) {
	if state != http.StateClosed && state != http.StateHijacked {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.sessions[conn]
	delete(s.sessions, conn)
	if c == nil {
		return
	}
	// Disconnects are posted under s.mu so that a later bind of the same
	// pid on another connection is ordered after them.
	for _, pid := range c.bound() {
		if s.owners[pid] != c {
			s.logger.Debug("client moved to another connection", "pid", pid)
			continue
		}
		delete(s.owners, pid)
		s.logger.Debug("client disconnected", "pid", pid)
		s.watchdogs.DisconnectAsync(pid)
	}
}
