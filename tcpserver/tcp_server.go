// Package tcpserver implements a generic TCP accept loop that hands every
// connection to its own Session goroutine, bounds the number of concurrent
// sessions and drains them on Stop.
package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/cyberinferno/go-chat/logger"
	"github.com/cyberinferno/go-chat/safemap"
)

const maxAcceptBackoff = time.Second

// ErrAlreadyRunning is returned by Start when the server is already started.
var ErrAlreadyRunning = errors.New("tcpserver: already running")

// NewSessionFunc creates the Session serving conn. id is a fresh UUID.
type NewSessionFunc func(id string, conn net.Conn) Session

// RejectFunc is called with connections refused because MaxSessions sessions
// are already running. The server closes conn after it returns.
type RejectFunc func(conn net.Conn)

// TCPServer accepts connections on Addr and delegates each one to a session
// created by NewSession.
type TCPServer struct {
	Logger      logger.Logger
	Name        string
	Addr        string
	MaxSessions int64
	NewSession  NewSessionFunc
	Reject      RejectFunc

	mu       sync.RWMutex
	listener net.Listener
	sessions *safemap.SafeMap[string, Session]
	slots    *semaphore.Weighted
	running  atomic.Bool
	wg       sync.WaitGroup
}

// Start binds Addr and begins the accept loop in a goroutine. Bind errors are
// returned and not retried.
//
// Returns:
//   - An error wrapping ErrAlreadyRunning if the server is already started
//   - An error wrapping the listen failure if Addr cannot be bound
func (s *TCPServer) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("server %s: %w", s.Name, ErrAlreadyRunning)
	}

	if s.Logger == nil {
		s.Logger = logger.NewNopLogger()
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		s.running.Store(false)
		s.Logger.Error("server failed to start", logger.Err(err))
		return fmt.Errorf("server %s failed to start: %w", s.Name, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.sessions = safemap.NewSafeMap[string, Session]()
	s.slots = nil
	if s.MaxSessions > 0 {
		s.slots = semaphore.NewWeighted(s.MaxSessions)
	}
	s.mu.Unlock()

	s.Logger.Info(fmt.Sprintf("%s server started", s.Name), logger.Field{Key: "addr", Value: ln.Addr().String()})

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// ListenAddr returns the bound address.
//
// Returns:
//   - The listener address, or nil before Start
func (s *TCPServer) ListenAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Running reports whether the accept loop is active.
func (s *TCPServer) Running() bool {
	return s.running.Load()
}

// SessionCount returns the number of live sessions.
func (s *TCPServer) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.sessions == nil {
		return 0
	}

	return s.sessions.Len()
}

// Stop closes the listener and every live session, then waits for the accept
// loop and all session goroutines to return or for ctx to expire. Calling
// Stop on a server that is not running is a no-op.
//
// Parameters:
//   - ctx: Bounds the wait for sessions to finish
//
// Returns:
//   - nil once every session returned, or ctx.Err() if ctx expired first
func (s *TCPServer) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	_ = s.listener.Close()

	for _, session := range s.sessions.Values() {
		_ = session.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name))
		return nil
	case <-ctx.Done():
		s.Logger.Warn(fmt.Sprintf("%s server stop timed out", s.Name),
			logger.Field{Key: "sessions", Value: s.sessions.Len()})
		return ctx.Err()
	}
}

func (s *TCPServer) acceptLoop() {
	defer s.wg.Done()

	var backoff time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}

			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(backoff*2, maxAcceptBackoff)
			}
			s.Logger.Error(fmt.Sprintf("%s server accept error", s.Name), logger.Err(err),
				logger.Field{Key: "retry_in", Value: backoff.String()})
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if s.slots != nil && !s.slots.TryAcquire(1) {
			s.Logger.Warn("connection refused, session limit reached",
				logger.Field{Key: "remote", Value: conn.RemoteAddr().String()})
			if s.Reject != nil {
				s.Reject(conn)
			}
			_ = conn.Close()
			continue
		}

		s.serve(conn)
	}
}

func (s *TCPServer) serve(conn net.Conn) {
	id := uuid.NewString()
	session := s.NewSession(id, conn)
	s.sessions.Store(id, session)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.sessions.Delete(id)
			if s.slots != nil {
				s.slots.Release(1)
			}
		}()

		session.Handle()
	}()

	// Stop may have swept the sessions before this one was stored.
	if !s.running.Load() {
		_ = session.Close()
	}
}
