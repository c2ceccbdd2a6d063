package chat

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/go-chat/logger"
)

// presenceTimeout bounds each presence tracker call.
const presenceTimeout = 2 * time.Second

var errSessionClosed = errors.New("chat: session closed")

// SessionState is the lifecycle position of a Session.
type SessionState int32

const (
	StateConnecting  SessionState = iota // accepted, nothing read yet
	StateHandshaking                     // waiting for an acceptable nickname
	StateActive                          // registered, relaying messages
	StateClosing                         // tearing down
	StateClosed                          // terminal
)

// String returns a human-readable name for the state.
func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateHandshaking:
		return "Handshaking"
	case StateActive:
		return "Active"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Session serves one client connection: nickname handshake, then relaying its
// lines to the other members until QUIT, a read error or Close.
type Session struct {
	id     string
	conn   net.Conn
	host   string
	peer   *connPeer
	server *Server
	log    logger.Logger
	state  atomic.Int32

	mu     sync.Mutex
	reg    *Registration
	closed bool

	teardownOnce sync.Once
}

func newSession(srv *Server, id string, conn net.Conn) *Session {
	remote := conn.RemoteAddr().String()
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}

	log := srv.log.With(
		logger.Field{Key: "session", Value: id},
		logger.Field{Key: "remote", Value: remote},
	)

	s := &Session{
		id:     id,
		conn:   conn,
		host:   host,
		peer:   newConnPeer(conn, srv.cfg.OutboxSize, srv.cfg.WriteTimeout, log),
		server: srv,
		log:    log,
	}
	s.state.Store(int32(StateConnecting))

	return s
}

// ID implements tcpserver.Session.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Nickname returns the registered nickname, or "" before the handshake succeeds.
func (s *Session) Nickname() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reg == nil {
		return ""
	}

	return s.reg.nickname
}

// Close implements tcpserver.Session. It wakes a blocked read; Handle then
// runs the normal teardown, announcing the departure of a joined member.
//
// Returns:
//   - Always nil; closing twice is a no-op
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	_ = s.peer.Close()
	_ = s.conn.SetReadDeadline(time.Now())
	return nil
}

// Handle implements tcpserver.Session.
func (s *Session) Handle() {
	defer s.teardown()

	s.setState(StateHandshaking)
	s.log.Debug("client connected")

	scanner := bufio.NewScanner(s.conn)
	// The initial capacity must not exceed the limit or it raises the limit.
	maxLine := s.server.cfg.MaxLineLength
	scanner.Buffer(make([]byte, 0, min(512, maxLine)), maxLine)

	if !s.handshake(scanner) {
		return
	}

	s.receive(scanner)
}

func (s *Session) handshake(scanner *bufio.Scanner) bool {
	cfg := s.server.cfg
	if s.server.failures.Exceeded(s.host) {
		s.log.Warn("handshake refused, too many failures from host")
		_ = s.peer.Send(errorReply("Too many failed attempts, try again later"))
		return false
	}

	for attempt := 1; ; attempt++ {
		line, err := s.readLine(scanner, cfg.HandshakeTimeout)
		if err != nil {
			s.log.Debug("handshake aborted", logger.Err(err))
			return false
		}

		nickname := strings.TrimSpace(line)
		reg, err := s.server.join(nickname, s.peer)
		if err == nil {
			s.activate(reg)
			return true
		}

		s.log.Info("nickname rejected",
			logger.Field{Key: "nickname", Value: nickname},
			logger.Field{Key: "attempt", Value: attempt},
			logger.Err(err))
		_ = s.peer.Send(errorReply(rejectionText(nickname, err)))

		if _, allowed := s.server.failures.Hit(s.host); !allowed {
			_ = s.peer.Send(errorReply("Too many failed attempts, try again later"))
			return false
		}
		if attempt >= cfg.MaxHandshakeAttempts {
			_ = s.peer.Send(errorReply("Too many attempts, reconnect to try again"))
			return false
		}
	}
}

func (s *Session) activate(reg *Registration) {
	s.mu.Lock()
	s.reg = reg
	s.mu.Unlock()

	s.setState(StateActive)
	s.log = s.log.With(logger.Field{Key: "nickname", Value: reg.nickname})
	s.log.Info("client joined", logger.Field{Key: "members", Value: s.server.registry.Len()})

	if err := s.server.relay(reg, JoinedNotice(reg.nickname)); err != nil {
		s.log.Debug("joined notice not sent", logger.Err(err))
	}
	s.trackPresence(func(ctx context.Context) error {
		return s.server.presence.Joined(ctx, reg.nickname, s.conn.RemoteAddr().String())
	})
}

func (s *Session) receive(scanner *bufio.Scanner) {
	s.mu.Lock()
	reg := s.reg
	s.mu.Unlock()

	for {
		line, err := s.readLine(scanner, s.server.cfg.IdleTimeout)
		if err != nil {
			s.log.Debug("read ended", logger.Err(err))
			return
		}

		if IsQuit(line) {
			s.log.Debug("client sent quit")
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		msg := Message{Time: s.server.now(), Sender: reg.nickname, Text: line}
		if err := s.server.relay(reg, msg.String()); err != nil {
			s.log.Info("no longer a member, closing", logger.Err(err))
			return
		}
	}
}

// readLine reads the next line, applying timeout as read deadline when > 0.
func (s *Session) readLine(scanner *bufio.Scanner, timeout time.Duration) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", errSessionClosed
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	err := s.conn.SetReadDeadline(deadline)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}

	return strings.TrimSuffix(scanner.Text(), "\r"), nil
}

// teardown runs exactly once, whichever way the session ends.
func (s *Session) teardown() {
	s.teardownOnce.Do(func() {
		s.setState(StateClosing)

		s.mu.Lock()
		reg := s.reg
		s.mu.Unlock()

		if reg != nil && reg.Leave() {
			s.server.broadcast(LeftNotice(reg.nickname), reg.nickname)
			s.trackPresence(func(ctx context.Context) error {
				return s.server.presence.Left(ctx, reg.nickname)
			})
			s.log.Info("client left", logger.Field{Key: "members", Value: s.server.registry.Len()})
		}

		_ = s.peer.Close()
		<-s.peer.Done()
		s.setState(StateClosed)
	})
}

func (s *Session) trackPresence(f func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()

	if err := f(ctx); err != nil {
		s.log.Warn("presence update failed", logger.Err(err))
	}
}

func (s *Session) setState(state SessionState) {
	s.state.Store(int32(state))
}

func rejectionText(nickname string, err error) string {
	var nickErr *NicknameError
	switch {
	case errors.As(err, &nickErr):
		return "Invalid nickname, it " + nickErr.Reason + ". Choose another one"
	case errors.Is(err, ErrNicknameTaken):
		return "Nickname \"" + nickname + "\" is already taken, choose another one"
	default:
		return "Unable to join, try again later"
	}
}
