// Package chat implements a line-oriented multi-client TCP chat: nickname
// handshake, a concurrency-safe member registry and best-effort broadcast.
package chat

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cyberinferno/go-chat/config"
	"github.com/cyberinferno/go-chat/logger"
	"github.com/cyberinferno/go-chat/presence"
	"github.com/cyberinferno/go-chat/tcpserver"
	"github.com/cyberinferno/go-chat/throttle"
)

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the server logger. The default discards everything.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithPresence mirrors membership changes into t.
func WithPresence(t presence.Tracker) Option {
	return func(s *Server) {
		s.presence = t
	}
}

// WithClock replaces time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// Server accepts chat clients and owns the member registry.
type Server struct {
	cfg      config.Config
	log      logger.Logger
	now      func() time.Time
	registry *Registry
	policy   *NicknamePolicy
	failures *throttle.Limiter
	presence presence.Tracker
	tcp      *tcpserver.TCPServer
}

// NewServer validates cfg and builds a Server. Call Start or Serve to listen.
//
// Parameters:
//   - cfg: Server settings, checked with config.Config.Validate
//   - opts: Optional logger, presence tracker and clock
//
// Returns:
//   - A pointer to the new Server
//   - An error wrapping the validation failures if cfg is invalid
func NewServer(cfg config.Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("chat.NewServer: invalid config: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		log:      logger.NewNopLogger(),
		now:      time.Now,
		presence: presence.NewNopTracker(),
		policy:   NewNicknamePolicy(cfg.MaxNicknameLength, cfg.ReservedNicknames),
		failures: throttle.NewLimiter(cfg.HandshakeFailureLimit, cfg.HandshakeFailureWindow),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registry = NewRegistry(NewBroadcaster(s.log))
	s.tcp = &tcpserver.TCPServer{
		Logger:      s.log,
		Name:        "chat",
		Addr:        cfg.Addr,
		MaxSessions: cfg.MaxClients,
		NewSession: func(id string, conn net.Conn) tcpserver.Session {
			return newSession(s, id, conn)
		},
		Reject: s.rejectFull,
	}

	return s, nil
}

// Start binds the listen address and accepts clients in the background.
//
// Returns:
//   - An error if the address cannot be bound or the server already runs;
//     bind errors are not retried
func (s *Server) Start() error {
	return s.tcp.Start()
}

// Stop closes the listener and every session, then waits for sessions to
// finish their teardown or for ctx to expire.
//
// Parameters:
//   - ctx: Bounds the wait for sessions to drain
//
// Returns:
//   - nil once every session is closed, or ctx.Err() if ctx expired first
func (s *Server) Stop(ctx context.Context) error {
	return s.tcp.Stop(ctx)
}

// Serve starts the server and blocks until ctx is canceled, then stops it,
// allowing ShutdownGrace for sessions to drain.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()

	return s.Stop(stopCtx)
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.tcp.ListenAddr()
}

// Members returns the nicknames of the active members in join order.
func (s *Server) Members() []string {
	return s.registry.Members()
}

// Registry exposes the member registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// join validates nickname and registers it for peer. The success reply is
// queued before the entry becomes visible to broadcasts.
func (s *Server) join(nickname string, peer Peer) (*Registration, error) {
	if err := s.policy.Validate(nickname); err != nil {
		return nil, err
	}

	return s.registry.register(nickname, peer, successReply("Welcome to the chat, "+nickname+"!"))
}

// broadcast sends payload to everyone but exclude and evicts members whose
// delivery failed.
func (s *Server) broadcast(payload, exclude string) {
	s.evict(s.registry.Broadcast(payload, exclude))
}

// relay sends payload from reg to the other members. It fails with
// ErrNotMember once reg has been released or evicted.
func (s *Server) relay(reg *Registration, payload string) error {
	failed, err := s.registry.Relay(reg, payload)
	if err != nil {
		return err
	}
	s.evict(failed)

	return nil
}

func (s *Server) evict(failed []*Registration) {
	if len(failed) == 0 {
		return
	}

	s.log.Warn("evicting unreachable members", logger.Field{Key: "nicknames", Value: FailedNicknames(failed)})
	s.registry.Evict(failed)
}

func (s *Server) rejectFull(conn net.Conn) {
	if s.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	_, _ = conn.Write([]byte(errorReply("Server is full, try again later") + "\n"))
}
