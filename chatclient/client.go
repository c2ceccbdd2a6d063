// Package chatclient provides an event-driven client for the line-oriented
// chat server. It performs the nickname handshake and notifies callers of
// incoming chat lines and connection state changes via registered handlers.
package chatclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cyberinferno/go-chat/chat"
)

var (
	// ErrNotConnected is returned when an operation needs a connection in another state.
	ErrNotConnected = errors.New("chatclient: not connected")

	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("chatclient: client is closed")

	// ErrAlreadyConnected is returned by Connect while a connection is open.
	ErrAlreadyConnected = errors.New("chatclient: already connected")

	// ErrMultiline is returned by Send for text containing a line break.
	ErrMultiline = errors.New("chatclient: text must be a single line")
)

// RejectedError is returned by Join when the server answers with an error.
type RejectedError struct {
	Nickname string
	Reason   string // server text without the ERROR prefix
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("nickname %q rejected: %s", e.Nickname, e.Reason)
}

// State represents where the client is in its lifecycle.
type State int

const (
	Disconnected State = iota // no connection
	Connecting                // dial in progress
	Handshaking               // connected, no nickname accepted yet
	Joined                    // nickname accepted, chat lines flow
	Closed                    // Close was called, the client is unusable
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Handshaking:
		return "Handshaking"
	case Joined:
		return "Joined"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// StateEvent is emitted when the state changes.
type StateEvent struct {
	State     State
	Address   string
	Timestamp time.Time
	Error     error // cause of a Disconnected transition, if any
}

// StateHandler is called from its own goroutine for every state change.
type StateHandler func(event StateEvent)

// MessageHandler is called for every line received after joining. Calls come
// from the read goroutine, one at a time and in arrival order; a slow handler
// delays the lines behind it.
type MessageHandler func(msg Message)

// Config holds client settings.
type Config struct {
	// Address is the "host:port" of the chat server.
	Address string
	// ConnectionTimeout bounds the dial.
	ConnectionTimeout time.Duration
	// WriteTimeout bounds a single write; 0 means no timeout.
	WriteTimeout time.Duration
	// QuitTimeout is how long Quit waits for the server to close the connection.
	QuitTimeout time.Duration
	// MaxLineLength is the longest line accepted from the server.
	MaxLineLength int
}

// DefaultConfig returns a Config with defaults for address.
func DefaultConfig(address string) Config {
	return Config{
		Address:           address,
		ConnectionTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		QuitTimeout:       2 * time.Second,
		MaxLineLength:     64 * 1024,
	}
}

// pendingJoin is a nickname written to the server and not yet answered.
type pendingJoin struct {
	seq      uint64
	nickname string
}

// handshakeReply is a server line read while handshaking, tagged with the
// Join it answers. Lines nobody asked for carry seq 0.
type handshakeReply struct {
	seq  uint64
	line string
}

// Client is a chat client. Register handlers with OnMessage and OnState, then
// Connect and Join. It is safe for concurrent use.
type Client struct {
	config Config

	mu        sync.RWMutex
	conn      net.Conn
	state     State
	nickname  string
	replies   chan handshakeReply
	pending   []pendingJoin
	seq       uint64
	done      chan struct{}
	closed    bool
	onMessage MessageHandler
	onState   StateHandler

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// New creates a client in the Disconnected state.
func New(config Config) *Client {
	if config.MaxLineLength <= 0 {
		config.MaxLineLength = DefaultConfig("").MaxLineLength
	}

	return &Client{
		config: config,
		state:  Disconnected,
	}
}

// OnMessage registers the handler for chat lines. Pass nil to clear it.
func (c *Client) OnMessage(handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = handler
}

// OnState registers the handler for state changes. Pass nil to clear it.
func (c *Client) OnState(handler StateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = handler
}

// State returns the current state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Nickname returns the accepted nickname, or "" before Join succeeds.
func (c *Client) Nickname() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nickname
}

// Done is closed when the current connection ends. It returns nil before Connect.
func (c *Client) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.done
}

// Connect dials the server and starts reading. The client is then Handshaking
// and Join must be called before Send.
//
// Parameters:
//   - ctx: Bounds the dial together with ConnectionTimeout
//
// Returns:
//   - ErrClosed after Close, ErrAlreadyConnected while a connection is open
//   - The dial error, with the client back in Disconnected
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.state != Disconnected:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = Connecting
	c.mu.Unlock()
	c.emitState(Connecting, nil)

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.config.Address)
	if err != nil {
		c.setState(Disconnected, err)
		return fmt.Errorf("chatclient: connect %s: %w", c.config.Address, err)
	}

	replies := make(chan handshakeReply, 8)
	done := make(chan struct{})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.replies = replies
	c.done = done
	c.nickname = ""
	c.pending = nil
	c.state = Handshaking
	c.mu.Unlock()
	c.emitState(Handshaking, nil)

	c.wg.Add(1)
	go c.readLoop(conn, replies, done)

	return nil
}

// Join proposes nickname and waits for the server's answer. A refusal is
// returned as *RejectedError and the client stays Handshaking, so Join can be
// retried on the same connection until the server gives up and disconnects.
//
// Each reply is matched to the Join that asked for it: an answer arriving
// after its Join gave up is discarded and never returned to a later Join.
//
// Parameters:
//   - ctx: Bounds the wait for the answer; the nickname is sent regardless
//   - nickname: The nickname to propose
//
// Returns:
//   - nil once the server accepted the nickname; the client is then Joined
//   - A *RejectedError carrying the server's reason on refusal
//   - ErrNotConnected if the client is not handshaking or the server hung up
//   - ctx.Err() if ctx ends before the answer arrives
func (c *Client) Join(ctx context.Context, nickname string) error {
	c.writeMu.Lock()
	c.mu.Lock()
	state, conn, replies, done := c.state, c.conn, c.replies, c.done
	if state != Handshaking || conn == nil {
		c.mu.Unlock()
		c.writeMu.Unlock()
		return fmt.Errorf("join in state %s: %w", state, ErrNotConnected)
	}
	c.seq++
	seq := c.seq
	c.pending = append(c.pending, pendingJoin{seq: seq, nickname: nickname})
	c.mu.Unlock()

	err := c.write(conn, nickname)
	c.writeMu.Unlock()
	if err != nil {
		c.dropPending(seq)
		return err
	}

	for {
		select {
		case reply := <-replies:
			if reply.seq == seq {
				return handleReply(nickname, reply.line)
			}
		case <-done:
			// The server may have answered right before hanging up. A line
			// nobody asked for is its parting reason.
			for {
				select {
				case reply := <-replies:
					if reply.seq == seq || reply.seq == 0 {
						return handleReply(nickname, reply.line)
					}
				default:
					return fmt.Errorf("join: connection closed: %w", ErrNotConnected)
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func handleReply(nickname, reply string) error {
	if strings.HasPrefix(reply, chat.SuccessPrefix) {
		return nil
	}

	return &RejectedError{Nickname: nickname, Reason: strings.TrimPrefix(reply, chat.ErrorPrefix)}
}

func (c *Client) dropPending(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = slices.DeleteFunc(c.pending, func(p pendingJoin) bool { return p.seq == seq })
}

// matchReply pairs a handshake line with the oldest unanswered Join. On
// success the client switches to Joined before the next line is read, so
// lines following the greeting are treated as chat.
func (c *Client) matchReply(line string) handshakeReply {
	c.mu.Lock()
	var p pendingJoin
	if len(c.pending) > 0 {
		p = c.pending[0]
		c.pending = c.pending[1:]
	}
	joined := strings.HasPrefix(line, chat.SuccessPrefix)
	if joined {
		c.state = Joined
		c.nickname = p.nickname
		c.pending = nil
	}
	c.mu.Unlock()

	if joined {
		c.emitState(Joined, nil)
	}

	return handshakeReply{seq: p.seq, line: line}
}

// Send sends one chat line.
//
// Parameters:
//   - text: The line to send, without line breaks
//
// Returns:
//   - ErrMultiline if text contains a line break
//   - ErrNotConnected unless the client is Joined
//   - An error if the write fails
func (c *Client) Send(text string) error {
	if strings.ContainsAny(text, "\r\n") {
		return ErrMultiline
	}
	if state := c.State(); state != Joined {
		return fmt.Errorf("send in state %s: %w", state, ErrNotConnected)
	}

	return c.writeLine(text)
}

// Quit leaves the chat, waits up to QuitTimeout for the server to close the
// connection and then closes the client.
//
// Returns:
//   - An error if QUIT could not be written; the client is closed regardless
func (c *Client) Quit() error {
	done := c.Done()
	err := c.writeLine(chat.QuitCommand)
	if err == nil && done != nil {
		select {
		case <-done:
		case <-time.After(c.config.QuitTimeout):
		}
	}

	if closeErr := c.Close(); err == nil {
		err = closeErr
	}

	return err
}

// Close closes the connection and waits for the read goroutine. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()

	c.setState(Closed, nil)

	return nil
}

func (c *Client) writeLine(line string) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.write(conn, line)
}

// write sends line on conn; caller must hold c.writeMu.
func (c *Client) write(conn net.Conn, line string) error {
	if c.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}
	}

	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("chatclient: write: %w", err)
	}

	return nil
}

func (c *Client) readLoop(conn net.Conn, replies chan<- handshakeReply, done chan struct{}) {
	defer c.wg.Done()
	defer close(done)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, min(4096, c.config.MaxLineLength)), c.config.MaxLineLength)

	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")

		if c.State() == Handshaking {
			select {
			case replies <- c.matchReply(line):
			default:
			}
			continue
		}

		c.emitMessage(ParseLine(line, time.Now()))
	}

	err := scanner.Err()
	_ = conn.Close()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	closed := c.closed
	c.mu.Unlock()

	if !closed {
		c.setState(Disconnected, err)
	}
}

func (c *Client) setState(state State, err error) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()

	c.emitState(state, err)
}

func (c *Client) emitState(state State, err error) {
	c.mu.RLock()
	handler := c.onState
	c.mu.RUnlock()

	if handler != nil {
		event := StateEvent{
			State:     state,
			Address:   c.config.Address,
			Timestamp: time.Now(),
			Error:     err,
		}

		go handler(event)
	}
}

func (c *Client) emitMessage(msg Message) {
	c.mu.RLock()
	handler := c.onMessage
	c.mu.RUnlock()

	if handler != nil {
		handler(msg)
	}
}
