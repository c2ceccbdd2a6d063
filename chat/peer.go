package chat

import (
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/go-chat/logger"
)

// Peer is the sending side of one member's connection.
type Peer interface {
	// Send queues line for delivery without blocking. It fails with
	// ErrOutboxFull or ErrPeerClosed.
	Send(line string) error

	// Close stops accepting lines, flushes what is queued and closes the
	// connection. Safe to call multiple times.
	Close() error

	// Abort drops whatever is queued and closes the connection at once.
	Abort() error
}

// connPeer owns the write side of a net.Conn. Lines are queued in a bounded
// outbox and written in order by a single goroutine.
type connPeer struct {
	conn         net.Conn
	outbox       chan string
	writeTimeout time.Duration
	log          logger.Logger

	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newConnPeer(conn net.Conn, outboxSize int, writeTimeout time.Duration, log logger.Logger) *connPeer {
	p := &connPeer{
		conn:         conn,
		outbox:       make(chan string, outboxSize),
		writeTimeout: writeTimeout,
		log:          log,
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	go p.writeLoop()

	return p
}

// Send implements Peer.
func (p *connPeer) Send(line string) error {
	select {
	case <-p.quit:
		return ErrPeerClosed
	case <-p.done:
		return ErrPeerClosed
	default:
	}

	select {
	case p.outbox <- line:
		return nil
	default:
		return ErrOutboxFull
	}
}

// Close implements Peer. It does not wait for the flush; use Done for that.
func (p *connPeer) Close() error {
	p.closeOnce.Do(func() { close(p.quit) })
	return nil
}

// Abort implements Peer. Closing the conn also fails the reader blocked on
// it, which ends the owning session.
func (p *connPeer) Abort() error {
	p.closeOnce.Do(func() { close(p.quit) })
	return p.conn.Close()
}

// Done is closed once the connection has been closed.
func (p *connPeer) Done() <-chan struct{} {
	return p.done
}

func (p *connPeer) writeLoop() {
	defer close(p.done)
	defer p.conn.Close()

	for {
		select {
		case line := <-p.outbox:
			if err := p.write(line, p.deadline()); err != nil {
				p.log.Debug("write failed", logger.Err(err))
				return
			}
		case <-p.quit:
			p.flush()
			return
		}
	}
}

// flush writes whatever is still queued, all within one write timeout.
func (p *connPeer) flush() {
	deadline := p.deadline()
	for {
		select {
		case line := <-p.outbox:
			if err := p.write(line, deadline); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (p *connPeer) deadline() time.Time {
	if p.writeTimeout <= 0 {
		return time.Time{}
	}

	return time.Now().Add(p.writeTimeout)
}

func (p *connPeer) write(line string, deadline time.Time) error {
	if err := p.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}

	_, err := p.conn.Write([]byte(line + "\n"))
	return err
}
