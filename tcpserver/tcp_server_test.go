package tcpserver

import (
	"bufio"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoSession struct {
	id        string
	conn      net.Conn
	closeOnce sync.Once
}

func (e *echoSession) ID() string { return e.id }

func (e *echoSession) Handle() {
	defer e.Close()
	scanner := bufio.NewScanner(e.conn)
	for scanner.Scan() {
		if _, err := e.conn.Write(append(scanner.Bytes(), '\n')); err != nil {
			return
		}
	}
}

func (e *echoSession) Close() error {
	var err error
	e.closeOnce.Do(func() { err = e.conn.Close() })
	return err
}

func newEchoServer(max int64) *TCPServer {
	return &TCPServer{
		Name:        "echo",
		Addr:        "127.0.0.1:0",
		MaxSessions: max,
		NewSession: func(id string, conn net.Conn) Session {
			return &echoSession{id: id, conn: conn}
		},
		Reject: func(conn net.Conn) {
			_, _ = conn.Write([]byte("full\n"))
		},
	}
}

func dial(t *testing.T, s *TCPServer) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", s.ListenAddr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, bufio.NewReader(conn)
}

func roundTrip(t *testing.T, conn net.Conn, r *bufio.Reader, line string) string {
	t.Helper()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
	_, err := conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
	got, err := r.ReadString('\n')
	require.NoError(t, err)
	return got
}

func stop(t *testing.T, s *TCPServer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestTCPServer_StartServeStop(t *testing.T) {
	s := newEchoServer(0)
	require.NoError(t, s.Start())
	assert.True(t, s.Running())

	conn, r := dial(t, s)
	assert.Equal(t, "ping\n", roundTrip(t, conn, r, "ping"))

	require.Eventually(t, func() bool { return s.SessionCount() == 1 }, time.Second, 5*time.Millisecond)

	var id string
	s.sessions.Range(func(k string, _ Session) bool {
		id = k
		return false
	})
	_, err := uuid.Parse(id)
	assert.NoError(t, err)

	stop(t, s)
	assert.False(t, s.Running())
	assert.Equal(t, 0, s.SessionCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = r.ReadString('\n')
	assert.Error(t, err, "stop must close live sessions")
}

func TestTCPServer_StartTwice(t *testing.T) {
	s := newEchoServer(0)
	require.NoError(t, s.Start())
	defer stop(t, s)

	assert.ErrorIs(t, s.Start(), ErrAlreadyRunning)
}

func TestTCPServer_BindError(t *testing.T) {
	first := newEchoServer(0)
	require.NoError(t, first.Start())
	defer stop(t, first)

	second := newEchoServer(0)
	second.Addr = first.ListenAddr().String()
	assert.Error(t, second.Start())
	assert.False(t, second.Running())
}

func TestTCPServer_StopWhenNotRunning(t *testing.T) {
	s := newEchoServer(0)
	assert.NoError(t, s.Stop(context.Background()))
}

func TestTCPServer_MaxSessions(t *testing.T) {
	s := newEchoServer(1)
	require.NoError(t, s.Start())
	defer stop(t, s)

	first, r1 := dial(t, s)
	assert.Equal(t, "one\n", roundTrip(t, first, r1, "one"))

	second, r2 := dial(t, s)
	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := r2.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "full\n", line)

	_ = first.Close()
	require.Eventually(t, func() bool { return s.SessionCount() == 0 }, 2*time.Second, 5*time.Millisecond)

	third, r3 := dial(t, s)
	assert.Equal(t, "three\n", roundTrip(t, third, r3, "three"))
}
