package chat

import (
	"bufio"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-chat/logger"
)

func newPipePeer(t *testing.T, outbox int) (*connPeer, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { _ = client.Close() })
	return newConnPeer(server, outbox, time.Second, logger.NewNopLogger()), client
}

func TestConnPeer_SendInOrder(t *testing.T) {
	p, client := newPipePeer(t, 16)
	defer p.Close()

	r := bufio.NewReader(client)
	for _, line := range []string{"one", "two", "three"} {
		require.NoError(t, p.Send(line))
	}

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	for _, want := range []string{"one\n", "two\n", "three\n"} {
		got, err := r.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestConnPeer_CloseFlushesThenCloses(t *testing.T) {
	p, client := newPipePeer(t, 16)

	require.NoError(t, p.Send("bye"))
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	assert.ErrorIs(t, p.Send("late"), ErrPeerClosed)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	data, err := io.ReadAll(client)
	require.NoError(t, err)
	assert.Equal(t, "bye\n", string(data))

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("peer did not finish")
	}
}

func TestConnPeer_OutboxFull(t *testing.T) {
	p, _ := newPipePeer(t, 1)
	defer p.Close()

	// Nobody reads the pipe: the writer blocks on the first line and the
	// outbox fills up.
	var err error
	for range 10 {
		if err = p.Send("x"); err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, ErrOutboxFull)
}

func TestConnPeer_WriteFailureClosesPeer(t *testing.T) {
	p, client := newPipePeer(t, 4)
	require.NoError(t, client.Close())

	require.NoError(t, p.Send("lost"))

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("peer did not stop after write failure")
	}
	assert.ErrorIs(t, p.Send("more"), ErrPeerClosed)
}

func TestConnPeer_WriteTimeout(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	p := newConnPeer(server, 4, 50*time.Millisecond, logger.NewNopLogger())

	require.NoError(t, p.Send("stuck"))

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("write deadline not applied")
	}
	assert.True(t, errors.Is(p.Send("x"), ErrPeerClosed))
}

func TestConnPeer_AbortWithoutWriteTimeout(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	p := newConnPeer(server, 4, 0, logger.NewNopLogger())

	// Nobody reads: the writer is stuck on "stuck" with no deadline.
	require.NoError(t, p.Send("stuck"))
	require.NoError(t, p.Send("queued"))

	_ = p.Abort()

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("abort did not stop the writer")
	}
	assert.ErrorIs(t, p.Send("late"), ErrPeerClosed)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := client.Read(make([]byte, 16))
	assert.ErrorIs(t, err, io.EOF)
}
