package presence

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTracker(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryTracker()

	require.NoError(t, m.Joined(ctx, "bob", "127.0.0.1:1000"))
	require.NoError(t, m.Joined(ctx, "alice", "127.0.0.1:1001"))

	online, err := m.Online(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, online)

	e, ok := m.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1:1001", e.Addr)
	assert.False(t, e.JoinedAt.IsZero())

	require.NoError(t, m.Left(ctx, "alice"))
	require.NoError(t, m.Left(ctx, "nobody"))

	online, err = m.Online(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, online)

	require.NoError(t, m.Close())
	online, err = m.Online(ctx)
	require.NoError(t, err)
	assert.Empty(t, online)
}

func TestMemoryTracker_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewMemoryTracker()
	assert.ErrorIs(t, m.Joined(ctx, "a", "x"), context.Canceled)
	assert.ErrorIs(t, m.Left(ctx, "a"), context.Canceled)
	_, err := m.Online(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNopTracker(t *testing.T) {
	ctx := context.Background()
	n := NewNopTracker()
	assert.NoError(t, n.Joined(ctx, "a", "x"))
	assert.NoError(t, n.Left(ctx, "a"))
	online, err := n.Online(ctx)
	assert.NoError(t, err)
	assert.Empty(t, online)
	assert.NoError(t, n.Close())
}

func TestFormatEvent(t *testing.T) {
	assert.Equal(t, "joined alice", FormatEvent(EventJoined, "alice"))
	assert.Equal(t, "left alice", FormatEvent(EventLeft, "alice"))
}

func TestRedisTracker_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	r := NewRedisTracker(client, "chat:presence")
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.Equal(t, "chat:presence:events", r.EventsChannel())
	assert.Error(t, r.Ping(ctx))
	assert.Error(t, r.Joined(ctx, "alice", "127.0.0.1:1000"))
	assert.Error(t, r.Left(ctx, "alice"))
	_, err := r.Online(ctx)
	assert.Error(t, err)
}
