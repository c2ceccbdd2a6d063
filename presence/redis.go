package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence events published on the events channel.
const (
	EventJoined = "joined"
	EventLeft   = "left"
)

// RedisTracker stores presence in a Redis hash (nickname -> JSON Entry) and
// publishes "joined <nick>" / "left <nick>" on the <key>:events channel.
type RedisTracker struct {
	client *redis.Client
	key    string
}

// NewRedisTracker creates a Tracker on client using key as the hash name.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	tracker := NewRedisTracker(client, "chat:presence")
func NewRedisTracker(client *redis.Client, key string) *RedisTracker {
	return &RedisTracker{client: client, key: key}
}

// EventsChannel returns the pub/sub channel name events are published on.
func (r *RedisTracker) EventsChannel() string {
	return r.key + ":events"
}

// Ping checks connectivity.
func (r *RedisTracker) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	return nil
}

// Joined implements Tracker. The hash write and the publish run in one pipeline.
func (r *RedisTracker) Joined(ctx context.Context, nickname, addr string) error {
	data, err := json.Marshal(Entry{Addr: addr, JoinedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal presence entry: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.key, nickname, data)
		pipe.Publish(ctx, r.EventsChannel(), FormatEvent(EventJoined, nickname))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis presence join %s: %w", nickname, err)
	}

	return nil
}

// Left implements Tracker.
func (r *RedisTracker) Left(ctx context.Context, nickname string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, r.key, nickname)
		pipe.Publish(ctx, r.EventsChannel(), FormatEvent(EventLeft, nickname))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis presence leave %s: %w", nickname, err)
	}

	return nil
}

// Online implements Tracker.
func (r *RedisTracker) Online(ctx context.Context) ([]string, error) {
	names, err := r.client.HKeys(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis presence list: %w", err)
	}

	sort.Strings(names)
	return names, nil
}

// Clear removes the presence hash. Used at startup so stale entries from a
// previous run do not linger.
func (r *RedisTracker) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("redis presence clear: %w", err)
	}

	return nil
}

// Close implements Tracker. It closes the underlying client.
func (r *RedisTracker) Close() error {
	return r.client.Close()
}

// FormatEvent renders a presence event as published on the events channel.
func FormatEvent(event, nickname string) string {
	return event + " " + nickname
}
