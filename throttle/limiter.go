// Package throttle counts events per key in fixed time windows, backed by
// go-cache expirations.
package throttle

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// Limiter allows at most Limit hits per key within each Window.
// The window of a key starts with its first hit. Safe for concurrent use.
type Limiter struct {
	limit  int
	window time.Duration
	hits   *cache.Cache
}

// NewLimiter creates a Limiter. A limit <= 0 disables limiting: every hit is allowed.
//
// Parameters:
//   - limit: Maximum hits allowed per key within one window
//   - window: Length of the counting window
//
// Returns:
//   - A new Limiter
func NewLimiter(limit int, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Minute
	}

	return &Limiter{
		limit:  limit,
		window: window,
		hits:   cache.New(window, 2*window),
	}
}

// Hit records one event for key and reports the number of events in the
// current window and whether that count is within the limit.
func (l *Limiter) Hit(key string) (int, bool) {
	for {
		if err := l.hits.Add(key, 1, l.window); err == nil {
			return 1, l.allowed(1)
		}

		n, err := l.hits.IncrementInt(key, 1)
		if err == nil {
			return n, l.allowed(n)
		}
		// The entry expired between Add and IncrementInt; start a new window.
	}
}

// Exceeded reports whether key is already over the limit without recording a hit.
func (l *Limiter) Exceeded(key string) bool {
	v, found := l.hits.Get(key)
	if !found {
		return false
	}

	n, _ := v.(int)
	return !l.allowed(n)
}

// Reset forgets all hits of key.
func (l *Limiter) Reset(key string) {
	l.hits.Delete(key)
}

func (l *Limiter) allowed(n int) bool {
	return l.limit <= 0 || n <= l.limit
}
