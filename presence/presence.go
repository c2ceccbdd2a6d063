// Package presence mirrors chat membership into an external store so that other
// processes can see who is online. The chat registry stays the source of truth;
// trackers only observe joins and leaves.
package presence

import (
	"context"
	"sort"
	"time"

	"github.com/patrickmn/go-cache"
)

// Tracker observes membership changes.
type Tracker interface {
	// Joined records nickname as online, connected from addr.
	Joined(ctx context.Context, nickname, addr string) error

	// Left records nickname as offline. Unknown nicknames are ignored.
	Left(ctx context.Context, nickname string) error

	// Online returns the nicknames currently recorded, sorted.
	Online(ctx context.Context) ([]string, error)

	// Close releases the tracker's resources.
	Close() error
}

// Entry is what trackers store per nickname.
type Entry struct {
	Addr     string    `json:"addr"`
	JoinedAt time.Time `json:"joined_at"`
}

// MemoryTracker keeps presence in process memory.
type MemoryTracker struct {
	entries *cache.Cache
}

// NewMemoryTracker returns an empty in-memory Tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{entries: cache.New(cache.NoExpiration, 0)}
}

// Joined implements Tracker.
func (m *MemoryTracker) Joined(ctx context.Context, nickname, addr string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.entries.Set(nickname, Entry{Addr: addr, JoinedAt: time.Now()}, cache.NoExpiration)
	return nil
}

// Left implements Tracker.
func (m *MemoryTracker) Left(ctx context.Context, nickname string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.entries.Delete(nickname)
	return nil
}

// Online implements Tracker.
func (m *MemoryTracker) Online(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items := m.entries.Items()
	out := make([]string, 0, len(items))
	for nickname := range items {
		out = append(out, nickname)
	}
	sort.Strings(out)

	return out, nil
}

// Lookup returns the entry recorded for nickname.
func (m *MemoryTracker) Lookup(nickname string) (Entry, bool) {
	v, found := m.entries.Get(nickname)
	if !found {
		return Entry{}, false
	}

	return v.(Entry), true
}

// Close implements Tracker.
func (m *MemoryTracker) Close() error {
	m.entries.Flush()
	return nil
}

type nopTracker struct{}

// NewNopTracker returns a Tracker that records nothing.
func NewNopTracker() Tracker {
	return nopTracker{}
}

func (nopTracker) Joined(context.Context, string, string) error { return nil }

func (nopTracker) Left(context.Context, string) error { return nil }

func (nopTracker) Online(context.Context) ([]string, error) { return nil, nil }

func (nopTracker) Close() error { return nil }
