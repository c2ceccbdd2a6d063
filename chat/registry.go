package chat

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// Registration is a registry entry: a nickname bound to the peer that claimed it.
type Registration struct {
	registry *Registry
	nickname string
	peer     Peer
	joinedAt time.Time
}

// Nickname returns the registered nickname.
func (reg *Registration) Nickname() string {
	return reg.nickname
}

// Peer returns the registered peer.
func (reg *Registration) Peer() Peer {
	return reg.peer
}

// JoinedAt returns when the registration was created.
func (reg *Registration) JoinedAt() time.Time {
	return reg.joinedAt
}

// Release removes the entry if it is still this registration. A later
// registration of the same nickname is left alone.
//
// Returns:
//   - true if an entry was removed, false if reg was no longer current
func (reg *Registration) Release() bool {
	r := reg.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.entries[reg.nickname] != reg {
		return false
	}
	r.removeLocked(reg)

	return true
}

// Leave ends the membership of reg on behalf of its session and reports
// whether the departure should be announced.
//
// A current registration is removed. An evicted one is announced once, and
// only while nobody has claimed the nickname since the eviction, so a new
// owner never sees its own nickname reported as gone.
//
// Returns:
//   - true if the session owned the entry or was evicted from it and the
//     nickname is still free, false otherwise
func (reg *Registration) Leave() bool {
	r := reg.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.entries[reg.nickname] == reg {
		r.removeLocked(reg)
		return true
	}
	if r.evicted[reg.nickname] == reg {
		delete(r.evicted, reg.nickname)
		return true
	}

	return false
}

// Registry is the set of active members keyed by nickname, in join order.
// Every operation is serialized by one lock, so two concurrent registrations
// of the same nickname can never both succeed.
type Registry struct {
	broadcaster *Broadcaster

	mu      sync.RWMutex
	entries map[string]*Registration
	order   []*Registration
	// evicted holds registrations removed by Evict whose departure has not
	// been announced yet. Claiming the nickname again drops the entry.
	evicted map[string]*Registration
}

// NewRegistry returns an empty registry delivering broadcasts through b.
func NewRegistry(b *Broadcaster) *Registry {
	return &Registry{
		broadcaster: b,
		entries:     make(map[string]*Registration),
		evicted:     make(map[string]*Registration),
	}
}

// Register atomically claims nickname for peer.
//
// Parameters:
//   - nickname: The nickname to claim, compared byte for byte
//   - peer: The connection receiving broadcasts for this member
//
// Returns:
//   - The new registration, used later to relay and to leave
//   - An error wrapping ErrNicknameTaken if the nickname is already registered
func (r *Registry) Register(nickname string, peer Peer) (*Registration, error) {
	return r.register(nickname, peer, "")
}

// register claims nickname and, when greeting is set, queues it to peer before
// the entry becomes visible, so it precedes any broadcast the peer receives.
func (r *Registry) register(nickname string, peer Peer, greeting string) (*Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.entries[nickname]; taken {
		return nil, fmt.Errorf("%w: %s", ErrNicknameTaken, nickname)
	}

	if greeting != "" {
		if err := peer.Send(greeting); err != nil {
			return nil, err
		}
	}

	reg := &Registration{
		registry: r,
		nickname: nickname,
		peer:     peer,
		joinedAt: time.Now(),
	}
	r.entries[nickname] = reg
	r.order = append(r.order, reg)
	delete(r.evicted, nickname)

	return reg, nil
}

// Deregister removes nickname whoever holds it.
//
// Parameters:
//   - nickname: The nickname to remove
//
// Returns:
//   - true if an entry was removed, false if the nickname was not registered
func (r *Registry) Deregister(nickname string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.entries[nickname]
	if !ok {
		return false
	}
	r.removeLocked(reg)

	return true
}

// removeLocked drops reg; caller must hold r.mu.
func (r *Registry) removeLocked(reg *Registration) {
	delete(r.entries, reg.nickname)
	if i := slices.Index(r.order, reg); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
}

// Lookup returns the registration of nickname.
func (r *Registry) Lookup(nickname string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.entries[nickname]
	return reg, ok
}

// Members returns the registered nicknames in join order.
func (r *Registry) Members() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	for i, reg := range r.order {
		out[i] = reg.nickname
	}

	return out
}

// Len returns the number of members.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot returns the current registrations in join order.
func (r *Registry) Snapshot() []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Broadcast delivers payload to a snapshot of the members. The fan-out happens
// outside the lock and the registry is not modified.
//
// Parameters:
//   - payload: The line to send, without trailing newline
//   - exclude: A nickname that does not receive the payload, or "" for none
//
// Returns:
//   - The registrations whose delivery failed, to be passed to Evict
func (r *Registry) Broadcast(payload, exclude string) []*Registration {
	return r.broadcaster.Deliver(payload, r.Snapshot(), exclude)
}

// Relay delivers payload from sender to every other member, provided sender
// is still the registration holding its nickname.
//
// Parameters:
//   - sender: The registration the payload originates from
//   - payload: The line to send, without trailing newline
//
// Returns:
//   - The registrations whose delivery failed, to be passed to Evict
//   - ErrNotMember if sender was released, evicted or replaced; nothing is sent
func (r *Registry) Relay(sender *Registration, payload string) ([]*Registration, error) {
	r.mu.RLock()
	if r.entries[sender.nickname] != sender {
		r.mu.RUnlock()
		return nil, ErrNotMember
	}
	targets := slices.Clone(r.order)
	r.mu.RUnlock()

	return r.broadcaster.Deliver(payload, targets, sender.nickname), nil
}

// Evict removes each failed registration that is still current and aborts
// its peer, closing the connection without waiting for queued lines. The
// member's session then fails its read and announces the departure.
//
// Parameters:
//   - failed: Registrations returned by Broadcast or Relay
func (r *Registry) Evict(failed []*Registration) {
	for _, reg := range failed {
		r.mu.Lock()
		if r.entries[reg.nickname] == reg {
			r.removeLocked(reg)
			r.evicted[reg.nickname] = reg
		}
		r.mu.Unlock()

		_ = reg.peer.Abort()
	}
}

// FailedNicknames lists the nicknames of regs.
func FailedNicknames(regs []*Registration) []string {
	out := make([]string, len(regs))
	for i, reg := range regs {
		out[i] = reg.nickname
	}

	return out
}
