// Package safemap provides a type-safe concurrent map built on sync.Map.
package safemap

import "sync"

// SafeMap is a concurrent map that is safe for use by multiple goroutines.
// It must not be copied after first use.
type SafeMap[K comparable, V any] struct {
	m sync.Map
}

// NewSafeMap returns an empty SafeMap.
func NewSafeMap[K comparable, V any]() *SafeMap[K, V] {
	return &SafeMap[K, V]{}
}

// Store sets the value for a key, overwriting any existing value.
//
// Parameters:
//   - k: The key
//   - v: The value to store
func (m *SafeMap[K, V]) Store(k K, v V) {
	m.m.Store(k, v)
}

// Delete removes a key. Deleting a missing key is a no-op.
//
// Parameters:
//   - k: The key to remove
func (m *SafeMap[K, V]) Delete(k K) {
	m.m.Delete(k)
}

// Range calls f for each entry until f returns false. Entries stored or
// deleted concurrently may or may not be visited.
//
// Parameters:
//   - f: Called with each key and value; return false to stop
func (m *SafeMap[K, V]) Range(f func(k K, v V) bool) {
	m.m.Range(func(k, v any) bool {
		return f(k.(K), v.(V))
	})
}

// Values returns a snapshot of all values in unspecified order.
//
// Returns:
//   - A new slice holding every value present during the walk
func (m *SafeMap[K, V]) Values() []V {
	var out []V
	m.Range(func(_ K, v V) bool {
		out = append(out, v)
		return true
	})

	return out
}

// Len returns the number of entries. It is O(n).
func (m *SafeMap[K, V]) Len() int {
	length := 0
	m.Range(func(K, V) bool {
		length++
		return true
	})

	return length
}
