package store

import (
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// TypedStore is a generic, concurrency-safe, in-memory key-value store keyed
// by device UUID. Each TypedStore has its own RWMutex so the poller writing
// samples never contends with readers of the inventory. It tracks when data
// was last modified for staleness detection.
type TypedStore[T any] struct {
	mu          sync.RWMutex
	items       map[string]T
	lastUpdated atomic.Int64 // UnixMilli timestamp of last mutation
}

// NewTypedStore creates a new, empty TypedStore.
func NewTypedStore[T any]() *TypedStore[T] {
	s := &TypedStore[T]{
		items: make(map[string]T),
	}
	s.touch()
	return s
}

func (s *TypedStore[T]) touch() {
	s.lastUpdated.Store(time.Now().UnixMilli())
}

// Set inserts or updates a value for the given key.
func (s *TypedStore[T]) Set(key string, value T) {
	s.mu.Lock()
	s.items[key] = value
	s.mu.Unlock()
	s.touch()
}

// Delete removes a key from the store. No-op if the key doesn't exist.
func (s *TypedStore[T]) Delete(key string) {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	s.touch()
}

// Replace swaps the whole content for items in one step, so readers never
// observe a half-updated inventory. The map is copied.
func (s *TypedStore[T]) Replace(items map[string]T) {
	cp := maps.Clone(items)
	if cp == nil {
		cp = make(map[string]T)
	}
	s.mu.Lock()
	s.items = cp
	s.mu.Unlock()
	s.touch()
}

// Retain deletes every key for which keep returns false and reports how many
// were removed.
func (s *TypedStore[T]) Retain(keep func(key string) bool) int {
	s.mu.Lock()
	before := len(s.items)
	maps.DeleteFunc(s.items, func(k string, _ T) bool { return !keep(k) })
	removed := before - len(s.items)
	s.mu.Unlock()
	if removed > 0 {
		s.touch()
	}
	return removed
}

// LastUpdated returns the UnixMilli timestamp of the last modification.
func (s *TypedStore[T]) LastUpdated() int64 {
	return s.lastUpdated.Load()
}

// Get retrieves a value by key. Returns the value and true if found,
// or the zero value and false if not.
func (s *TypedStore[T]) Get(key string) (T, bool) {
	s.mu.RLock()
	v, ok := s.items[key]
	s.mu.RUnlock()
	return v, ok
}

// Len returns the number of items in the store.
func (s *TypedStore[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Snapshot returns a shallow copy of all items. Mutations to the returned
// map do not affect the store.
func (s *TypedStore[T]) Snapshot() map[string]T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.items)
}

// Values returns all values as a slice. Order is not guaranteed.
func (s *TypedStore[T]) Values() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vals := make([]T, 0, len(s.items))
	for _, v := range s.items {
		vals = append(vals, v)
	}
	return vals
}
