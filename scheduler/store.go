package scheduler

import "sync"

// Store is the keyed state a Registry keeps its live handles in. A registry
// namespaces every key it writes with its configured prefix, so one store
// can be shared between a registry and other consumer state without
// collisions.
//
// Implementations must be safe for concurrent use. The registry serializes
// its own read-modify-write cycles, so the store itself only needs atomic
// single-key operations.
type Store interface {
	// Get returns the value stored under key, and whether it exists.
	Get(key string) (any, bool)

	// Set stores value under key, replacing any existing value.
	Set(key string, value any)

	// Delete removes key and reports whether it existed.
	Delete(key string) bool

	// Keys returns all stored keys in no particular order.
	Keys() []string
}

// MemoryStore implements Store with an in-memory map. The zero value is not
// usable; create instances with NewMemoryStore.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]any),
	}
}

// Get returns the value stored under key.
func (s *MemoryStore) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[key]
	return value, ok
}

// Set stores value under key, replacing any existing value.
func (s *MemoryStore) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
}

// Delete removes key and reports whether it existed.
func (s *MemoryStore) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.values[key]
	delete(s.values, key)
	return ok
}

// Keys returns all stored keys in no particular order.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.values))
	for key := range s.values {
		keys = append(keys, key)
	}
	return keys
}

// Len returns the number of stored keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.values)
}
