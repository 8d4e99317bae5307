// Package cache provides the local persistent key-value store backing the
// chat widget's per-channel message cache. Implementations must tolerate
// being unavailable; callers treat every failure as an absent entry.
package cache

import "sync"

// Store is the boundary contract for the widget's local cache. A failed read
// or write never crashes the host; the chat core degrades to empty-cache
// behaviour instead.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// NewMemoryStore returns an in-process Store suitable for tests and hosts
// without durable local storage.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

// MemoryStore keeps entries in a mutex-guarded map.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func (s *MemoryStore) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	clone := make([]byte, len(value))
	copy(clone, value)
	return clone, true, nil
}

func (s *MemoryStore) Set(key string, value []byte) error {
	clone := make([]byte, len(value))
	copy(clone, value)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = clone
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
