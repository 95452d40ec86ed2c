package storage

import (
	"errors"
	"sync"

	"golang.org/x/exp/slices"
)

// ErrKeyNotFound is returned by Get for keys the store does not hold
var ErrKeyNotFound = errors.New("key not found")

// Store is a flat byte-slice key-value map owned by one shard.
// Implementations are safe for concurrent use.
type Store interface {
	// Get returns a private copy of the value, or ErrKeyNotFound
	Get(key string) ([]byte, error)

	// Put keeps a private copy of value, replacing any earlier one
	Put(key string, value []byte) error

	// Delete drops key; absent keys are not an error
	Delete(key string) error

	// List returns the stored keys in no particular order
	List() []string

	// Len returns the number of stored keys
	Len() int

	// Clear drops every record
	Clear()

	// Stats returns the key count and value byte total
	Stats() StoreStats
}

// StoreStats summarizes a store's contents
type StoreStats struct {
	Keys  int // Stored keys
	Bytes int // Sum of value lengths
}

// MemoryStore is the map-backed Store used by every shard.
// Values are copied on the way in and on the way out, so callers never share
// memory with the store.
type MemoryStore struct {
	records map[string][]byte
	size    int // sum of len(value) over records
	mu      sync.RWMutex
}

// NewMemoryStore returns an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte)}
}

func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.records[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return clone(value), nil
}

func (s *MemoryStore) Put(key string, value []byte) error {
	value = clone(value)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.size += len(value) - len(s.records[key])
	s.records[key] = value
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.size -= len(s.records[key])
	delete(s.records, key)
	return nil
}

func (s *MemoryStore) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.records))
	for key := range s.records {
		keys = append(keys, key)
	}
	return keys
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Clear replaces the backing map so its memory can be reclaimed
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string][]byte)
	s.size = 0
}

func (s *MemoryStore) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StoreStats{Keys: len(s.records), Bytes: s.size}
}

// clone copies b, mapping nil to an empty value
func clone(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return slices.Clone(b)
}
