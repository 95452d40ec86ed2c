package shard

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dreamware/shardkv/internal/storage"
)

// ShardState is a shard's position in its generation's lifecycle
type ShardState string

const (
	// ShardStateActive shards serve the cluster's reads and writes
	ShardStateActive ShardState = "active"
	// ShardStateMigrating shards are being filled by a resize and are not yet routed to
	ShardStateMigrating ShardState = "migrating"
	// ShardStateDeleted shards belong to a drained generation
	ShardStateDeleted ShardState = "deleted"
)

// Shard holds the records of one partition of the keyspace.
type Shard struct {
	Store storage.Store
	ID    int // 1..N within a generation

	ops   counters
	state ShardState
	mu    sync.RWMutex // guards state
}

type counters struct {
	gets    atomic.Uint64
	puts    atomic.Uint64
	deletes atomic.Uint64
}

// ShardStats is a point-in-time copy of a shard's counters and storage totals
type ShardStats struct {
	Ops     OperationStats
	Storage storage.StoreStats
}

// OperationStats counts calls made against a shard
type OperationStats struct {
	Gets    uint64
	Puts    uint64 // includes successful updates
	Deletes uint64
}

// ShardInfo is the metadata reported by Cluster.Distribution
type ShardInfo struct {
	State    ShardState     `json:"state"`
	Ops      OperationStats `json:"ops"`
	ID       int            `json:"id"`
	KeyCount int            `json:"key_count"`
	ByteSize int            `json:"byte_size"`
}

// NewShard returns an empty active shard backed by a MemoryStore
func NewShard(id int) *Shard {
	return &Shard{
		ID:    id,
		Store: storage.NewMemoryStore(),
		state: ShardStateActive,
	}
}

// Get returns a copy of the value and whether the key is present
func (s *Shard) Get(key string) ([]byte, bool) {
	s.ops.gets.Add(1)
	value, err := s.Store.Get(key)
	if err != nil {
		return nil, false
	}
	return value, true
}

// Put inserts or overwrites key
func (s *Shard) Put(key string, value []byte) {
	s.ops.puts.Add(1)
	// MemoryStore never fails a put
	_ = s.Store.Put(key, value)
}

// Update overwrites key only if it is already stored and reports whether it was
func (s *Shard) Update(key string, value []byte) bool {
	if _, err := s.Store.Get(key); err != nil {
		return false
	}
	s.Put(key, value)
	return true
}

// Delete removes key. Missing keys are ignored.
func (s *Shard) Delete(key string) {
	s.ops.deletes.Add(1)
	_ = s.Store.Delete(key)
}

func (s *Shard) Len() int {
	return s.Store.Len()
}

// ListKeys returns the shard's keys in no particular order
func (s *Shard) ListKeys() []string {
	return s.Store.List()
}

// Describe formats the shard as "Shard <id>: <n> items"
func (s *Shard) Describe() string {
	return fmt.Sprintf("Shard %d: %d items", s.ID, s.Store.Len())
}

func (s *Shard) GetStats() ShardStats {
	return ShardStats{
		Ops:     s.opStats(),
		Storage: s.Store.Stats(),
	}
}

func (s *Shard) Info() ShardInfo {
	st := s.Store.Stats()
	return ShardInfo{
		ID:       s.ID,
		State:    s.GetState(),
		Ops:      s.opStats(),
		KeyCount: st.Keys,
		ByteSize: st.Bytes,
	}
}

func (s *Shard) opStats() OperationStats {
	return OperationStats{
		Gets:    s.ops.gets.Load(),
		Puts:    s.ops.puts.Load(),
		Deletes: s.ops.deletes.Load(),
	}
}

func (s *Shard) GetState() ShardState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Shard) SetState(state ShardState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Drain discards every record and marks the shard deleted
func (s *Shard) Drain() {
	s.Store.Clear()
	s.SetState(ShardStateDeleted)
}
