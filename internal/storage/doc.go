// Package storage defines the record store that backs every shard in shardkv and
// provides the in-memory implementation used by the cluster.
//
// # Overview
//
// A Store is a flat key to byte-slice mapping. It knows nothing about routing,
// shard ids or the cluster's global index; the shard package wraps one Store per
// partition and the cluster decides which partition a key lands in.
//
//	cluster.Cluster ──routes──▶ shard.Shard ──owns──▶ storage.Store
//	                                                     │
//	                                              MemoryStore
//	                                       (map[string][]byte, RWMutex)
//
// # Value Ownership
//
// Values are opaque bytes. MemoryStore copies a value on Put and again on Get, so
// neither the caller that wrote the value nor the caller that read it can mutate
// what is stored. The cluster relies on this to keep its global index and the
// owning shard byte-identical.
//
// # Concurrency
//
// All implementations must be safe for concurrent use:
//   - Read operations (Get, List, Len, Stats) take a shared lock
//   - Write operations (Put, Delete, Clear) take an exclusive lock
//   - Returned slices are copies and may be retained by the caller
//
// # Errors
//
// Get returns ErrKeyNotFound for a missing key. Delete of a missing key is not an
// error. MemoryStore never fails a Put.
//
// # Example
//
//	s := storage.NewMemoryStore()
//	_ = s.Put("ticket:7", []byte(`{"title":"fix login"}`))
//	if _, err := s.Get("ticket:8"); errors.Is(err, storage.ErrKeyNotFound) {
//		// never written
//	}
//	fmt.Println(s.Stats().Keys, s.Stats().Bytes)
package storage
