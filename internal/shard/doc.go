// Package shard implements the storage partition used by the shardkv cluster: an
// isolated key to value store that holds a disjoint subset of the keyspace.
//
// # Overview
//
// A shard has no knowledge of other shards, hashing or routing. The cluster picks
// the owning shard for a key and calls Put, Get, Update or Delete on it directly.
// Callers of the cluster never address a shard themselves.
//
//	┌─────────────────────────────────────┐
//	│            SHARD                    │
//	├─────────────────────────────────────┤
//	│  ID     1..N, fixed at creation     │
//	│  State  active | migrating | deleted│
//	│  Store  storage.MemoryStore         │
//	│  Stats  atomic op counters          │
//	└─────────────────────────────────────┘
//
// # Lifecycle
//
// Shards are created in generations. The cluster allocates a full generation at
// construction and again on every resize:
//
//  1. NewShard returns an active, empty shard.
//  2. During a resize the new generation is switched to migrating while the
//     cluster rehashes every record into it, then back to active.
//  3. The previous generation is drained: records are cleared and the state
//     becomes deleted. A deleted shard is never reused.
//
// A shard belongs to exactly one generation; ids restart at 1 in every generation.
//
// # Operations
//
// Put: stores or overwrites a key. Never fails.
//
// Get: returns the value and a presence flag. Does not modify records.
//
// Update: overwrites a key only when it is already present and reports whether it was.
//
// Delete: removes a key; deleting a missing key is a no-op.
//
// Describe: one line, "Shard <id>: <n> items", for diagnostics.
//
// # Concurrency
//
// The backing store is thread-safe and the op counters are atomic, so a shard can
// be used from several goroutines. State changes are guarded by the shard's own
// mutex. The cluster serializes resizes against all other operations on top of
// this, so a shard never sees writes from two generations.
package shard
