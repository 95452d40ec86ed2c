// Package cluster implements the shardkv store itself: an ordered set of shards,
// the routing function that maps every key to exactly one of them, a flat global
// index used for reads, and the resize protocol that rebalances all records onto a
// new shard count.
//
// # Overview
//
// Callers only ever talk to a Cluster. It picks the owning shard for each key and
// keeps the global index in lockstep with it; shards are never handed out.
//
//	              ┌──────────────────────────────┐
//	 Insert ─────▶│           Cluster            │
//	 Select ─────▶│                              │
//	 Update ─────▶│  index: key → value + bytes  │
//	 Delete ─────▶│  layout: ids 1..N → Shard    │
//	 Resize ─────▶│  RWMutex over both           │
//	              └──────────────┬───────────────┘
//	                             │ owner(key) = ids[xxh3(key) mod N]
//	           ┌─────────────┬───┴─────────┬─────────────┐
//	           ▼             ▼             ▼             ▼
//	       ┌───────┐     ┌───────┐     ┌───────┐     ┌───────┐
//	       │Shard 1│     │Shard 2│     │  ...  │     │Shard N│
//	       └───────┘     └───────┘     └───────┘     └───────┘
//
// # Routing
//
// Keys are hashed with the 128-bit XXH3 digest of their bytes. The digest is read
// as an unsigned 128-bit integer and reduced modulo the current shard count; the
// remainder indexes the ascending list of live shard ids. For a fixed shard count
// the owner of a key never changes.
//
// This is a static modulo partition, not a hash ring. Changing the shard count
// changes the owner of most keys, which is why Resize rehashes every record.
//
// # Global Index
//
// Every record is written twice: once into its owning shard and once into the
// index. Select reads the index only, so reads are O(1) regardless of shard count.
// Update and Delete consult the index for presence and then recompute the owner.
// Resize rebuilds the shards from the index, which is the authoritative copy.
//
// Invariant: a key is either absent from both the index and every shard, or it is
// present in the index and in exactly its owner shard with identical bytes. Verify
// checks this invariant.
//
// # Values
//
// Cluster is generic over its value type. The index keeps each value exactly as it
// was handed over, so Select returns it with its dynamic types intact (an int stays
// an int inside a map[string]any). Values are not copied: callers must not mutate a
// value after inserting it. The owner shard holds a Codec encoding of the value
// (json-iterator by default) used for byte accounting and Verify. A value the codec
// cannot encode is rejected with ErrInvalidValue.
//
// # Resize
//
//  1. Allocate shards 1..M in the migrating state.
//  2. Rehash every index entry against M into the new shards.
//  3. Switch the new shards to active and swap them in.
//  4. Drain the previous generation (records cleared, state deleted).
//
// Steps 1 to 3 run under the exclusive lock, so no caller sees a half-migrated
// layout. Cost is O(records), not O(records that changed owner).
//
// # Concurrency
//
// One sync.RWMutex guards the layout and the index together. Select, Describe and
// the other inspection methods take the read lock; Insert, Update, Delete and Resize
// take the write lock. Encoding runs outside the lock.
//
// # Errors
//
//   - ErrInvalidConfig: shard count below 1 on New or Resize
//   - ErrKeyNotFound: Select, Update or Delete of a key that is not stored
//   - ErrInvalidValue: the codec failed to encode a value
//
// Errors are wrapped with context; test them with errors.Is. A failed operation
// never changes cluster state.
//
// # Example
//
//	c, err := cluster.New[map[string]string](8)
//	if err != nil {
//	    return err
//	}
//	key, _ := c.Insert(map[string]string{"name": "A"})
//	v, _ := c.Select(key)          // {"name": "A"}
//	_ = c.Update(key, map[string]string{"name": "A2"})
//	_ = c.Resize(12)
//	v, _ = c.Select(key)           // {"name": "A2"}
//	fmt.Println(strings.Join(c.Describe(), "\n"))
package cluster
