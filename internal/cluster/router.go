package cluster

import (
	"math/bits"

	"github.com/zeebo/xxh3"
	"golang.org/x/exp/slices"

	"github.com/dreamware/shardkv/internal/shard"
)

// Hash returns the 128-bit XXH3 digest of the key bytes.
//
// The digest is deterministic across calls, processes and architectures, and its
// output is uniformly distributed, which is what keeps shard loads even.
func Hash(key string) xxh3.Uint128 {
	return xxh3.HashString128(key)
}

// bucket reduces a digest, read as the unsigned integer Hi<<64 | Lo, modulo n.
// n must be positive.
func bucket(h xxh3.Uint128, n int) int {
	return int(bits.Rem64(h.Hi, h.Lo, uint64(n)))
}

// ShardFor returns the id of the shard that owns key when the cluster has
// shardCount shards, using the same routing as a Cluster.
//
// Routing algorithm:
//  1. Hash the key with XXH3-128
//  2. Take the digest modulo shardCount
//  3. Use the remainder as an index into the ascending id sequence 1..shardCount
//
// The result depends only on (key, shardCount). It panics if shardCount < 1.
//
// Example:
//
//	id := cluster.ShardFor("0b9c4c1e-...", 8) // always the same id in [1, 8]
func ShardFor(key string, shardCount int) int {
	return bucket(Hash(key), shardCount) + 1
}

// layout is one generation of shards together with its routing table.
//
// Shards are stored both as an ordered slice (id order, used by Describe and
// Distribution) and as an id lookup map. ids holds the live ids in ascending
// order; a key's owner is byID[ids[hash mod len(ids)]].
type layout struct {
	byID   map[int]*shard.Shard // shard id -> shard
	shards []*shard.Shard       // shards in id order
	ids    []int                // ascending shard ids
}

// newLayout allocates shardCount empty shards with ids 1..shardCount.
func newLayout(shardCount int) *layout {
	l := &layout{
		byID:   make(map[int]*shard.Shard, shardCount),
		shards: make([]*shard.Shard, 0, shardCount),
		ids:    make([]int, 0, shardCount),
	}
	for id := 1; id <= shardCount; id++ {
		s := shard.NewShard(id)
		l.byID[id] = s
		l.ids = append(l.ids, id)
	}
	slices.Sort(l.ids)
	for _, id := range l.ids {
		l.shards = append(l.shards, l.byID[id])
	}
	return l
}

// size returns the number of shards in the layout.
func (l *layout) size() int {
	return len(l.ids)
}

// ownerID returns the id of the shard that owns a digest.
func (l *layout) ownerID(h xxh3.Uint128) int {
	return l.ids[bucket(h, len(l.ids))]
}

// owner returns the shard that owns key.
func (l *layout) owner(key string) *shard.Shard {
	return l.byID[l.ownerID(Hash(key))]
}

// records returns the total number of records across all shards.
func (l *layout) records() int {
	total := 0
	for _, s := range l.shards {
		total += s.Len()
	}
	return total
}

// setState moves every shard of the layout to state.
func (l *layout) setState(state shard.ShardState) {
	for _, s := range l.shards {
		s.SetState(state)
	}
}

// drain clears every shard of the layout and retires it.
func (l *layout) drain() {
	for _, s := range l.shards {
		s.Drain()
	}
}
