package cluster

import (
	"bytes"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/exp/slices"

	"github.com/dreamware/shardkv/internal/shard"
)

// Cluster is an in-memory key-value store partitioned over a fixed number of
// shards. See the package documentation for the routing and resize model.
//
// A Cluster is safe for concurrent use. The zero value is not usable; create one
// with New.
type Cluster[V any] struct {
	// layout is the current shard generation and its routing table.
	layout *layout

	// index holds every record: key -> value as inserted plus its encoding.
	// It is the authoritative copy and does not depend on the shard count.
	index map[string]entry[V]

	codec   Codec
	newKey  func() string
	log     *slog.Logger
	metrics *clusterMetrics

	// generation counts completed resizes.
	generation uint64

	// mu guards layout, index and generation together.
	mu sync.RWMutex
}

// New creates a cluster with shardCount empty shards, ids 1..shardCount.
//
// Returns ErrInvalidConfig if shardCount < 1.
//
// Example:
//
//	c, err := cluster.New[Ticket](8, cluster.WithLogger(logger))
func New[V any](shardCount int, opts ...Option) (*Cluster[V], error) {
	if shardCount < 1 {
		return nil, errors.Wrapf(ErrInvalidConfig, "shard count %d must be at least 1", shardCount)
	}

	o := newOptions(opts)
	c := &Cluster[V]{
		layout: newLayout(shardCount),
		index:  make(map[string]entry[V]),
		codec:  o.codec,
		newKey: o.keyGenerator,
		log:    o.logger.With(slog.String("component", "cluster")),
	}

	m, err := newMetrics(o.meterProvider, c)
	if err != nil {
		return nil, errors.Wrap(err, "failed to register cluster metrics")
	}
	c.metrics = m

	c.log.Info("Created cluster", slog.Int("shards", shardCount))
	return c, nil
}

// Close releases the cluster's metric callbacks. The cluster stays usable, but
// its gauges are no longer reported.
func (c *Cluster[V]) Close() error {
	return c.metrics.close()
}

// Insert stores value under a freshly generated key and returns the key.
//
// The record is written to the owning shard and to the global index under one
// exclusive lock. The only failure is ErrInvalidValue, when the codec cannot
// encode value; nothing is stored in that case.
func (c *Cluster[V]) Insert(value V) (string, error) {
	start := time.Now()

	data, err := c.encode(value)
	if err != nil {
		c.metrics.recordOp(opInsert, start, 0, err)
		return "", err
	}

	c.mu.Lock()
	key := c.newKey()
	owner := c.layout.owner(key)
	owner.Put(key, data)
	c.index[key] = entry[V]{value: value, data: data}
	c.mu.Unlock()

	c.log.Debug("Inserted record", slog.String("key", key), slog.Int("shard", owner.ID))
	c.metrics.recordOp(opInsert, start, len(data), nil)
	return key, nil
}

// Select returns the value stored under key, exactly as it was inserted or last
// updated.
//
// Select reads the global index only, so its cost does not depend on the shard
// count. Returns ErrKeyNotFound if the key is not stored.
func (c *Cluster[V]) Select(key string) (V, error) {
	start := time.Now()

	c.mu.RLock()
	e, ok := c.index[key]
	c.mu.RUnlock()

	if !ok {
		var zero V
		err := errors.Wrapf(ErrKeyNotFound, "key %q", key)
		c.metrics.recordOp(opSelect, start, 0, err)
		return zero, err
	}

	c.metrics.recordOp(opSelect, start, len(e.data), nil)
	return e.value, nil
}

// Update replaces the value stored under key.
//
// The owner is recomputed from the key; with the shard count unchanged it is the
// shard that already holds the record, so an update never relocates a key.
// Returns ErrKeyNotFound if the key is not stored and ErrInvalidValue if the new
// value cannot be encoded. Neither error changes state.
func (c *Cluster[V]) Update(key string, value V) error {
	start := time.Now()

	data, err := c.encode(value)
	if err != nil {
		c.metrics.recordOp(opUpdate, start, 0, err)
		return err
	}

	c.mu.Lock()
	if _, ok := c.index[key]; !ok {
		c.mu.Unlock()
		err = errors.Wrapf(ErrKeyNotFound, "key %q", key)
		c.metrics.recordOp(opUpdate, start, 0, err)
		return err
	}
	owner := c.layout.owner(key)
	if !owner.Update(key, data) {
		// the index held the key but its owner did not: restore the owner copy
		c.log.Warn("Owner shard missing indexed key, rewriting",
			slog.String("key", key), slog.Int("shard", owner.ID))
		owner.Put(key, data)
	}
	c.index[key] = entry[V]{value: value, data: data}
	c.mu.Unlock()

	c.log.Debug("Updated record", slog.String("key", key), slog.Int("shard", owner.ID))
	c.metrics.recordOp(opUpdate, start, len(data), nil)
	return nil
}

// Delete removes key from its owner shard and from the global index.
//
// Returns ErrKeyNotFound if the key is not stored.
func (c *Cluster[V]) Delete(key string) error {
	start := time.Now()

	c.mu.Lock()
	if _, ok := c.index[key]; !ok {
		c.mu.Unlock()
		err := errors.Wrapf(ErrKeyNotFound, "key %q", key)
		c.metrics.recordOp(opDelete, start, 0, err)
		return err
	}
	owner := c.layout.owner(key)
	owner.Delete(key)
	delete(c.index, key)
	c.mu.Unlock()

	c.log.Debug("Deleted record", slog.String("key", key), slog.Int("shard", owner.ID))
	c.metrics.recordOp(opDelete, start, 0, nil)
	return nil
}

// Resize replaces the shard set with newShardCount fresh shards and rehashes every
// stored record onto them.
//
// Resize process:
//  1. Allocate shards 1..newShardCount in the migrating state
//  2. Route every index entry against the new count and store it in its new owner
//  3. Mark the new shards active and swap them in
//  4. Drain the previous generation
//
// Steps 1 to 3 hold the exclusive lock, so concurrent callers see either the old
// layout or the new one, never a mix. The global index is not modified. Cost is
// O(total records).
//
// Returns ErrInvalidConfig if newShardCount < 1; the cluster is unchanged.
func (c *Cluster[V]) Resize(newShardCount int) error {
	start := time.Now()

	if newShardCount < 1 {
		err := errors.Wrapf(ErrInvalidConfig, "shard count %d must be at least 1", newShardCount)
		c.metrics.recordOp(opResize, start, 0, err)
		return err
	}

	next := newLayout(newShardCount)
	next.setState(shard.ShardStateMigrating)

	c.mu.Lock()
	prev := c.layout
	moved := 0
	for key, e := range c.index {
		h := Hash(key)
		id := next.ownerID(h)
		if id != prev.ownerID(h) {
			moved++
		}
		next.byID[id].Put(key, e.data)
	}
	next.setState(shard.ShardStateActive)
	c.layout = next
	c.generation++
	records := len(c.index)
	generation := c.generation
	c.mu.Unlock()

	// prev is unreachable from the cluster now
	prev.drain()

	c.metrics.recordResize(start, moved)
	c.metrics.recordOp(opResize, start, 0, nil)
	c.log.Info("Resized cluster",
		slog.Int("from", prev.size()),
		slog.Int("to", newShardCount),
		slog.Int("records", records),
		slog.Int("moved", moved),
		slog.Uint64("generation", generation),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Describe returns one diagnostic line per shard, in id order.
func (c *Cluster[V]) Describe() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	lines := make([]string, 0, c.layout.size())
	for _, s := range c.layout.shards {
		lines = append(lines, s.Describe())
	}
	return lines
}

// Owner returns the id of the shard that currently owns key. The key does not
// have to be stored.
func (c *Cluster[V]) Owner(key string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.layout.owner(key).ID
}

// Len returns the number of stored records.
func (c *Cluster[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.index)
}

// NumShards returns the current shard count.
func (c *Cluster[V]) NumShards() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.layout.size()
}

// Generation returns the number of completed resizes.
func (c *Cluster[V]) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Keys returns every stored key in ascending order.
func (c *Cluster[V]) Keys() []string {
	c.mu.RLock()
	keys := make([]string, 0, len(c.index))
	for key := range c.index {
		keys = append(keys, key)
	}
	c.mu.RUnlock()

	slices.Sort(keys)
	return keys
}

// Distribution returns metadata for every shard in id order.
func (c *Cluster[V]) Distribution() []shard.ShardInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	infos := make([]shard.ShardInfo, 0, c.layout.size())
	for _, s := range c.layout.shards {
		infos = append(infos, s.Info())
	}
	return infos
}

// Verify checks that the shards and the global index agree: every shard record
// is indexed, lives in its owner shard and carries the indexed bytes, and the
// shard totals equal the index size. All violations found are returned together.
func (c *Cluster[V]) Verify() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var err error
	for _, s := range c.layout.shards {
		for _, key := range s.ListKeys() {
			indexed, ok := c.index[key]
			if !ok {
				err = multierr.Append(err, errors.Errorf("shard %d holds key %q that is not indexed", s.ID, key))
				continue
			}
			if owner := c.layout.owner(key); owner != s {
				err = multierr.Append(err, errors.Errorf("key %q stored in shard %d, owner is shard %d", key, s.ID, owner.ID))
			}
			stored, getErr := s.Store.Get(key)
			if getErr == nil && !bytes.Equal(stored, indexed.data) {
				err = multierr.Append(err, errors.Errorf("key %q in shard %d differs from index", key, s.ID))
			}
		}
	}
	if total := c.layout.records(); total != len(c.index) {
		err = multierr.Append(err, errors.Errorf("shards hold %d records, index holds %d", total, len(c.index)))
	}
	return err
}

// shardRecords reports per-shard record counts for the gauges.
func (c *Cluster[V]) shardRecords() map[int]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := make(map[int]int, c.layout.size())
	for _, s := range c.layout.shards {
		counts[s.ID] = s.Len()
	}
	return counts
}

// entry is one indexed record. data is the encoding held by the owner shard.
type entry[V any] struct {
	value V
	data  []byte
}

func (c *Cluster[V]) encode(value V) ([]byte, error) {
	data, err := c.codec.Marshal(value)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidValue, "encode: %v", err)
	}
	return data, nil
}
