package cluster

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/dreamware/shardkv/internal/shard"
)

type record map[string]string

func newTestCluster(t *testing.T, shards int, opts ...Option) *Cluster[record] {
	t.Helper()
	c, err := New[record](shards, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// sequentialKeys returns a key generator yielding key-0, key-1, ...
func sequentialKeys() func() string {
	var mu sync.Mutex
	next := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		k := fmt.Sprintf("key-%d", next)
		next++
		return k
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		shards  int
		wantErr bool
	}{
		{name: "single shard", shards: 1},
		{name: "eight shards", shards: 8},
		{name: "many shards", shards: 256},
		{name: "zero shards", shards: 0, wantErr: true},
		{name: "negative shards", shards: -3, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New[record](tt.shards)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				assert.Nil(t, c)
				return
			}
			require.NoError(t, err)
			defer c.Close()

			assert.Equal(t, tt.shards, c.NumShards())
			assert.Equal(t, 0, c.Len())
			assert.Equal(t, uint64(0), c.Generation())

			infos := c.Distribution()
			require.Len(t, infos, tt.shards)
			for i, info := range infos {
				assert.Equal(t, i+1, info.ID)
				assert.Equal(t, shard.ShardStateActive, info.State)
				assert.Equal(t, 0, info.KeyCount)
			}
		})
	}
}

func TestInsertSelect(t *testing.T) {
	c := newTestCluster(t, 8)

	k1, err := c.Insert(record{"name": "A"})
	require.NoError(t, err)
	k2, err := c.Insert(record{"name": "B"})
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
	assert.Equal(t, 2, c.Len())

	v, err := c.Select(k1)
	require.NoError(t, err)
	assert.Equal(t, record{"name": "A"}, v)

	v, err = c.Select(k2)
	require.NoError(t, err)
	assert.Equal(t, record{"name": "B"}, v)

	assert.NoError(t, c.Verify())
}

func TestInsertStoresInOwnerShard(t *testing.T) {
	c := newTestCluster(t, 5)

	key, err := c.Insert(record{"x": "1"})
	require.NoError(t, err)

	owner := c.Owner(key)
	for _, info := range c.Distribution() {
		if info.ID == owner {
			assert.Equal(t, 1, info.KeyCount)
		} else {
			assert.Equal(t, 0, info.KeyCount)
		}
	}
}

func TestInsertGeneratesUUIDKeys(t *testing.T) {
	c := newTestCluster(t, 4)

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		key, err := c.Insert(record{"i": fmt.Sprint(i)})
		require.NoError(t, err)
		assert.Len(t, key, 36)
		assert.False(t, seen[key], "duplicate key %s", key)
		seen[key] = true
	}
	assert.Equal(t, 1000, c.Len())
}

func TestRoundTripPreservesTypes(t *testing.T) {
	inserted := map[string]any{
		"name": "Nina",
		"age":  35,
		"id":   int64(1<<53 + 1),
		"tags": []string{"admin"},
	}
	updated := map[string]any{
		"name":  "Nina",
		"age":   36,
		"id":    uint64(1<<63 + 7),
		"ratio": float32(0.5),
	}

	t.Run("map values", func(t *testing.T) {
		c, err := New[map[string]any](8)
		require.NoError(t, err)
		defer c.Close()

		key, err := c.Insert(inserted)
		require.NoError(t, err)
		got, err := c.Select(key)
		require.NoError(t, err)
		assert.Equal(t, inserted, got)
		assert.IsType(t, 0, got["age"])

		require.NoError(t, c.Update(key, updated))
		got, err = c.Select(key)
		require.NoError(t, err)
		assert.Equal(t, updated, got)

		require.NoError(t, c.Resize(3))
		got, err = c.Select(key)
		require.NoError(t, err)
		assert.Equal(t, updated, got)
		assert.NoError(t, c.Verify())
	})

	t.Run("interface values", func(t *testing.T) {
		c, err := New[any](4)
		require.NoError(t, err)
		defer c.Close()

		tests := []struct {
			name  string
			value any
			next  any
		}{
			{name: "int", value: 35, next: int8(-4)},
			{name: "large int64", value: int64(1<<53 + 1), next: int64(-(1<<62 + 3))},
			{name: "map", value: inserted, next: updated},
			{name: "string", value: "A", next: []any{1, "two", 3.5}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				key, err := c.Insert(tt.value)
				require.NoError(t, err)
				got, err := c.Select(key)
				require.NoError(t, err)
				assert.Equal(t, tt.value, got)

				require.NoError(t, c.Update(key, tt.next))
				got, err = c.Select(key)
				require.NoError(t, err)
				assert.Equal(t, tt.next, got)
			})
		}
		assert.NoError(t, c.Verify())
	})
}

func TestShardHoldsEncodedValue(t *testing.T) {
	c := newTestCluster(t, 2)

	key, err := c.Insert(record{"name": "A"})
	require.NoError(t, err)

	stored, ok := c.layout.owner(key).Get(key)
	require.True(t, ok)
	assert.JSONEq(t, `{"name":"A"}`, string(stored))

	total := 0
	for _, info := range c.Distribution() {
		total += info.ByteSize
	}
	assert.Equal(t, len(`{"name":"A"}`), total)
}

func TestUpdate(t *testing.T) {
	c := newTestCluster(t, 8)

	key, err := c.Insert(record{"name": "A"})
	require.NoError(t, err)
	owner := c.Owner(key)
	before := c.Distribution()

	require.NoError(t, c.Update(key, record{"name": "A2"}))

	v, err := c.Select(key)
	require.NoError(t, err)
	assert.Equal(t, record{"name": "A2"}, v)

	assert.Equal(t, owner, c.Owner(key))
	after := c.Distribution()
	for i := range before {
		assert.Equal(t, before[i].KeyCount, after[i].KeyCount)
	}
	assert.Equal(t, 1, c.Len())
	assert.NoError(t, c.Verify())
}

func TestDelete(t *testing.T) {
	c := newTestCluster(t, 8)

	k1, err := c.Insert(record{"name": "A"})
	require.NoError(t, err)
	k2, err := c.Insert(record{"name": "B"})
	require.NoError(t, err)

	require.NoError(t, c.Delete(k2))

	_, err = c.Select(k2)
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.Equal(t, 1, c.Len())

	total := 0
	for _, info := range c.Distribution() {
		total += info.KeyCount
	}
	assert.Equal(t, 1, total)
	assert.Equal(t, []string{k1}, c.Keys())
	assert.NoError(t, c.Verify())

	// second delete of the same key fails
	assert.ErrorIs(t, c.Delete(k2), ErrKeyNotFound)
}

func TestUnknownKey(t *testing.T) {
	c := newTestCluster(t, 3)
	_, err := c.Insert(record{"name": "A"})
	require.NoError(t, err)

	tests := []struct {
		name string
		op   func(key string) error
	}{
		{name: "select", op: func(key string) error { _, err := c.Select(key); return err }},
		{name: "update", op: func(key string) error { return c.Update(key, record{"name": "Z"}) }},
		{name: "delete", op: c.Delete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op("never-inserted")
			assert.ErrorIs(t, err, ErrKeyNotFound)
			assert.Contains(t, err.Error(), "never-inserted")
			assert.Equal(t, 1, c.Len())
			assert.NoError(t, c.Verify())
		})
	}
}

type failingCodec struct{}

func (failingCodec) Marshal(any) ([]byte, error) { return nil, errors.New("boom") }

func TestInvalidValue(t *testing.T) {
	c := newTestCluster(t, 4, WithCodec(failingCodec{}))

	_, err := c.Insert(record{"name": "A"})
	assert.ErrorIs(t, err, ErrInvalidValue)
	assert.Equal(t, 0, c.Len())

	good := newTestCluster(t, 4)
	key, err := good.Insert(record{"name": "A"})
	require.NoError(t, err)

	// swap in the failing codec to exercise the update path
	good.codec = failingCodec{}
	assert.ErrorIs(t, good.Update(key, record{"name": "B"}), ErrInvalidValue)

	good.codec = JSONCodec
	v, err := good.Select(key)
	require.NoError(t, err)
	assert.Equal(t, record{"name": "A"}, v)
	assert.NoError(t, good.Verify())
}

func TestGenericValues(t *testing.T) {
	type ticket struct {
		Title  string   `json:"title"`
		Owner  string   `json:"owner"`
		Tags   []string `json:"tags,omitempty"`
		Points int      `json:"points"`
	}

	c, err := New[ticket](4)
	require.NoError(t, err)
	defer c.Close()

	want := ticket{Title: "fix login", Owner: "nina", Points: 3, Tags: []string{"auth"}}
	key, err := c.Insert(want)
	require.NoError(t, err)

	got, err := c.Select(key)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	raw, err := New[[]byte](2)
	require.NoError(t, err)
	defer raw.Close()

	key, err = raw.Insert([]byte{0, 1, 2, 255})
	require.NoError(t, err)
	b, err := raw.Select(key)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 255}, b)
}

func TestDistributionReportsShardOps(t *testing.T) {
	c := newTestCluster(t, 4)

	keys := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		key, err := c.Insert(record{"i": fmt.Sprint(i)})
		require.NoError(t, err)
		keys = append(keys, key)
	}
	require.NoError(t, c.Update(keys[0], record{"i": "updated"}))
	require.NoError(t, c.Delete(keys[1]))

	var ops shard.OperationStats
	for _, info := range c.Distribution() {
		ops.Puts += info.Ops.Puts
		ops.Deletes += info.Ops.Deletes
	}
	assert.Equal(t, shard.OperationStats{Puts: 11, Deletes: 1}, ops)

	// a resize starts a fresh generation, filled by one put per record
	require.NoError(t, c.Resize(3))
	ops = shard.OperationStats{}
	for _, info := range c.Distribution() {
		ops.Puts += info.Ops.Puts
		ops.Deletes += info.Ops.Deletes
	}
	assert.Equal(t, shard.OperationStats{Puts: 9}, ops)
}

func TestDescribe(t *testing.T) {
	c := newTestCluster(t, 3, WithKeyGenerator(sequentialKeys()))

	for i := 0; i < 30; i++ {
		_, err := c.Insert(record{"i": fmt.Sprint(i)})
		require.NoError(t, err)
	}

	lines := c.Describe()
	require.Len(t, lines, 3)

	total := 0
	for i, line := range lines {
		var id, n int
		_, err := fmt.Sscanf(line, "Shard %d: %d items", &id, &n)
		require.NoError(t, err, line)
		assert.Equal(t, i+1, id)
		total += n
	}
	assert.Equal(t, 30, total)
}

func TestKeysSorted(t *testing.T) {
	c := newTestCluster(t, 4, WithKeyGenerator(sequentialKeys()))
	for i := 0; i < 12; i++ {
		_, err := c.Insert(record{})
		require.NoError(t, err)
	}

	keys := c.Keys()
	require.Len(t, keys, 12)
	for i := 1; i < len(keys); i++ {
		assert.Less(t, keys[i-1], keys[i])
	}
}

func TestVerifyDetectsInconsistency(t *testing.T) {
	t.Run("index entry without shard record", func(t *testing.T) {
		c := newTestCluster(t, 4)
		c.index["ghost"] = entry[record]{value: record{}, data: []byte(`{}`)}

		err := c.Verify()
		require.Error(t, err)
		assert.Len(t, multierr.Errors(err), 1)
	})

	t.Run("shard record in wrong shard", func(t *testing.T) {
		c := newTestCluster(t, 4, WithKeyGenerator(sequentialKeys()))
		key, err := c.Insert(record{"a": "b"})
		require.NoError(t, err)

		owner := c.layout.owner(key)
		wrong := c.layout.byID[owner.ID%4+1]
		owner.Delete(key)
		wrong.Put(key, c.index[key].data)

		err = c.Verify()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "owner is shard")
	})

	t.Run("diverging bytes and stray key", func(t *testing.T) {
		c := newTestCluster(t, 2)
		key, err := c.Insert(record{"a": "b"})
		require.NoError(t, err)

		c.layout.owner(key).Put(key, []byte(`{"a":"c"}`))
		c.layout.shards[0].Put("stray", []byte(`{}`))

		errs := multierr.Errors(c.Verify())
		assert.Len(t, errs, 3)
	})
}

func TestUpdateRepairsMissingShardRecord(t *testing.T) {
	c := newTestCluster(t, 4, WithLogger(slog.New(slog.NewTextHandler(&strings.Builder{}, nil))))
	key, err := c.Insert(record{"a": "1"})
	require.NoError(t, err)

	c.layout.owner(key).Delete(key)
	require.Error(t, c.Verify())

	require.NoError(t, c.Update(key, record{"a": "2"}))
	assert.NoError(t, c.Verify())
}

func TestConcurrentOperations(t *testing.T) {
	c := newTestCluster(t, 8)

	var wg sync.WaitGroup
	keys := make(chan string, 1000)
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key, err := c.Insert(record{"w": fmt.Sprint(w), "i": fmt.Sprint(i)})
				assert.NoError(t, err)
				_, err = c.Select(key)
				assert.NoError(t, err)
				assert.NoError(t, c.Update(key, record{"w": fmt.Sprint(w), "i": "updated"}))
				keys <- key
			}
		}(w)
	}
	wg.Wait()
	close(keys)

	deleted := 0
	for key := range keys {
		if deleted%2 == 0 {
			require.NoError(t, c.Delete(key))
		}
		deleted++
	}

	assert.Equal(t, 500, c.Len())
	assert.NoError(t, c.Verify())
}
