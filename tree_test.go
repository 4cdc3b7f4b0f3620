package bwtree

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexhholmes/bwtree/internal/algo"
	"github.com/alexhholmes/bwtree/internal/base"
)

// setup creates a tree that is closed when the test ends.
func setup(t *testing.T, opts ...Option) *Tree {
	tree, err := New(opts...)
	require.NoError(t, err, "Failed to create tree")
	t.Cleanup(func() {
		_ = tree.Close()
	})
	return tree
}

func key(i int) []byte {
	return []byte(fmt.Sprintf("key%06d", i))
}

func value(i int) []byte {
	return []byte(fmt.Sprintf("value%06d", i))
}

// recordLogger keeps every message for assertions.
type recordLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordLogger) record(level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, level+": "+msg)
}

func (r *recordLogger) Error(msg string, _ ...any) { r.record("error", msg) }
func (r *recordLogger) Warn(msg string, _ ...any)  { r.record("warn", msg) }
func (r *recordLogger) Info(msg string, _ ...any)  { r.record("info", msg) }

func (r *recordLogger) contains(s string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if m == s {
			return true
		}
	}
	return false
}

func TestInitialLayout(t *testing.T) {
	t.Parallel()

	tree := setup(t)
	root := tree.table.Get(tree.rootPID())
	require.NotNil(t, root)
	assert.Equal(t, base.PID(1), tree.rootPID())
	assert.False(t, root.Leaf)
	assert.Equal(t, 1, root.Level)
	assert.Equal(t, []base.PID{2}, root.Children)

	leaf := tree.table.Get(2)
	require.NotNil(t, leaf)
	assert.True(t, leaf.Leaf)
	assert.Empty(t, leaf.Low)
	assert.Empty(t, leaf.High)
	assert.Equal(t, 0, leaf.Count)

	s := tree.Stats()
	assert.Equal(t, int64(2), s.Pages)
	assert.Equal(t, 2, s.Height)
}

func TestBasicOperations(t *testing.T) {
	t.Parallel()

	tree := setup(t)

	_, err := tree.Get([]byte("a"))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, tree.Insert([]byte("a"), []byte("1")))
	v, err := tree.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	// One insert on an empty tree is a single delta on the only leaf
	head := tree.table.Get(2)
	assert.Equal(t, base.KindInsert, head.Kind)
	assert.Equal(t, 1, head.Depth)

	// Insert of an existing key replaces the value
	require.NoError(t, tree.Insert([]byte("a"), []byte("2")))
	v, err = tree.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)
	assert.Equal(t, base.KindUpdate, tree.table.Get(2).Kind)
	assert.Equal(t, 1, tree.table.Get(2).Count)

	ok, err := tree.Update([]byte("a"), []byte("3"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tree.Update([]byte("missing"), []byte("x"))
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = tree.Get([]byte("missing"))
	assert.ErrorIs(t, err, ErrKeyNotFound, "update must not create keys")

	ok, err = tree.Delete([]byte("a"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tree.Delete([]byte("a"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = tree.Get([]byte("a"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestTombstonePrecedence(t *testing.T) {
	t.Parallel()

	tree := setup(t, WithConsolidateThreshold(100))

	require.NoError(t, tree.Insert([]byte("k"), []byte("v1")))
	_, err := tree.Delete([]byte("k"))
	require.NoError(t, err)

	// The older insert is still in the chain below the delete
	head := tree.table.Get(2)
	require.Equal(t, base.KindDelete, head.Kind)
	require.Equal(t, base.KindInsert, head.Next.Kind)

	_, err = tree.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, tree.Insert([]byte("k"), []byte("v2")))
	v, err := tree.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v)
}

func TestConsolidationTrigger(t *testing.T) {
	t.Parallel()

	tree := setup(t, WithConsolidateThreshold(8))

	for i := 0; i < 8; i++ {
		require.NoError(t, tree.Insert(key(i), value(i)))
	}
	head := tree.table.Get(2)
	assert.Equal(t, 8, head.Depth, "threshold not yet exceeded")
	assert.False(t, head.IsBase())

	require.NoError(t, tree.Insert(key(8), value(8)))
	head = tree.table.Get(2)
	require.True(t, head.IsBase(), "ninth delta must consolidate")
	assert.Equal(t, 9, head.Count)
	assert.Len(t, head.Keys, 9)
	assert.Equal(t, int64(1), tree.Stats().Consolidations)

	for i := 0; i < 9; i++ {
		v, err := tree.Get(key(i))
		require.NoError(t, err)
		assert.Equal(t, value(i), v)
	}
}

func TestConsolidationPreservesContent(t *testing.T) {
	t.Parallel()

	tree := setup(t, WithConsolidateThreshold(1000))
	for i := 0; i < 40; i++ {
		require.NoError(t, tree.Insert(key(i), value(i)))
	}
	for i := 0; i < 40; i += 3 {
		_, err := tree.Delete(key(i))
		require.NoError(t, err)
	}
	for i := 1; i < 40; i += 3 {
		_, err := tree.Update(key(i), []byte("updated"))
		require.NoError(t, err)
	}

	head := tree.table.Get(2)
	before, err := algo.Materialize(head)
	require.NoError(t, err)

	n, err := tree.consolidate(2, head)
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, before.Keys, n.Keys)
	assert.Equal(t, before.Values, n.Values)
	assert.Equal(t, head.Count, n.Count)
	assert.Same(t, n, tree.table.Get(2))
}

func TestCallerBuffersAreCopied(t *testing.T) {
	t.Parallel()

	tree := setup(t)
	k := []byte("key")
	v := []byte("value")
	require.NoError(t, tree.Insert(k, v))
	k[0], v[0] = 'X', 'X'

	got, err := tree.Get([]byte("key"))
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)

	got[0] = 'Y'
	again, err := tree.Get([]byte("key"))
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), again)
}

func TestEmptyKey(t *testing.T) {
	t.Parallel()

	tree := setup(t)
	assert.ErrorIs(t, tree.Insert(nil, []byte("v")), ErrKeyEmpty)
	_, err := tree.Get([]byte{})
	assert.ErrorIs(t, err, ErrKeyEmpty)
	_, err = tree.Update(nil, nil)
	assert.ErrorIs(t, err, ErrKeyEmpty)
	_, err = tree.Delete(nil)
	assert.ErrorIs(t, err, ErrKeyEmpty)
}

func TestInvalidOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opt  Option
	}{
		{"zero_threshold", WithConsolidateThreshold(0)},
		{"tiny_pages", WithPageSize(1, 2)},
		{"min_too_large", WithPageSize(40, 64)},
		{"tiny_table", WithTableCapacity(4)},
		{"no_sessions", WithMaxSessions(0)},
		{"no_yield", WithRetryYield(0)},
		{"zero_interval", WithCollectInterval(0)},
		{"zero_batch", WithReclaimBatch(0)},
		{"zero_flush_cache", WithFlushCacheSize(0)},
		{"nil_logger", WithLogger(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opt)
			assert.ErrorIs(t, err, ErrInvalidOption)
		})
	}
}

func TestClose(t *testing.T) {
	t.Parallel()

	log := &recordLogger{}
	tree, err := New(WithLogger(log))
	require.NoError(t, err)
	require.NoError(t, tree.Insert([]byte("a"), []byte("1")))

	require.NoError(t, tree.Close())
	assert.ErrorIs(t, tree.Close(), ErrTreeClosed)
	assert.True(t, log.contains("info: tree closed"))

	_, err = tree.Get([]byte("a"))
	assert.ErrorIs(t, err, ErrTreeClosed)
	assert.ErrorIs(t, tree.Insert([]byte("b"), nil), ErrTreeClosed)
	_, err = tree.Register()
	assert.ErrorIs(t, err, ErrTreeClosed)

	it := tree.Scan(nil)
	assert.False(t, it.Next())
	assert.ErrorIs(t, it.Err(), ErrTreeClosed)
}

func TestExhausted(t *testing.T) {
	t.Parallel()

	tree := setup(t, WithTableCapacity(16), WithPageSize(1, 4))

	var inserted int
	var err error
	for i := 0; i < 1000; i++ {
		if err = tree.Insert(key(i), value(i)); err != nil {
			break
		}
		inserted++
	}
	require.ErrorIs(t, err, ErrExhausted)
	assert.Greater(t, inserted, 4)

	for i := 0; i < inserted; i++ {
		v, err := tree.Get(key(i))
		require.NoError(t, err, "key %d", i)
		assert.Equal(t, value(i), v)
	}
}

func TestStatsCounters(t *testing.T) {
	t.Parallel()

	tree := setup(t)
	require.NoError(t, tree.Insert([]byte("a"), nil))
	_, _ = tree.Update([]byte("a"), []byte("x"))
	_, _ = tree.Get([]byte("a"))
	_, _ = tree.Delete([]byte("a"))
	tree.Scan(nil).Close()

	s := tree.Stats()
	assert.Equal(t, int64(1), s.Inserts)
	assert.Equal(t, int64(1), s.Updates)
	assert.Equal(t, int64(1), s.Gets)
	assert.Equal(t, int64(1), s.Deletes)
	assert.Equal(t, int64(1), s.Scans)
	assert.GreaterOrEqual(t, s.Epoch, uint64(1))
}
