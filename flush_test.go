package bwtree

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexhholmes/bwtree/internal/algo"
	"github.com/alexhholmes/bwtree/internal/base"
)

type hookRecorder struct {
	mu    sync.Mutex
	snaps map[PID][]Snapshot
}

func newHookRecorder() *hookRecorder {
	return &hookRecorder{snaps: make(map[PID][]Snapshot)}
}

func (h *hookRecorder) hook(pid PID, snap Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snaps[pid] = append(h.snaps[pid], snap)
}

func (h *hookRecorder) calls(pid PID) []Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Snapshot(nil), h.snaps[pid]...)
}

func TestFlushHookAfterConsolidation(t *testing.T) {
	t.Parallel()

	rec := newHookRecorder()
	tree := setup(t, WithConsolidateThreshold(4), WithFlushHook(rec.hook))

	for i := 0; i < 5; i++ {
		require.NoError(t, tree.Insert(key(i), value(i)))
	}

	require.Eventually(t, func() bool {
		return len(rec.calls(2)) > 0
	}, 2*time.Second, time.Millisecond)

	snaps := rec.calls(2)
	last := snaps[len(snaps)-1]
	assert.Equal(t, PID(2), last.PID)
	assert.True(t, last.Leaf)
	assert.Len(t, last.Keys, 5)
	assert.Equal(t, key(0), last.Keys[0])
	assert.Equal(t, value(4), last.Values[4])
}

func TestFlushHookAfterSplit(t *testing.T) {
	t.Parallel()

	rec := newHookRecorder()
	tree := setup(t, WithPageSize(2, 8), WithFlushHook(rec.hook))
	for i := 0; i < 9; i++ {
		require.NoError(t, tree.Insert(key(i), value(i)))
	}

	// The first split creates pid 3
	require.Eventually(t, func() bool {
		return len(rec.calls(3)) > 0
	}, 2*time.Second, time.Millisecond)

	snap := rec.calls(3)[0]
	assert.True(t, snap.Leaf)
	assert.Equal(t, snap.Keys[0], snap.Low)
	assert.Empty(t, snap.High)
}

func TestFlusherDeduplicates(t *testing.T) {
	t.Parallel()

	rec := newHookRecorder()
	f, err := newFlusher(rec.hook, 16, DiscardLogger{})
	require.NoError(t, err)

	c := &algo.Content{
		Leaf:   true,
		Keys:   [][]byte{[]byte("a"), []byte("b")},
		Values: [][]byte{[]byte("1"), []byte("2")},
	}

	f.enqueue(7, c)
	f.drain()
	f.enqueue(7, c)
	f.drain()
	assert.Len(t, rec.calls(7), 1, "unchanged snapshot must be skipped")

	changed := c.Slice(0, 1)
	f.enqueue(7, changed)
	f.drain()
	assert.Len(t, rec.calls(7), 2)

	// A recycled pid starts over
	f.forget(7)
	f.enqueue(7, changed)
	f.drain()
	assert.Len(t, rec.calls(7), 3)
}

func TestFlusherCoalesces(t *testing.T) {
	t.Parallel()

	rec := newHookRecorder()
	f, err := newFlusher(rec.hook, 16, DiscardLogger{})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		f.enqueue(9, &algo.Content{Leaf: true, Keys: [][]byte{key(i)}, Values: [][]byte{value(i)}})
	}
	f.drain()

	calls := rec.calls(9)
	require.Len(t, calls, 1)
	assert.Equal(t, key(4), calls[0].Keys[0], "latest snapshot wins")
}

func TestFlusherRecoversPanic(t *testing.T) {
	t.Parallel()

	log := &recordLogger{}
	var calls int
	f, err := newFlusher(func(PID, Snapshot) {
		calls++
		panic("disk on fire")
	}, 16, log)
	require.NoError(t, err)

	c := &algo.Content{Leaf: true}
	f.enqueue(1, c)
	f.drain()
	assert.True(t, log.contains("error: flush hook panicked"))

	// A failed flush is not remembered, so the same content is retried
	f.enqueue(1, c)
	f.drain()
	assert.Equal(t, 2, calls)
}

func TestNilFlusher(t *testing.T) {
	t.Parallel()

	var f *flusher
	f.enqueue(1, &algo.Content{})
	f.forget(1)
	f.stop()
}

func TestSnapshotChecksum(t *testing.T) {
	t.Parallel()

	a := Snapshot{Leaf: true, Keys: [][]byte{[]byte("ab")}, Values: [][]byte{[]byte("c")}}
	b := Snapshot{Leaf: true, Keys: [][]byte{[]byte("a")}, Values: [][]byte{[]byte("bc")}}
	assert.NotEqual(t, a.checksum(), b.checksum(), "length prefixes keep fields apart")

	inner := Snapshot{Level: 1, Keys: [][]byte{nil}, Children: []base.PID{2}}
	moved := Snapshot{Level: 1, Keys: [][]byte{nil}, Children: []base.PID{3}}
	assert.NotEqual(t, inner.checksum(), moved.checksum())
}
