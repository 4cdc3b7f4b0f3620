package base

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keys(ss ...string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

func TestFindKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		keys  [][]byte
		key   string
		want  int
		found bool
	}{
		{"empty", nil, "k", 0, false},
		{"first", keys("a", "c", "e"), "a", 0, true},
		{"middle", keys("a", "c", "e"), "c", 1, true},
		{"last", keys("a", "c", "e"), "e", 2, true},
		{"before_all", keys("b", "c"), "a", 0, false},
		{"between", keys("a", "c", "e"), "d", 2, false},
		{"after_all", keys("a", "c", "e"), "z", 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := FindKey(tt.keys, []byte(tt.key))
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.found, found)
		})
	}
}

func TestFindKeyLargePage(t *testing.T) {
	t.Parallel()

	// Above the linear threshold, binary search must agree with a scan
	var ks [][]byte
	for i := 0; i < 200; i += 2 {
		ks = append(ks, []byte(fmt.Sprintf("key%04d", i)))
	}

	for i := 0; i < 200; i++ {
		idx, found := FindKey(ks, []byte(fmt.Sprintf("key%04d", i)))
		assert.Equal(t, i%2 == 0, found, "key%04d", i)
		assert.Equal(t, (i+1)/2, idx, "key%04d", i)
	}
}

func TestFindChild(t *testing.T) {
	t.Parallel()

	seps := [][]byte{nil, []byte("d"), []byte("m")}
	tests := []struct {
		key  string
		want int
	}{
		{"", 0},
		{"a", 0},
		{"d", 1},
		{"k", 1},
		{"m", 2},
		{"zz", 2},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FindChild(seps, []byte(tt.key)), "key %q", tt.key)
	}

	// Without a leftmost empty separator keys below the first bound miss
	assert.Equal(t, -1, FindChild(keys("d", "m"), []byte("a")))
}

func TestNodeLookupAndChildFor(t *testing.T) {
	t.Parallel()

	leaf := NewLeaf(nil, nil, NilPID, keys("a", "b"), keys("1", "2"))
	v, ok := leaf.Lookup([]byte("b"))
	require.True(t, ok)
	assert.Equal(t, []byte("2"), v)

	_, ok = leaf.Lookup([]byte("c"))
	assert.False(t, ok)

	inner := NewInner(1, nil, nil, NilPID, [][]byte{nil, []byte("k")}, []PID{7, 9})
	child, ok := inner.ChildFor([]byte("a"))
	require.True(t, ok)
	assert.Equal(t, PID(7), child)

	child, ok = inner.ChildFor([]byte("k"))
	require.True(t, ok)
	assert.Equal(t, PID(9), child)
}

func TestDeltaHeaderPropagation(t *testing.T) {
	t.Parallel()

	b := NewLeaf([]byte("a"), []byte("z"), 5, keys("b", "c"), keys("1", "2"))
	require.Equal(t, 2, b.Count)
	require.Equal(t, 0, b.Depth)

	ins := NewInsert(b, []byte("d"), []byte("3"))
	assert.Equal(t, KindInsert, ins.Kind)
	assert.Equal(t, 3, ins.Count)
	assert.Equal(t, 1, ins.Depth)
	assert.Equal(t, []byte("z"), ins.High)
	assert.Equal(t, PID(5), ins.Right)
	assert.True(t, ins.Leaf)

	upd := NewUpdate(ins, []byte("b"), []byte("9"))
	assert.Equal(t, 3, upd.Count)
	assert.Equal(t, 2, upd.Depth)

	del := NewDelete(upd, []byte("c"))
	assert.Equal(t, 2, del.Count)
	assert.Equal(t, 3, del.Depth)

	split := NewSplit(del, []byte("c"), 11, 1)
	assert.Equal(t, []byte("c"), split.High)
	assert.Equal(t, PID(11), split.Right)
	assert.Equal(t, 1, split.Count)
	assert.Equal(t, 4, split.Depth)
}

func TestMergeHeader(t *testing.T) {
	t.Parallel()

	left := NewLeaf(nil, []byte("m"), 3, keys("a"), keys("1"))
	right := NewInsert(NewLeaf([]byte("m"), nil, NilPID, keys("n"), keys("2")), []byte("o"), []byte("3"))
	rm := NewRemove(right, 2)

	assert.Equal(t, KindRemove, rm.Kind)
	assert.Equal(t, PID(2), rm.PID)
	assert.Equal(t, 2, rm.Count)

	m := NewMerge(left, 3, rm)
	assert.Equal(t, KindMerge, m.Kind)
	assert.Equal(t, []byte("m"), m.Key)
	assert.Equal(t, PID(3), m.PID)
	assert.Same(t, right, m.Merged)
	assert.Empty(t, m.High)
	assert.Equal(t, NilPID, m.Right)
	assert.Equal(t, 3, m.Count)
	assert.Equal(t, 2, m.Depth)
}

func TestNodeBounds(t *testing.T) {
	t.Parallel()

	n := NewLeaf([]byte("c"), []byte("f"), NilPID, nil, nil)
	assert.True(t, n.BelowLow([]byte("b")))
	assert.True(t, n.Covers([]byte("c")))
	assert.True(t, n.Covers([]byte("e")))
	assert.True(t, n.BeyondHigh([]byte("f")))

	open := NewLeaf(nil, nil, NilPID, nil, nil)
	assert.True(t, open.Covers(nil))
	assert.True(t, open.Covers([]byte("zzzz")))
}

func TestNodeRelease(t *testing.T) {
	t.Parallel()

	n := NewInsert(NewLeaf(nil, nil, NilPID, nil, nil), []byte("k"), []byte("v"))
	n.Release()

	assert.Equal(t, KindFreed, n.Kind)
	assert.Nil(t, n.Next)
	assert.Nil(t, n.Key)
	assert.Equal(t, "freed", n.Kind.String())
}
