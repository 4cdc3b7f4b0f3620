package base

import (
	"bytes"
	"sort"
)

// Below this many keys a linear scan beats binary search.
const searchThreshold = 32

// FindKey returns the index of key in a sorted key slice and whether it is
// present. When absent, the index is the insert position.
func FindKey(keys [][]byte, key []byte) (int, bool) {
	if len(keys) < searchThreshold {
		for i := 0; i < len(keys); i++ {
			cmp := bytes.Compare(keys[i], key)
			if cmp == 0 {
				return i, true
			}
			if cmp > 0 {
				return i, false
			}
		}
		return len(keys), false
	}

	idx := sort.Search(len(keys), func(i int) bool {
		return bytes.Compare(keys[i], key) >= 0
	})
	return idx, idx < len(keys) && bytes.Equal(keys[idx], key)
}

// FindChild returns the index of the last key <= key, or -1 if key sorts
// before every lower bound.
func FindChild(keys [][]byte, key []byte) int {
	if len(keys) < searchThreshold {
		i := 0
		for i < len(keys) && bytes.Compare(key, keys[i]) >= 0 {
			i++
		}
		return i - 1
	}

	return sort.Search(len(keys), func(i int) bool {
		return bytes.Compare(key, keys[i]) < 0
	}) - 1
}

// Lookup searches a leaf base page.
func (n *Node) Lookup(key []byte) ([]byte, bool) {
	i, ok := FindKey(n.Keys, key)
	if !ok {
		return nil, false
	}
	return n.Values[i], true
}

// ChildFor returns the child of an inner base page whose range holds key.
func (n *Node) ChildFor(key []byte) (PID, bool) {
	i := FindChild(n.Keys, key)
	if i < 0 {
		return NilPID, false
	}
	return n.Children[i], true
}
