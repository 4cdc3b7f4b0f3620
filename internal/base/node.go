package base

import (
	"bytes"
)

// PID is a logical page identifier resolved through the mapping table.
type PID uint64

// NilPID is never allocated and marks an absent sibling or child.
const NilPID PID = 0

// MaxChainLength bounds any chain walk. A longer chain means a cycle.
const MaxChainLength = 1 << 16

// Kind tags a Node as a base page or one of the delta record variants.
type Kind uint8

const (
	KindBase Kind = iota
	KindInsert
	KindUpdate
	KindDelete
	KindSplit
	KindIndexEntry
	KindIndexDelete
	KindMerge
	KindRemove
	KindFreed
)

var kindNames = [...]string{
	KindBase:        "base",
	KindInsert:      "insert",
	KindUpdate:      "update",
	KindDelete:      "delete",
	KindSplit:       "split",
	KindIndexEntry:  "index-entry",
	KindIndexDelete: "index-delete",
	KindMerge:       "merge",
	KindRemove:      "remove",
	KindFreed:       "freed",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Node is one element of a page's chain. A chain is a sequence of delta
// records ending in a base page; the mapping table points at its head.
//
// Every node carries the page header as seen from that point of the chain,
// copied from the node below and adjusted for the record's own effect, so
// the head alone answers range, size and chain length questions.
//
// Nodes are immutable once published. Only the reclaimer writes to a node,
// and only after no pinned reader can reach it.
type Node struct {
	Kind Kind

	// Page header
	Leaf  bool
	Level int    // 0 for leaves
	Low   []byte // inclusive lower bound, empty for the leftmost page
	High  []byte // exclusive upper bound, empty for +inf
	Right PID    // right sibling at the same level
	Count int    // logical number of entries
	Depth int    // delta records above the base page

	Next *Node

	// Delta payload
	Key       []byte
	Value     []byte
	PID       PID    // split sibling, index child, merged page or left neighbour
	RangeLow  []byte // IndexDelete: lower bound of the widened route
	RangeHigh []byte // IndexEntry, IndexDelete: upper bound of the route
	Merged    *Node  // Merge: chain of the absorbed page

	// Base payload, Keys[i] is the lower bound of Children[i] on inner pages
	Keys     [][]byte
	Values   [][]byte
	Children []PID
}

// NewLeaf creates a leaf base page.
func NewLeaf(low, high []byte, right PID, keys, values [][]byte) *Node {
	return &Node{
		Kind:   KindBase,
		Leaf:   true,
		Low:    low,
		High:   high,
		Right:  right,
		Count:  len(keys),
		Keys:   keys,
		Values: values,
	}
}

// NewInner creates an inner base page at level (>= 1).
func NewInner(level int, low, high []byte, right PID, keys [][]byte, children []PID) *Node {
	return &Node{
		Kind:     KindBase,
		Level:    level,
		Low:      low,
		High:     high,
		Right:    right,
		Count:    len(keys),
		Keys:     keys,
		Children: children,
	}
}

// delta returns a record of the given kind stacked on next, inheriting its
// page header.
func delta(kind Kind, next *Node) *Node {
	return &Node{
		Kind:  kind,
		Leaf:  next.Leaf,
		Level: next.Level,
		Low:   next.Low,
		High:  next.High,
		Right: next.Right,
		Count: next.Count,
		Depth: next.Depth + 1,
		Next:  next,
	}
}

// NewInsert records a new key on a leaf.
func NewInsert(next *Node, key, value []byte) *Node {
	d := delta(KindInsert, next)
	d.Key = key
	d.Value = value
	d.Count++
	return d
}

// NewUpdate overwrites the value of an existing key.
func NewUpdate(next *Node, key, value []byte) *Node {
	d := delta(KindUpdate, next)
	d.Key = key
	d.Value = value
	return d
}

// NewDelete removes an existing key.
func NewDelete(next *Node, key []byte) *Node {
	d := delta(KindDelete, next)
	d.Key = key
	d.Count--
	return d
}

// NewSplit hands keys >= key to sibling. leftCount is the number of entries
// that stay on this page.
func NewSplit(next *Node, key []byte, sibling PID, leftCount int) *Node {
	d := delta(KindSplit, next)
	d.Key = key
	d.PID = sibling
	d.High = key
	d.Right = sibling
	d.Count = leftCount
	return d
}

// NewIndexEntry routes [key, high) to child on an inner page.
func NewIndexEntry(next *Node, key []byte, child PID, high []byte) *Node {
	d := delta(KindIndexEntry, next)
	d.Key = key
	d.PID = child
	d.RangeHigh = high
	d.Count++
	return d
}

// NewIndexDelete drops the separator key and routes [low, high) to left.
func NewIndexDelete(next *Node, key []byte, left PID, low, high []byte) *Node {
	d := delta(KindIndexDelete, next)
	d.Key = key
	d.PID = left
	d.RangeLow = low
	d.RangeHigh = high
	d.Count--
	return d
}

// NewRemove freezes a page that is being merged into left.
func NewRemove(next *Node, left PID) *Node {
	d := delta(KindRemove, next)
	d.PID = left
	return d
}

// NewMerge absorbs the page frozen by removed (its Remove record) into next.
func NewMerge(next *Node, removedPID PID, removed *Node) *Node {
	d := delta(KindMerge, next)
	d.Key = removed.Low
	d.PID = removedPID
	d.Merged = removed.Next
	d.High = removed.High
	d.Right = removed.Right
	d.Count += removed.Count
	d.Depth += removed.Next.Depth
	return d
}

// IsBase reports whether n terminates a chain.
func (n *Node) IsBase() bool {
	return n.Kind == KindBase
}

// BelowLow reports whether key sorts before the page's lower bound.
func (n *Node) BelowLow(key []byte) bool {
	return bytes.Compare(key, n.Low) < 0
}

// BeyondHigh reports whether key is at or past the page's upper bound.
func (n *Node) BeyondHigh(key []byte) bool {
	return len(n.High) > 0 && bytes.Compare(key, n.High) >= 0
}

// Covers reports whether key falls in [Low, High).
func (n *Node) Covers(key []byte) bool {
	return !n.BelowLow(key) && !n.BeyondHigh(key)
}

// Release poisons a reclaimed node. Any later traversal that reaches it
// reports ErrCorruption instead of reading stale contents.
func (n *Node) Release() {
	n.Kind = KindFreed
	n.Next = nil
	n.Merged = nil
	n.Key = nil
	n.Value = nil
	n.Keys = nil
	n.Values = nil
	n.Children = nil
}
