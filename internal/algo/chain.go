package algo

import (
	"bytes"

	"github.com/alexhholmes/bwtree/internal/base"
)

// SearchLeaf looks key up in a leaf chain without materializing it. The
// newest record for key decides the result. ErrMoved means the key now
// belongs to a right sibling.
func SearchLeaf(head *base.Node, key []byte) ([]byte, bool, error) {
	n := head
	for steps := 0; steps < base.MaxChainLength; steps++ {
		if n == nil {
			return nil, false, base.ErrCorruption
		}

		switch n.Kind {
		case base.KindInsert, base.KindUpdate:
			if bytes.Equal(n.Key, key) {
				return n.Value, true, nil
			}
		case base.KindDelete:
			if bytes.Equal(n.Key, key) {
				return nil, false, nil
			}
		case base.KindSplit:
			if bytes.Compare(key, n.Key) >= 0 {
				return nil, false, base.ErrMoved
			}
		case base.KindMerge:
			if bytes.Compare(key, n.Key) >= 0 {
				n = n.Merged
				continue
			}
		case base.KindRemove:
		case base.KindBase:
			if !n.Leaf {
				return nil, false, base.ErrCorruption
			}
			v, ok := n.Lookup(key)
			return v, ok, nil
		default:
			return nil, false, base.ErrCorruption
		}
		n = n.Next
	}
	return nil, false, base.ErrCorruption
}

// Route returns the child of an inner chain whose range holds key.
func Route(head *base.Node, key []byte) (base.PID, error) {
	n := head
	for steps := 0; steps < base.MaxChainLength; steps++ {
		if n == nil {
			return base.NilPID, base.ErrCorruption
		}

		switch n.Kind {
		case base.KindIndexEntry:
			if bytes.Compare(key, n.Key) >= 0 && below(key, n.RangeHigh) {
				return n.PID, nil
			}
		case base.KindIndexDelete:
			if bytes.Compare(key, n.RangeLow) >= 0 && below(key, n.RangeHigh) {
				return n.PID, nil
			}
		case base.KindSplit:
			if bytes.Compare(key, n.Key) >= 0 {
				return base.NilPID, base.ErrMoved
			}
		case base.KindMerge:
			if bytes.Compare(key, n.Key) >= 0 {
				n = n.Merged
				continue
			}
		case base.KindRemove:
		case base.KindBase:
			if n.Leaf {
				return base.NilPID, base.ErrCorruption
			}
			child, ok := n.ChildFor(key)
			if !ok {
				return base.NilPID, base.ErrCorruption
			}
			return child, nil
		default:
			return base.NilPID, base.ErrCorruption
		}
		n = n.Next
	}
	return base.NilPID, base.ErrCorruption
}

// PendingSMO returns the newest split or merge record above the base page,
// or nil when the chain holds none.
func PendingSMO(head *base.Node) *base.Node {
	for n := head; n != nil && !n.IsBase(); n = n.Next {
		if n.Kind == base.KindSplit || n.Kind == base.KindMerge {
			return n
		}
	}
	return nil
}

// Walk calls fn for every node reachable from head, including the chains
// absorbed by merge records. Walking stops early when fn returns false.
func Walk(head *base.Node, fn func(*base.Node) bool) {
	for n := head; n != nil; n = n.Next {
		if !fn(n) {
			return
		}
		if n.Kind == base.KindMerge && n.Merged != nil {
			Walk(n.Merged, fn)
		}
		if n.IsBase() {
			return
		}
	}
}

// below reports whether key sorts before high, with empty high as +inf.
func below(key, high []byte) bool {
	return len(high) == 0 || bytes.Compare(key, high) < 0
}
