// Package algo contains the algorithms that read and reshape delta chains.
package algo

import (
	"github.com/alexhholmes/bwtree/internal/base"
)

// Content is the logical state of a page: its header and sorted entries
// with every delta record applied.
type Content struct {
	Leaf  bool
	Level int
	Low   []byte
	High  []byte
	Right base.PID

	Keys     [][]byte
	Values   [][]byte    // leaf pages
	Children []base.PID // inner pages
}

// Len returns the number of entries.
func (c *Content) Len() int {
	return len(c.Keys)
}

// Node builds a fresh base page holding c.
func (c *Content) Node() *base.Node {
	if c.Leaf {
		return base.NewLeaf(c.Low, c.High, c.Right, c.Keys, c.Values)
	}
	return base.NewInner(c.Level, c.Low, c.High, c.Right, c.Keys, c.Children)
}

// Materialize replays the chain starting at head into a Content. Records are
// applied oldest first, so the newest record for a key wins. Slices in the
// result are fresh; the byte slices they hold are shared with the chain.
func Materialize(head *base.Node) (*Content, error) {
	if head == nil {
		return nil, base.ErrCorruption
	}

	// Collect deltas newest first
	var deltas []*base.Node
	n := head
	for !n.IsBase() {
		if n.Kind == base.KindFreed || len(deltas) >= base.MaxChainLength {
			return nil, base.ErrCorruption
		}
		deltas = append(deltas, n)
		n = n.Next
		if n == nil {
			return nil, base.ErrCorruption
		}
	}
	if n.Leaf != head.Leaf {
		return nil, base.ErrCorruption
	}

	c := &Content{
		Leaf:  head.Leaf,
		Level: head.Level,
		Low:   head.Low,
		High:  head.High,
		Right: head.Right,
		Keys:  append([][]byte(nil), n.Keys...),
	}
	if c.Leaf {
		c.Values = append([][]byte(nil), n.Values...)
	} else {
		c.Children = append([]base.PID(nil), n.Children...)
	}

	for i := len(deltas) - 1; i >= 0; i-- {
		if err := c.apply(deltas[i]); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Content) apply(d *base.Node) error {
	switch d.Kind {
	case base.KindInsert, base.KindUpdate:
		if !c.Leaf {
			return base.ErrCorruption
		}
		c.set(d.Key, d.Value, base.NilPID)
	case base.KindDelete:
		if !c.Leaf {
			return base.ErrCorruption
		}
		c.remove(d.Key)
	case base.KindIndexEntry:
		if c.Leaf {
			return base.ErrCorruption
		}
		c.set(d.Key, nil, d.PID)
	case base.KindIndexDelete:
		if c.Leaf {
			return base.ErrCorruption
		}
		// The leftmost separator is the page's own lower bound
		if i, ok := base.FindKey(c.Keys, d.Key); ok && i > 0 {
			c.removeAt(i)
		}
	case base.KindSplit:
		c.truncate(d.Key)
	case base.KindMerge:
		merged, err := Materialize(d.Merged)
		if err != nil {
			return err
		}
		if merged.Leaf != c.Leaf {
			return base.ErrCorruption
		}
		c.truncate(d.Key)
		c.Keys = append(c.Keys, merged.Keys...)
		if c.Leaf {
			c.Values = append(c.Values, merged.Values...)
		} else {
			c.Children = append(c.Children, merged.Children...)
		}
	case base.KindRemove:
		// Freezes the page, no content change
	default:
		return base.ErrCorruption
	}
	return nil
}

func (c *Content) set(key, value []byte, child base.PID) {
	i, found := base.FindKey(c.Keys, key)
	if found {
		if c.Leaf {
			c.Values[i] = value
		} else {
			c.Children[i] = child
		}
		return
	}

	c.Keys = append(c.Keys, nil)
	copy(c.Keys[i+1:], c.Keys[i:])
	c.Keys[i] = key
	if c.Leaf {
		c.Values = append(c.Values, nil)
		copy(c.Values[i+1:], c.Values[i:])
		c.Values[i] = value
	} else {
		c.Children = append(c.Children, base.NilPID)
		copy(c.Children[i+1:], c.Children[i:])
		c.Children[i] = child
	}
}

func (c *Content) remove(key []byte) {
	if i, found := base.FindKey(c.Keys, key); found {
		c.removeAt(i)
	}
}

func (c *Content) removeAt(i int) {
	c.Keys = append(c.Keys[:i], c.Keys[i+1:]...)
	if c.Leaf {
		c.Values = append(c.Values[:i], c.Values[i+1:]...)
	} else {
		c.Children = append(c.Children[:i], c.Children[i+1:]...)
	}
}

// truncate drops entries >= key.
func (c *Content) truncate(key []byte) {
	i, _ := base.FindKey(c.Keys, key)
	c.Keys = c.Keys[:i]
	if c.Leaf {
		c.Values = c.Values[:i]
	} else {
		c.Children = c.Children[:i]
	}
}

// Slice returns the entries [from, to) as a new Content with fresh slices.
// The header is copied from c and must be adjusted by the caller.
func (c *Content) Slice(from, to int) *Content {
	out := &Content{
		Leaf:  c.Leaf,
		Level: c.Level,
		Low:   c.Low,
		High:  c.High,
		Right: c.Right,
		Keys:  append([][]byte(nil), c.Keys[from:to]...),
	}
	if c.Leaf {
		out.Values = append([][]byte(nil), c.Values[from:to]...)
	} else {
		out.Children = append([]base.PID(nil), c.Children[from:to]...)
	}
	return out
}
