package bwtree

import (
	"github.com/alexhholmes/bwtree/internal/algo"
	"github.com/alexhholmes/bwtree/internal/base"
)

// Iterator walks keys in ascending order one leaf at a time. Each leaf is
// read under its own epoch pin, so an iterator holds no pin between calls
// to Next. An Iterator is not safe for concurrent use.
type Iterator struct {
	t *Tree
	p pinner

	// Current batch, copied out of one leaf
	keys   [][]byte
	values [][]byte
	pos    int

	resume  []byte   // smallest key not yet returned
	nextPID base.PID // leaf expected to hold resume
	done    bool
	err     error

	key   []byte
	value []byte
}

func newIterator(t *Tree, p pinner, start []byte) *Iterator {
	t.counters.scans.Inc()
	metricOperations.WithLabelValues(opScan).Inc()
	return &Iterator{t: t, p: p, resume: clone(start)}
}

// Next advances to the next key. It returns false when the scan is
// exhausted or failed; check Err to tell the two apart.
func (it *Iterator) Next() bool {
	for {
		if it.pos < len(it.keys) {
			it.key = it.keys[it.pos]
			it.value = it.values[it.pos]
			it.pos++
			return true
		}
		if it.done || it.err != nil {
			it.key, it.value = nil, nil
			return false
		}
		if err := it.fill(); err != nil {
			it.err = err
		}
	}
}

// Key returns the current key. The slice is owned by the caller.
func (it *Iterator) Key() []byte {
	return it.key
}

// Value returns the current value. The slice is owned by the caller.
func (it *Iterator) Value() []byte {
	return it.value
}

// Err returns the error that ended the scan, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Close releases the iterator. Calling Next afterwards returns false.
func (it *Iterator) Close() {
	it.done = true
	it.keys, it.values, it.pos = nil, nil, 0
	it.key, it.value = nil, nil
}

// fill loads the entries >= resume from the leaf holding resume.
func (it *Iterator) fill() error {
	unpin, err := it.p.pin()
	if err != nil {
		return err
	}
	defer unpin()

	head := it.follow()
	if head == nil {
		if _, head, err = it.t.descend(it.resume); err != nil {
			return err
		}
	}

	c, err := algo.Materialize(head)
	if err != nil {
		return err
	}

	i, _ := base.FindKey(c.Keys, it.resume)
	it.keys = it.keys[:0]
	it.values = it.values[:0]
	for ; i < c.Len(); i++ {
		it.keys = append(it.keys, clone(c.Keys[i]))
		it.values = append(it.values, clone(c.Values[i]))
	}
	it.pos = 0

	if len(c.High) == 0 {
		it.done = true
		return nil
	}
	it.resume = clone(c.High)
	it.nextPID = c.Right
	return nil
}

// follow returns the head of the right sibling recorded by the previous
// batch if it still starts the remaining range, or nil when the scan must
// descend from the root instead.
func (it *Iterator) follow() *base.Node {
	if it.nextPID == base.NilPID {
		return nil
	}
	h := it.t.table.Get(it.nextPID)
	if h == nil || !h.Leaf || h.Kind == base.KindRemove || h.Kind == base.KindFreed ||
		!h.Covers(it.resume) || h.Depth > it.t.opts.consolidateThreshold {
		return nil
	}
	return h
}
