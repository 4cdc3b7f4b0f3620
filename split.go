package bwtree

import (
	"bytes"
	"errors"

	"github.com/alexhholmes/bwtree/internal/algo"
	"github.com/alexhholmes/bwtree/internal/base"
)

// split runs both halves of a page split. hint is the key whose insertion
// overflowed the page and biases the split point for sequential loads.
func (t *Tree) split(pid base.PID, head *base.Node, hint []byte) error {
	d, err := t.halfSplit(pid, head, hint)
	if err != nil || d == nil {
		return err
	}
	t.completeSplit(d.Level, d.Key, d.PID)
	return nil
}

// halfSplit moves the upper half of the page to a new sibling and installs
// the split record. The sibling is reachable through the page's right link
// from then on; the parent learns about it in completeSplit. It returns nil
// when the split was not needed or lost a race.
func (t *Tree) halfSplit(pid base.PID, head *base.Node, hint []byte) (*base.Node, error) {
	if head.Kind == base.KindRemove || head.Count <= t.opts.maxEntries {
		return nil, nil
	}
	if !t.settle(pid, head) {
		return nil, nil
	}

	c, err := algo.Materialize(head)
	if err != nil {
		return nil, err
	}
	if c.Len() < 2 {
		return nil, nil
	}

	mid := algo.SplitIndex(c.Len(), algo.DetectHint(c.Keys, hint))
	sep := c.Keys[mid]

	spid, err := t.table.Allocate()
	if err != nil {
		t.log.Warn("page split failed", "pid", pid, "error", err)
		metricSMOs.WithLabelValues("split", "exhausted").Inc()
		return nil, err
	}
	right := c.Slice(mid, c.Len())
	right.Low = sep
	t.table.Init(spid, right.Node())

	d := base.NewSplit(head, sep, spid, mid)
	if !t.table.CompareAndSwap(pid, head, d) {
		t.table.Release(spid)
		metricSMOs.WithLabelValues("split", "abandoned").Inc()
		return nil, nil
	}

	t.counters.splits.Inc()
	metricSMOs.WithLabelValues("split", "installed").Inc()
	metricPages.Set(float64(t.table.Live()))
	t.flusher.enqueue(spid, right)
	return d, nil
}

// completeSplit posts the index entry routing [key, ...) to sibling on the
// parent of a page at level, or grows the tree when that page is the root.
// Any thread may call it; it returns once the entry is present or no longer
// needed.
func (t *Tree) completeSplit(level int, key []byte, sibling base.PID) bool {
	for attempt := 0; attempt < maxRestarts; attempt++ {
		ppid, phead, err := t.findParent(key, level)
		switch {
		case errors.Is(err, errNoParent):
			done, err := t.growRoot()
			if err != nil {
				return false
			}
			if done {
				return true
			}
		case err != nil:
			if !errors.Is(err, errConflict) {
				return false
			}
		default:
			done, err := t.installIndexEntry(ppid, phead, level, key, sibling)
			if err != nil {
				t.log.Error("index entry install failed", "pid", ppid, "error", err)
				return false
			}
			if done {
				return true
			}
		}
		metricSMOs.WithLabelValues("index-entry", "retry").Inc()
		t.backoff(attempt)
	}
	return false
}

func (t *Tree) installIndexEntry(ppid base.PID, phead *base.Node, level int, key []byte, sibling base.PID) (bool, error) {
	c, err := algo.Materialize(phead)
	if err != nil {
		return false, err
	}
	i := base.FindChild(c.Keys, key)
	if i < 0 {
		return false, ErrCorruption
	}
	if c.Children[i] == sibling || bytes.Equal(c.Keys[i], key) {
		return true, nil
	}

	// The sibling must still be the page created by this split
	sh := t.table.Get(sibling)
	if sh == nil || sh.Kind == base.KindRemove || sh.Kind == base.KindFreed ||
		sh.Level != level || !bytes.Equal(sh.Low, key) {
		return true, nil
	}

	high := c.High
	if i+1 < c.Len() {
		high = c.Keys[i+1]
	}
	d := base.NewIndexEntry(phead, key, sibling, high)
	if !t.table.CompareAndSwap(ppid, phead, d) {
		return false, nil
	}

	t.counters.helps.Inc()
	metricHelps.WithLabelValues("split").Inc()
	t.maintain(ppid, d, key)
	return true, nil
}

// growRoot installs a new root above the current one once the current root
// has split. It reports whether the root is settled.
func (t *Tree) growRoot() (bool, error) {
	rpid := t.rootPID()
	rhead := t.table.Get(rpid)
	if rhead == nil || rhead.Kind == base.KindFreed {
		return false, nil
	}
	if len(rhead.High) == 0 {
		return true, nil
	}

	npid, err := t.table.Allocate()
	if err != nil {
		t.log.Warn("root growth failed", "error", err)
		return false, err
	}
	root := base.NewInner(rhead.Level+1, nil, nil, base.NilPID,
		[][]byte{nil, rhead.High}, []base.PID{rpid, rhead.Right})
	t.table.Init(npid, root)

	if !t.root.CompareAndSwap(uint64(rpid), uint64(npid)) {
		// Never published
		t.table.Release(npid)
		return false, nil
	}

	metricSMOs.WithLabelValues("root", "installed").Inc()
	metricPages.Set(float64(t.table.Live()))
	t.log.Info("tree height increased", "root", npid, "height", root.Level+1)
	return true, nil
}

// settle completes the newest structure modification recorded on a page so
// that a new one can start. It reports false if that could not be done.
func (t *Tree) settle(pid base.PID, head *base.Node) bool {
	smo := algo.PendingSMO(head)
	if smo == nil {
		return true
	}

	switch smo.Kind {
	case base.KindSplit:
		return t.completeSplit(head.Level, smo.Key, smo.PID)
	case base.KindMerge:
		rm := t.table.Get(smo.PID)
		if rm == nil || rm.Kind != base.KindRemove || !bytes.Equal(rm.Low, smo.Key) {
			return true
		}
		return t.mergeParent(smo.PID, rm)
	}
	return true
}
