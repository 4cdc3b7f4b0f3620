package bwtree

import (
	"bytes"

	"github.com/alexhholmes/bwtree/internal/algo"
	"github.com/alexhholmes/bwtree/internal/base"
)

// tryMerge starts folding an underfull page into its left neighbour. The
// page is frozen first, so after the Remove record wins nothing else can
// change it, and every later step can be finished by any thread.
func (t *Tree) tryMerge(pid base.PID, head *base.Node) bool {
	if pid == t.rootPID() || head.Kind == base.KindRemove || len(head.Low) == 0 ||
		head.Count >= t.opts.minEntries {
		return false
	}
	if !t.settle(pid, head) {
		return false
	}

	_, phead, err := t.findParent(head.Low, head.Level)
	if err != nil {
		return false
	}
	pc, err := algo.Materialize(phead)
	if err != nil {
		t.log.Error("parent materialize failed", "error", err)
		return false
	}

	// The leftmost child of a parent has no left neighbour under it
	i, found := base.FindKey(pc.Keys, head.Low)
	if !found || i == 0 || pc.Children[i] != pid {
		return false
	}

	left := pc.Children[i-1]
	lh := t.table.Get(left)
	if lh == nil || lh.Kind == base.KindRemove || lh.Kind == base.KindFreed ||
		lh.Right != pid || !bytes.Equal(lh.High, head.Low) ||
		lh.Count+head.Count > t.opts.maxEntries {
		return false
	}

	rm := base.NewRemove(head, left)
	if !t.table.CompareAndSwap(pid, head, rm) {
		metricSMOs.WithLabelValues("remove", "abandoned").Inc()
		return false
	}
	metricSMOs.WithLabelValues("remove", "installed").Inc()

	t.helpMerge(pid, rm)
	return true
}

// helpMerge drives the merge of the frozen page pid, whose head is rm, to
// completion.
func (t *Tree) helpMerge(pid base.PID, rm *base.Node) {
	if t.mergeLeft(pid, rm) {
		t.mergeParent(pid, rm)
	}
}

// mergeLeft installs the merge record on the page that ends where the
// frozen page begins. It reports whether that page now covers the frozen
// range.
func (t *Tree) mergeLeft(pid base.PID, rm *base.Node) bool {
	cand := rm.PID
	for steps := 0; steps < maxSteps; steps++ {
		h := t.table.Get(cand)
		if h == nil || h.Kind == base.KindFreed || h.Level != rm.Level {
			return false
		}
		if h.Kind == base.KindRemove {
			// The left neighbour is itself being merged away
			t.helpMerge(cand, h)
			cand = h.PID
			continue
		}
		if h.Covers(rm.Low) {
			return true
		}

		if bytes.Equal(h.High, rm.Low) && h.Right == pid {
			d := base.NewMerge(h, pid, rm)
			if t.table.CompareAndSwap(cand, h, d) {
				t.counters.merges.Inc()
				metricSMOs.WithLabelValues("merge", "installed").Inc()
				return true
			}
			continue
		}

		// A split of the left page moved its upper part further right
		if len(h.High) == 0 || bytes.Compare(h.High, rm.Low) > 0 ||
			h.Right == pid || h.Right == base.NilPID {
			return false
		}
		cand = h.Right
	}
	return false
}

// mergeParent removes the separator of the frozen page from its parent and
// retires the page. It reports whether the parent no longer routes to it.
func (t *Tree) mergeParent(pid base.PID, rm *base.Node) bool {
	for attempt := 0; attempt < maxRestarts; attempt++ {
		ppid, phead, err := t.findParent(rm.Low, rm.Level)
		if err != nil {
			return false
		}
		pc, err := algo.Materialize(phead)
		if err != nil {
			t.log.Error("parent materialize failed", "error", err)
			return false
		}

		i, found := base.FindKey(pc.Keys, rm.Low)
		if !found || pc.Children[i] != pid {
			return true
		}
		if i == 0 {
			// The parent split between the separator and its left
			// neighbour. The frozen page keeps forwarding to the left.
			return false
		}

		high := pc.High
		if i+1 < pc.Len() {
			high = pc.Keys[i+1]
		}
		d := base.NewIndexDelete(phead, rm.Low, pc.Children[i-1], pc.Keys[i-1], high)
		if t.table.CompareAndSwap(ppid, phead, d) {
			t.counters.helps.Inc()
			metricHelps.WithLabelValues("merge").Inc()
			t.retirePage(pid, rm)
			t.maintain(ppid, d, rm.Low)
			return true
		}
		t.backoff(attempt)
	}
	return false
}

// retirePage reclaims a page id once no route leads to it. The page's chain
// below its Remove record belongs to the merge record of its left
// neighbour and is reclaimed with that page's chain. Flush state for the id
// is dropped before the id can be allocated to a new page.
func (t *Tree) retirePage(pid base.PID, rm *base.Node) {
	t.table.Retire(pid, t.epochs, func() {
		rm.Release()
		t.flusher.forget(pid)
		metricReclaimed.WithLabelValues("page").Inc()
	})
	metricPages.Set(float64(t.table.Live()))
}
