package bwtree

import (
	"errors"
	"runtime"

	"github.com/alexhholmes/bwtree/internal/algo"
	"github.com/alexhholmes/bwtree/internal/base"
)

const (
	// maxRestarts bounds how often one operation restarts from the root.
	// Reaching it means the tree no longer converges.
	maxRestarts = 1 << 16

	// maxSteps bounds the pages visited in one descent.
	maxSteps = 1 << 16
)

// backoff yields the processor every retryYield failed attempts.
func (t *Tree) backoff(attempt int) {
	if attempt%t.opts.retryYield == t.opts.retryYield-1 {
		runtime.Gosched()
	}
}

// descend returns the leaf page whose range holds key, together with the
// head observed there. The caller must be pinned.
func (t *Tree) descend(key []byte) (base.PID, *base.Node, error) {
	for attempt := 0; attempt < maxRestarts; attempt++ {
		pid, head, err := t.tryDescend(key)
		if err == nil {
			return pid, head, nil
		}
		if !errors.Is(err, errConflict) {
			t.log.Error("descent failed", "error", err)
			return base.NilPID, nil, err
		}
		t.backoff(attempt)
	}
	t.log.Error("descent did not converge", "restarts", maxRestarts)
	return base.NilPID, nil, ErrCorruption
}

func (t *Tree) tryDescend(key []byte) (base.PID, *base.Node, error) {
	pid := t.rootPID()
	fromParent := true
	level := -1

	for steps := 0; steps < maxSteps; steps++ {
		head := t.table.Get(pid)
		if head == nil {
			return base.NilPID, nil, errConflict
		}

		switch {
		case head.Kind == base.KindFreed:
			return base.NilPID, nil, ErrCorruption
		case level >= 0 && head.Level != level:
			return base.NilPID, nil, errConflict
		case head.Kind == base.KindRemove:
			// Finish the merge, then look in the page that absorbed this one
			t.helpMerge(pid, head)
			pid, fromParent = head.PID, false
			continue
		case head.BelowLow(key):
			return base.NilPID, nil, errConflict
		case head.BeyondHigh(key):
			if head.Right == base.NilPID {
				return base.NilPID, nil, ErrCorruption
			}
			if fromParent {
				t.completeSplit(head.Level, head.High, head.Right)
			}
			pid, fromParent = head.Right, false
			continue
		case head.Depth > t.opts.consolidateThreshold:
			if _, err := t.consolidate(pid, head); err != nil {
				return base.NilPID, nil, err
			}
			continue
		}

		if head.Leaf {
			return pid, head, nil
		}

		if head.Count > t.opts.maxEntries {
			if err := t.split(pid, head, key); err != nil && !errors.Is(err, ErrExhausted) {
				return base.NilPID, nil, err
			}
		} else if head.Count < t.opts.minEntries {
			t.tryMerge(pid, head)
		}

		child, err := algo.Route(head, key)
		if err != nil {
			if errors.Is(err, base.ErrMoved) {
				return base.NilPID, nil, errConflict
			}
			return base.NilPID, nil, err
		}
		pid, fromParent, level = child, true, head.Level-1
	}
	return base.NilPID, nil, errConflict
}

// findParent returns the page at level+1 whose range holds key. It returns
// errNoParent when level is the root level.
func (t *Tree) findParent(key []byte, level int) (base.PID, *base.Node, error) {
	pid := t.rootPID()
	for steps := 0; steps < maxSteps; steps++ {
		head := t.table.Get(pid)
		if head == nil {
			return base.NilPID, nil, errConflict
		}

		switch {
		case head.Kind == base.KindFreed:
			return base.NilPID, nil, ErrCorruption
		case head.Level <= level:
			if pid == t.rootPID() {
				return base.NilPID, nil, errNoParent
			}
			return base.NilPID, nil, errConflict
		case head.Kind == base.KindRemove:
			t.helpMerge(pid, head)
			pid = head.PID
			continue
		case head.BelowLow(key):
			return base.NilPID, nil, errConflict
		case head.BeyondHigh(key):
			pid = head.Right
			continue
		case head.Level == level+1:
			return pid, head, nil
		}

		child, err := algo.Route(head, key)
		if err != nil {
			if errors.Is(err, base.ErrMoved) {
				return base.NilPID, nil, errConflict
			}
			return base.NilPID, nil, err
		}
		pid = child
	}
	return base.NilPID, nil, errConflict
}
