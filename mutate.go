package bwtree

import (
	"errors"

	"github.com/alexhholmes/bwtree/internal/algo"
	"github.com/alexhholmes/bwtree/internal/base"
)

func (t *Tree) get(p pinner, key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrKeyEmpty
	}
	t.counters.gets.Inc()
	metricOperations.WithLabelValues(opGet).Inc()

	unpin, err := p.pin()
	if err != nil {
		return nil, err
	}
	defer unpin()

	for attempt := 0; attempt < maxRestarts; attempt++ {
		_, head, err := t.descend(key)
		if err != nil {
			return nil, err
		}

		v, found, err := algo.SearchLeaf(head, key)
		if errors.Is(err, base.ErrMoved) {
			t.conflict(opGet, attempt)
			continue
		}
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ErrKeyNotFound
		}
		return clone(v), nil
	}
	return nil, ErrCorruption
}

// mutate installs one insert, update or delete record. It reports whether
// the tree changed. The operation takes effect at its successful CAS.
func (t *Tree) mutate(p pinner, op string, key, value []byte) (bool, error) {
	if len(key) == 0 {
		return false, ErrKeyEmpty
	}
	switch op {
	case opInsert:
		t.counters.inserts.Inc()
	case opUpdate:
		t.counters.updates.Inc()
	case opDelete:
		t.counters.deletes.Inc()
	}
	metricOperations.WithLabelValues(op).Inc()

	// The tree keeps references, so callers may reuse their buffers
	key = clone(key)
	value = clone(value)

	unpin, err := p.pin()
	if err != nil {
		return false, err
	}
	defer unpin()

	for attempt := 0; attempt < maxRestarts; attempt++ {
		pid, head, err := t.descend(key)
		if err != nil {
			return false, err
		}

		_, found, err := algo.SearchLeaf(head, key)
		if errors.Is(err, base.ErrMoved) {
			t.conflict(op, attempt)
			continue
		}
		if err != nil {
			return false, err
		}

		var d *base.Node
		switch {
		case op == opInsert && found:
			d = base.NewUpdate(head, key, value)
		case op == opInsert:
			d = base.NewInsert(head, key, value)
			// Refuse growth that could never be split
			if d.Count > t.opts.maxEntries && t.table.Full() {
				return false, ErrExhausted
			}
		case !found:
			return false, nil
		case op == opUpdate:
			d = base.NewUpdate(head, key, value)
		default:
			d = base.NewDelete(head, key)
		}

		if t.table.CompareAndSwap(pid, head, d) {
			t.maintain(pid, d, key)
			return true, nil
		}
		t.conflict(op, attempt)
	}
	t.log.Error("operation did not converge", "op", op, "restarts", maxRestarts)
	return false, ErrCorruption
}

func (t *Tree) conflict(op string, attempt int) {
	t.counters.conflicts.Inc()
	metricConflicts.WithLabelValues(op).Inc()
	t.backoff(attempt)
}
