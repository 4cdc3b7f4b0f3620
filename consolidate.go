package bwtree

import (
	"github.com/alexhholmes/bwtree/internal/algo"
	"github.com/alexhholmes/bwtree/internal/base"
)

// consolidate replaces the chain at head with a single base page. A lost
// CAS abandons the attempt; the next thread to see the long chain retries.
// It returns the installed page, or nil.
func (t *Tree) consolidate(pid base.PID, head *base.Node) (*base.Node, error) {
	if head.Kind == base.KindRemove || head.IsBase() {
		return nil, nil
	}

	c, err := algo.Materialize(head)
	if err != nil {
		t.log.Error("consolidation failed", "pid", pid, "error", err)
		return nil, err
	}
	n := c.Node()
	if !t.table.CompareAndSwap(pid, head, n) {
		metricConsolidations.WithLabelValues("abandoned").Inc()
		return nil, nil
	}

	t.counters.consolidations.Inc()
	metricConsolidations.WithLabelValues("installed").Inc()
	t.retireChain(head)
	t.flusher.enqueue(pid, c)
	return n, nil
}

// retireChain reclaims every node of a replaced chain, including the chains
// absorbed by its merge records.
func (t *Tree) retireChain(head *base.Node) {
	t.epochs.Retire(func() {
		var nodes []*base.Node
		algo.Walk(head, func(n *base.Node) bool {
			nodes = append(nodes, n)
			return true
		})
		for _, n := range nodes {
			n.Release()
		}
		metricReclaimed.WithLabelValues("node").Add(float64(len(nodes)))
	})
}

// maintain applies the follow-up work a successful delta install may call
// for: consolidating a long chain, then splitting or merging by size.
func (t *Tree) maintain(pid base.PID, head *base.Node, key []byte) {
	if head.Depth > t.opts.consolidateThreshold {
		n, err := t.consolidate(pid, head)
		if err != nil || n == nil {
			return
		}
		head = n
	}

	switch {
	case head.Count > t.opts.maxEntries:
		if err := t.split(pid, head, key); err != nil {
			t.log.Warn("split failed", "pid", pid, "error", err)
		}
	case head.Count < t.opts.minEntries:
		t.tryMerge(pid, head)
	}
}
