// Package bwtree implements a latch-free, in-memory Bw-Tree: a B+-tree
// whose pages are reached through a mapping table and modified by
// prepending delta records with a single compare-and-swap. Readers never
// block writers, and memory unlinked from the tree is reclaimed only after
// every thread that could still observe it has left.
package bwtree

import (
	"runtime"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/alexhholmes/bwtree/internal/base"
	"github.com/alexhholmes/bwtree/internal/epoch"
	"github.com/alexhholmes/bwtree/internal/mapping"
)

// PID identifies a logical page.
type PID = base.PID

// Tree is a concurrent ordered map from byte-string keys to byte-string
// values. All methods are safe for concurrent use.
type Tree struct {
	opts Options
	log  Logger

	table   *mapping.Table
	epochs  *epoch.Manager
	flusher *flusher // nil without a flush hook

	root   atomic.Uint64 // PID of the root page
	closed atomic.Bool

	counters counters
}

// counters back Stats. Each is striped so hot paths do not contend.
type counters struct {
	gets           *xsync.Counter
	inserts        *xsync.Counter
	updates        *xsync.Counter
	deletes        *xsync.Counter
	scans          *xsync.Counter
	conflicts      *xsync.Counter
	consolidations *xsync.Counter
	splits         *xsync.Counter
	merges         *xsync.Counter
	helps          *xsync.Counter
}

func newCounters() counters {
	return counters{
		gets:           xsync.NewCounter(),
		inserts:        xsync.NewCounter(),
		updates:        xsync.NewCounter(),
		deletes:        xsync.NewCounter(),
		scans:          xsync.NewCounter(),
		conflicts:      xsync.NewCounter(),
		consolidations: xsync.NewCounter(),
		splits:         xsync.NewCounter(),
		merges:         xsync.NewCounter(),
		helps:          xsync.NewCounter(),
	}
}

// New creates an empty tree: an inner root over a single empty leaf whose
// range covers every key.
func New(opts ...Option) (*Tree, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	t := &Tree{
		opts:     o,
		log:      o.logger,
		table:    mapping.New(o.tableCapacity),
		epochs:   epoch.New(o.maxSessions, o.reclaimBatch),
		counters: newCounters(),
	}

	rootPID, err := t.table.Allocate()
	if err != nil {
		return nil, err
	}
	leafPID, err := t.table.Allocate()
	if err != nil {
		return nil, err
	}
	t.table.Init(leafPID, base.NewLeaf(nil, nil, base.NilPID, nil, nil))
	t.table.Init(rootPID, base.NewInner(1, nil, nil, base.NilPID, [][]byte{nil}, []base.PID{leafPID}))
	t.root.Store(uint64(rootPID))
	metricPages.Set(float64(t.table.Live()))

	if o.flushHook != nil {
		t.flusher, err = newFlusher(o.flushHook, o.flushCacheSize, o.logger)
		if err != nil {
			return nil, err
		}
		t.flusher.start()
	}
	t.epochs.Start(o.collectInterval)

	return t, nil
}

// pinner protects the nodes an operation reads from reclamation.
type pinner interface {
	pin() (unpin func(), err error)
}

// pin claims a transient epoch slot for a single operation.
func (t *Tree) pin() (func(), error) {
	if t.closed.Load() {
		return nil, ErrTreeClosed
	}
	g, err := t.epochs.Pin()
	if err != nil {
		return nil, err
	}
	// Close waits for transient pins, so recheck after claiming one
	if t.closed.Load() {
		g.Unpin()
		return nil, ErrTreeClosed
	}
	return g.Unpin, nil
}

func (t *Tree) rootPID() base.PID {
	return base.PID(t.root.Load())
}

// Get returns a copy of the value stored under key, or ErrKeyNotFound.
func (t *Tree) Get(key []byte) ([]byte, error) {
	return t.get(t, key)
}

// Insert stores value under key, replacing any existing value.
func (t *Tree) Insert(key, value []byte) error {
	_, err := t.mutate(t, opInsert, key, value)
	return err
}

// Update replaces the value of an existing key. It reports false, and
// changes nothing, when key is absent.
func (t *Tree) Update(key, value []byte) (bool, error) {
	return t.mutate(t, opUpdate, key, value)
}

// Delete removes key. It reports false when key is absent.
func (t *Tree) Delete(key []byte) (bool, error) {
	return t.mutate(t, opDelete, key, nil)
}

// Scan returns an iterator over the keys >= start in ascending order. The
// iterator is not a snapshot: it reflects each page as of the moment it is
// read.
func (t *Tree) Scan(start []byte) *Iterator {
	return newIterator(t, t, start)
}

// Close stops background work. Every session must be deregistered first.
// Operations started after Close fail with ErrTreeClosed.
func (t *Tree) Close() error {
	if t.epochs.Registered() > 0 {
		return ErrSessionsActive
	}
	if !t.closed.CompareAndSwap(false, true) {
		return ErrTreeClosed
	}

	for t.epochs.Transient() > 0 {
		runtime.Gosched()
	}

	t.flusher.stop()
	t.epochs.Stop()
	metricEpoch.Set(float64(t.epochs.Epoch()))
	t.log.Info("tree closed", "pages", t.table.Live(), "pending", t.epochs.Pending())
	return nil
}

// Stats is a point-in-time summary of a tree.
type Stats struct {
	Pages          int64  // live page ids
	Height         int    // levels including the leaves
	Epoch          uint64 // global reclamation epoch
	PendingGarbage int    // retired objects awaiting reclamation
	Reclaimed      uint64 // objects reclaimed so far
	Sessions       int    // registered sessions

	Gets    int64
	Inserts int64
	Updates int64
	Deletes int64
	Scans   int64

	Conflicts      int64
	Consolidations int64
	Splits         int64
	Merges         int64
	Helps          int64
}

// Stats returns current statistics.
func (t *Tree) Stats() Stats {
	height := 0
	if g, err := t.epochs.Pin(); err == nil {
		if head := t.table.Get(t.rootPID()); head != nil {
			height = head.Level + 1
		}
		g.Unpin()
	}
	s := Stats{
		Pages:          t.table.Live(),
		Height:         height,
		Epoch:          t.epochs.Epoch(),
		PendingGarbage: t.epochs.Pending(),
		Reclaimed:      t.epochs.Reclaimed(),
		Sessions:       t.epochs.Registered(),
		Gets:           t.counters.gets.Value(),
		Inserts:        t.counters.inserts.Value(),
		Updates:        t.counters.updates.Value(),
		Deletes:        t.counters.deletes.Value(),
		Scans:          t.counters.scans.Value(),
		Conflicts:      t.counters.conflicts.Value(),
		Consolidations: t.counters.consolidations.Value(),
		Splits:         t.counters.splits.Value(),
		Merges:         t.counters.merges.Value(),
		Helps:          t.counters.helps.Value(),
	}
	metricEpoch.Set(float64(s.Epoch))
	metricPages.Set(float64(s.Pages))
	return s
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
