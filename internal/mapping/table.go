// Package mapping implements the table that translates logical page ids to
// the current head of each page's delta chain.
package mapping

import (
	"errors"
	"sync/atomic"

	"github.com/alexhholmes/bwtree/internal/base"
)

// ErrExhausted is returned when every page id up to the capacity is in use.
var ErrExhausted = errors.New("mapping table exhausted")

const (
	chunkBits = 12
	chunkSize = 1 << chunkBits
	chunkMask = chunkSize - 1
)

type chunk [chunkSize]atomic.Pointer[base.Node]

// freePID is a node of the lock-free stack of recycled ids. Nodes are never
// reused, so a popped node cannot reappear at the top while a CAS holds it.
type freePID struct {
	pid  base.PID
	next *freePID
}

// Table maps page ids to chain heads. Slots are grouped in chunks that are
// allocated on first use, so a large capacity costs nothing until pages
// exist. All methods are safe for concurrent use.
type Table struct {
	chunks   []atomic.Pointer[chunk]
	capacity uint64

	next atomic.Uint64 // next never-used id
	free atomic.Pointer[freePID]
	live atomic.Int64
}

// New creates a table that can hold ids 1 through capacity-1. Id 0 is
// reserved as base.NilPID.
func New(capacity uint64) *Table {
	if capacity < 2 {
		capacity = 2
	}
	t := &Table{
		chunks:   make([]atomic.Pointer[chunk], (capacity+chunkSize-1)/chunkSize),
		capacity: capacity,
	}
	t.next.Store(1)
	return t
}

// Capacity returns the table's capacity.
func (t *Table) Capacity() uint64 {
	return t.capacity
}

// slot returns the slot for pid, allocating its chunk when create is set.
// It returns nil for ids outside the table or in chunks not yet allocated.
func (t *Table) slot(pid base.PID, create bool) *atomic.Pointer[base.Node] {
	if pid == base.NilPID || uint64(pid) >= t.capacity {
		return nil
	}

	c := &t.chunks[uint64(pid)>>chunkBits]
	ch := c.Load()
	if ch == nil {
		if !create {
			return nil
		}
		fresh := new(chunk)
		if c.CompareAndSwap(nil, fresh) {
			ch = fresh
		} else {
			ch = c.Load()
		}
	}
	return &ch[uint64(pid)&chunkMask]
}

// Get returns the chain head for pid, or nil if the slot is empty.
func (t *Table) Get(pid base.PID) *base.Node {
	s := t.slot(pid, false)
	if s == nil {
		return nil
	}
	return s.Load()
}

// CompareAndSwap installs next as the head of pid if the head is still old.
func (t *Table) CompareAndSwap(pid base.PID, old, next *base.Node) bool {
	s := t.slot(pid, false)
	if s == nil {
		return false
	}
	return s.CompareAndSwap(old, next)
}

// Init publishes the first chain of a freshly allocated pid. It fails if
// the slot already holds a page.
func (t *Table) Init(pid base.PID, n *base.Node) bool {
	s := t.slot(pid, true)
	if s == nil {
		return false
	}
	return s.CompareAndSwap(nil, n)
}

// Allocate reserves an unused pid. Recycled ids are handed out before
// fresh ones.
func (t *Table) Allocate() (base.PID, error) {
	for {
		top := t.free.Load()
		if top == nil {
			break
		}
		if t.free.CompareAndSwap(top, top.next) {
			t.live.Add(1)
			return top.pid, nil
		}
	}

	for {
		id := t.next.Load()
		if id >= t.capacity {
			return base.NilPID, ErrExhausted
		}
		if t.next.CompareAndSwap(id, id+1) {
			t.live.Add(1)
			return base.PID(id), nil
		}
	}
}

// Release empties the slot of pid and makes the id available again. The
// caller guarantees no thread can still reach the page, which for a
// published page means waiting out the reclamation grace period.
func (t *Table) Release(pid base.PID) {
	if s := t.slot(pid, false); s != nil {
		s.Store(nil)
	}
	if pid == base.NilPID || uint64(pid) >= t.capacity {
		return
	}

	f := &freePID{pid: pid}
	for {
		top := t.free.Load()
		f.next = top
		if t.free.CompareAndSwap(top, f) {
			t.live.Add(-1)
			return
		}
	}
}

// Live returns the number of allocated ids.
func (t *Table) Live() int64 {
	return t.live.Load()
}

// Retirer defers a release until no reader can observe the released state.
// *epoch.Manager implements it.
type Retirer interface {
	Retire(free func())
}

// Retire releases pid once the reclamation grace period has passed. The
// caller must already have unlinked the page from every route. cleanup, if
// not nil, runs in the same step just before pid becomes allocatable again.
func (t *Table) Retire(pid base.PID, r Retirer, cleanup func()) {
	r.Retire(func() {
		if cleanup != nil {
			cleanup()
		}
		t.Release(pid)
	})
}

// Full reports whether Allocate would fail right now.
func (t *Table) Full() bool {
	return t.free.Load() == nil && t.next.Load() >= t.capacity
}
