// Package epoch implements epoch-based reclamation. Threads pin the global
// epoch while they read shared nodes; memory unlinked from the tree is
// retired with the epoch current at that time and released only once no
// pinned thread can still observe it.
package epoch

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBatch is the number of pending items that wakes the collector.
const DefaultBatch = 64

// item is one retired object awaiting its grace period.
type item struct {
	epoch uint64
	free  func()
	next  *item
}

// Manager tracks participants and the garbage they retire.
type Manager struct {
	slots      []slot
	hint       atomic.Uint32
	registered atomic.Int32
	transient  atomic.Int32

	global atomic.Uint64

	// Retired items, pushed lock-free and drained by one collector at a time
	garbage    atomic.Pointer[item]
	pending    atomic.Int64
	reclaimed  atomic.Uint64
	batch      int64
	collecting atomic.Bool

	background atomic.Bool
	kick       chan struct{}
	stopC      chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// New creates a manager with room for maxParticipants concurrently pinned
// threads. batch <= 0 selects DefaultBatch.
func New(maxParticipants, batch int) *Manager {
	if maxParticipants < 1 {
		maxParticipants = 1
	}
	if batch <= 0 {
		batch = DefaultBatch
	}
	m := &Manager{
		slots: make([]slot, maxParticipants),
		batch: int64(batch),
		kick:  make(chan struct{}, 1),
		stopC: make(chan struct{}),
	}
	m.global.Store(1)
	return m
}

// Epoch returns the global epoch.
func (m *Manager) Epoch() uint64 {
	return m.global.Load()
}

// Pending returns the number of retired items not yet released.
func (m *Manager) Pending() int {
	return int(m.pending.Load())
}

// Reclaimed returns the number of items released so far.
func (m *Manager) Reclaimed() uint64 {
	return m.reclaimed.Load()
}

// Retire schedules free to run once every thread pinned now has unpinned.
// The caller must have made the object unreachable before retiring it.
func (m *Manager) Retire(free func()) {
	it := &item{epoch: m.global.Load(), free: free}
	m.push(it)

	if m.pending.Add(1) < m.batch {
		return
	}
	if m.background.Load() {
		select {
		case m.kick <- struct{}{}:
		default:
		}
		return
	}
	m.Collect()
}

func (m *Manager) push(it *item) {
	for {
		top := m.garbage.Load()
		it.next = top
		if m.garbage.CompareAndSwap(top, it) {
			return
		}
	}
}

// tryAdvance bumps the global epoch if every pinned thread has caught up
// with it.
func (m *Manager) tryAdvance() {
	e := m.global.Load()
	if m.minPinned() < e {
		return
	}
	m.global.CompareAndSwap(e, e+1)
}

// Collect advances the epoch when possible and releases every item whose
// grace period has passed. It returns the number released. Concurrent calls
// return 0 while another collection runs.
func (m *Manager) Collect() int {
	if !m.collecting.CompareAndSwap(false, true) {
		return 0
	}
	defer m.collecting.Store(false)

	m.tryAdvance()
	safe := min(m.minPinned(), m.global.Load())

	list := m.garbage.Swap(nil)
	var keep *item
	freed := 0
	for it := list; it != nil; {
		next := it.next
		if it.epoch < safe {
			it.free()
			freed++
		} else {
			it.next = keep
			keep = it
		}
		it = next
	}
	for keep != nil {
		next := keep.next
		m.push(keep)
		keep = next
	}

	m.pending.Add(-int64(freed))
	m.reclaimed.Add(uint64(freed))
	return freed
}

// Drain collects until nothing is pending or no progress can be made, and
// returns the number of items left.
func (m *Manager) Drain() int {
	for attempts := 0; m.Pending() > 0 && attempts < 4; {
		if m.Collect() == 0 {
			attempts++
		} else {
			attempts = 0
		}
	}
	return m.Pending()
}

// Start runs the collector in a background goroutine, waking every interval
// and whenever the pending batch fills up.
func (m *Manager) Start(interval time.Duration) {
	if !m.background.CompareAndSwap(false, true) {
		return
	}
	m.wg.Add(1)
	go m.collector(interval)
}

// Stop terminates the background collector and releases what it can.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopC)
	})
	m.wg.Wait()
	m.background.Store(false)
	m.Drain()
}

func (m *Manager) collector(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Periodic pass, also advances the epoch for idle trees
			m.Collect()

		case <-m.kick:
			// Batch full
			m.Collect()

		case <-m.stopC:
			return
		}
	}
}
