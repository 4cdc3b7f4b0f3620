package epoch

import (
	"errors"
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

var ErrTooManyParticipants = errors.New("too many concurrent participants (increase max sessions)")

const (
	slotFree = 0              // unclaimed
	slotIdle = math.MaxUint64 // registered, not inside an operation
)

// slot holds the epoch a participant pinned, slotIdle or slotFree. Slots
// sit on their own cache lines since every operation writes one.
type slot struct {
	state atomic.Uint64
	_     cpu.CacheLinePad
}

// Participant is a registered thread. It owns one slot until Deregister and
// pins it with Enter/Exit around every operation. A Participant is not safe
// for concurrent use.
type Participant struct {
	m    *Manager
	slot int
	once sync.Once
}

// Register claims a slot for a long-lived participant.
func (m *Manager) Register() (*Participant, error) {
	for i := range m.slots {
		if m.slots[i].state.CompareAndSwap(slotFree, slotIdle) {
			m.registered.Add(1)
			return &Participant{m: m, slot: i}, nil
		}
	}
	return nil, ErrTooManyParticipants
}

// Enter pins the current epoch. Nodes retired from now on stay valid until
// the matching Exit.
func (p *Participant) Enter() {
	p.m.slots[p.slot].state.Store(p.m.global.Load())
}

// Exit unpins the participant.
func (p *Participant) Exit() {
	p.m.slots[p.slot].state.Store(slotIdle)
}

// Deregister releases the slot. Safe to call more than once.
func (p *Participant) Deregister() {
	p.once.Do(func() {
		p.m.slots[p.slot].state.Store(slotFree)
		p.m.registered.Add(-1)
	})
}

// Guard is a transient pin taken by an operation without a registered
// participant.
type Guard struct {
	m    *Manager
	slot int
}

// Pin claims a free slot pinned at the current epoch. It yields while every
// slot is busy and fails only when registered participants hold all of them.
func (m *Manager) Pin() (Guard, error) {
	n := len(m.slots)
	for {
		start := int(m.hint.Add(1)) % n
		for j := 0; j < n; j++ {
			i := (start + j) % n
			if m.slots[i].state.Load() != slotFree {
				continue
			}
			if m.slots[i].state.CompareAndSwap(slotFree, m.global.Load()) {
				m.transient.Add(1)
				return Guard{m: m, slot: i}, nil
			}
		}
		if int(m.registered.Load()) >= n {
			return Guard{}, ErrTooManyParticipants
		}
		runtime.Gosched()
	}
}

// Unpin releases the slot claimed by Pin.
func (g Guard) Unpin() {
	g.m.slots[g.slot].state.Store(slotFree)
	g.m.transient.Add(-1)
}

// minPinned returns the smallest pinned epoch, or MaxUint64 when nothing is
// pinned.
func (m *Manager) minPinned() uint64 {
	low := uint64(math.MaxUint64)
	for i := range m.slots {
		if s := m.slots[i].state.Load(); s != slotFree && s < low {
			low = s
		}
	}
	return low
}

// Active returns the number of slots currently pinned.
func (m *Manager) Active() int {
	active := 0
	for i := range m.slots {
		if s := m.slots[i].state.Load(); s != slotFree && s != slotIdle {
			active++
		}
	}
	return active
}

// Registered returns the number of registered participants.
func (m *Manager) Registered() int {
	return int(m.registered.Load())
}

// Transient returns the number of outstanding Pin guards.
func (m *Manager) Transient() int {
	return int(m.transient.Load())
}
