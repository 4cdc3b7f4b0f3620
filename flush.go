package bwtree

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/alexhholmes/bwtree/internal/algo"
	"github.com/alexhholmes/bwtree/internal/base"
)

// FlushHook receives the consolidated contents of a page. It is the
// attachment point for a storage layer; the tree itself keeps nothing on
// disk. Hooks run on a single dispatcher goroutine.
type FlushHook func(pid PID, snap Snapshot)

// Snapshot is the content of a page at the moment it was consolidated or
// created by a split. Slices are shared with the tree and must not be
// modified.
type Snapshot struct {
	PID      PID
	Leaf     bool
	Level    int
	Low      []byte
	High     []byte // empty for the rightmost page
	Right    PID
	Keys     [][]byte
	Values   [][]byte // leaf pages
	Children []PID    // inner pages
}

func newSnapshot(pid base.PID, c *algo.Content) Snapshot {
	return Snapshot{
		PID:      pid,
		Leaf:     c.Leaf,
		Level:    c.Level,
		Low:      c.Low,
		High:     c.High,
		Right:    c.Right,
		Keys:     c.Keys,
		Values:   c.Values,
		Children: c.Children,
	}
}

// checksum hashes everything a storage layer would persist.
func (s *Snapshot) checksum() uint64 {
	d := xxhash.New()
	var buf [8]byte
	writeBytes := func(b []byte) {
		binary.LittleEndian.PutUint64(buf[:], uint64(len(b)))
		_, _ = d.Write(buf[:])
		_, _ = d.Write(b)
	}
	writeUint := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = d.Write(buf[:])
	}

	if s.Leaf {
		writeUint(1)
	} else {
		writeUint(0)
	}
	writeUint(uint64(s.Level))
	writeBytes(s.Low)
	writeBytes(s.High)
	writeUint(uint64(s.Right))
	writeUint(uint64(len(s.Keys)))
	for i, k := range s.Keys {
		writeBytes(k)
		if s.Leaf {
			writeBytes(s.Values[i])
		} else {
			writeUint(uint64(s.Children[i]))
		}
	}
	return d.Sum64()
}

func hashPID(pid base.PID) uint32 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(pid))
	return uint32(xxhash.Sum64(buf[:]))
}

// flusher hands snapshots to the flush hook off the operation path. A nil
// *flusher accepts every call and does nothing.
type flusher struct {
	hook FlushHook
	log  Logger

	pending *xsync.MapOf[base.PID, Snapshot]      // latest unflushed snapshot per page
	flushed *freelru.SyncedLRU[base.PID, uint64] // checksum last handed to the hook

	kick  chan struct{}
	stopC chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

func newFlusher(hook FlushHook, cacheSize int, log Logger) (*flusher, error) {
	lru, err := freelru.NewSynced[base.PID, uint64](uint32(cacheSize), hashPID)
	if err != nil {
		return nil, fmt.Errorf("flush cache: %w", err)
	}
	return &flusher{
		hook:    hook,
		log:     log,
		pending: xsync.NewMapOf[base.PID, Snapshot](),
		flushed: lru,
		kick:    make(chan struct{}, 1),
		stopC:   make(chan struct{}),
	}, nil
}

func (f *flusher) start() {
	f.wg.Add(1)
	go f.run()
}

// enqueue records the newest content of a page, replacing any snapshot of
// it still waiting.
func (f *flusher) enqueue(pid base.PID, c *algo.Content) {
	if f == nil {
		return
	}
	f.pending.Store(pid, newSnapshot(pid, c))
	select {
	case f.kick <- struct{}{}:
	default:
	}
}

// forget drops all state for a page id that is being recycled.
func (f *flusher) forget(pid base.PID) {
	if f == nil {
		return
	}
	f.pending.Delete(pid)
	f.flushed.Remove(pid)
}

func (f *flusher) run() {
	defer f.wg.Done()

	for {
		select {
		case <-f.kick:
			f.drain()

		case <-f.stopC:
			// Shutdown - flush what is left
			f.drain()
			return
		}
	}
}

func (f *flusher) drain() {
	f.pending.Range(func(pid base.PID, _ Snapshot) bool {
		snap, ok := f.pending.LoadAndDelete(pid)
		if !ok {
			return true
		}
		sum := snap.checksum()
		if last, ok := f.flushed.Get(pid); ok && last == sum {
			metricFlushes.WithLabelValues("unchanged").Inc()
			return true
		}
		if f.call(pid, snap) {
			f.flushed.Add(pid, sum)
			metricFlushes.WithLabelValues("flushed").Inc()
		}
		return true
	})
}

func (f *flusher) call(pid base.PID, snap Snapshot) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Error("flush hook panicked", "pid", pid, "panic", r)
			metricFlushes.WithLabelValues("panicked").Inc()
			ok = false
		}
	}()
	f.hook(pid, snap)
	return true
}

func (f *flusher) stop() {
	if f == nil {
		return
	}
	f.once.Do(func() {
		close(f.stopC)
	})
	f.wg.Wait()
}
