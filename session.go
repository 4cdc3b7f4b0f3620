package bwtree

import (
	"github.com/alexhholmes/bwtree/internal/epoch"
)

// Session is a thread registered with the tree. It owns an epoch slot for
// its lifetime, so its operations never compete for one. A Session is not
// safe for concurrent use; give each goroutine its own.
type Session struct {
	t *Tree
	p *epoch.Participant
}

// Register reserves an epoch slot and returns a session using it. It fails
// with ErrTooManySessions when every slot is taken.
func (t *Tree) Register() (*Session, error) {
	if t.closed.Load() {
		return nil, ErrTreeClosed
	}
	p, err := t.epochs.Register()
	if err != nil {
		return nil, err
	}
	return &Session{t: t, p: p}, nil
}

// Deregister releases the session's slot. Safe to call more than once.
func (s *Session) Deregister() {
	s.p.Deregister()
}

func (s *Session) pin() (func(), error) {
	if s.t.closed.Load() {
		return nil, ErrTreeClosed
	}
	s.p.Enter()
	return s.p.Exit, nil
}

// Get is Tree.Get pinned through the session.
func (s *Session) Get(key []byte) ([]byte, error) {
	return s.t.get(s, key)
}

// Insert is Tree.Insert pinned through the session.
func (s *Session) Insert(key, value []byte) error {
	_, err := s.t.mutate(s, opInsert, key, value)
	return err
}

// Update is Tree.Update pinned through the session.
func (s *Session) Update(key, value []byte) (bool, error) {
	return s.t.mutate(s, opUpdate, key, value)
}

// Delete is Tree.Delete pinned through the session.
func (s *Session) Delete(key []byte) (bool, error) {
	return s.t.mutate(s, opDelete, key, nil)
}

// Scan is Tree.Scan pinned through the session. The iterator must not be
// used concurrently with other calls on the session.
func (s *Session) Scan(start []byte) *Iterator {
	return newIterator(s.t, s, start)
}
