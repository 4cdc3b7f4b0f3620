package bwtree

import (
	"errors"

	"github.com/alexhholmes/bwtree/internal/base"
	"github.com/alexhholmes/bwtree/internal/epoch"
	"github.com/alexhholmes/bwtree/internal/mapping"
)

var (
	ErrKeyNotFound    = errors.New("key not found")
	ErrKeyEmpty       = errors.New("key cannot be empty")
	ErrTreeClosed     = errors.New("tree is closed")
	ErrSessionsActive = errors.New("sessions are still registered")
	ErrInvalidOption  = errors.New("invalid option")

	ErrCorruption      = base.ErrCorruption
	ErrExhausted       = mapping.ErrExhausted
	ErrTooManySessions = epoch.ErrTooManyParticipants

	// errConflict means a CAS lost or a route went stale; the operation
	// restarts from the root.
	errConflict = errors.New("concurrent modification")

	// errNoParent means the page is at the root level.
	errNoParent = errors.New("page has no parent")
)
