package base

import "errors"

var (
	// ErrCorruption reports an invariant violation found while walking a
	// delta chain: a chain without a terminating base page, a reclaimed
	// node, or a record kind that cannot appear on that page type.
	ErrCorruption = errors.New("data corruption detected")

	// ErrMoved reports that the searched key no longer belongs to the page
	// the chain was read from. The caller restarts from the root.
	ErrMoved = errors.New("key moved to another page")
)
