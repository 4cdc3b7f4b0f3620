package algo

import (
	"bytes"
)

// SplitHint guides how to bias the split point
type SplitHint int

const (
	SplitBalanced  SplitHint = iota // Default: 50/50
	SplitLeftBias                   // Left light: 10/90 (descending inserts)
	SplitRightBias                  // Left heavy: 90/10 (ascending inserts)
)

// DetectHint infers the insert pattern from the key that overflowed the page.
func DetectHint(keys [][]byte, key []byte) SplitHint {
	if len(keys) == 0 || key == nil {
		return SplitBalanced
	}
	if bytes.Compare(key, keys[len(keys)-1]) >= 0 {
		return SplitRightBias
	}
	if bytes.Compare(key, keys[0]) <= 0 {
		return SplitLeftBias
	}
	return SplitBalanced
}

// SplitIndex returns the index of the first entry that moves to the new
// right sibling. Both halves keep at least one entry, so n must be >= 2.
func SplitIndex(n int, hint SplitHint) int {
	var mid int
	switch hint {
	case SplitRightBias:
		mid = n * 9 / 10
	case SplitLeftBias:
		mid = n / 10
	default:
		mid = n / 2
	}

	if mid < 1 {
		mid = 1
	}
	if mid > n-1 {
		mid = n - 1
	}
	return mid
}
