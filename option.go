package bwtree

import (
	"fmt"
	"time"
)

// Options configures tree behavior.
type Options struct {
	consolidateThreshold int           // Chain length that triggers consolidation.
	maxEntries           int           // Pages above this size are split.
	minEntries           int           // Pages below this size are merged into their left neighbour.
	tableCapacity        uint64        // Mapping table size, the upper bound on live pages.
	maxSessions          int           // Epoch slots shared by sessions and single operations.
	retryYield           int           // Failed CAS attempts between processor yields.
	collectInterval      time.Duration // Background reclamation period.
	reclaimBatch         int           // Retired items that wake the collector early.
	logger               Logger
	flushHook            FlushHook
	flushCacheSize       int // Pages whose last flushed checksum is remembered.
}

// DefaultOptions returns the default configuration.
//
// goland:noinspection GoUnusedExportedFunction
func DefaultOptions() Options {
	return Options{
		consolidateThreshold: 8,
		maxEntries:           64,
		minEntries:           16,
		tableCapacity:        1 << 20,
		maxSessions:          256,
		retryYield:           16,
		collectInterval:      100 * time.Millisecond,
		reclaimBatch:         64,
		logger:               DiscardLogger{},
		flushCacheSize:       4096,
	}
}

// Option configures tree options using the functional options pattern.
type Option func(*Options)

// WithConsolidateThreshold sets the number of delta records a page may
// accumulate before it is rewritten as a single base page.
//
//goland:noinspection GoUnusedExportedFunction
func WithConsolidateThreshold(n int) Option {
	return func(opts *Options) {
		opts.consolidateThreshold = n
	}
}

// WithPageSize sets the entry bounds of a page. A page holding more than max
// entries is split; one holding fewer than min is merged into its left
// neighbour when the two fit in one page.
//
//goland:noinspection GoUnusedExportedFunction
func WithPageSize(minEntries, maxEntries int) Option {
	return func(opts *Options) {
		opts.minEntries = minEntries
		opts.maxEntries = maxEntries
	}
}

// WithTableCapacity sets the number of mapping table slots. Allocation
// beyond it fails with ErrExhausted.
//
//goland:noinspection GoUnusedExportedFunction
func WithTableCapacity(n uint64) Option {
	return func(opts *Options) {
		opts.tableCapacity = n
	}
}

// WithMaxSessions sets how many threads may be inside the tree at once,
// counting registered sessions and unregistered calls alike.
//
//goland:noinspection GoUnusedExportedFunction
func WithMaxSessions(n int) Option {
	return func(opts *Options) {
		opts.maxSessions = n
	}
}

// WithRetryYield sets how many failed attempts an operation makes before
// yielding the processor.
//
//goland:noinspection GoUnusedExportedFunction
func WithRetryYield(n int) Option {
	return func(opts *Options) {
		opts.retryYield = n
	}
}

// WithCollectInterval sets how often retired memory is reclaimed in the
// background.
//
//goland:noinspection GoUnusedExportedFunction
func WithCollectInterval(d time.Duration) Option {
	return func(opts *Options) {
		opts.collectInterval = d
	}
}

// WithReclaimBatch sets how many retired items wake the collector before
// its next tick.
//
//goland:noinspection GoUnusedExportedFunction
func WithReclaimBatch(n int) Option {
	return func(opts *Options) {
		opts.reclaimBatch = n
	}
}

// WithLogger sets the logger. See pkg logger for adapters.
//
//goland:noinspection GoUnusedExportedFunction
func WithLogger(l Logger) Option {
	return func(opts *Options) {
		opts.logger = l
	}
}

// WithFlushHook registers fn to receive page snapshots after consolidation
// and sibling creation. fn runs on a dedicated goroutine; snapshots of the
// same page coalesce and unchanged ones are skipped.
//
//goland:noinspection GoUnusedExportedFunction
func WithFlushHook(fn FlushHook) Option {
	return func(opts *Options) {
		opts.flushHook = fn
	}
}

// WithFlushCacheSize sets how many pages the flush dispatcher remembers
// checksums for.
//
//goland:noinspection GoUnusedExportedFunction
func WithFlushCacheSize(n int) Option {
	return func(opts *Options) {
		opts.flushCacheSize = n
	}
}

func (o *Options) validate() error {
	switch {
	case o.consolidateThreshold < 1:
		return fmt.Errorf("%w: consolidate threshold %d must be positive", ErrInvalidOption, o.consolidateThreshold)
	case o.maxEntries < 4:
		return fmt.Errorf("%w: max entries %d below 4", ErrInvalidOption, o.maxEntries)
	case o.minEntries < 0 || o.minEntries*2 > o.maxEntries:
		return fmt.Errorf("%w: min entries %d must be in [0, max/2]", ErrInvalidOption, o.minEntries)
	case o.tableCapacity < 16:
		return fmt.Errorf("%w: table capacity %d below 16", ErrInvalidOption, o.tableCapacity)
	case o.maxSessions < 1:
		return fmt.Errorf("%w: max sessions %d must be positive", ErrInvalidOption, o.maxSessions)
	case o.retryYield < 1:
		return fmt.Errorf("%w: retry yield %d must be positive", ErrInvalidOption, o.retryYield)
	case o.collectInterval <= 0:
		return fmt.Errorf("%w: collect interval %v must be positive", ErrInvalidOption, o.collectInterval)
	case o.reclaimBatch < 1:
		return fmt.Errorf("%w: reclaim batch %d must be positive", ErrInvalidOption, o.reclaimBatch)
	case o.flushCacheSize < 1:
		return fmt.Errorf("%w: flush cache size %d must be positive", ErrInvalidOption, o.flushCacheSize)
	case o.logger == nil:
		return fmt.Errorf("%w: nil logger", ErrInvalidOption)
	}
	return nil
}
