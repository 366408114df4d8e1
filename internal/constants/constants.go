// Package constants holds the default sizing and back-off tuning shared
// across the dispatch core.
package constants

import "time"

// Default configuration constants.
const (
	// DefaultTaskCapacity is the default ring buffer capacity (rounded up
	// to a power of two at construction time).
	DefaultTaskCapacity = 1024

	// DefaultContinuationCapacity is the default number of in-flight
	// continuation slots.
	DefaultContinuationCapacity = 256
)

// Back-off tuning for blocking wrappers (Enqueue, EnqueueStop,
// DequeueAndRun, the parallel-for wait loop).
//
// These are spin-retry loops, not kernel waits (spec §5: "the queue
// never blocks on kernel primitives"); the back-off only exists to
// avoid pegging a CPU core at 100% when a worker is legitimately idle.
const (
	// SpinBackoffInitial is the first back-off duration after a
	// Contested/Empty result.
	SpinBackoffInitial = 50 * time.Nanosecond

	// SpinBackoffMax caps the exponential-ish back-off growth.
	SpinBackoffMax = 50 * time.Microsecond

	// SpinYieldThreshold is how many consecutive failed attempts occur
	// before falling back to runtime.Gosched() instead of a timed sleep.
	SpinYieldThreshold = 8
)
