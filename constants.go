// Package parq implements a multi-producer/multi-consumer task
// dispatch core: FIFO task posting across a fixed-size worker pool,
// continuations that track completion of a group of tasks, and a
// parallel-for primitive that distributes a range across workers and
// steals work while awaiting completion.
package parq

import "github.com/brisklane/parq/internal/constants"

// Re-exported defaults; see internal/constants for the values.
const (
	DefaultTaskCapacity         = constants.DefaultTaskCapacity
	DefaultContinuationCapacity = constants.DefaultContinuationCapacity
)
