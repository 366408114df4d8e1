package parq

import "github.com/brisklane/parq/internal/task"

// Func is a unit of work posted to a Queue. workerIndex is opaque
// caller-supplied metadata (spec §5): the queue never interprets it.
type Func = task.Func

// Task is a plain-data description of one unit of work. The queue
// never dereferences or copies whatever Context points to.
type Task = task.Task

// Outcome is the small result enum returned by every dispatch
// operation on a Queue.
type Outcome = task.Outcome

// The possible Outcome values. Not every value is reachable from every
// operation; see the doc comment on each Queue method for which subset
// applies.
const (
	Success   = task.Success
	Contested = task.Contested
	Empty     = task.Empty
	Full      = task.Full
	Stop      = task.Stop
)

// StopTask returns the reserved stop sentinel: a task record with a
// nil function. Posting it tells every worker's dispatch loop to exit.
func StopTask() Task { return task.StopSentinel() }
