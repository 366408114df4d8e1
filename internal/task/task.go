// Package task defines the core value types shared by the ring buffer,
// the continuation table, and the trampoline: the task record itself
// (C1 in the design) and the small outcome enum every dispatch
// operation returns. It has no dependency on the other internal
// packages so that ring, continuation, and trampoline can all depend
// on it without forming an import cycle back to the root parq package.
package task

import "unsafe"

// Func is a unit of work: the function invoked by a worker when it
// dequeues a Task. workerIndex is pure caller-supplied metadata, opaque
// to the queue (spec §5).
type Func func(taskID int32, context unsafe.Pointer, workerIndex int32)

// Task is a plain-data description of one unit of work. The queue
// never dereferences or copies whatever Context points to; lifetime of
// the pointee is the caller's responsibility (spec §3).
type Task struct {
	Fn      Func
	Context unsafe.Pointer
	TaskID  int32
}

// IsStop reports whether t is the reserved stop sentinel: a task
// record with a nil function. The sentinel is never consumed by
// TryDequeue (spec §4.1.2).
func (t Task) IsStop() bool { return t.Fn == nil }

// StopSentinel returns the stop sentinel task record.
func StopSentinel() Task { return Task{} }

// Outcome is the small result enum returned by every dispatch
// operation. Not every value is reachable from every operation; see
// the doc comment on each caller for which subset applies.
type Outcome uint8

const (
	// Success indicates the operation completed and produced a value.
	Success Outcome = iota
	// Contested indicates the CAS-acquired lock was held by another
	// caller; always safe to retry.
	Contested
	// Empty indicates a dequeue found no task to return; more work may
	// arrive later.
	Empty
	// Full indicates an enqueue or continuation allocation found no
	// room; draining is the only way this resolves, unless there are no
	// consumers, in which case it is terminal.
	Full
	// Stop indicates a dequeue observed the stop sentinel. It is
	// terminal for a worker loop and is never consumed from the ring.
	Stop
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "Success"
	case Contested:
		return "Contested"
	case Empty:
		return "Empty"
	case Full:
		return "Full"
	case Stop:
		return "Stop"
	default:
		return "Unknown"
	}
}
