// Package trampoline implements the standard wrapped-task trampoline
// (C5): a task.Func whose context is a (user function, user context,
// continuation handle) triple. After invoking the user function it
// decrements the continuation's remaining counter and, on the
// transition to zero, fires the completion callback and frees the
// slot (via continuation.Table.Complete).
//
// Run's address is stored in task records, so it must stay a single,
// stable package-level function — exactly the contract spec.md §6
// calls out ("the trampoline function ... must be stable ... Callers
// must not replace it").
package trampoline

import (
	"unsafe"

	"github.com/brisklane/parq/internal/continuation"
	"github.com/brisklane/parq/internal/task"
)

// WrappedContext is the ephemeral record a wrapped task's Context
// points to. Storage is caller-provided (typically a scoped arena on
// the stack of a parallel-for call); it must outlive execution of the
// wrapped task. The queue never owns this memory.
type WrappedContext struct {
	Fn      task.Func
	Context unsafe.Pointer
	Handle  continuation.Handle
	Table   *continuation.Table
}

// Run is the trampoline itself.
func Run(taskID int32, context unsafe.Pointer, workerIndex int32) {
	w := (*WrappedContext)(context)
	w.Fn(taskID, w.Context, workerIndex)
	w.Table.Complete(w.Handle, workerIndex)
}

// Wrap fills storage[i] and out[i] for every src[i], producing task
// records whose Fn is the trampoline and whose Context points at the
// corresponding wrapped context. len(src), len(storage), and len(out)
// must match; Wrap panics otherwise, since a length mismatch can only
// be a caller bug (spec §6's create_completion_wrapped_tasks has no
// partial-success outcome).
func Wrap(h continuation.Handle, table *continuation.Table, src []task.Task, storage []WrappedContext, out []task.Task) {
	if len(src) != len(storage) || len(src) != len(out) {
		panic("trampoline: Wrap: src, storage, and out must have equal length")
	}
	for i := range src {
		storage[i] = WrappedContext{
			Fn:      src[i].Fn,
			Context: src[i].Context,
			Handle:  h,
			Table:   table,
		}
		out[i] = task.Task{
			Fn:      Run,
			Context: unsafe.Pointer(&storage[i]),
			TaskID:  src[i].TaskID,
		}
	}
}
