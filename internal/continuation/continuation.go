// Package continuation implements the version-tagged slot table (C3)
// and handle (C4) that track completion of a group of tasks composing
// one logical job, plus the completion/recycling step (the second half
// of C5's trampoline) that fires the user callback and frees the slot.
//
// The per-slot bookkeeping mirrors the teacher's per-tag state
// tracking in internal/queue/runner.go (runner.go's tagStates /
// tagMutexes pair one mutex per in-flight unit of work; here one
// version-tagged slot per in-flight job plays the analogous role, but
// uses a version counter instead of a state enum because completion is
// driven by a decrementing counter rather than a fixed state machine).
package continuation

import (
	"sync/atomic"
	"unsafe"

	"github.com/brisklane/parq/internal/backoff"
	"github.com/brisklane/parq/internal/errdef"
	"github.com/brisklane/parq/internal/idpool"
	"github.com/brisklane/parq/internal/task"
)

const initializedBit uint32 = 1 << 31

// Handle is an opaque, version-tagged reference to a continuation
// slot: two 32-bit words, safe to compare (bitwise, via ==) against a
// stale handle referring to a slot that has since been recycled. The
// zero Handle is the distinguished Null handle.
type Handle struct {
	Index          uint32
	EncodedVersion uint32
}

// Initialized reports whether the high bit of EncodedVersion is set.
func (h Handle) Initialized() bool { return h.EncodedVersion&initializedBit != 0 }

// Version returns the low 31 bits of EncodedVersion.
func (h Handle) Version() uint32 { return h.EncodedVersion &^ initializedBit }

// Null is the distinguished uninitialized handle.
var Null = Handle{}

// CompletionFunc is fired exactly once when a continuation's remaining
// task count reaches zero.
type CompletionFunc func(userID uint64, context unsafe.Pointer, workerIndex int32)

type slot struct {
	onCompleted    CompletionFunc
	onCompletedCtx unsafe.Pointer
	userID         uint64
	version        atomic.Uint32
	remaining      atomic.Int32
}

// Table is a fixed-capacity array of continuation slots plus an
// id-pool over slot indices, guarded by its own CAS lock — entirely
// independent of the ring buffer's lock (spec §5: the two locks are
// never held simultaneously).
type Table struct {
	slots  []slot
	ids    *idpool.Pool
	locker atomic.Uint32
	live   atomic.Int32
	debug  bool
}

// New creates a continuation table with the given fixed capacity.
func New(capacity int, debug bool) *Table {
	return &Table{
		slots: make([]slot, capacity),
		ids:   idpool.New(capacity),
		debug: debug,
	}
}

// Cap returns the table's fixed capacity.
func (t *Table) Cap() int { return len(t.slots) }

func (t *Table) tryLock() bool { return t.locker.CompareAndSwap(0, 1) }
func (t *Table) unlock()       { t.locker.Store(0) }

// TryAllocate reserves a slot for a job of taskCount tasks (spec
// §4.2.1). onCompleted may be nil.
func (t *Table) TryAllocate(taskCount int32, userID uint64, onCompleted CompletionFunc, onCompletedCtx unsafe.Pointer) (Handle, task.Outcome) {
	if !t.tryLock() {
		return Handle{}, task.Contested
	}
	defer t.unlock()

	if int(t.live.Load()) >= len(t.slots) {
		return Handle{}, task.Full
	}
	idx, ok := t.ids.Take()
	if !ok {
		return Handle{}, task.Full
	}

	s := &t.slots[idx]
	newVersion := s.version.Load() + 1
	s.onCompleted = onCompleted
	s.onCompletedCtx = onCompletedCtx
	s.userID = userID
	s.remaining.Store(taskCount)
	s.version.Store(newVersion)
	t.live.Add(1)

	return Handle{Index: uint32(idx), EncodedVersion: newVersion | initializedBit}, task.Success
}

// Allocate blocks (spinning with back-off) until a slot is reserved.
func (t *Table) Allocate(taskCount int32, userID uint64, onCompleted CompletionFunc, onCompletedCtx unsafe.Pointer) Handle {
	var sp backoff.Spinner
	for {
		h, outcome := t.TryAllocate(taskCount, userID, onCompleted, onCompletedCtx)
		if outcome == task.Success {
			return h
		}
		sp.Wait()
	}
}

// IsComplete reports whether h's job has finished: either its slot has
// already been recycled (current version has moved past h's version)
// or the remaining task counter has reached zero. This is a lock-free
// read; once true for a given handle it remains true (spec §4.2.3).
func (t *Table) IsComplete(h Handle) bool {
	if h == Null {
		return true
	}
	if int(h.Index) >= len(t.slots) {
		if t.debug {
			panic(errdef.New("IsComplete", errdef.CodeStaleHandle, "handle index out of range"))
		}
		return true
	}
	s := &t.slots[h.Index]
	if s.version.Load() != h.Version() {
		return true
	}
	return s.remaining.Load() == 0
}

// View is a checked, version-guarded accessor returned by Get. It
// re-validates the slot's version on every call, so a View obtained
// before the slot was reallocated to a new job safely reports as stale
// afterward instead of reading garbage left by that allocation. Freeing
// the slot on completion does not change its version: until the slot
// is reallocated, the View stays valid and reports the finished job.
type View struct {
	table   *Table
	index   uint32
	version uint32
}

func (t *Table) valid(v *View) bool {
	return t.slots[v.index].version.Load() == v.version
}

// UserID returns the job's user tag, or (0, false) if the slot has
// since been reallocated.
func (v *View) UserID() (uint64, bool) {
	if !v.table.valid(v) {
		return 0, false
	}
	return v.table.slots[v.index].userID, true
}

// Remaining returns the current remaining-task count, or (0, false) if
// the slot has since been reallocated.
func (v *View) Remaining() (int32, bool) {
	if !v.table.valid(v) {
		return 0, false
	}
	return v.table.slots[v.index].remaining.Load(), true
}

// Get returns a View for h, or nil if the handle is stale (spec
// §4.2.2: debug-asserts initialized and version match; returns null on
// mismatch in non-debug builds).
func (t *Table) Get(h Handle) *View {
	if !h.Initialized() || int(h.Index) >= len(t.slots) {
		if t.debug {
			panic(errdef.New("GetContinuation", errdef.CodeStaleHandle, "handle not initialized or out of range"))
		}
		return nil
	}
	s := &t.slots[h.Index]
	if s.version.Load() != h.Version() {
		if t.debug {
			panic(errdef.New("GetContinuation", errdef.CodeVersionMismatch, "stale continuation handle"))
		}
		return nil
	}
	return &View{table: t, index: h.Index, version: h.Version()}
}

// Complete decrements h's remaining task counter by one. On the
// transition to zero it fires onCompleted (outside the table lock, to
// keep the critical section short and to tolerate a callback that
// itself enqueues more work) and then recycles the slot back to the
// id-pool (spec §4.2.4).
//
// h's version is checked against the slot's current version first: a
// duplicate or stale Complete call (the slot already recycled and
// possibly reallocated to an unrelated job) is a double-free of a
// continuation slot, and must never be allowed to decrement that
// unrelated job's counter. Debug builds assert; release builds drop
// the call.
func (t *Table) Complete(h Handle, workerIndex int32) {
	s := &t.slots[h.Index]
	if s.version.Load() != h.Version() {
		if t.debug {
			panic(errdef.New("Complete", errdef.CodeDoubleFree, "duplicate or stale Complete call on a recycled continuation slot"))
		}
		return
	}

	remaining := s.remaining.Add(-1)
	if remaining != 0 {
		return
	}

	if s.onCompleted != nil {
		s.onCompleted(s.userID, s.onCompletedCtx, workerIndex)
	}

	var sp backoff.Spinner
	for !t.tryLock() {
		sp.Wait()
	}
	t.ids.Put(int32(h.Index))
	t.live.Add(-1)
	t.unlock()
}
