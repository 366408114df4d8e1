// Package ring implements the bounded power-of-two ring buffer (C2)
// that coordinates enqueue/dequeue of task records under contention,
// plus the dispatch operations (C6) that sit directly on top of it.
//
// The cursor layout follows the cache-line-padding discipline shown by
// the wider example pack's Disruptor-style MPSC rings (head/tail kept
// on separate cache lines to avoid false sharing between the producer
// and consumer sides), generalized here to three cursors since this
// buffer additionally separates "reserved by a producer" from
// "visible to consumers".
package ring

import (
	"sync/atomic"

	"github.com/brisklane/parq/internal/backoff"
	"github.com/brisklane/parq/internal/errdef"
	"github.com/brisklane/parq/internal/task"
)

// cacheLinePad is sized to push adjacent hot fields onto separate
// cache lines on common 64-byte-line hardware.
type cacheLinePad [64]byte

// Buffer is a bounded power-of-two circular buffer of task.Task
// records. All mutation happens under a single CAS-acquired lock word
// (taskLocker in spec terms); acquisition is a single attempt, never a
// spin, so contention always surfaces to the caller as task.Contested.
type Buffer struct {
	tasks []task.Task
	mask  uint64

	_pad0           cacheLinePad
	dequeueCursor   atomic.Uint64
	_pad1           cacheLinePad
	allocatedCursor atomic.Uint64
	_pad2           cacheLinePad
	writtenCursor   atomic.Uint64
	_pad3           cacheLinePad
	locker          atomic.Uint32

	debug bool
}

// New allocates a ring buffer with capacity rounded up to the next
// power of two (spec §4.1's "Construction"). debug enables the
// programmer-error assertions from spec §4.1.1 step 3 (posting after a
// stop sentinel raises instead of silently corrupting the buffer).
//
// A requested capacity of 1 is honored as-is (rounds up to itself):
// spec §8's S5/S7 scenarios and testable property #7 require a
// capacity-1 ring to be constructible, to exercise the Full→inline
// fallback in its worst case. Only a non-positive request is floored,
// to 1, since a zero-or-negative capacity is never meaningful.
func New(capacity int, debug bool) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	size := nextPowerOfTwo(capacity)
	return &Buffer{
		tasks: make([]task.Task, size),
		mask:  uint64(size - 1),
		debug: debug,
	}
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Cap returns the buffer's fixed capacity.
func (b *Buffer) Cap() int { return len(b.tasks) }

func (b *Buffer) tryLock() bool {
	return b.locker.CompareAndSwap(0, 1)
}

func (b *Buffer) unlock() {
	b.locker.Store(0)
}

// TryEnqueue attempts to post tasks in a single atomic batch (spec
// §4.1.1). An empty slice always succeeds without taking the lock.
//
// On Full this implementation does not advance allocatedCursor at
// all — equivalent to the "roll back" choice spec §9's open question
// permits, rather than publishing past capacity and leaving a
// permanently wasted gap. Both choices satisfy the external
// invariants; see DESIGN.md for why this one was picked.
func (b *Buffer) TryEnqueue(tasks []task.Task) task.Outcome {
	if len(tasks) == 0 {
		return task.Success
	}
	if !b.tryLock() {
		return task.Contested
	}
	defer b.unlock()

	if b.debug {
		if wr := b.writtenCursor.Load(); wr > 0 {
			prev := b.tasks[(wr-1)&b.mask]
			if prev.IsStop() {
				panic(errdef.New("TryEnqueue", errdef.CodePostAfterStop, "task posted after stop sentinel"))
			}
		}
	}

	start := b.allocatedCursor.Load()
	end := start + uint64(len(tasks))
	length := uint64(len(b.tasks))
	if end-b.dequeueCursor.Load() > length {
		return task.Full
	}
	b.allocatedCursor.Store(end)

	ws := start & b.mask
	we := end & b.mask
	if we > ws {
		copy(b.tasks[ws:we], tasks)
	} else {
		// Wraps around the end of the backing array: write the tail
		// segment first, then the portion that wrapped to index 0.
		n := copy(b.tasks[ws:], tasks)
		copy(b.tasks[0:we], tasks[n:])
	}

	// Release-publish: consumers become able to see these slots only
	// after this store.
	b.writtenCursor.Store(end)
	return task.Success
}

// Enqueue blocks (spinning with back-off) until tasks are posted.
func (b *Buffer) Enqueue(tasks []task.Task) {
	var sp backoff.Spinner
	for {
		switch b.TryEnqueue(tasks) {
		case task.Success:
			return
		default:
			sp.Wait()
		}
	}
}

// TryEnqueueStop posts the stop sentinel, a single task record with a
// nil function.
func (b *Buffer) TryEnqueueStop() task.Outcome {
	return b.TryEnqueue([]task.Task{task.StopSentinel()})
}

// EnqueueStop blocks until the stop sentinel is posted.
func (b *Buffer) EnqueueStop() {
	var sp backoff.Spinner
	for {
		switch b.TryEnqueueStop() {
		case task.Success:
			return
		default:
			sp.Wait()
		}
	}
}

// TryDequeue attempts to pop the next task record (spec §4.1.2). The
// stop sentinel, once observed, is never consumed: dequeueCursor is
// left pointing at it so every worker sees Stop.
func (b *Buffer) TryDequeue() (task.Task, task.Outcome) {
	if !b.tryLock() {
		return task.Task{}, task.Contested
	}
	defer b.unlock()

	dq := b.dequeueCursor.Load()
	wr := b.writtenCursor.Load()
	if dq >= wr {
		return task.Task{}, task.Empty
	}

	t := b.tasks[dq&b.mask]
	if t.IsStop() {
		return t, task.Stop
	}
	b.dequeueCursor.Store(dq + 1)
	return t, task.Success
}

// TryDequeueAndRun dequeues a task and, on success, runs it inline
// with the given workerIndex.
func (b *Buffer) TryDequeueAndRun(workerIndex int32) task.Outcome {
	t, outcome := b.TryDequeue()
	if outcome == task.Success {
		t.Fn(t.TaskID, t.Context, workerIndex)
	}
	return outcome
}

// DequeueAndRun spins (with back-off) until it runs a task or
// observes Stop. It returns false iff the result was Stop.
func (b *Buffer) DequeueAndRun(workerIndex int32) bool {
	var sp backoff.Spinner
	for {
		switch b.TryDequeueAndRun(workerIndex) {
		case task.Success:
			return true
		case task.Stop:
			return false
		default:
			sp.Wait()
		}
	}
}
