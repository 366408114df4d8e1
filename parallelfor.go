package parq

import (
	"unsafe"

	"github.com/brisklane/parq/internal/backoff"
	"github.com/brisklane/parq/internal/errdef"
	"github.com/brisklane/parq/internal/trampoline"
)

// IterFunc is the body of a parallel-for iteration: i is the iteration
// index in [0, n), workerIndex is whichever worker (or the calling
// goroutine itself, while stealing) ran it.
type IterFunc func(i int32, workerIndex int32)

type parallelForCtx struct {
	fn IterFunc
}

func runParallelForIter(taskID int32, context unsafe.Pointer, workerIndex int32) {
	c := (*parallelForCtx)(context)
	c.fn(taskID, workerIndex)
}

// ParallelFor distributes the range [0, n) across the queue's workers
// as n independent tasks sharing one continuation, then blocks the
// calling goroutine until every iteration completes (spec C7).
//
// Tasks are posted in chunks no larger than the ring's own capacity
// rather than as a single batch covering all of n: TryEnqueue's batch
// is atomic, so a batch bigger than the ring could never succeed no
// matter how long it waits. Whenever a chunk doesn't fit, the calling
// goroutine dequeues and runs one task itself before retrying the
// post — the "wait and steal" protocol — so a range far larger than
// ring capacity still makes progress even with only this one
// goroutine actively working it.
func (q *Queue) ParallelFor(n int32, workerIndex int32, fn IterFunc) {
	if n <= 0 {
		return
	}
	if n == 1 {
		// Spec §4.3's first branch: a single iteration runs inline with
		// no continuation, no posting, and therefore no way to block on
		// a full continuation table or ring — exactly the degenerate
		// case the shortcut exists to keep out of the wait-and-steal
		// machinery below.
		fn(0, workerIndex)
		return
	}

	ctx := &parallelForCtx{fn: fn}
	h := q.AllocateContinuation(n, 0, nil, nil)

	src := q.forPool.Get(int(n))
	defer q.forPool.Put(src)
	storage := q.wrapPool.Get(int(n))
	defer q.wrapPool.Put(storage)
	out := q.forPool.Get(int(n))
	defer q.forPool.Put(out)

	for i := int32(0); i < n; i++ {
		src[i] = Task{Fn: runParallelForIter, Context: unsafe.Pointer(ctx), TaskID: i}
	}
	trampoline.Wrap(h, q.continuations, src[:n], storage[:n], out[:n])

	chunkSize := int32(q.TaskCapacity())
	if chunkSize < 1 {
		chunkSize = 1
	}

	var sp backoff.Spinner
	posted := int32(0)
	for posted < n {
		end := posted + chunkSize
		if end > n {
			end = n
		}
		chunk := out[posted:end]

		switch q.TryEnqueue(chunk) {
		case Success:
			posted = end
			sp.Reset()
		case Stop:
			// Posting a chunk never itself observes Stop; kept for
			// exhaustiveness against Outcome's full value set.
			sp.Wait()
		default:
			// Contested or Full: make room by running one of our own
			// queued iterations (or anyone else's) before retrying.
			if q.TryDequeueAndRun(workerIndex) == Stop {
				// A stop sentinel is in front of our own backlog.
				// Running the rest of this chunk inline keeps this
				// call's own job moving without consuming the
				// sentinel other workers still need to observe.
				for _, t := range chunk {
					t.Fn(t.TaskID, t.Context, workerIndex)
				}
				posted = end
				continue
			}
			sp.Wait()
		}
	}

	for !q.IsComplete(h) {
		switch q.TryDequeueAndRun(workerIndex) {
		case Success:
			sp.Reset()
		case Stop:
			// Spec §4.3: observing Stop here means a parallel-for was
			// enqueued after the stop sentinel, a caller bug — the
			// sentinel is never consumed, so looping on it would spin
			// forever instead of ever seeing this job complete. Debug
			// builds assert; release builds give up and return instead
			// of livelocking.
			if q.debug {
				panic(errdef.New("ParallelFor", errdef.CodeForAfterStop, "parallel-for observed stop sentinel before its continuation completed"))
			}
			return
		default:
			sp.Wait()
		}
	}
}
