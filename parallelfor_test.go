package parq

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestParallelForRunsEveryIterationExactlyOnce(t *testing.T) {
	q, err := New(Config{TaskCapacity: 256, ContinuationCapacity: 32})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const n = 100
	var seen [n]atomic.Int32

	q.ParallelFor(n, 0, func(i int32, workerIndex int32) {
		seen[i].Add(1)
	})

	for i := range seen {
		if c := seen[i].Load(); c != 1 {
			t.Fatalf("iteration %d ran %d times, want 1", i, c)
		}
	}
}

func TestParallelForSingleIterationRunsInline(t *testing.T) {
	// Capacity 1 everywhere: if n==1 went through AllocateContinuation
	// instead of running inline, a pre-exhausted continuation table
	// would make this call spin forever.
	q, err := New(Config{TaskCapacity: 1, ContinuationCapacity: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h, outcome := q.TryAllocateContinuation(1, 0, nil, nil)
	if outcome != Success {
		t.Fatalf("expected Success exhausting the continuation table, got %v", outcome)
	}
	defer func() { _ = h }()

	var gotI, gotWorker int32 = -1, -1
	q.ParallelFor(1, 7, func(i int32, workerIndex int32) {
		gotI, gotWorker = i, workerIndex
	})
	if gotI != 0 || gotWorker != 7 {
		t.Fatalf("expected inline call with i=0 workerIndex=7, got i=%d workerIndex=%d", gotI, gotWorker)
	}
}

// If a stop sentinel is already sitting at the front of the ring, no
// worker will ever reach (or run) the tasks ParallelFor posts behind
// it, so its continuation can never complete on its own. Spec §4.3
// treats observing Stop in the wait loop as a caller bug: a release
// build must give up and return instead of spinning on IsComplete
// forever.
func TestParallelForReturnsWhenStopPrecedesItsOwnTasks(t *testing.T) {
	q, err := New(Config{TaskCapacity: 16, ContinuationCapacity: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	q.EnqueueStop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.ParallelFor(4, 0, func(i int32, workerIndex int32) {})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("ParallelFor did not return after observing Stop; it livelocked")
	}
}

// Same setup, but with Config.Debug set: spec §4.3 calls this a
// programmer error that debug builds must assert on instead of
// silently returning.
func TestParallelForPanicsOnStopInDebugMode(t *testing.T) {
	q, err := New(Config{TaskCapacity: 16, ContinuationCapacity: 4, Debug: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	q.EnqueueStop()

	defer func() {
		if recover() == nil {
			t.Fatal("expected ParallelFor to panic on Stop in debug mode")
		}
	}()
	q.ParallelFor(4, 0, func(i int32, workerIndex int32) {})
}

func TestParallelForZeroRangeIsNoOp(t *testing.T) {
	q, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ran := false
	q.ParallelFor(0, 0, func(int32, int32) { ran = true })
	if ran {
		t.Fatal("expected ParallelFor(0, ...) to never invoke the body")
	}
}

func TestParallelForStealsWorkWhileWaiting(t *testing.T) {
	// A capacity far smaller than n forces ParallelFor's own wait loop
	// to drain tasks itself (or fall back to running them inline)
	// rather than relying on some other worker goroutine.
	q, err := New(Config{TaskCapacity: 8, ContinuationCapacity: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const n = 500
	var total atomic.Int64
	q.ParallelFor(n, 0, func(i int32, workerIndex int32) {
		total.Add(int64(i))
	})

	var want int64
	for i := int32(0); i < n; i++ {
		want += int64(i)
	}
	if total.Load() != want {
		t.Fatalf("expected sum %d, got %d", want, total.Load())
	}
}

func TestParallelForConcurrentCallers(t *testing.T) {
	q, err := New(Config{TaskCapacity: 128, ContinuationCapacity: 16})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const callers = 4
	const n = 64
	done := make(chan [n]int32, callers)

	for c := 0; c < callers; c++ {
		go func() {
			var local [n]int32
			q.ParallelFor(n, 0, func(i int32, workerIndex int32) {
				atomic.AddInt32(&local[i], 1)
			})
			done <- local
		}()
	}

	for c := 0; c < callers; c++ {
		local := <-done
		for i, v := range local {
			if v != 1 {
				t.Fatalf("caller's iteration %d ran %d times, want 1", i, v)
			}
		}
	}
}
