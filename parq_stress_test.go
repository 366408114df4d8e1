//go:build stress

package parq

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/brisklane/parq/internal/workerpool"
)

// TestStressNoLossNoDuplicationUnderConcurrency soaks many producers
// and many workers against a small queue and asserts every posted task
// runs exactly once: no lost or double-delivered work under sustained
// contention on both the ring buffer lock and the continuation table
// lock.
func TestStressNoLossNoDuplicationUnderConcurrency(t *testing.T) {
	q, err := New(Config{TaskCapacity: 64, ContinuationCapacity: 64})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const producers = 8
	const perProducer = 5_000
	const total = producers * perProducer

	var runs [total]atomic.Int32

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				idx := base + i
				fn := func(int32, unsafe.Pointer, int32) {
					runs[idx].Add(1)
				}
				q.Enqueue([]Task{{Fn: fn, TaskID: int32(idx)}})
			}
		}(p * perProducer)
	}

	pool := workerpool.New(q, nil)
	pool.Start(8)

	wg.Wait()
	q.EnqueueStop()
	pool.Wait()

	for i, c := range runs {
		if c.Load() != 1 {
			t.Fatalf("task %d ran %d times, want exactly 1", i, c.Load())
		}
	}
}

// TestStressParallelForFullFallbackUnderSustainedLoad runs many
// concurrent ParallelFor calls against a ring far smaller than any
// single call's range, forcing the chunked-post/steal/inline-fallback
// path repeatedly, and checks every iteration of every call still ran
// exactly once.
func TestStressParallelForFullFallbackUnderSustainedLoad(t *testing.T) {
	q, err := New(Config{TaskCapacity: 8, ContinuationCapacity: 8})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const callers = 16
	const n = 2_000

	var wg sync.WaitGroup
	for c := 0; c < callers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var seen [n]atomic.Int32
			q.ParallelFor(n, 0, func(i int32, workerIndex int32) {
				seen[i].Add(1)
			})
			for i, v := range seen {
				if v.Load() != 1 {
					t.Errorf("iteration %d ran %d times, want 1", i, v.Load())
				}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(60 * time.Second):
		t.Fatal("timed out waiting for concurrent ParallelFor callers to finish")
	}
}
