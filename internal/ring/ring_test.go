package ring

import (
	"testing"
	"unsafe"

	"github.com/brisklane/parq/internal/task"
)

func idTask(id int32) task.Task {
	return task.Task{Fn: func(int32, unsafe.Pointer, int32) {}, TaskID: id}
}

// S1: capacity 4 queue, enqueue ids 0..3, dequeue 4 times in order,
// then Empty.
func TestRingEnqueueDequeueOrder(t *testing.T) {
	b := New(4, false)

	for i := int32(0); i < 4; i++ {
		if outcome := b.TryEnqueue([]task.Task{idTask(i)}); outcome != task.Success {
			t.Fatalf("enqueue %d: expected Success, got %v", i, outcome)
		}
	}

	for i := int32(0); i < 4; i++ {
		got, outcome := b.TryDequeue()
		if outcome != task.Success {
			t.Fatalf("dequeue %d: expected Success, got %v", i, outcome)
		}
		if got.TaskID != i {
			t.Fatalf("dequeue %d: expected TaskID %d, got %d", i, i, got.TaskID)
		}
	}

	if _, outcome := b.TryDequeue(); outcome != task.Empty {
		t.Fatalf("expected Empty after draining, got %v", outcome)
	}
}

// S2: capacity 2 queue, enqueue two tasks then stop. Consumer loops:
// task 0, task 1, then Stop repeatedly.
func TestRingStopSentinelRepeats(t *testing.T) {
	b := New(2, false)

	if outcome := b.TryEnqueue([]task.Task{idTask(0), idTask(1)}); outcome != task.Success {
		t.Fatalf("expected Success, got %v", outcome)
	}
	if outcome := b.TryEnqueueStop(); outcome != task.Full {
		t.Fatalf("expected Full posting stop into an already-full ring, got %v", outcome)
	}

	got, outcome := b.TryDequeue()
	if outcome != task.Success || got.TaskID != 0 {
		t.Fatalf("expected task 0, got id=%d outcome=%v", got.TaskID, outcome)
	}

	if outcome := b.TryEnqueueStop(); outcome != task.Success {
		t.Fatalf("expected Success posting stop after draining a slot, got %v", outcome)
	}

	got, outcome = b.TryDequeue()
	if outcome != task.Success || got.TaskID != 1 {
		t.Fatalf("expected task 1, got id=%d outcome=%v", got.TaskID, outcome)
	}

	for i := 0; i < 3; i++ {
		if _, outcome := b.TryDequeue(); outcome != task.Stop {
			t.Fatalf("expected Stop to repeat (never consumed), got %v", outcome)
		}
	}
}

// S7 / property #7 require a capacity-1 ring to be constructible: it's
// the worst case for the Full→inline-fallback path in ParallelFor.
func TestRingCapacityOneIsConstructible(t *testing.T) {
	b := New(1, false)
	if b.Cap() != 1 {
		t.Fatalf("expected capacity 1 to round up to itself, got %d", b.Cap())
	}

	if outcome := b.TryEnqueue([]task.Task{idTask(0)}); outcome != task.Success {
		t.Fatalf("expected Success filling the single slot, got %v", outcome)
	}
	if outcome := b.TryEnqueue([]task.Task{idTask(1)}); outcome != task.Full {
		t.Fatalf("expected Full once the single slot is occupied, got %v", outcome)
	}
	got, outcome := b.TryDequeue()
	if outcome != task.Success || got.TaskID != 0 {
		t.Fatalf("expected task 0, got id=%d outcome=%v", got.TaskID, outcome)
	}
	if outcome := b.TryEnqueue([]task.Task{idTask(1)}); outcome != task.Success {
		t.Fatalf("expected Success reusing the freed slot, got %v", outcome)
	}
}

func TestRingCapacityRoundsUpToPowerOfTwo(t *testing.T) {
	b := New(5, false)
	if b.Cap() != 8 {
		t.Fatalf("expected capacity rounded up to 8, got %d", b.Cap())
	}
}

func TestRingFullDoesNotPublishPartialBatch(t *testing.T) {
	b := New(2, false)

	if outcome := b.TryEnqueue([]task.Task{idTask(0)}); outcome != task.Success {
		t.Fatalf("expected Success, got %v", outcome)
	}
	// A batch of 2 doesn't fit in the single remaining slot.
	if outcome := b.TryEnqueue([]task.Task{idTask(1), idTask(2)}); outcome != task.Full {
		t.Fatalf("expected Full, got %v", outcome)
	}

	// The rejected batch must not have been partially published: only
	// task 0 should be dequeueable.
	got, outcome := b.TryDequeue()
	if outcome != task.Success || got.TaskID != 0 {
		t.Fatalf("expected task 0 still at the front, got id=%d outcome=%v", got.TaskID, outcome)
	}
	if _, outcome := b.TryDequeue(); outcome != task.Empty {
		t.Fatalf("expected Empty, got %v", outcome)
	}
}

func TestRingWraparoundCopy(t *testing.T) {
	b := New(4, false)

	// Advance the cursors to 3 so the next 3-element batch straddles
	// the end of the backing array and must split its copy.
	if outcome := b.TryEnqueue([]task.Task{idTask(0), idTask(1), idTask(2)}); outcome != task.Success {
		t.Fatalf("expected Success, got %v", outcome)
	}
	for i := 0; i < 3; i++ {
		if _, outcome := b.TryDequeue(); outcome != task.Success {
			t.Fatalf("priming dequeue %d: expected Success, got %v", i, outcome)
		}
	}

	if outcome := b.TryEnqueue([]task.Task{idTask(10), idTask(11), idTask(12)}); outcome != task.Success {
		t.Fatalf("expected Success on wrapping batch, got %v", outcome)
	}
	for _, want := range []int32{10, 11, 12} {
		got, outcome := b.TryDequeue()
		if outcome != task.Success || got.TaskID != want {
			t.Fatalf("expected task %d, got id=%d outcome=%v", want, got.TaskID, outcome)
		}
	}
}

func TestRingDequeueAndRunStopsOnSentinel(t *testing.T) {
	b := New(4, false)
	var ran int
	b.Enqueue([]task.Task{{Fn: func(int32, unsafe.Pointer, int32) { ran++ }}})
	b.EnqueueStop()

	if !b.DequeueAndRun(0) {
		t.Fatal("expected the first DequeueAndRun to run a task and return true")
	}
	if b.DequeueAndRun(0) {
		t.Fatal("expected DequeueAndRun to return false on the stop sentinel")
	}
	if ran != 1 {
		t.Fatalf("expected exactly 1 task to run, got %d", ran)
	}
}

func TestRingDebugAssertsPostAfterStop(t *testing.T) {
	b := New(4, true)
	b.EnqueueStop()

	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic posting after stop in debug mode")
		}
	}()
	b.TryEnqueue([]task.Task{idTask(0)})
}
