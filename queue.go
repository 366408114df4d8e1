package parq

import (
	"time"
	"unsafe"

	"github.com/brisklane/parq/internal/backoff"
	"github.com/brisklane/parq/internal/bufpool"
	"github.com/brisklane/parq/internal/constants"
	"github.com/brisklane/parq/internal/continuation"
	"github.com/brisklane/parq/internal/interfaces"
	"github.com/brisklane/parq/internal/logging"
	"github.com/brisklane/parq/internal/ring"
	"github.com/brisklane/parq/internal/trampoline"
)

// Handle is an opaque, version-tagged reference to an in-flight
// continuation (C4). The zero Handle is NullHandle.
type Handle = continuation.Handle

// NullHandle is the distinguished uninitialized handle.
var NullHandle = continuation.Null

// CompletionFunc is fired exactly once when a continuation's remaining
// task count reaches zero.
type CompletionFunc = continuation.CompletionFunc

// ContinuationView is a checked, version-guarded accessor for a
// continuation's live state, returned by Queue.GetContinuation. Every
// accessor re-validates the slot's version, so a View obtained before
// the slot was reallocated to a new job safely reports stale afterward
// rather than reading state from the reallocated slot.
type ContinuationView = continuation.View

// Config configures a Queue. The zero Config is valid: New replaces
// zero capacities and a nil Logger with the package defaults.
type Config struct {
	// TaskCapacity is the ring buffer's requested capacity, rounded up
	// to the next power of two. Defaults to DefaultTaskCapacity.
	TaskCapacity int

	// ContinuationCapacity is the number of in-flight continuation
	// slots. Defaults to DefaultContinuationCapacity.
	ContinuationCapacity int

	// Debug enables the programmer-error assertions described in spec
	// §7 (stale handles, posting after stop, version mismatches panic
	// with a structured error instead of silently degrading).
	Debug bool

	// Logger receives operational log lines. Defaults to
	// logging.Default().
	Logger interfaces.Logger

	// Observer receives best-effort notifications of queue activity,
	// in addition to the built-in Metrics every Queue tracks. May be
	// left nil.
	Observer interfaces.Observer
}

// DefaultConfig returns a Config with the package defaults.
func DefaultConfig() Config {
	return Config{
		TaskCapacity:         constants.DefaultTaskCapacity,
		ContinuationCapacity: constants.DefaultContinuationCapacity,
		Debug:                false,
		Logger:               logging.Default(),
	}
}

// Queue is a multi-producer/multi-consumer task dispatch core: a
// bounded FIFO ring buffer of tasks (C2) paired with a version-tagged
// continuation table (C3/C4) that tracks completion of a group of
// tasks as one logical job. Every method is safe for concurrent use by
// any number of producer and worker goroutines.
type Queue struct {
	ring          *ring.Buffer
	continuations *continuation.Table
	metrics       *Metrics
	logger        interfaces.Logger
	observer      interfaces.Observer
	debug         bool

	// Scratch pools for ParallelFor, sized by iteration count buckets
	// (see internal/bufpool) so a parallel-for call over a modest range
	// doesn't force a heap allocation per call.
	forPool  *bufpool.Pool[Task]
	wrapPool *bufpool.Pool[trampoline.WrappedContext]
}

// New constructs a Queue from cfg. Zero-value capacity fields fall
// back to their package defaults, since a zero capacity is never
// useful and always a caller oversight rather than a deliberate
// choice. A negative capacity, by contrast, can't be rounded to
// anything sensible and is reported as an *Error instead.
func New(cfg Config) (*Queue, error) {
	taskCap := cfg.TaskCapacity
	if taskCap < 0 {
		return nil, NewError("New", ErrCodeInvalidConfig, "TaskCapacity must not be negative")
	}
	if taskCap == 0 {
		taskCap = constants.DefaultTaskCapacity
	}
	contCap := cfg.ContinuationCapacity
	if contCap < 0 {
		return nil, NewError("New", ErrCodeInvalidConfig, "ContinuationCapacity must not be negative")
	}
	if contCap == 0 {
		contCap = constants.DefaultContinuationCapacity
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	q := &Queue{
		ring:          ring.New(taskCap, cfg.Debug),
		continuations: continuation.New(contCap, cfg.Debug),
		metrics:       NewMetrics(),
		logger:        logger,
		observer:      cfg.Observer,
		debug:         cfg.Debug,
		forPool:       bufpool.New[Task](),
		wrapPool:      bufpool.New[trampoline.WrappedContext](),
	}
	q.logger.Debugf("queue constructed: taskCapacity=%d continuationCapacity=%d debug=%v",
		q.ring.Cap(), q.continuations.Cap(), cfg.Debug)
	return q, nil
}

// TaskCapacity returns the ring buffer's fixed capacity.
func (q *Queue) TaskCapacity() int { return q.ring.Cap() }

// ContinuationCapacity returns the continuation table's fixed capacity.
func (q *Queue) ContinuationCapacity() int { return q.continuations.Cap() }

// TryEnqueue attempts to post tasks as a single atomic batch (spec
// §4.1.1). An empty slice always succeeds.
func (q *Queue) TryEnqueue(tasks []Task) Outcome {
	outcome := q.ring.TryEnqueue(tasks)
	q.metrics.recordEnqueue(len(tasks), outcome)
	if q.observer != nil {
		q.observer.ObserveEnqueue(len(tasks), outcome.String())
	}
	return outcome
}

// Enqueue blocks (spinning with back-off) until tasks are posted.
func (q *Queue) Enqueue(tasks []Task) {
	var sp backoff.Spinner
	for {
		if q.TryEnqueue(tasks) == Success {
			return
		}
		sp.Wait()
	}
}

// TryEnqueueStop posts the stop sentinel.
func (q *Queue) TryEnqueueStop() Outcome {
	outcome := q.ring.TryEnqueueStop()
	q.metrics.recordEnqueue(1, outcome)
	if outcome == Success {
		q.logger.Printf("stop sentinel posted, workers will exit once they reach it")
	}
	return outcome
}

// EnqueueStop blocks until the stop sentinel is posted.
func (q *Queue) EnqueueStop() {
	var sp backoff.Spinner
	for {
		if q.TryEnqueueStop() == Success {
			return
		}
		sp.Wait()
	}
}

// TryDequeue attempts to pop the next task record (spec §4.1.2). The
// stop sentinel, once observed, is never consumed.
func (q *Queue) TryDequeue() (Task, Outcome) {
	t, outcome := q.ring.TryDequeue()
	q.metrics.recordDequeue(outcome)
	if q.observer != nil {
		q.observer.ObserveDequeue(outcome.String())
	}
	return t, outcome
}

// TryDequeueAndRun dequeues a task and, on success, runs it inline
// with the given workerIndex.
func (q *Queue) TryDequeueAndRun(workerIndex int32) Outcome {
	t, outcome := q.TryDequeue()
	if outcome == Success {
		if q.debug {
			q.taskLogger(workerIndex, t.TaskID).Debugf("running task")
		}
		t.Fn(t.TaskID, t.Context, workerIndex)
	}
	return outcome
}

// DequeueAndRun spins (with back-off) until it runs a task or observes
// Stop. It returns false iff the result was Stop; this is the body of
// a worker's dispatch loop.
func (q *Queue) DequeueAndRun(workerIndex int32) bool {
	var sp backoff.Spinner
	for {
		switch q.TryDequeueAndRun(workerIndex) {
		case Success:
			sp.Reset()
		case Stop:
			return false
		default:
			sp.Wait()
			continue
		}
		return true
	}
}

// TryAllocateContinuation reserves a continuation slot for a job of
// taskCount tasks (spec §4.2.1). onCompleted may be nil.
//
// The callback actually stored in the slot is wrapped so that the
// transition to zero also records the job's allocate-to-complete
// latency into Metrics and, if configured, notifies the external
// Observer — mirroring the way the trampoline itself runs outside any
// lock (spec §4.2.4), this wrapping adds no extra critical section.
func (q *Queue) TryAllocateContinuation(taskCount int32, userID uint64, onCompleted CompletionFunc, onCompletedCtx unsafe.Pointer) (Handle, Outcome) {
	allocatedAt := time.Now()
	instrumented := func(uid uint64, ctx unsafe.Pointer, workerIndex int32) {
		latencyNs := uint64(time.Since(allocatedAt).Nanoseconds())
		q.metrics.recordCompletion(latencyNs)
		if q.observer != nil {
			q.observer.ObserveContinuationComplete(latencyNs)
		}
		if onCompleted != nil {
			onCompleted(uid, ctx, workerIndex)
		}
	}
	h, outcome := q.continuations.TryAllocate(taskCount, userID, instrumented, onCompletedCtx)
	q.metrics.recordContinuationAlloc(outcome)
	return h, outcome
}

// AllocateContinuation blocks (spinning with back-off) until a
// continuation slot is reserved.
func (q *Queue) AllocateContinuation(taskCount int32, userID uint64, onCompleted CompletionFunc, onCompletedCtx unsafe.Pointer) Handle {
	var sp backoff.Spinner
	for {
		h, outcome := q.TryAllocateContinuation(taskCount, userID, onCompleted, onCompletedCtx)
		if outcome == Success {
			return h
		}
		sp.Wait()
	}
}

// IsComplete reports whether h's job has finished (spec §4.2.3).
func (q *Queue) IsComplete(h Handle) bool {
	return q.continuations.IsComplete(h)
}

// GetContinuation returns a checked accessor for h's live state, or
// nil if h is stale (spec §4.2.2).
func (q *Queue) GetContinuation(h Handle) *ContinuationView {
	return q.continuations.Get(h)
}

// CreateCompletionWrappedTasks wraps src with the standard trampoline
// (C5/C6) so that completing each one decrements h's remaining count,
// firing h's completion callback and recycling its slot on the
// transition to zero.
//
// wrapped and out are caller-provided storage, both sized to len(src):
// wrapped holds the trampoline's per-task context and out receives the
// wrapped Task records. Neither is allocated here, matching the way
// ParallelFor drives this same trampoline from its pooled buffers
// (spec §9 rules out a per-call heap allocation on this path).
func (q *Queue) CreateCompletionWrappedTasks(h Handle, src []Task, wrapped []trampoline.WrappedContext, out []Task) {
	trampoline.Wrap(h, q.continuations, src, wrapped, out)
}

// Stats returns a point-in-time snapshot of the queue's dispatch
// metrics.
func (q *Queue) Stats() Snapshot {
	depth := q.depth()
	q.metrics.RecordQueueDepth(depth)
	if q.observer != nil {
		q.observer.ObserveQueueDepth(depth)
	}
	return q.metrics.Snapshot()
}

// taskLogger tags a debug log line with the worker and task it
// concerns when the configured Logger is the concrete *logging.Logger
// (so WithWorker/WithTask are available), and falls back to the plain
// interfaces.Logger otherwise. Only called with q.debug already true,
// so this never costs anything on the hot path in a release build.
func (q *Queue) taskLogger(workerIndex, taskID int32) interfaces.Logger {
	if l, ok := q.logger.(*logging.Logger); ok {
		return l.WithWorker(workerIndex).WithTask(taskID)
	}
	return q.logger
}

func (q *Queue) depth() uint32 {
	// Approximate in-flight depth: capacity minus free slots is not
	// directly exposed by ring.Buffer, so Stats relies on the
	// cumulative counters recorded on every enqueue/dequeue instead of
	// sampling live cursor state, avoiding a fourth lock acquisition on
	// the hot path purely for an instantaneous gauge.
	return uint32(q.metrics.TasksEnqueued.Load() - q.metrics.DequeueSuccess.Load())
}

// Dispose marks the queue's metrics as stopped (spec's "dispose(pool):
// return all buffers to the allocator" maps to nothing further here —
// forPool and wrapPool are sync.Pools with no handback step of their
// own, and the ring/continuation table own their backing arrays for
// the queue's lifetime rather than borrowing from an external
// allocator). It does not drain ring or continuation state; callers
// that want a clean shutdown should post a stop sentinel and wait for
// every worker's DequeueAndRun to return false first.
func (q *Queue) Dispose() {
	q.metrics.Stop()
}
