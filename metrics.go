package parq

import (
	"sync/atomic"
	"time"

	"github.com/brisklane/parq/internal/interfaces"
	"github.com/brisklane/parq/internal/task"
)

// LatencyBuckets defines the job-completion latency histogram buckets
// in nanoseconds, from continuation allocation to on_completed firing.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks dispatch activity for a Queue. The outcome and
// completion counters are updated unconditionally on the hot path; the
// queue-depth fields are sampled only when Queue.Stats is called
// (spec's Non-goals exclude priority
// and growable capacity as *features*, but this counts as ambient
// observability, carried the same way the teacher's Metrics is — see
// DESIGN.md).
type Metrics struct {
	// Enqueue outcomes.
	EnqueueSuccess   atomic.Uint64
	EnqueueContested atomic.Uint64
	EnqueueFull      atomic.Uint64
	TasksEnqueued    atomic.Uint64 // sum of batch sizes across successful enqueues

	// Dequeue outcomes.
	DequeueSuccess   atomic.Uint64
	DequeueContested atomic.Uint64
	DequeueEmpty     atomic.Uint64
	DequeueStop      atomic.Uint64

	// Continuation allocation outcomes.
	ContinuationAllocSuccess   atomic.Uint64
	ContinuationAllocContested atomic.Uint64
	ContinuationAllocFull      atomic.Uint64
	ContinuationsCompleted     atomic.Uint64

	// Ring buffer depth statistics.
	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	// Continuation completion latency (allocate -> on_completed).
	TotalCompletionLatencyNs atomic.Uint64
	CompletionCount          atomic.Uint64
	LatencyBuckets           [numLatencyBuckets]atomic.Uint64

	// Lifecycle.
	StartTime atomic.Int64 // UnixNano
	StopTime  atomic.Int64 // UnixNano
}

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) recordEnqueue(n int, outcome task.Outcome) {
	switch outcome {
	case task.Success:
		m.EnqueueSuccess.Add(1)
		m.TasksEnqueued.Add(uint64(n))
	case task.Contested:
		m.EnqueueContested.Add(1)
	case task.Full:
		m.EnqueueFull.Add(1)
	}
}

func (m *Metrics) recordDequeue(outcome task.Outcome) {
	switch outcome {
	case task.Success:
		m.DequeueSuccess.Add(1)
	case task.Contested:
		m.DequeueContested.Add(1)
	case task.Empty:
		m.DequeueEmpty.Add(1)
	case task.Stop:
		m.DequeueStop.Add(1)
	}
}

func (m *Metrics) recordContinuationAlloc(outcome task.Outcome) {
	switch outcome {
	case task.Success:
		m.ContinuationAllocSuccess.Add(1)
	case task.Contested:
		m.ContinuationAllocContested.Add(1)
	case task.Full:
		m.ContinuationAllocFull.Add(1)
	}
}

// RecordQueueDepth records a point-in-time sample of the ring buffer's
// in-flight task count.
func (m *Metrics) RecordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)

	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

// recordCompletion records a continuation's allocate-to-complete
// latency and updates the histogram.
func (m *Metrics) recordCompletion(latencyNs uint64) {
	m.ContinuationsCompleted.Add(1)
	m.TotalCompletionLatencyNs.Add(latencyNs)
	m.CompletionCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the queue's metrics as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// Snapshot is a point-in-time view of Metrics with derived statistics.
type Snapshot struct {
	EnqueueSuccess   uint64
	EnqueueContested uint64
	EnqueueFull      uint64
	TasksEnqueued    uint64

	DequeueSuccess   uint64
	DequeueContested uint64
	DequeueEmpty     uint64
	DequeueStop      uint64

	ContinuationAllocSuccess   uint64
	ContinuationAllocContested uint64
	ContinuationAllocFull      uint64
	ContinuationsCompleted     uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32

	AvgCompletionLatencyNs uint64
	UptimeNs               uint64

	CompletionLatencyP50Ns  uint64
	CompletionLatencyP99Ns  uint64
	CompletionLatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64
}

// Snapshot creates a point-in-time snapshot of m.
func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{
		EnqueueSuccess:             m.EnqueueSuccess.Load(),
		EnqueueContested:           m.EnqueueContested.Load(),
		EnqueueFull:                m.EnqueueFull.Load(),
		TasksEnqueued:              m.TasksEnqueued.Load(),
		DequeueSuccess:             m.DequeueSuccess.Load(),
		DequeueContested:           m.DequeueContested.Load(),
		DequeueEmpty:               m.DequeueEmpty.Load(),
		DequeueStop:                m.DequeueStop.Load(),
		ContinuationAllocSuccess:   m.ContinuationAllocSuccess.Load(),
		ContinuationAllocContested: m.ContinuationAllocContested.Load(),
		ContinuationAllocFull:      m.ContinuationAllocFull.Load(),
		ContinuationsCompleted:     m.ContinuationsCompleted.Load(),
		MaxQueueDepth:              m.MaxQueueDepth.Load(),
	}

	if c := m.QueueDepthCount.Load(); c > 0 {
		snap.AvgQueueDepth = float64(m.QueueDepthTotal.Load()) / float64(c)
	}

	completionCount := m.CompletionCount.Load()
	if completionCount > 0 {
		snap.AvgCompletionLatencyNs = m.TotalCompletionLatencyNs.Load() / completionCount
	}

	start := m.StartTime.Load()
	if stop := m.StopTime.Load(); stop > 0 {
		snap.UptimeNs = uint64(stop - start)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - start)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if completionCount > 0 {
		snap.CompletionLatencyP50Ns = m.calculatePercentile(0.50)
		snap.CompletionLatencyP99Ns = m.calculatePercentile(0.99)
		snap.CompletionLatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.CompletionCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters (useful for testing).
func (m *Metrics) Reset() {
	m.EnqueueSuccess.Store(0)
	m.EnqueueContested.Store(0)
	m.EnqueueFull.Store(0)
	m.TasksEnqueued.Store(0)
	m.DequeueSuccess.Store(0)
	m.DequeueContested.Store(0)
	m.DequeueEmpty.Store(0)
	m.DequeueStop.Store(0)
	m.ContinuationAllocSuccess.Store(0)
	m.ContinuationAllocContested.Store(0)
	m.ContinuationAllocFull.Store(0)
	m.ContinuationsCompleted.Store(0)
	m.QueueDepthTotal.Store(0)
	m.QueueDepthCount.Store(0)
	m.MaxQueueDepth.Store(0)
	m.TotalCompletionLatencyNs.Store(0)
	m.CompletionCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// NoOpObserver is a no-op implementation of interfaces.Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveEnqueue(int, string)         {}
func (NoOpObserver) ObserveDequeue(string)               {}
func (NoOpObserver) ObserveContinuationComplete(uint64) {}
func (NoOpObserver) ObserveQueueDepth(uint32)           {}

// MetricsObserver implements interfaces.Observer by forwarding into a
// Metrics instance, mirroring the teacher's MetricsObserver /
// RecordRead-style split between the Metrics value type and the
// Observer interface that external callers use to watch activity
// without depending on Metrics directly.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an Observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveEnqueue(n int, outcome string) {
	o.metrics.recordEnqueue(n, outcomeFromString(outcome))
}

func (o *MetricsObserver) ObserveDequeue(outcome string) {
	o.metrics.recordDequeue(outcomeFromString(outcome))
}

// outcomeFromString inverts Outcome.String() for the interfaces.Observer
// boundary, which carries outcomes as strings rather than the task
// package's own Outcome type.
func outcomeFromString(s string) task.Outcome {
	switch s {
	case "Success":
		return task.Success
	case "Contested":
		return task.Contested
	case "Empty":
		return task.Empty
	case "Full":
		return task.Full
	case "Stop":
		return task.Stop
	default:
		return task.Outcome(255)
	}
}

func (o *MetricsObserver) ObserveContinuationComplete(latencyNs uint64) {
	o.metrics.recordCompletion(latencyNs)
}

func (o *MetricsObserver) ObserveQueueDepth(depth uint32) {
	o.metrics.RecordQueueDepth(depth)
}

var _ interfaces.Observer = (*MetricsObserver)(nil)
var _ interfaces.Observer = (*NoOpObserver)(nil)
