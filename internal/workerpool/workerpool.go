// Package workerpool runs a fixed-size pool of worker goroutines that
// each call Queue.DequeueAndRun in a loop until a stop sentinel is
// observed. Each worker is pinned to its own OS thread, and optionally
// to a specific CPU core, the same way the teacher pins one OS thread
// per io_uring queue in internal/queue/runner.go's ioLoop: fine-grained
// compute work (spec's physics-simulation motivating example) benefits
// from avoiding cross-core cache migration and the Go scheduler moving
// a hot worker goroutine between Ms mid-burst.
package workerpool

import (
	"runtime"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/brisklane/parq/internal/interfaces"
	"github.com/brisklane/parq/internal/logging"
)

// Dispatcher is the subset of *parq.Queue a worker needs. Defined here
// (rather than importing the root package) to keep workerpool
// depend-on-able from the root package without an import cycle.
type Dispatcher interface {
	DequeueAndRun(workerIndex int32) bool
}

// Pool runs the worker goroutines launched by Start against a
// Dispatcher until every one observes the stop sentinel.
type Pool struct {
	dispatcher Dispatcher
	logger     interfaces.Logger

	// CPUAffinity, if non-empty, assigns worker N to CPU
	// CPUAffinity[N % len(CPUAffinity)] via round-robin, matching the
	// teacher's queueID-indexed assignment.
	CPUAffinity []int

	wg sync.WaitGroup
}

// New creates a Pool that dispatches against d.
func New(d Dispatcher, logger interfaces.Logger) *Pool {
	return &Pool{dispatcher: d, logger: logger}
}

// Start launches n worker goroutines, each with workerIndex 0..n-1.
// Start returns immediately; call Wait to block until every worker has
// observed the stop sentinel and exited.
func (p *Pool) Start(n int) {
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.runWorker(int32(i))
	}
}

// Wait blocks until every worker launched by Start has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) runWorker(workerIndex int32) {
	defer p.wg.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	log := p.workerLogger(workerIndex)

	if len(p.CPUAffinity) > 0 {
		cpuIdx := p.CPUAffinity[int(workerIndex)%len(p.CPUAffinity)]
		var mask unix.CPUSet
		mask.Set(cpuIdx)
		if err := unix.SchedSetaffinity(0, &mask); err != nil {
			if log != nil {
				log.Printf("failed to set CPU affinity to CPU %d: %v", cpuIdx, err)
			}
			// Continue without affinity: not fatal to correctness.
		} else if log != nil {
			log.Debugf("pinned to CPU %d", cpuIdx)
		}
	}

	if log != nil {
		log.Debugf("starting dispatch loop")
	}

	for p.dispatcher.DequeueAndRun(workerIndex) {
	}

	if log != nil {
		log.Debugf("observed stop, exiting")
	}
}

// workerLogger tags log lines with the worker's index when the
// configured Logger is the concrete *logging.Logger (so WithWorker is
// available), falling back to the plain interfaces.Logger with the
// index folded into each call site's message otherwise.
func (p *Pool) workerLogger(workerIndex int32) interfaces.Logger {
	if p.logger == nil {
		return nil
	}
	if l, ok := p.logger.(*logging.Logger); ok {
		return l.WithWorker(workerIndex)
	}
	return workerPrefixLogger{logger: p.logger, workerIndex: workerIndex}
}

// workerPrefixLogger folds the worker index into every message for
// Logger implementations that aren't this package's own concrete
// type and so can't satisfy WithWorker.
type workerPrefixLogger struct {
	logger      interfaces.Logger
	workerIndex int32
}

func (w workerPrefixLogger) Printf(format string, args ...interface{}) {
	w.logger.Printf("worker %d: "+format, append([]interface{}{w.workerIndex}, args...)...)
}

func (w workerPrefixLogger) Debugf(format string, args ...interface{}) {
	w.logger.Debugf("worker %d: "+format, append([]interface{}{w.workerIndex}, args...)...)
}
