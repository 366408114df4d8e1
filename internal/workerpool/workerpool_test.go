package workerpool

import (
	"bytes"
	"sync/atomic"
	"testing"

	"github.com/brisklane/parq/internal/logging"
)

// fakeDispatcher runs a fixed number of "tasks" before reporting the
// stop sentinel, so Pool's worker loop terminates deterministically in
// a test without depending on the real ring/continuation packages.
type fakeDispatcher struct {
	remaining atomic.Int64
	ran       atomic.Int64
}

func (f *fakeDispatcher) DequeueAndRun(workerIndex int32) bool {
	for {
		r := f.remaining.Load()
		if r <= 0 {
			return false
		}
		if f.remaining.CompareAndSwap(r, r-1) {
			f.ran.Add(1)
			return true
		}
	}
}

func TestPoolRunsUntilStop(t *testing.T) {
	d := &fakeDispatcher{}
	d.remaining.Store(1000)

	p := New(d, nil)
	p.Start(4)
	p.Wait()

	if d.ran.Load() != 1000 {
		t.Fatalf("expected 1000 tasks to run, got %d", d.ran.Load())
	}
}

func TestPoolZeroWorkersWaitsImmediately(t *testing.T) {
	d := &fakeDispatcher{}
	p := New(d, nil)
	p.Start(0)
	p.Wait()
}

// With a concrete *logging.Logger configured, each worker's dispatch
// loop messages are tagged via Logger.WithWorker rather than folding
// the index into the format string by hand.
func TestPoolTagsLogLinesWithWorkerIndex(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.Config{Level: logging.LevelDebug, Output: &buf})

	d := &fakeDispatcher{}
	d.remaining.Store(1)

	p := New(d, logger)
	p.Start(1)
	p.Wait()

	if got := buf.String(); !bytes.Contains([]byte(got), []byte("worker=0")) {
		t.Errorf("expected log output tagged worker=0, got %q", got)
	}
}
