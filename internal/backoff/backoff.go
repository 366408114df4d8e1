// Package backoff implements the short, bounded spin/yield back-off
// used by every blocking wrapper in the dispatch core. There is no
// kernel wait anywhere in this module (spec §5); a failed attempt is
// always transient (Contested, Empty, or a Full ring that has not yet
// drained), so the
// only question is how hard to spin while waiting for another
// goroutine to make progress.
package backoff

import (
	"runtime"
	"time"

	"github.com/brisklane/parq/internal/constants"
)

// Spinner tracks consecutive failed attempts and escalates from a
// short timed sleep to runtime.Gosched() once the wait has gone on
// long enough that the scheduler should consider running someone else.
type Spinner struct {
	attempts int
	delay    time.Duration
}

// Wait backs off once, escalating on repeated calls. Call Reset
// whenever an attempt succeeds.
func (s *Spinner) Wait() {
	s.attempts++
	if s.attempts >= constants.SpinYieldThreshold {
		runtime.Gosched()
		return
	}
	if s.delay == 0 {
		s.delay = constants.SpinBackoffInitial
	}
	time.Sleep(s.delay)
	s.delay *= 2
	if s.delay > constants.SpinBackoffMax {
		s.delay = constants.SpinBackoffMax
	}
}

// Reset clears the back-off state after a successful attempt.
func (s *Spinner) Reset() {
	s.attempts = 0
	s.delay = 0
}
