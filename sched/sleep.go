// File: sched/sleep.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package sched

import (
	"time"

	"github.com/strandio/strand/timewheel"
)

// SleepFuture resolves once its delay elapses, yielding the wall-clock
// instant it was observed complete. The timer registers lazily on first
// poll so the delay is measured from when the task first waits, not from
// construction.
type SleepFuture struct {
	d         time.Duration
	entry     *timewheel.Entry
	cancelled bool
}

// Sleep returns a future that completes after d on the owning worker's
// timer wheel. Delays beyond the wheel horizon saturate to the horizon.
func Sleep(d time.Duration) *SleepFuture {
	return &SleepFuture{d: d}
}

// Poll implements Future.
func (s *SleepFuture) Poll(cx *Context) (time.Time, bool, error) {
	if s.cancelled {
		return time.Time{}, true, nil
	}
	if s.entry == nil {
		e, err := cx.Timers().Schedule(s.d, cx.Waker())
		if e == nil {
			return time.Time{}, true, err
		}
		s.entry = e // horizon saturation still fires, just late
	}
	if s.entry.Fired() {
		return time.Now(), true, nil
	}
	return time.Time{}, false, nil
}

// Cancel deregisters the timer. Subsequent polls report completion with a
// zero instant; pending wakeups become no-ops.
func (s *SleepFuture) Cancel() {
	s.cancelled = true
	if s.entry != nil {
		s.entry.Cancel()
	}
}

// CancelIO lets the timeout combinator unlink a losing sleep from the wheel
// immediately instead of leaving the entry armed to fire into a dead task.
func (s *SleepFuture) CancelIO(*Context) { s.Cancel() }
