// File: sched/ticker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package sched

import (
	"sync/atomic"
	"time"

	"github.com/strandio/strand/api"
	"github.com/strandio/strand/timewheel"
)

// Ticker delivers periodic wakeups anchored to the original schedule:
// each deadline is the previous deadline plus the period, so dispatch
// jitter does not accumulate into drift. Ticks missed while the consumer
// lags are coalesced into the pending count.
type Ticker struct {
	entry   *timewheel.Entry
	pending atomic.Uint32
	waker   atomic.Value // api.Waker of the task blocked in Next
	stopped bool
}

// NewTicker registers a periodic timer on the calling task's worker.
// Only valid inside Poll.
func NewTicker(cx *Context, period time.Duration) (*Ticker, error) {
	tk := &Ticker{}
	entry, err := cx.Timers().SchedulePeriodic(period, api.WakerFunc(tk.fire))
	if err != nil {
		return nil, err
	}
	tk.entry = entry
	return tk, nil
}

// fire runs on the worker thread during wheel advance.
func (tk *Ticker) fire() {
	tk.pending.Add(1)
	if w, ok := tk.waker.Load().(api.Waker); ok && w != nil {
		w.Wake()
	}
}

// Next returns a future resolving at the next tick, immediately when ticks
// are already pending.
func (tk *Ticker) Next() Future[time.Time] {
	return FutureFunc[time.Time](func(cx *Context) (time.Time, bool, error) {
		if tk.stopped {
			return time.Time{}, true, api.ErrTaskCancelled
		}
		for {
			n := tk.pending.Load()
			if n == 0 {
				break
			}
			if tk.pending.CompareAndSwap(n, n-1) {
				return time.Now(), true, nil
			}
		}
		tk.waker.Store(cx.Waker())
		// A fire may have raced the store; don't park on it.
		if tk.pending.Load() > 0 {
			cx.Waker().Wake()
		}
		return time.Time{}, false, nil
	})
}

// Stop cancels the periodic timer. Pending unconsumed ticks are dropped;
// a blocked Next resolves with api.ErrTaskCancelled on its next poll.
func (tk *Ticker) Stop() {
	if tk.stopped {
		return
	}
	tk.stopped = true
	tk.entry.Cancel()
	if w, ok := tk.waker.Load().(api.Waker); ok && w != nil {
		w.Wake()
	}
}
