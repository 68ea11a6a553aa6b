// File: sched/timeout.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package sched

import (
	"time"

	"github.com/strandio/strand/api"
	"github.com/strandio/strand/timewheel"
)

// IOCanceller is implemented by futures holding kernel-side registrations
// (armed readiness interest, in-flight completion ops). The timeout
// combinator calls CancelIO on the losing side so a stale wakeup can never
// reference an abandoned future.
type IOCanceller interface {
	CancelIO(cx *Context)
}

// Timeout races f against a deadline. The deadline winning resolves the
// combinator with api.ErrOperationTimeout; f winning cancels the timer.
// Either way exactly one side's registration survives to completion.
func Timeout[T any](f Future[T], d time.Duration) Future[T] {
	return &timeoutFuture[T]{inner: f, d: d}
}

type timeoutFuture[T any] struct {
	inner Future[T]
	d     time.Duration
	entry *timewheel.Entry
}

func (t *timeoutFuture[T]) Poll(cx *Context) (T, bool, error) {
	if t.entry == nil {
		e, err := cx.Timers().Schedule(t.d, cx.Waker())
		if e == nil {
			var zero T
			return zero, true, err
		}
		t.entry = e
	}

	v, done, err := t.inner.Poll(cx)
	if done || err != nil {
		t.entry.Cancel()
		return v, true, err
	}

	if t.entry.Fired() {
		if c, ok := t.inner.(IOCanceller); ok {
			c.CancelIO(cx)
		}
		var zero T
		return zero, true, api.ErrOperationTimeout
	}
	var zero T
	return zero, false, nil
}
