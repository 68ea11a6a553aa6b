// File: sched/future.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package sched

import (
	"github.com/strandio/strand/api"
	"github.com/strandio/strand/timewheel"
)

// Future is a poll-driven computation. Poll either completes with a value or
// an error (done true), or returns done false after arranging for
// cx.Waker().Wake() to be called when progress becomes possible. A future
// that returns done false without registering the waker anywhere will never
// be polled again.
//
// Poll runs only on the owning worker's thread and is never reentered.
type Future[T any] interface {
	Poll(cx *Context) (T, bool, error)
}

// FutureFunc adapts a function to the Future interface.
type FutureFunc[T any] func(cx *Context) (T, bool, error)

// Poll implements Future.
func (f FutureFunc[T]) Poll(cx *Context) (T, bool, error) { return f(cx) }

// Context is the per-poll environment handed to Future.Poll. It carries the
// task's waker and the owning worker's driver and timer wheel. A Context is
// only valid for the duration of the Poll call that received it.
type Context struct {
	waker  api.Waker
	worker *worker
}

// Waker returns the waker that reschedules the current task. The waker is
// safe to retain beyond the poll and to invoke from any thread.
func (cx *Context) Waker() api.Waker { return cx.waker }

// Driver returns the owning worker's I/O driver.
func (cx *Context) Driver() api.Driver { return cx.worker.driver }

// Timers returns the owning worker's timer wheel. The wheel is single
// threaded; it must only be touched from inside Poll.
func (cx *Context) Timers() *timewheel.Wheel { return cx.worker.wheel }

// Handle returns a spawn handle for the runtime that owns the current task.
func (cx *Context) Handle() *Handle { return cx.worker.rt.Handle() }
