// File: sched/join.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package sched

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/strandio/strand/api"
)

// JoinHandle observes one spawned task. It is safe for concurrent use; the
// result is delivered exactly once and then remains readable forever.
type JoinHandle[T any] struct {
	t *task

	once sync.Once
	val  T
	err  error
	done chan struct{}

	joinWaker atomic.Value // api.Waker registered by an awaiting task
}

// complete delivers the result. Later calls lose and are discarded, which is
// how a cancel racing a natural completion resolves.
func (h *JoinHandle[T]) complete(v T, err error) {
	h.once.Do(func() {
		h.val, h.err = v, err
		close(h.done)
		if w, ok := h.joinWaker.Load().(api.Waker); ok && w != nil {
			w.Wake()
		}
	})
}

// Poll implements Future, so one task can await another's result.
func (h *JoinHandle[T]) Poll(cx *Context) (T, bool, error) {
	select {
	case <-h.done:
		return h.val, true, h.err
	default:
	}
	h.joinWaker.Store(cx.Waker())
	// Re-check after registering; completion may have raced the store.
	select {
	case <-h.done:
		return h.val, true, h.err
	default:
	}
	var zero T
	return zero, false, nil
}

// Wait blocks the calling goroutine until the task finishes or ctx expires.
// Intended for code outside the runtime (main goroutines, tests); tasks
// await each other with Poll instead.
func (h *JoinHandle[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-h.done:
		return h.val, h.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Cancel requests cancellation. The task finishes with api.ErrTaskCancelled
// unless it completes first; either way the handle resolves.
func (h *JoinHandle[T]) Cancel() { h.t.requestCancel() }

// Detach declares that nobody will join this task. Spawned tasks already
// run to completion without a joiner, so this carries no mechanism; it
// exists so fire-and-forget call sites read as intentional.
func (h *JoinHandle[T]) Detach() {}

// Done reports whether the result is available without blocking.
func (h *JoinHandle[T]) Done() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Err returns the task error after Done, nil before.
func (h *JoinHandle[T]) Err() error {
	if !h.Done() {
		return nil
	}
	return h.err
}
