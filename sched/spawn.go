// File: sched/spawn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package sched

// newTask wraps a typed future and its join handle into a type-erased task.
func newTask[T any](f Future[T]) (*task, *JoinHandle[T]) {
	h := &JoinHandle[T]{done: make(chan struct{})}
	t := &task{id: taskIDs.Add(1)}
	t.pollFn = func(cx *Context) bool {
		v, done, err := f.Poll(cx)
		if err != nil {
			h.complete(v, err)
			return true
		}
		if done {
			h.complete(v, nil)
			return true
		}
		return false
	}
	t.failFn = func(err error) {
		var zero T
		h.complete(zero, err)
	}
	h.t = t
	return t, h
}

// Spawn submits a future to the runtime from any goroutine. The task lands
// on whichever worker adopts it from the injector and stays there for life.
// Fails with api.ErrRuntimeShutdown once shutdown has begun.
func Spawn[T any](h *Handle, f Future[T]) (*JoinHandle[T], error) {
	t, jh := newTask(f)
	if err := h.spawn(t); err != nil {
		return nil, err
	}
	return jh, nil
}

// SpawnAt submits a future onto the current task's own worker, skipping the
// injector. Only valid inside Poll. Sibling tasks spawned this way share the
// caller's thread, driver, and timer wheel, so handing data between them
// needs no synchronization.
func SpawnAt[T any](cx *Context, f Future[T]) *JoinHandle[T] {
	t, jh := newTask(f)
	w := cx.worker
	w.adopt(t)
	w.enqueueLocal(t)
	return jh
}
