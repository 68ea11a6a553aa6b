// File: sched/yield.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package sched

// Yield returns a future that suspends once and completes on its next poll,
// giving the rest of the worker's run queue (and the driver) a turn.
func Yield() Future[struct{}] {
	yielded := false
	return FutureFunc[struct{}](func(cx *Context) (struct{}, bool, error) {
		if yielded {
			return struct{}{}, true, nil
		}
		yielded = true
		// Waking while Running marks the task for immediate requeue.
		cx.Waker().Wake()
		return struct{}{}, false, nil
	})
}
