// File: sched/task.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Task state machine. The owner worker is the only mutator for the
// Scheduled->Running and Running->Suspended edges; wakers on arbitrary
// threads contend only on Suspended->Scheduled and on the wakePending bit.

package sched

import "sync/atomic"

// Task states.
const (
	stateScheduled uint32 = iota // queued, waiting for its poll
	stateRunning                 // inside Poll on the owner thread
	stateSuspended               // parked, waiting for a wakeup
	stateCompleted               // terminal, value delivered
	stateCancelled               // terminal, cancelled or panicked
)

var taskIDs atomic.Uint64

// task is the type-erased unit of execution. The generic future and its
// JoinHandle are captured in pollFn/failFn closures so the scheduler core
// stays monomorphic.
type task struct {
	id          uint64
	state       atomic.Uint32
	wakePending atomic.Bool
	cancelReq   atomic.Bool

	// worker is assigned once at adoption and never changes; tasks do not
	// migrate.
	worker *worker
	cx     Context

	// pollFn advances the future one step and reports terminal completion.
	// failFn completes the join handle with an error without polling.
	pollFn func(cx *Context) bool
	failFn func(err error)
}

// Wake transitions the task toward Scheduled. Safe from any thread, any
// number of times; concurrent wakes coalesce into at most one pending poll.
func (t *task) Wake() {
	for {
		switch t.state.Load() {
		case stateSuspended:
			if t.state.CompareAndSwap(stateSuspended, stateScheduled) {
				t.worker.enqueue(t)
				return
			}
		case stateRunning:
			// The poll in flight re-checks this bit when it suspends.
			t.wakePending.Store(true)
			if t.state.Load() != stateRunning {
				continue // suspended under us, retry the CAS path
			}
			return
		default:
			// Scheduled (already queued) or terminal.
			return
		}
	}
}

// requestCancel asks the owner worker to finish the task with
// api.ErrTaskCancelled before its next poll.
func (t *task) requestCancel() {
	if t.cancelReq.CompareAndSwap(false, true) {
		t.Wake()
	}
}

func (t *task) terminal() bool {
	s := t.state.Load()
	return s == stateCompleted || s == stateCancelled
}
