// File: sched/worker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Worker loop: drain queues, poll tasks FIFO, advance timers, park on the
// driver. One OS thread per worker, locked for the worker's lifetime.

package sched

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/strandio/strand/affinity"
	"github.com/strandio/strand/api"
	"github.com/strandio/strand/internal/concurrency"
	"github.com/strandio/strand/timewheel"
)

const localQueueCap = 256

type worker struct {
	id     int
	rt     *Runtime
	driver api.Driver
	wheel  *timewheel.Wheel
	log    *logrus.Entry

	// local is the private run queue, touched only by this worker's thread.
	// remote receives tasks woken from other threads.
	local  *concurrency.RingBuffer[*task]
	remote *concurrency.SharedQueue[*task]

	// live tracks every adopted, non-terminal task. Worker thread only.
	live map[*task]struct{}

	parked atomic.Bool
	batch  [64]*task
}

func newWorker(id int, rt *Runtime, driver api.Driver) *worker {
	return &worker{
		id:     id,
		rt:     rt,
		driver: driver,
		wheel:  timewheel.New(rt.cfg.TickResolution),
		log:    rt.log.WithField("worker", id),
		local:  concurrency.NewRingBuffer[*task](localQueueCap),
		remote: concurrency.NewSharedQueue[*task](),
		live:   make(map[*task]struct{}),
	}
}

// enqueue schedules a task from an arbitrary thread.
func (w *worker) enqueue(t *task) {
	w.remote.Push(t)
	if w.parked.Load() {
		_ = w.driver.Wakeup()
	}
}

// enqueueLocal schedules a task from the worker's own thread.
func (w *worker) enqueueLocal(t *task) {
	if !w.local.Enqueue(t) {
		w.remote.Push(t)
	}
}

// adopt binds a task to this worker. Worker thread only.
func (w *worker) adopt(t *task) {
	t.worker = w
	t.cx = Context{waker: t, worker: w}
	w.live[t] = struct{}{}
}

func (w *worker) run() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer w.driver.Close()

	setThreadName(fmt.Sprintf("%s/%d", w.rt.cfg.NamePrefix, w.id))
	if w.rt.cfg.Pinning {
		if err := affinity.Pin(w.id); err != nil {
			w.log.WithError(err).Warn("cpu pinning unavailable")
		}
	}
	w.log.WithField("backend", w.driver.Backend().String()).Debug("worker up")

	for {
		w.drainRemote()
		w.drainInjector()
		w.runLocal()
		w.wheel.Advance(time.Now())

		switch w.rt.state.Load() {
		case rtDraining:
			if len(w.live) == 0 && w.queuesEmpty() {
				return nil
			}
		case rtForced:
			w.cancelAll()
			return nil
		}

		if !w.queuesEmpty() {
			continue
		}
		timeout := w.wheel.NextDelay()
		w.parked.Store(true)
		// Re-check after publishing parked: a producer that pushed before
		// seeing parked=true is caught here, one that pushed after will
		// call Wakeup.
		if !w.queuesEmpty() {
			w.parked.Store(false)
			continue
		}
		_, err := w.driver.Poll(timeout)
		w.parked.Store(false)
		if err != nil {
			if errors.Is(err, api.ErrDriverClosed) {
				return nil
			}
			w.log.WithError(err).Error("driver poll failed")
		}
		w.wheel.Advance(time.Now())
	}
}

func (w *worker) queuesEmpty() bool {
	return w.local.Len() == 0 && w.remote.Len() == 0 && w.rt.injector.Len() == 0
}

func (w *worker) drainRemote() {
	for {
		n := w.remote.PopBatch(w.batch[:])
		if n == 0 {
			return
		}
		for i := 0; i < n; i++ {
			w.enqueueLocal(w.batch[i])
		}
		if n < len(w.batch) {
			return
		}
	}
}

// drainInjector adopts externally spawned tasks. Whichever worker drains
// first wins; there is no rebalancing afterwards.
func (w *worker) drainInjector() {
	for {
		t, ok := w.rt.injector.Pop()
		if !ok {
			return
		}
		w.adopt(t)
		w.enqueueLocal(t)
	}
}

// runLocal polls every task queued at entry, once each, in FIFO order.
// Tasks woken during the pass queue behind the snapshot and run next
// iteration, which keeps one chatty task from starving the driver.
func (w *worker) runLocal() {
	n := w.local.Len()
	for i := 0; i < n; i++ {
		t, ok := w.local.Dequeue()
		if !ok {
			return
		}
		w.runTask(t)
	}
}

func (w *worker) runTask(t *task) {
	if t.cancelReq.Load() && !t.terminal() {
		w.finish(t, stateCancelled, api.ErrTaskCancelled)
		return
	}
	if !t.state.CompareAndSwap(stateScheduled, stateRunning) {
		return
	}
	if w.pollTask(t) {
		return
	}
	t.state.Store(stateSuspended)
	if t.wakePending.CompareAndSwap(true, false) {
		if t.state.CompareAndSwap(stateSuspended, stateScheduled) {
			w.enqueueLocal(t)
		}
	}
}

// pollTask runs one poll inside a recover barrier. A panicking task reaches
// Cancelled with a TaskPanicError; the worker thread survives.
func (w *worker) pollTask(t *task) (done bool) {
	defer func() {
		if r := recover(); r != nil {
			w.log.WithFields(logrus.Fields{"task": t.id, "panic": r}).Error("task panicked")
			w.finish(t, stateCancelled, &api.TaskPanicError{Value: r})
			done = true
		}
	}()
	if t.pollFn(&t.cx) {
		t.state.Store(stateCompleted)
		delete(w.live, t)
		return true
	}
	return false
}

// finish moves a task to a terminal state without polling it.
func (w *worker) finish(t *task, state uint32, err error) {
	t.state.Store(state)
	delete(w.live, t)
	t.failFn(err)
}

// cancelAll tears down every live task during forced shutdown.
func (w *worker) cancelAll() {
	n := len(w.live)
	for t := range w.live {
		t.state.Store(stateCancelled)
		t.failFn(api.ErrRuntimeShutdown)
	}
	w.live = make(map[*task]struct{})
	if n > 0 {
		w.log.WithField("tasks", n).Warn("forced cancellation")
	}
}
