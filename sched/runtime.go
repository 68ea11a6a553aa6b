// File: sched/runtime.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package sched

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/strandio/strand/api"
	"github.com/strandio/strand/internal/concurrency"
	"github.com/strandio/strand/reactor"
)

// Runtime lifecycle states.
const (
	rtRunning uint32 = iota
	rtDraining
	rtForced
	rtStopped
)

// Runtime owns the worker threads. Construct with New, submit work through
// Handle/Spawn, and stop with Shutdown or Close. A Runtime is not reusable
// after shutdown.
type Runtime struct {
	cfg Config
	log *logrus.Logger

	workers  []*worker
	injector *concurrency.SharedQueue[*task]
	next     atomic.Uint64
	state    atomic.Uint32

	g      *errgroup.Group
	handle *Handle
}

// New builds the runtime and starts its workers. Driver construction is the
// one fallible step: if any worker's backend cannot initialize, every
// already-built driver is closed and the error wraps api.ErrDriverInit.
func New(opts ...Option) (*Runtime, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	rt := &Runtime{
		cfg:      cfg,
		log:      cfg.Logger,
		injector: concurrency.NewSharedQueue[*task](),
	}
	rt.handle = &Handle{rt: rt}

	drivers := make([]api.Driver, 0, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		d, err := reactor.New(reactor.Config{
			Backend: cfg.Backend,
			Logger:  cfg.Logger,
		})
		if err != nil {
			for _, built := range drivers {
				built.Close()
			}
			return nil, err
		}
		drivers = append(drivers, d)
	}

	rt.workers = make([]*worker, cfg.Workers)
	rt.g = &errgroup.Group{}
	for i := 0; i < cfg.Workers; i++ {
		w := newWorker(i, rt, drivers[i])
		rt.workers[i] = w
		rt.g.Go(w.run)
	}
	rt.log.WithFields(logrus.Fields{
		"workers": cfg.Workers,
		"backend": drivers[0].Backend().String(),
	}).Info("runtime started")
	return rt, nil
}

// Handle returns the spawn handle. The handle is cheap, shareable, and valid
// for the runtime's lifetime.
func (rt *Runtime) Handle() *Handle { return rt.handle }

// Workers reports the worker count.
func (rt *Runtime) Workers() int { return len(rt.workers) }

// Shutdown drains the runtime: new spawns are rejected, existing tasks run
// to completion. When ctx expires or the configured grace elapses first,
// remaining tasks are force-cancelled with api.ErrRuntimeShutdown.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	if !rt.state.CompareAndSwap(rtRunning, rtDraining) {
		return api.ErrRuntimeShutdown
	}
	rt.wakeAll()

	done := make(chan error, 1)
	go func() { done <- rt.g.Wait() }()

	grace := time.NewTimer(rt.cfg.ShutdownGrace)
	defer grace.Stop()
	select {
	case err := <-done:
		rt.finish()
		return err
	case <-ctx.Done():
	case <-grace.C:
	}

	rt.log.Warn("drain grace expired, forcing cancellation")
	rt.state.Store(rtForced)
	rt.wakeAll()
	err := <-done
	rt.finish()
	return err
}

// Close stops the runtime immediately, cancelling all tasks. Preferred in
// tests and defers; servers should Shutdown first.
func (rt *Runtime) Close() error {
	for {
		s := rt.state.Load()
		if s == rtStopped {
			return nil
		}
		if rt.state.CompareAndSwap(s, rtForced) {
			break
		}
	}
	rt.wakeAll()
	err := rt.g.Wait()
	rt.finish()
	return err
}

// finish fails any tasks still sitting in the injector and marks the
// runtime stopped.
func (rt *Runtime) finish() {
	for {
		t, ok := rt.injector.Pop()
		if !ok {
			break
		}
		t.failFn(api.ErrRuntimeShutdown)
	}
	rt.state.Store(rtStopped)
}

func (rt *Runtime) wakeAll() {
	for _, w := range rt.workers {
		_ = w.driver.Wakeup()
	}
}

// Handle is the spawn-side view of a runtime, safe to share across
// goroutines.
type Handle struct {
	rt *Runtime
}

func (h *Handle) spawn(t *task) error {
	if h.rt.state.Load() != rtRunning {
		return api.ErrRuntimeShutdown
	}
	h.rt.injector.Push(t)
	// Round-robin the wakeup so adoption spreads across workers.
	idx := h.rt.next.Add(1) % uint64(len(h.rt.workers))
	_ = h.rt.workers[idx].driver.Wakeup()
	return nil
}
