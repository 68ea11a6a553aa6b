// File: sched/runtime_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package sched

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandio/strand/api"
)

func testRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	opts = append([]Option{WithWorkers(2), WithLogger(log)}, opts...)
	rt, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	return rt
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func ready[T any](v T) Future[T] {
	return FutureFunc[T](func(*Context) (T, bool, error) { return v, true, nil })
}

func TestSpawnAndJoin(t *testing.T) {
	rt := testRuntime(t)
	h, err := Spawn(rt.Handle(), ready(42))
	require.NoError(t, err)
	v, err := h.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.True(t, h.Done())
	assert.NoError(t, h.Err())
}

func TestSpawnErrorPropagates(t *testing.T) {
	rt := testRuntime(t)
	boom := errors.New("boom")
	h, err := Spawn(rt.Handle(), FutureFunc[int](func(*Context) (int, bool, error) {
		return 0, true, boom
	}))
	require.NoError(t, err)
	_, err = h.Wait(waitCtx(t))
	assert.ErrorIs(t, err, boom)
}

func TestPanicBecomesTaskPanicError(t *testing.T) {
	rt := testRuntime(t)
	h, err := Spawn(rt.Handle(), FutureFunc[int](func(*Context) (int, bool, error) {
		panic("kaboom")
	}))
	require.NoError(t, err)
	_, err = h.Wait(waitCtx(t))
	var pe *api.TaskPanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "kaboom", pe.Value)

	// The worker thread survived.
	h2, err := Spawn(rt.Handle(), ready("alive"))
	require.NoError(t, err)
	v, err := h2.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "alive", v)
}

func TestCancelSuspendedTask(t *testing.T) {
	rt := testRuntime(t)
	// Never registers its waker after the first poll: stays suspended until
	// cancelled.
	h, err := Spawn(rt.Handle(), FutureFunc[int](func(cx *Context) (int, bool, error) {
		return 0, false, nil
	}))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	h.Cancel()
	_, err = h.Wait(waitCtx(t))
	assert.ErrorIs(t, err, api.ErrTaskCancelled)
}

func TestCancelCompletedTaskKeepsResult(t *testing.T) {
	rt := testRuntime(t)
	h, err := Spawn(rt.Handle(), ready(7))
	require.NoError(t, err)
	v, err := h.Wait(waitCtx(t))
	require.NoError(t, err)
	h.Cancel()
	v2, err := h.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, v, v2)
}

func TestSinglePollNoReentry(t *testing.T) {
	rt := testRuntime(t, WithWorkers(1))
	var inPoll atomic.Int32
	var overlapped atomic.Bool
	polls := 0
	h, err := Spawn(rt.Handle(), FutureFunc[int](func(cx *Context) (int, bool, error) {
		if inPoll.Add(1) > 1 {
			overlapped.Store(true)
		}
		defer inPoll.Add(-1)
		polls++
		if polls >= 5 {
			return polls, true, nil
		}
		// Storm of wakeups mid-poll must coalesce into one more poll, not
		// concurrent reentry.
		for i := 0; i < 10; i++ {
			cx.Waker().Wake()
		}
		return 0, false, nil
	}))
	require.NoError(t, err)
	v, err := h.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 5, v)
	assert.False(t, overlapped.Load())
}

func TestFIFOWithinWorker(t *testing.T) {
	rt := testRuntime(t, WithWorkers(1))
	var order []int
	h, err := Spawn(rt.Handle(), FutureFunc[struct{}](func(cx *Context) (struct{}, bool, error) {
		for i := 0; i < 4; i++ {
			i := i
			SpawnAt(cx, FutureFunc[struct{}](func(*Context) (struct{}, bool, error) {
				order = append(order, i)
				return struct{}{}, true, nil
			}))
		}
		return struct{}{}, true, nil
	}))
	require.NoError(t, err)
	_, err = h.Wait(waitCtx(t))
	require.NoError(t, err)

	// Flush: the siblings run before any later spawn on the same worker.
	h2, err := Spawn(rt.Handle(), ready(struct{}{}))
	require.NoError(t, err)
	_, err = h2.Wait(waitCtx(t))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []int{0, 1, 2, 3}, order)
}

func TestJoinHandleAwaitedByTask(t *testing.T) {
	rt := testRuntime(t)
	s := Sleep(10 * time.Millisecond)
	inner, err := Spawn(rt.Handle(), FutureFunc[int](func(cx *Context) (int, bool, error) {
		_, done, err := s.Poll(cx)
		if !done {
			return 0, false, err
		}
		return 99, true, nil
	}))
	require.NoError(t, err)
	outer, err := Spawn(rt.Handle(), FutureFunc[int](func(cx *Context) (int, bool, error) {
		return inner.Poll(cx)
	}))
	require.NoError(t, err)
	v, err := outer.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 99, v)
}

func TestYieldRunsQueueNeighbors(t *testing.T) {
	rt := testRuntime(t, WithWorkers(1))
	var order []string
	var y Future[struct{}]
	h, err := Spawn(rt.Handle(), FutureFunc[struct{}](func(cx *Context) (struct{}, bool, error) {
		if y == nil {
			SpawnAt(cx, FutureFunc[struct{}](func(*Context) (struct{}, bool, error) {
				order = append(order, "sibling")
				return struct{}{}, true, nil
			}))
			y = Yield()
		}
		_, done, err := y.Poll(cx)
		if !done {
			return struct{}{}, false, err
		}
		order = append(order, "self")
		return struct{}{}, true, nil
	}))
	require.NoError(t, err)
	_, err = h.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"sibling", "self"}, order)
}

func TestShutdownDrains(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	rt, err := New(WithWorkers(2), WithLogger(log), WithShutdownGrace(2*time.Second))
	require.NoError(t, err)

	s := Sleep(50 * time.Millisecond)
	h, err := Spawn(rt.Handle(), FutureFunc[int](func(cx *Context) (int, bool, error) {
		_, done, err := s.Poll(cx)
		if !done {
			return 0, false, err
		}
		return 1, true, nil
	}))
	require.NoError(t, err)

	require.NoError(t, rt.Shutdown(context.Background()))
	v, err := h.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestShutdownForcesStragglers(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.FatalLevel)
	rt, err := New(WithWorkers(1), WithLogger(log), WithShutdownGrace(50*time.Millisecond))
	require.NoError(t, err)

	// Sleeps far past the grace window.
	s := Sleep(time.Hour)
	h, err := Spawn(rt.Handle(), FutureFunc[int](func(cx *Context) (int, bool, error) {
		_, done, err := s.Poll(cx)
		if !done {
			return 0, false, err
		}
		return 1, true, nil
	}))
	require.NoError(t, err)

	require.NoError(t, rt.Shutdown(context.Background()))
	_, err = h.Wait(waitCtx(t))
	assert.ErrorIs(t, err, api.ErrRuntimeShutdown)
}

func TestSpawnAfterShutdownRejected(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	rt, err := New(WithWorkers(1), WithLogger(log))
	require.NoError(t, err)
	require.NoError(t, rt.Shutdown(context.Background()))

	_, err = Spawn(rt.Handle(), ready(1))
	assert.ErrorIs(t, err, api.ErrRuntimeShutdown)
}

func TestManyTasksAcrossWorkers(t *testing.T) {
	rt := testRuntime(t, WithWorkers(4))
	const n = 500
	var sum atomic.Int64
	handles := make([]*JoinHandle[int], 0, n)
	for i := 0; i < n; i++ {
		i := i
		h, err := Spawn(rt.Handle(), FutureFunc[int](func(*Context) (int, bool, error) {
			sum.Add(int64(i))
			return i, true, nil
		}))
		require.NoError(t, err)
		handles = append(handles, h)
	}
	ctx := waitCtx(t)
	for i, h := range handles {
		v, err := h.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	assert.Equal(t, int64(n*(n-1)/2), sum.Load())
}
