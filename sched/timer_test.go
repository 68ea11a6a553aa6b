// File: sched/timer_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandio/strand/api"
)

func TestSleepElapses(t *testing.T) {
	rt := testRuntime(t, WithWorkers(1))
	s := Sleep(50 * time.Millisecond)
	start := time.Now()
	h, err := Spawn(rt.Handle(), FutureFunc[time.Time](func(cx *Context) (time.Time, bool, error) {
		return s.Poll(cx)
	}))
	require.NoError(t, err)
	_, err = h.Wait(waitCtx(t))
	require.NoError(t, err)
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 45*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestSleepZeroStillSuspendsOnce(t *testing.T) {
	rt := testRuntime(t, WithWorkers(1))
	s := Sleep(0)
	polls := 0
	h, err := Spawn(rt.Handle(), FutureFunc[time.Time](func(cx *Context) (time.Time, bool, error) {
		polls++
		return s.Poll(cx)
	}))
	require.NoError(t, err)
	_, err = h.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, polls, 2, "a zero sleep rounds up to one tick")
}

func TestTickerDeliversAndStops(t *testing.T) {
	rt := testRuntime(t, WithWorkers(1))
	var tk *Ticker
	ticks := 0
	h, err := Spawn(rt.Handle(), FutureFunc[int](func(cx *Context) (int, bool, error) {
		if tk == nil {
			var err error
			tk, err = NewTicker(cx, 20*time.Millisecond)
			if err != nil {
				return 0, true, err
			}
		}
		for {
			_, done, err := tk.Next().Poll(cx)
			if err != nil {
				return 0, true, err
			}
			if !done {
				return 0, false, nil
			}
			ticks++
			if ticks >= 3 {
				tk.Stop()
				return ticks, true, nil
			}
		}
	}))
	require.NoError(t, err)
	start := time.Now()
	v, err := h.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestTickerNextAfterStop(t *testing.T) {
	rt := testRuntime(t, WithWorkers(1))
	var tk *Ticker
	h, err := Spawn(rt.Handle(), FutureFunc[error](func(cx *Context) (error, bool, error) {
		if tk == nil {
			var err error
			tk, err = NewTicker(cx, time.Hour)
			if err != nil {
				return nil, true, err
			}
			tk.Stop()
		}
		_, _, err := tk.Next().Poll(cx)
		return err, true, nil
	}))
	require.NoError(t, err)
	v, err := h.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.ErrorIs(t, v, api.ErrTaskCancelled)
}

func TestTimeoutInnerWins(t *testing.T) {
	rt := testRuntime(t, WithWorkers(1))
	s := Sleep(10 * time.Millisecond)
	inner := FutureFunc[int](func(cx *Context) (int, bool, error) {
		_, done, err := s.Poll(cx)
		if !done {
			return 0, false, err
		}
		return 5, true, nil
	})
	f := Timeout[int](inner, time.Second)
	h, err := Spawn(rt.Handle(), FutureFunc[int](func(cx *Context) (int, bool, error) {
		return f.Poll(cx)
	}))
	require.NoError(t, err)
	v, err := h.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

func TestTimeoutDeadlineWins(t *testing.T) {
	rt := testRuntime(t, WithWorkers(1))
	s := Sleep(time.Hour)
	inner := FutureFunc[int](func(cx *Context) (int, bool, error) {
		_, done, err := s.Poll(cx)
		if !done {
			return 0, false, err
		}
		return 5, true, nil
	})
	f := Timeout[int](inner, 30*time.Millisecond)
	h, err := Spawn(rt.Handle(), FutureFunc[int](func(cx *Context) (int, bool, error) {
		return f.Poll(cx)
	}))
	require.NoError(t, err)
	start := time.Now()
	_, err = h.Wait(waitCtx(t))
	assert.ErrorIs(t, err, api.ErrOperationTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestTimeoutUnlinksLosingSleep(t *testing.T) {
	rt := testRuntime(t, WithWorkers(1))
	s := Sleep(time.Hour)
	f := Timeout[time.Time](s, 20*time.Millisecond)
	h, err := Spawn(rt.Handle(), FutureFunc[time.Time](func(cx *Context) (time.Time, bool, error) {
		return f.Poll(cx)
	}))
	require.NoError(t, err)
	_, err = h.Wait(waitCtx(t))
	assert.ErrorIs(t, err, api.ErrOperationTimeout)
	// The hour-long sleep must not stay armed on the wheel after losing.
	assert.True(t, s.cancelled)
}

type cancelSpy struct {
	cancelled bool
}

func (c *cancelSpy) Poll(*Context) (int, bool, error) { return 0, false, nil }
func (c *cancelSpy) CancelIO(*Context)                { c.cancelled = true }

func TestTimeoutCancelsLoserIO(t *testing.T) {
	rt := testRuntime(t, WithWorkers(1))
	spy := &cancelSpy{}
	f := Timeout[int](spy, 20*time.Millisecond)
	h, err := Spawn(rt.Handle(), FutureFunc[int](func(cx *Context) (int, bool, error) {
		return f.Poll(cx)
	}))
	require.NoError(t, err)
	_, err = h.Wait(waitCtx(t))
	assert.ErrorIs(t, err, api.ErrOperationTimeout)
	assert.True(t, spy.cancelled)
}
