// File: reactor/epoll_linux_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/strandio/strand/api"
)

func newTestEpoll(t *testing.T) api.Driver {
	t.Helper()
	cfg := Config{Backend: api.BackendEpoll}
	cfg.normalize()
	d, err := newPlatformDriver(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func testPipe(t *testing.T) (r, w int) {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		unix.Close(p[0])
		unix.Close(p[1])
	})
	return p[0], p[1]
}

func TestEpollReadReadiness(t *testing.T) {
	d := newTestEpoll(t)
	r, w := testPipe(t)

	fired := 0
	require.NoError(t, d.AddRead(r, api.WakerFunc(func() { fired++ })))

	// Nothing readable yet.
	n, err := d.Poll(10 * time.Millisecond)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, fired)

	_, err = unix.Write(w, []byte("x"))
	require.NoError(t, err)

	n, err = d.Poll(time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, fired)

	// One-shot: readiness without re-arming stays silent.
	n, err = d.Poll(10 * time.Millisecond)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestEpollWriteReadiness(t *testing.T) {
	d := newTestEpoll(t)
	_, w := testPipe(t)

	fired := 0
	require.NoError(t, d.AddWrite(w, api.WakerFunc(func() { fired++ })))
	n, err := d.Poll(time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, fired)
}

func TestEpollWakeupInterruptsPoll(t *testing.T) {
	d := newTestEpoll(t)

	done := make(chan error, 1)
	go func() {
		// Give Poll a head start before the wakeup lands.
		time.Sleep(20 * time.Millisecond)
		done <- d.Wakeup()
	}()

	start := time.Now()
	_, err := d.Poll(5 * time.Second)
	require.NoError(t, err)
	require.Less(t, time.Since(start), time.Second)
	require.NoError(t, <-done)
}

func TestEpollWakeupCoalesces(t *testing.T) {
	d := newTestEpoll(t)
	for i := 0; i < 16; i++ {
		require.NoError(t, d.Wakeup())
	}
	_, err := d.Poll(10 * time.Millisecond)
	require.NoError(t, err)

	// Counter drained; the next poll must block for the full timeout again.
	start := time.Now()
	_, err = d.Poll(30 * time.Millisecond)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestEpollDelUnknownFd(t *testing.T) {
	d := newTestEpoll(t)
	require.NoError(t, d.Del(12345))
}

func TestEpollSubmitNotSupported(t *testing.T) {
	d := newTestEpoll(t)
	op := api.NewOp(api.OpNop, -1, nil)
	require.ErrorIs(t, d.Submit(op), api.ErrNotSupported)
	require.ErrorIs(t, d.CancelOp(op), api.ErrNotSupported)
}

func TestEpollClosedPollFails(t *testing.T) {
	cfg := Config{Backend: api.BackendEpoll}
	cfg.normalize()
	d, err := newPlatformDriver(cfg)
	require.NoError(t, err)
	require.NoError(t, d.Close())
	_, err = d.Poll(0)
	require.ErrorIs(t, err, api.ErrDriverClosed)
}
