//go:build darwin || dragonfly || freebsd || openbsd

// File: reactor/kqueue_bsd.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// kqueue(2) readiness backend for darwin and the BSDs. Filters are armed
// one-shot per registration; wakeups ride a nonblocking pipe registered for
// the lifetime of the driver, mirroring the Go runtime's netpollBreak pipe.

package reactor

import (
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/strandio/strand/api"
)

type kqueueDriver struct {
	kq           int
	wakeR, wakeW int
	table        *interestTable
	events       []unix.Kevent_t
	wakers       []api.Waker
	wakeSig      atomic.Uint32
	closed       atomic.Bool
}

func newKqueueDriver(cfg Config) (api.Driver, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("kqueue: %w", err)
	}
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		unix.Close(kq)
		return nil, fmt.Errorf("pipe: %w", err)
	}
	for _, fd := range p {
		unix.SetNonblock(fd, true)
		unix.CloseOnExec(fd)
	}
	var ev unix.Kevent_t
	unix.SetKevent(&ev, p[0], unix.EVFILT_READ, unix.EV_ADD|unix.EV_CLEAR)
	if _, err := unix.Kevent(kq, []unix.Kevent_t{ev}, nil, nil); err != nil {
		unix.Close(p[0])
		unix.Close(p[1])
		unix.Close(kq)
		return nil, fmt.Errorf("kevent add wake pipe: %w", err)
	}
	return &kqueueDriver{
		kq:     kq,
		wakeR:  p[0],
		wakeW:  p[1],
		table:  newInterestTable(),
		events: make([]unix.Kevent_t, cfg.MaxEvents),
	}, nil
}

func (d *kqueueDriver) Backend() api.Backend { return api.BackendKqueue }

func (d *kqueueDriver) AddRead(fd int, w api.Waker) error {
	return d.arm(fd, unix.EVFILT_READ, w)
}

func (d *kqueueDriver) AddWrite(fd int, w api.Waker) error {
	return d.arm(fd, unix.EVFILT_WRITE, w)
}

func (d *kqueueDriver) arm(fd int, filter int16, w api.Waker) error {
	if d.closed.Load() {
		return api.ErrDriverClosed
	}
	d.table.mu.Lock()
	ent := d.table.get(fd)
	if filter == unix.EVFILT_READ {
		ent.readW = w
	} else {
		ent.writeW = w
	}
	d.table.mu.Unlock()

	var ev unix.Kevent_t
	unix.SetKevent(&ev, fd, int(filter), unix.EV_ADD|unix.EV_ONESHOT)
	if _, err := unix.Kevent(d.kq, []unix.Kevent_t{ev}, nil, nil); err != nil {
		return fmt.Errorf("kevent arm fd %d: %w", fd, err)
	}
	return nil
}

func (d *kqueueDriver) Del(fd int) error {
	d.table.mu.Lock()
	_, known := d.table.fds[fd]
	delete(d.table.fds, fd)
	d.table.mu.Unlock()
	if !known {
		return nil
	}
	// One-shot filters self-delete after delivery; drop any still armed.
	var evs [2]unix.Kevent_t
	unix.SetKevent(&evs[0], fd, unix.EVFILT_READ, unix.EV_DELETE)
	unix.SetKevent(&evs[1], fd, unix.EVFILT_WRITE, unix.EV_DELETE)
	_, _ = unix.Kevent(d.kq, evs[:], nil, nil)
	return nil
}

func (d *kqueueDriver) Submit(*api.Op) error   { return api.ErrNotSupported }
func (d *kqueueDriver) CancelOp(*api.Op) error { return api.ErrNotSupported }

func (d *kqueueDriver) Poll(timeout time.Duration) (int, error) {
	if d.closed.Load() {
		return 0, api.ErrDriverClosed
	}
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}
	n, err := unix.Kevent(d.kq, nil, d.events, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("kevent wait: %w", err)
	}

	d.wakers = d.wakers[:0]
	for i := 0; i < n; i++ {
		ev := d.events[i]
		fd := int(ev.Ident)
		if fd == d.wakeR {
			d.drainWake()
			continue
		}
		d.collect(fd, ev.Filter, ev.Flags)
	}
	return dispatch(d.wakers), nil
}

func (d *kqueueDriver) collect(fd int, filter int16, flags uint16) {
	d.table.mu.Lock()
	defer d.table.mu.Unlock()
	ent, ok := d.table.fds[fd]
	if !ok {
		return
	}
	errEv := flags&(unix.EV_EOF|unix.EV_ERROR) != 0
	if ent.readW != nil && (errEv || filter == unix.EVFILT_READ) {
		d.wakers = append(d.wakers, ent.readW)
		ent.readW = nil
	}
	if ent.writeW != nil && (errEv || filter == unix.EVFILT_WRITE) {
		d.wakers = append(d.wakers, ent.writeW)
		ent.writeW = nil
	}
}

func (d *kqueueDriver) drainWake() {
	var buf [64]byte
	for {
		if _, err := unix.Read(d.wakeR, buf[:]); err != nil {
			break
		}
	}
	d.wakeSig.Store(0)
}

func (d *kqueueDriver) Wakeup() error {
	if !d.wakeSig.CompareAndSwap(0, 1) {
		return nil
	}
	b := [1]byte{1}
	for {
		_, err := unix.Write(d.wakeW, b[:])
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return nil
		}
		return err
	}
}

func (d *kqueueDriver) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	unix.Close(d.wakeR)
	unix.Close(d.wakeW)
	return unix.Close(d.kq)
}
