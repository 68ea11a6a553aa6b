// File: reactor/epoll_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux epoll(7) readiness backend. Interest is armed one-shot per
// registration: a delivered event disarms the fd, the owning future re-arms
// on its next would-block. Cross-thread wakeups ride an eventfd.

package reactor

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"fortio.org/safecast"
	"golang.org/x/sys/unix"

	"github.com/strandio/strand/api"
)

type epollDriver struct {
	epfd   int
	wakeFd int

	table   *interestTable
	events  []unix.EpollEvent
	wakers  []api.Waker // dispatch scratch
	wakeSig atomic.Uint32
	closed  atomic.Bool
}

// newEpollDriver sets up the epoll instance and its wakeup eventfd.
func newEpollDriver(cfg Config) (api.Driver, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &ev); err != nil {
		unix.Close(wakeFd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add wakefd: %w", err)
	}
	return &epollDriver{
		epfd:   epfd,
		wakeFd: wakeFd,
		table:  newInterestTable(),
		events: make([]unix.EpollEvent, cfg.MaxEvents),
	}, nil
}

func (d *epollDriver) Backend() api.Backend { return api.BackendEpoll }

func (d *epollDriver) AddRead(fd int, w api.Waker) error {
	return d.arm(fd, w, nil)
}

func (d *epollDriver) AddWrite(fd int, w api.Waker) error {
	return d.arm(fd, nil, w)
}

// arm records the waker(s) and re-arms the one-shot interest for fd.
func (d *epollDriver) arm(fd int, readW, writeW api.Waker) error {
	if d.closed.Load() {
		return api.ErrDriverClosed
	}
	d.table.mu.Lock()
	defer d.table.mu.Unlock()
	_, known := d.table.fds[fd]
	ent := d.table.get(fd)
	if readW != nil {
		ent.readW = readW
	}
	if writeW != nil {
		ent.writeW = writeW
	}
	return d.rearmLocked(fd, ent, known)
}

func (d *epollDriver) rearmLocked(fd int, ent *fdInterest, known bool) error {
	var events uint32 = unix.EPOLLONESHOT
	if ent.readW != nil {
		events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if ent.writeW != nil {
		events |= unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	op := unix.EPOLL_CTL_MOD
	if !known {
		op = unix.EPOLL_CTL_ADD
	}
	err := unix.EpollCtl(d.epfd, op, fd, &ev)
	if err == unix.ENOENT {
		err = unix.EpollCtl(d.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	} else if err == unix.EEXIST {
		err = unix.EpollCtl(d.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
	}
	if err != nil {
		return fmt.Errorf("epoll ctl fd %d: %w", fd, err)
	}
	return nil
}

func (d *epollDriver) Del(fd int) error {
	d.table.mu.Lock()
	_, known := d.table.fds[fd]
	delete(d.table.fds, fd)
	d.table.mu.Unlock()
	if !known {
		return nil
	}
	if err := unix.EpollCtl(d.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.ENOENT && err != unix.EBADF {
		return fmt.Errorf("epoll ctl del fd %d: %w", fd, err)
	}
	return nil
}

func (d *epollDriver) Submit(*api.Op) error   { return api.ErrNotSupported }
func (d *epollDriver) CancelOp(*api.Op) error { return api.ErrNotSupported }

func (d *epollDriver) Poll(timeout time.Duration) (int, error) {
	if d.closed.Load() {
		return 0, api.ErrDriverClosed
	}
	ms := -1
	if timeout >= 0 {
		v, err := safecast.Conv[int](timeout.Milliseconds())
		if err != nil {
			v = 1 << 30
		}
		if v == 0 && timeout > 0 {
			v = 1
		}
		ms = v
	}
	n, err := unix.EpollWait(d.epfd, d.events, ms)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}

	d.wakers = d.wakers[:0]
	for i := 0; i < n; i++ {
		ev := d.events[i]
		fd := int(ev.Fd)
		if fd == d.wakeFd {
			d.drainWake()
			continue
		}
		d.collect(fd, ev.Events)
	}
	return dispatch(d.wakers), nil
}

// collect moves fired wakers out of the table; the one-shot arming means the
// fd is disarmed until the owner re-registers, but a remaining armed side is
// re-armed here so it is not lost.
func (d *epollDriver) collect(fd int, events uint32) {
	d.table.mu.Lock()
	defer d.table.mu.Unlock()
	ent, ok := d.table.fds[fd]
	if !ok {
		return
	}
	errEv := events&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0
	if ent.readW != nil && (errEv || events&unix.EPOLLIN != 0) {
		d.wakers = append(d.wakers, ent.readW)
		ent.readW = nil
	}
	if ent.writeW != nil && (errEv || events&unix.EPOLLOUT != 0) {
		d.wakers = append(d.wakers, ent.writeW)
		ent.writeW = nil
	}
	if ent.readW != nil || ent.writeW != nil {
		_ = d.rearmLocked(fd, ent, true)
	}
}

func (d *epollDriver) drainWake() {
	var buf [8]byte
	for {
		_, err := unix.Read(d.wakeFd, buf[:])
		if err != nil {
			break
		}
	}
	d.wakeSig.Store(0)
}

func (d *epollDriver) Wakeup() error {
	// Dedup concurrent wakeups the way the Go runtime's netpollBreak does.
	if !d.wakeSig.CompareAndSwap(0, 1) {
		return nil
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(d.wakeFd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return nil // counter saturated, poller is already waking
		}
		return err
	}
}

func (d *epollDriver) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	unix.Close(d.wakeFd)
	return unix.Close(d.epfd)
}
