// File: reactor/uring_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// io_uring completion backend. Every submitted Op is pinned in the pending
// table until its terminal CQE is observed, cancelled or not, so the kernel
// never writes into reclaimed buffers. Park timeouts are expressed as
// IORING_OP_TIMEOUT SQEs rather than an enter(2) argument, and cross-thread
// wakeups are a persistent POLL_ADD on an eventfd.
package reactor

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/strandio/strand/api"
)

// Reserved user_data tags. Op tokens start above the reserved band; park
// timeouts carry the high tag bit so they can never collide with a token.
const (
	udWake       uint64 = 1
	udCancel     uint64 = 2
	udFirstOp    uint64 = 16
	udTimeoutTag uint64 = 1 << 63
)

type uringDriver struct {
	ring *ring

	wakeFd  int
	wakeBuf [8]byte

	mu      sync.Mutex
	pending map[uint64]*api.Op
	nextUD  uint64

	// timeout specs stay referenced here until their CQE lands, because the
	// kernel reads the timespec asynchronously.
	timeouts map[uint64]*unix.Timespec
	nextTS   uint64

	cqBatch   []cqe
	wakers    []api.Waker
	wakeSig   atomic.Uint32
	wakeArmed bool
	closed    atomic.Bool
}

// newURingDriver sets up the ring and wakeup eventfd. Callers treat an error
// here as "backend unavailable" and fall back to epoll.
func newURingDriver(cfg Config) (api.Driver, error) {
	r, err := newRing(cfg.RingEntries)
	if err != nil {
		return nil, err
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		r.close()
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	d := &uringDriver{
		ring:     r,
		wakeFd:   wakeFd,
		pending:  make(map[uint64]*api.Op),
		nextUD:   udFirstOp,
		timeouts: make(map[uint64]*unix.Timespec),
		cqBatch:  make([]cqe, cfg.MaxEvents),
	}
	return d, nil
}

func (d *uringDriver) Backend() api.Backend { return api.BackendURing }

// Readiness registration is expressed as poll ops on this backend.
func (d *uringDriver) AddRead(fd int, w api.Waker) error {
	op := api.NewOp(api.OpPollIn, fd, nil)
	op.SetWaker(w)
	return d.Submit(op)
}

func (d *uringDriver) AddWrite(fd int, w api.Waker) error {
	op := api.NewOp(api.OpPollOut, fd, nil)
	op.SetWaker(w)
	return d.Submit(op)
}

func (d *uringDriver) Del(fd int) error { return nil }

func (d *uringDriver) Submit(op *api.Op) error {
	if d.closed.Load() {
		return api.ErrDriverClosed
	}
	d.mu.Lock()
	ud := d.nextUD
	d.nextUD++
	op.Bind(ud)
	d.pending[ud] = op
	d.mu.Unlock()

	fill := func(e *sqe) {
		e.userData = ud
		e.fd = int32(op.Fd)
		switch op.Code {
		case api.OpNop:
			e.opcode = opNop
		case api.OpAccept:
			e.opcode = opAccept
			// NULL addr; the peer is recovered with getpeername afterwards.
			e.opFlags = unix.SOCK_NONBLOCK | unix.SOCK_CLOEXEC
		case api.OpRecv:
			e.opcode = opRecv
			e.addr = uint64(uintptr(unsafe.Pointer(unsafe.SliceData(op.Buf))))
			e.len = uint32(len(op.Buf))
		case api.OpSend:
			e.opcode = opSend
			e.addr = uint64(uintptr(unsafe.Pointer(unsafe.SliceData(op.Buf))))
			e.len = uint32(len(op.Buf))
		case api.OpPollIn:
			e.opcode = opPollAdd
			e.opFlags = unix.POLLIN | unix.POLLRDHUP | unix.POLLERR | unix.POLLHUP
		case api.OpPollOut:
			e.opcode = opPollAdd
			e.opFlags = unix.POLLOUT | unix.POLLERR | unix.POLLHUP
		}
	}
	if !d.ring.pushSQE(fill) {
		// SQ full: push the backlog to the kernel and retry once.
		if err := d.ring.flush(); err != nil {
			d.dropPending(ud)
			return err
		}
		if !d.ring.pushSQE(fill) {
			d.dropPending(ud)
			return fmt.Errorf("io_uring submission queue full")
		}
	}
	return d.ring.flush()
}

func (d *uringDriver) dropPending(ud uint64) {
	d.mu.Lock()
	delete(d.pending, ud)
	d.mu.Unlock()
}

// CancelOp submits an ASYNC_CANCEL for the target. The target stays in the
// pending table; its CQE (ECANCELED or a real result that raced the cancel)
// still arrives and releases the pin.
func (d *uringDriver) CancelOp(op *api.Op) error {
	if d.closed.Load() {
		return api.ErrDriverClosed
	}
	target := op.Token()
	d.mu.Lock()
	_, live := d.pending[target]
	d.mu.Unlock()
	if !live {
		return nil
	}
	fill := func(e *sqe) {
		e.opcode = opAsyncCancel
		e.fd = -1
		e.addr = target
		e.userData = udCancel // cancel CQEs are ignored on reap
	}
	if !d.ring.pushSQE(fill) {
		if err := d.ring.flush(); err != nil {
			return err
		}
		d.ring.pushSQE(fill)
	}
	return d.ring.flush()
}

func (d *uringDriver) Poll(timeout time.Duration) (int, error) {
	if d.closed.Load() {
		return 0, api.ErrDriverClosed
	}
	if !d.wakeArmed {
		d.armWake()
	}
	if timeout >= 0 {
		d.armTimeout(timeout)
	}
	if err := d.ring.enter(d.ring.toSubmit, 1, enterGetevents); err != nil {
		return 0, err
	}
	return d.reapAndDispatch()
}

// armWake keeps a POLL_ADD on the eventfd outstanding across parks.
func (d *uringDriver) armWake() {
	ok := d.ring.pushSQE(func(e *sqe) {
		e.opcode = opPollAdd
		e.fd = int32(d.wakeFd)
		e.opFlags = unix.POLLIN
		e.userData = udWake
	})
	if ok {
		d.wakeArmed = true
	}
}

// armTimeout bounds one park with an IORING_OP_TIMEOUT whose timespec is
// pinned in d.timeouts until its CQE is reaped. count=1 makes the op
// complete on the first CQE posted by anything else, so stale park
// timeouts never pile up in the kernel.
func (d *uringDriver) armTimeout(timeout time.Duration) {
	ts := unix.NsecToTimespec(timeout.Nanoseconds())
	d.nextTS++
	key := d.nextTS
	d.timeouts[key] = &ts
	ok := d.ring.pushSQE(func(e *sqe) {
		e.opcode = opTimeout
		e.fd = -1
		e.addr = uint64(uintptr(unsafe.Pointer(&ts)))
		e.len = 1
		e.off = 1
		e.userData = udTimeoutTag | key
	})
	if !ok {
		delete(d.timeouts, key)
	}
}

func (d *uringDriver) reapAndDispatch() (int, error) {
	d.wakers = d.wakers[:0]
	for {
		n := d.ring.reap(d.cqBatch)
		if n == 0 {
			break
		}
		for i := 0; i < n; i++ {
			c := d.cqBatch[i]
			switch {
			case c.userData == udWake:
				d.wakeArmed = false
				d.drainWake()
			case c.userData&udTimeoutTag != 0:
				delete(d.timeouts, c.userData&^udTimeoutTag)
			case c.userData >= udFirstOp:
				d.completeOp(c)
			}
		}
		if n < len(d.cqBatch) {
			break
		}
	}
	return dispatch(d.wakers), nil
}

func (d *uringDriver) completeOp(c cqe) {
	d.mu.Lock()
	op, ok := d.pending[c.userData]
	if ok {
		delete(d.pending, c.userData)
	}
	d.mu.Unlock()
	if !ok {
		return
	}
	var errno syscall.Errno
	res := c.res
	if res < 0 {
		errno = syscall.Errno(-res)
		res = 0
	}
	if w := op.Complete(res, errno); w != nil {
		d.wakers = append(d.wakers, w)
	}
}

func (d *uringDriver) drainWake() {
	for {
		if _, err := unix.Read(d.wakeFd, d.wakeBuf[:]); err != nil {
			break
		}
	}
	d.wakeSig.Store(0)
}

func (d *uringDriver) Wakeup() error {
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
			return nil
		}
		return err
	}
}

func (d *uringDriver) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	unix.Close(d.wakeFd)
	return d.ring.close()
}
