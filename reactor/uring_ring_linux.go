// File: reactor/uring_ring_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Minimal raw io_uring binding: setup, the three mmap regions, lock-free
// SQE push and CQE reap against the kernel's shared head/tail indices.
// Only the handful of opcodes the driver submits are covered.

package reactor

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Opcode subset used by the driver.
const (
	opNop         uint8 = 0
	opPollAdd     uint8 = 6
	opTimeout     uint8 = 11
	opAccept      uint8 = 13
	opAsyncCancel uint8 = 14
	opSend        uint8 = 26
	opRecv        uint8 = 27
)

// Setup flags probed in order of preference.
const (
	setupClamp       uint32 = 1 << 4 // IORING_SETUP_CLAMP
	setupCoopTaskrun uint32 = 1 << 8 // IORING_SETUP_COOP_TASKRUN
)

const (
	enterGetevents uint32 = 1 << 0 // IORING_ENTER_GETEVENTS

	offSqRing int64 = 0
	offCqRing int64 = 0x8000000
	offSqes   int64 = 0x10000000
)

type sqringOffsets struct {
	head        uint32
	tail        uint32
	ringMask    uint32
	ringEntries uint32
	flags       uint32
	dropped     uint32
	array       uint32
	resv1       uint32
	resv2       uint64
}

type cqringOffsets struct {
	head        uint32
	tail        uint32
	ringMask    uint32
	ringEntries uint32
	overflow    uint32
	cqes        uint32
	flags       uint32
	resv1       uint32
	resv2       uint64
}

type uringParams struct {
	sqEntries    uint32
	cqEntries    uint32
	flags        uint32
	sqThreadCPU  uint32
	sqThreadIdle uint32
	features     uint32
	wqFd         uint32
	resv         [3]uint32
	sqOff        sqringOffsets
	cqOff        cqringOffsets
}

// sqe is struct io_uring_sqe, 64 bytes.
type sqe struct {
	opcode      uint8
	flags       uint8
	ioprio      uint16
	fd          int32
	off         uint64 // also addr2
	addr        uint64
	len         uint32
	opFlags     uint32 // rw_flags / poll_events / accept_flags / timeout_flags
	userData    uint64
	bufIndex    uint16
	personality uint16
	spliceFdIn  int32
	pad         [2]uint64
}

// cqe is struct io_uring_cqe, 16 bytes.
type cqe struct {
	userData uint64
	res      int32
	flags    uint32
}

// ring owns the uring fd and the mmapped queues. pushSQE and flush run on
// the owner thread; the kernel updates sqHead and cqTail concurrently, so
// those crossings are atomic.
type ring struct {
	fd int

	sqMem  []byte
	cqMem  []byte
	sqeMem []byte

	sqHead    *uint32
	sqTail    *uint32
	sqMask    uint32
	sqArray   []uint32
	sqEntries uint32
	sqes      []sqe

	cqHead  *uint32
	cqTail  *uint32
	cqMask  uint32
	cqes    []cqe

	toSubmit uint32 // SQEs pushed since the last enter
}

// newRing sets up an io_uring instance, degrading the setup flags until the
// kernel accepts them so older kernels still come up.
func newRing(entries int) (*ring, error) {
	var params uringParams
	var fd int
	var err error
	for _, flags := range []uint32{setupClamp | setupCoopTaskrun, setupClamp, 0} {
		params = uringParams{flags: flags}
		fd, err = uringSetup(uint32(entries), &params)
		if err == nil {
			break
		}
		if err != unix.EINVAL {
			return nil, fmt.Errorf("io_uring_setup: %w", err)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("io_uring_setup: %w", err)
	}

	r := &ring{fd: fd}
	if err := r.mmap(&params); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return r, nil
}

func (r *ring) mmap(p *uringParams) error {
	sqSize := int(p.sqOff.array) + int(p.sqEntries)*4
	sqMem, err := unix.Mmap(r.fd, offSqRing, sqSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		return fmt.Errorf("mmap sq ring: %w", err)
	}
	cqSize := int(p.cqOff.cqes) + int(p.cqEntries)*int(unsafe.Sizeof(cqe{}))
	cqMem, err := unix.Mmap(r.fd, offCqRing, cqSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		unix.Munmap(sqMem)
		return fmt.Errorf("mmap cq ring: %w", err)
	}
	sqeSize := int(p.sqEntries) * int(unsafe.Sizeof(sqe{}))
	sqeMem, err := unix.Mmap(r.fd, offSqes, sqeSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		unix.Munmap(cqMem)
		unix.Munmap(sqMem)
		return fmt.Errorf("mmap sqes: %w", err)
	}

	r.sqMem, r.cqMem, r.sqeMem = sqMem, cqMem, sqeMem
	base := unsafe.Pointer(&sqMem[0])
	r.sqHead = (*uint32)(unsafe.Add(base, p.sqOff.head))
	r.sqTail = (*uint32)(unsafe.Add(base, p.sqOff.tail))
	r.sqMask = *(*uint32)(unsafe.Add(base, p.sqOff.ringMask))
	r.sqEntries = p.sqEntries
	r.sqArray = unsafe.Slice((*uint32)(unsafe.Add(base, p.sqOff.array)), p.sqEntries)
	r.sqes = unsafe.Slice((*sqe)(unsafe.Pointer(&sqeMem[0])), p.sqEntries)

	cbase := unsafe.Pointer(&cqMem[0])
	r.cqHead = (*uint32)(unsafe.Add(cbase, p.cqOff.head))
	r.cqTail = (*uint32)(unsafe.Add(cbase, p.cqOff.tail))
	r.cqMask = *(*uint32)(unsafe.Add(cbase, p.cqOff.ringMask))
	r.cqes = unsafe.Slice((*cqe)(unsafe.Pointer(unsafe.Add(cbase, p.cqOff.cqes))), p.cqEntries)
	return nil
}

// pushSQE claims the next SQ slot and fills it. Reports false when the SQ is
// full; the caller must flush and retry.
func (r *ring) pushSQE(fill func(*sqe)) bool {
	head := atomic.LoadUint32(r.sqHead)
	tail := *r.sqTail
	if tail-head >= r.sqEntries {
		return false
	}
	idx := tail & r.sqMask
	e := &r.sqes[idx]
	*e = sqe{}
	fill(e)
	r.sqArray[idx] = idx
	atomic.StoreUint32(r.sqTail, tail+1)
	r.toSubmit++
	return true
}

// flush submits pushed SQEs without waiting for completions.
func (r *ring) flush() error {
	if r.toSubmit == 0 {
		return nil
	}
	return r.enter(r.toSubmit, 0, 0)
}

// enter wraps io_uring_enter, retrying EINTR.
func (r *ring) enter(toSubmit, minComplete, flags uint32) error {
	for {
		_, err := uringEnter(r.fd, toSubmit, minComplete, flags)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("io_uring_enter: %w", err)
		}
		r.toSubmit = 0
		return nil
	}
}

// reap drains available CQEs into out, returning how many were copied.
func (r *ring) reap(out []cqe) int {
	head := *r.cqHead
	tail := atomic.LoadUint32(r.cqTail)
	n := 0
	for head != tail && n < len(out) {
		out[n] = r.cqes[head&r.cqMask]
		head++
		n++
	}
	if n > 0 {
		atomic.StoreUint32(r.cqHead, head)
	}
	return n
}

func (r *ring) close() error {
	if r.sqeMem != nil {
		unix.Munmap(r.sqeMem)
	}
	if r.cqMem != nil {
		unix.Munmap(r.cqMem)
	}
	if r.sqMem != nil {
		unix.Munmap(r.sqMem)
	}
	return unix.Close(r.fd)
}

func uringSetup(entries uint32, p *uringParams) (int, error) {
	fd, _, errno := unix.Syscall(unix.SYS_IO_URING_SETUP,
		uintptr(entries), uintptr(unsafe.Pointer(p)), 0)
	if errno != 0 {
		return -1, errno
	}
	return int(fd), nil
}

func uringEnter(fd int, toSubmit, minComplete, flags uint32) (int, error) {
	n, _, errno := unix.Syscall6(unix.SYS_IO_URING_ENTER,
		uintptr(fd), uintptr(toSubmit), uintptr(minComplete), uintptr(flags), 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return int(n), nil
}
