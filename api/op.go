// File: api/op.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import (
	"sync/atomic"
	"syscall"
)

// OpCode identifies a completion-based operation kind.
type OpCode uint8

const (
	// OpNop completes immediately; used for driver smoke tests.
	OpNop OpCode = iota
	// OpAccept accepts one connection; the result is the new fd.
	OpAccept
	// OpRecv reads into Buf; the result is the byte count, 0 meaning EOF.
	OpRecv
	// OpSend writes Buf; the result is the byte count.
	OpSend
	// OpPollIn waits for read readiness without transferring data.
	OpPollIn
	// OpPollOut waits for write readiness without transferring data.
	OpPollOut
)

// Op lifecycle values. An Op is pending from Submit until the driver
// observes its terminal completion event. opClaimed is the window in which
// the winning completer writes the result; readers only trust it at opDone.
const (
	opPending uint32 = iota
	opClaimed
	opDone
)

// Op is one completion-based I/O operation. The submitting future owns the
// Op until Submit; afterwards the driver owns it (including Buf) until Done
// reports true. Buf must not be mutated or freed while the Op is pending —
// ownership of the buffer rests with the kernel for the operation's
// duration and is returned exactly once, on completion.
type Op struct {
	Code OpCode
	Fd   int
	Buf  []byte

	// userData token assigned by the driver at submission time.
	token uint64

	waker Waker
	state atomic.Uint32
	res   int32
	errno syscall.Errno
}

// NewOp builds an operation record ready for Driver.Submit.
func NewOp(code OpCode, fd int, buf []byte) *Op {
	return &Op{Code: code, Fd: fd, Buf: buf}
}

// SetWaker records the waker invoked on completion. Called by the owning
// future on each poll; the driver reads it on the same worker thread when
// the completion is dispatched.
func (o *Op) SetWaker(w Waker) { o.waker = w }

// Token returns the driver-assigned submission identifier.
func (o *Op) Token() uint64 { return o.token }

// Bind assigns the submission token. Driver use only.
func (o *Op) Bind(token uint64) { o.token = token }

// Complete records the kernel result and transitions the Op to done,
// returning the waker to invoke (nil when none was registered or the Op
// already completed). Driver use only.
func (o *Op) Complete(res int32, errno syscall.Errno) Waker {
	// Claim before writing so a losing second completion cannot clobber the
	// recorded result; publish opDone only after the stores.
	if !o.state.CompareAndSwap(opPending, opClaimed) {
		return nil
	}
	o.res = res
	o.errno = errno
	o.state.Store(opDone)
	return o.waker
}

// Done reports whether the terminal completion event has been observed.
func (o *Op) Done() bool { return o.state.Load() == opDone }

// Result returns the operation outcome. Valid only after Done.
func (o *Op) Result() (int, error) {
	if o.errno != 0 {
		return 0, o.errno
	}
	if o.res < 0 {
		return 0, syscall.Errno(-o.res)
	}
	return int(o.res), nil
}
