// File: api/driver.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Platform-neutral I/O driver contract over readiness-based (epoll/kqueue)
// and completion-based (io_uring) event demultiplexing.

package api

import "time"

// Backend identifies the kernel event mechanism behind a Driver.
type Backend uint8

const (
	// BackendAuto lets the reactor probe io_uring first and fall back.
	BackendAuto Backend = iota
	// BackendURing is the Linux completion-based backend.
	BackendURing
	// BackendEpoll is the Linux readiness-based backend.
	BackendEpoll
	// BackendKqueue is the BSD/darwin readiness-based backend.
	BackendKqueue
)

// String returns the backend name used in logs and configuration.
func (b Backend) String() string {
	switch b {
	case BackendURing:
		return "io_uring"
	case BackendEpoll:
		return "epoll"
	case BackendKqueue:
		return "kqueue"
	default:
		return "auto"
	}
}

// ParseBackend maps a configuration string to a Backend value.
// Unknown strings map to BackendAuto.
func ParseBackend(s string) Backend {
	switch s {
	case "io_uring", "uring":
		return BackendURing
	case "epoll":
		return BackendEpoll
	case "kqueue":
		return BackendKqueue
	default:
		return BackendAuto
	}
}

// Driver is the per-worker I/O event demultiplexer. A Driver instance is
// exclusively owned by one worker thread; the only method that may be called
// from other threads is Wakeup.
//
// Readiness model (epoll/kqueue): AddRead/AddWrite arm a one-shot interest
// for the fd side and record the waker to invoke when the kernel reports
// readiness. The caller performs the actual syscall itself and re-arms on
// EAGAIN; spurious readiness is therefore tolerated by construction.
//
// Completion model (io_uring): Submit hands an Op (and its buffer) to the
// kernel. The driver retains the Op until its terminal completion event is
// observed, even when the operation was cancelled, so the kernel never
// touches reclaimed memory.
type Driver interface {
	// Backend reports the mechanism selected at construction. Callers cache
	// the single branch on this value outside their hot paths.
	Backend() Backend

	// AddRead arms one-shot read interest for fd and records w.
	AddRead(fd int, w Waker) error
	// AddWrite arms one-shot write interest for fd and records w.
	AddWrite(fd int, w Waker) error
	// Del drops all interest state for fd. Safe to call for unknown fds.
	Del(fd int) error

	// Submit enqueues a completion operation. Readiness backends return
	// ErrNotSupported.
	Submit(op *Op) error
	// CancelOp requests best-effort cancellation of a submitted operation.
	// The Op still terminates with a (possibly ECANCELED) completion event
	// and must not be reused until Done reports true.
	CancelOp(op *Op) error

	// Poll blocks up to timeout waiting for events, dispatches the wakers
	// of every ready registration/completion, and returns how many wakers
	// were invoked. A negative timeout blocks until an event or Wakeup.
	Poll(timeout time.Duration) (int, error)

	// Wakeup interrupts a concurrent Poll. Idempotent and thread-safe.
	Wakeup() error

	// Close releases kernel resources. The driver must not be used after.
	Close() error
}
