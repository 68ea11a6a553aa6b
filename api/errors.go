// File: api/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Common error types used across the strand runtime.

package api

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the runtime.
var (
	// ErrDriverInit reports that no I/O driver backend could be initialized.
	// This is the one unrecoverable startup condition.
	ErrDriverInit = errors.New("strand: no usable I/O driver backend")

	// ErrDriverClosed reports use of a driver after Close.
	ErrDriverClosed = errors.New("strand: driver is closed")

	// ErrNotSupported reports an operation the selected backend cannot
	// perform (for example Submit on a readiness-based backend).
	ErrNotSupported = errors.New("strand: operation not supported by backend")

	// ErrTimerOverflow reports a deadline beyond the timer wheel horizon.
	// The registration saturates to the horizon rather than being dropped.
	ErrTimerOverflow = errors.New("strand: timer deadline exceeds wheel horizon")

	// ErrTaskCancelled is observed through a JoinHandle whose task was
	// cancelled before completing.
	ErrTaskCancelled = errors.New("strand: task cancelled")

	// ErrOperationTimeout is returned by the timeout race combinator when
	// the deadline fires before the inner future completes.
	ErrOperationTimeout = errors.New("strand: operation timed out")

	// ErrRuntimeShutdown reports a spawn attempted on a runtime that is
	// draining or stopped.
	ErrRuntimeShutdown = errors.New("strand: runtime is shutting down")
)

// BindError reports a synchronous listener/socket bind failure
// (address in use, permission denied). It is never retried by the runtime.
type BindError struct {
	Addr string
	Err  error
}

// Error implements the error interface.
func (e *BindError) Error() string {
	return fmt.Sprintf("strand: bind %s: %v", e.Addr, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *BindError) Unwrap() error { return e.Err }

// TaskPanicError wraps a panic value recovered at a task's poll boundary.
// The failing task reaches a terminal state; the worker thread survives.
type TaskPanicError struct {
	Value any
}

// Error implements the error interface.
func (e *TaskPanicError) Error() string {
	return fmt.Sprintf("strand: task panicked: %v", e.Value)
}
