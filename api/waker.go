// File: api/waker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Waker is an opaque handle that, when invoked, signals the scheduler to
// re-enqueue one specific suspended task. Implementations must be safe to
// invoke from any thread, and duplicate invocations per suspension must
// coalesce into a single reschedule.
type Waker interface {
	Wake()
}

// WakerFunc adapts a plain function to the Waker interface.
type WakerFunc func()

// Wake invokes the function.
func (f WakerFunc) Wake() { f() }
