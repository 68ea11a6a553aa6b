// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package affinity pins worker threads to CPUs on platforms that allow it.
// Pinning is an optimization, never a requirement: callers treat every
// error here as a logged degradation.
package affinity

import "runtime"

// NumCPU reports the CPUs available to the process.
func NumCPU() int { return runtime.NumCPU() }

// Pin binds the calling OS thread to the CPU with the given index, modulo
// the available CPU count. The caller must already hold LockOSThread.
func Pin(cpu int) error {
	n := runtime.NumCPU()
	if n <= 0 {
		n = 1
	}
	return pin(cpu % n)
}
