// File: sched/threadname_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package sched

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// setThreadName labels the locked OS thread for top/htop and kernel traces.
// The kernel caps comm names at 15 bytes plus NUL.
func setThreadName(name string) {
	if len(name) > 15 {
		name = name[:15]
	}
	p, err := unix.BytePtrFromString(name)
	if err != nil {
		return
	}
	_ = unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(p)), 0, 0, 0)
}
