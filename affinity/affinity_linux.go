// File: affinity/affinity_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package affinity

import "golang.org/x/sys/unix"

func pin(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	// tid 0: the calling thread.
	return unix.SchedSetaffinity(0, &set)
}
