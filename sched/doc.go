// File: sched/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package sched implements the thread-per-core task scheduler: each worker
// owns an OS thread, an I/O driver, a timer wheel, and a private FIFO run
// queue. Tasks never migrate between workers and never run concurrently
// with themselves; cross-thread communication is confined to wakeups and
// the spawn injector.
package sched
