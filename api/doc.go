// File: api/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package api declares the contracts shared by every layer of the strand
// runtime: the Waker handle, the Driver interface implemented by the
// io_uring/epoll/kqueue reactors, the completion Op record, and the common
// error taxonomy.
//
// The package sits at the bottom of the import graph so that reactor,
// timewheel, sched and transport can all depend on it without cycles.
package api
