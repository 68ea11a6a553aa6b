//go:build !linux

// File: sched/threadname_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package sched

func setThreadName(string) {}
