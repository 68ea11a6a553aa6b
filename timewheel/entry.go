// File: timewheel/entry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package timewheel

import (
	"sync/atomic"

	"github.com/strandio/strand/api"
)

// Entry states. The atomic word makes Cancel idempotent and tombstone-safe
// against a sweep: a cancel that races the sweep leaves a tombstone the
// sweep discards instead of firing.
const (
	entryPending uint32 = iota
	entryFired
	entryCancelled
)

// Entry is one pending delayed or periodic wakeup. An entry lives in exactly
// one wheel bucket at a time and moves toward tier zero as its deadline
// approaches. A periodic entry stays pending across fires and is re-armed at
// deadline+period by the wheel. All methods must be called on the wheel's
// owner thread.
type Entry struct {
	deadline uint64 // absolute tick
	period   uint64 // re-arm interval in ticks; 0 for one-shot
	seq      uint64 // registration order, breaks deadline ties
	waker    api.Waker

	state atomic.Uint32

	wheel      *Wheel
	tier, slot int
	prev, next *Entry
	linked     bool
}

// Deadline returns the absolute tick the entry fires at next.
func (e *Entry) Deadline() uint64 { return e.deadline }

// Fired reports whether a one-shot entry's waker has been invoked.
func (e *Entry) Fired() bool { return e.state.Load() == entryFired }

// Cancel unlinks the entry before expiry and reports whether this call won.
// It is a no-op when the entry already fired or was cancelled. A cancelled
// entry never has its waker invoked again.
func (e *Entry) Cancel() bool {
	if !e.state.CompareAndSwap(entryPending, entryCancelled) {
		return false
	}
	e.wheel.unlink(e)
	return true
}

// claimFire reports whether the sweep may invoke the waker: one-shot entries
// transition to fired exactly once, periodic entries stay pending so the
// next period can fire again.
func (e *Entry) claimFire() bool {
	if e.period != 0 {
		return e.state.Load() == entryPending
	}
	return e.state.CompareAndSwap(entryPending, entryFired)
}
