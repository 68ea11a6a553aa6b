// File: timewheel/wheel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Hierarchical timing wheel: 4 tiers of 64 slots each, O(1) registration and
// cancellation, cascade in units of elapsed slots. One instance per worker,
// never shared across threads.

package timewheel

import (
	"sort"
	"time"

	"fortio.org/safecast"

	"github.com/strandio/strand/api"
)

const (
	tierCount = 4
	slotBits  = 6
	slotCount = 1 << slotBits // 64
	slotMask  = slotCount - 1

	// DefaultResolution is the tick length used by the runtime builder.
	DefaultResolution = time.Millisecond

	// minResolution guards against degenerate sub-100µs ticks.
	minResolution = 100 * time.Microsecond
)

// Horizon is the wheel span in ticks; deadlines at or beyond now+Horizon
// saturate and report api.ErrTimerOverflow.
const Horizon uint64 = 1 << (slotBits * tierCount) // 16_777_216 ticks

// bucket is an intrusive doubly linked list; appends go to the tail so a
// sweep pops entries in insertion order.
type bucket struct {
	head, tail *Entry
}

func (b *bucket) append(e *Entry) {
	e.prev = b.tail
	e.next = nil
	if b.tail != nil {
		b.tail.next = e
	} else {
		b.head = e
	}
	b.tail = e
	e.linked = true
}

func (b *bucket) remove(e *Entry) {
	if !e.linked {
		return
	}
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		b.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		b.tail = e.prev
	}
	e.prev, e.next = nil, nil
	e.linked = false
}

// Wheel is a four-tier timing wheel anchored at its creation instant.
// Deadlines are unsigned tick counts since that epoch. The wheel is owned
// by a single worker thread; no method is safe for concurrent use.
type Wheel struct {
	resolution time.Duration
	epoch      time.Time
	now        uint64 // ticks fully processed by Advance

	tiers  [tierCount][slotCount]bucket
	counts [tierCount]int
	seq    uint64

	fired []*Entry // scratch, reused between Advance calls
}

// New builds a wheel with the given tick resolution, clamped to a sane
// minimum. The epoch is the call instant.
func New(resolution time.Duration) *Wheel {
	if resolution < minResolution {
		resolution = minResolution
	}
	return &Wheel{
		resolution: resolution,
		epoch:      time.Now(),
	}
}

// Resolution returns the tick length.
func (w *Wheel) Resolution() time.Duration { return w.resolution }

// NowTick returns the last tick processed by Advance.
func (w *Wheel) NowTick() uint64 { return w.now }

// TickAt converts an absolute instant to a tick count since the epoch.
func (w *Wheel) TickAt(t time.Time) uint64 {
	elapsed := t.Sub(w.epoch)
	if elapsed <= 0 {
		return 0
	}
	return uint64(elapsed / w.resolution)
}

// ticksFor rounds a delay up to whole ticks, minimum one.
func (w *Wheel) ticksFor(d time.Duration) uint64 {
	if d <= 0 {
		return 1
	}
	t := uint64((d + w.resolution - 1) / w.resolution)
	if t == 0 {
		t = 1
	}
	return t
}

// Schedule registers a one-shot wakeup after delay, measured from the wall
// clock. Deadlines beyond the wheel horizon saturate and also report
// api.ErrTimerOverflow; the returned entry is still valid.
func (w *Wheel) Schedule(delay time.Duration, wk api.Waker) (*Entry, error) {
	deadline := w.TickAt(time.Now()) + w.ticksFor(delay)
	return w.ScheduleAt(deadline, 0, wk)
}

// SchedulePeriodic registers a wakeup that first fires after period and then
// re-arms itself at deadline+period, relative to the original schedule, so
// individual dispatch jitter never accumulates into drift.
func (w *Wheel) SchedulePeriodic(period time.Duration, wk api.Waker) (*Entry, error) {
	ticks := w.ticksFor(period)
	deadline := w.TickAt(time.Now()) + ticks
	return w.ScheduleAt(deadline, ticks, wk)
}

// ScheduleAt registers a wakeup at an absolute tick, with an optional
// re-arm period in ticks. Deadlines at or before the current tick are
// nudged to the next tick rather than firing inline.
func (w *Wheel) ScheduleAt(deadline, period uint64, wk api.Waker) (*Entry, error) {
	var overflow error
	if deadline <= w.now {
		deadline = w.now + 1
	}
	if deadline-w.now >= Horizon {
		deadline = w.now + Horizon - 1
		overflow = api.ErrTimerOverflow
	}
	w.seq++
	e := &Entry{
		deadline: deadline,
		period:   period,
		seq:      w.seq,
		waker:    wk,
		wheel:    w,
	}
	w.insert(e)
	return e, overflow
}

// insert places e into the tier covering its remaining delay.
func (w *Wheel) insert(e *Entry) {
	delta := e.deadline - w.now
	var tier int
	switch {
	case delta < 1<<slotBits:
		tier = 0
	case delta < 1<<(2*slotBits):
		tier = 1
	case delta < 1<<(3*slotBits):
		tier = 2
	default:
		tier = 3
	}
	slot := int((e.deadline >> (slotBits * tier)) & slotMask)
	e.tier, e.slot = tier, slot
	w.tiers[tier][slot].append(e)
	w.counts[tier]++
}

// unlink removes e from its bucket; no-op when already swept out.
func (w *Wheel) unlink(e *Entry) {
	if !e.linked {
		return
	}
	w.tiers[e.tier][e.slot].remove(e)
	w.counts[e.tier]--
}

// Len returns the number of pending entries.
func (w *Wheel) Len() int {
	n := 0
	for _, c := range w.counts {
		n += c
	}
	return n
}

// Advance rotates the wheel up to the wall-clock instant and invokes the
// wakers of every expired entry in deadline order.
func (w *Wheel) Advance(now time.Time) int {
	return w.AdvanceTo(w.TickAt(now))
}

// AdvanceTo rotates the wheel up to an absolute tick. The sweep walks at
// most slotCount slots per tier regardless of how many ticks elapsed, so a
// process resumed after a long stop (debugger, VM pause) catches up in one
// bounded pass instead of replaying every missed tick.
func (w *Wheel) AdvanceTo(target uint64) int {
	if target <= w.now {
		return 0
	}
	prev := w.now
	w.now = target
	w.fired = w.fired[:0]

	// Tier 0 fires directly: every passed slot holds only due entries.
	steps := target - prev
	if steps > slotCount {
		steps = slotCount
	}
	for i := uint64(1); i <= steps; i++ {
		w.sweep(0, int((prev+i)&slotMask), target)
	}

	// Higher tiers cascade: due entries fire, the rest re-insert closer
	// to tier zero based on their remaining delay.
	for tier := 1; tier < tierCount; tier++ {
		shift := uint(slotBits * tier)
		from, to := prev>>shift, target>>shift
		if from == to {
			break
		}
		steps := to - from
		if steps > slotCount {
			steps = slotCount
		}
		for i := uint64(1); i <= steps; i++ {
			w.sweep(tier, int((from+i)&slotMask), target)
		}
	}

	if len(w.fired) == 0 {
		return 0
	}
	sort.SliceStable(w.fired, func(i, j int) bool {
		a, b := w.fired[i], w.fired[j]
		if a.deadline != b.deadline {
			return a.deadline < b.deadline
		}
		return a.seq < b.seq
	})
	n := 0
	for _, e := range w.fired {
		if !e.claimFire() {
			continue
		}
		if e.waker != nil {
			e.waker.Wake()
		}
		n++
		if e.period != 0 {
			// Original-schedule re-arm; coalesce periods missed during a
			// long stall into the next deadline strictly past now.
			next := e.deadline + e.period
			if next <= w.now {
				missed := (w.now - e.deadline) / e.period
				next = e.deadline + (missed+1)*e.period
			}
			e.deadline = next
			w.insert(e)
		}
	}
	return n
}

// sweep empties one bucket, firing due entries and cascading the rest.
func (w *Wheel) sweep(tier, slot int, target uint64) {
	b := &w.tiers[tier][slot]
	for e := b.head; e != nil; {
		next := e.next
		b.remove(e)
		w.counts[tier]--
		if e.state.Load() == entryCancelled {
			e = next
			continue
		}
		if e.deadline <= target {
			w.fired = append(w.fired, e)
		} else {
			w.insert(e)
		}
		e = next
	}
}

// NextDelay returns the time until the nearest pending deadline, or a
// negative duration when no timers are registered. Tier zero is scanned
// exactly; for entries still parked in higher tiers the estimate is the
// next tier-one boundary, which is always at or before their true deadline.
func (w *Wheel) NextDelay() time.Duration {
	if w.Len() == 0 {
		return -1
	}
	if w.counts[0] > 0 {
		for i := uint64(1); i <= slotCount; i++ {
			slot := int((w.now + i) & slotMask)
			if w.tiers[0][slot].head != nil {
				ticks, err := safecast.Conv[int64](i)
				if err != nil {
					return w.resolution
				}
				return time.Duration(ticks) * w.resolution
			}
		}
	}
	boundary := slotCount - (w.now & slotMask)
	ticks, err := safecast.Conv[int64](boundary)
	if err != nil {
		return w.resolution
	}
	return time.Duration(ticks) * w.resolution
}
