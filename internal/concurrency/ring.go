// File: internal/concurrency/ring.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// RingBuffer is a bounded circular buffer with atomic head/tail, padded to
// keep the producer and consumer indexes on separate cache lines.

package concurrency

import "sync/atomic"

// RingBuffer is a lock-free bounded FIFO, safe for one producer and one
// consumer. The scheduler uses it as a worker's private run queue: the
// worker thread is both sides, so enqueue/dequeue never contend.
type RingBuffer[T any] struct {
	data []T
	mask uint64
	head atomic.Uint64
	_    [64]byte // keep head and tail on separate cache lines
	tail atomic.Uint64
	_    [64]byte
}

// NewRingBuffer allocates a ring buffer, rounding capacity up to the next
// power of two.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	size := uint64(1)
	for size < uint64(capacity) {
		size <<= 1
	}
	return &RingBuffer[T]{
		data: make([]T, size),
		mask: size - 1,
	}
}

// Enqueue appends item; returns false when the ring is full.
func (r *RingBuffer[T]) Enqueue(item T) bool {
	head := r.head.Load()
	tail := r.tail.Load()
	if tail-head >= uint64(len(r.data)) {
		return false
	}
	r.data[tail&r.mask] = item
	r.tail.Store(tail + 1)
	return true
}

// Dequeue removes and returns the oldest item; ok is false when empty.
func (r *RingBuffer[T]) Dequeue() (T, bool) {
	head := r.head.Load()
	tail := r.tail.Load()
	if head >= tail {
		var zero T
		return zero, false
	}
	item := r.data[head&r.mask]
	var zero T
	r.data[head&r.mask] = zero // release the reference for GC
	r.head.Store(head + 1)
	return item, true
}

// Len returns the number of buffered items.
func (r *RingBuffer[T]) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// Cap returns the fixed capacity.
func (r *RingBuffer[T]) Cap() int { return len(r.data) }
