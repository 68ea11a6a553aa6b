// File: internal/concurrency/sharedqueue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"sync"

	"github.com/eapache/queue"
)

// SharedQueue is an unbounded multi-producer FIFO consumed by exactly one
// worker. Producers are wakers running on arbitrary threads plus external
// spawn call sites, so the push side takes a mutex; the queue is otherwise
// uncontended because each worker drains only its own instance.
type SharedQueue[T any] struct {
	mu sync.Mutex
	q  *queue.Queue
}

// NewSharedQueue builds an empty queue.
func NewSharedQueue[T any]() *SharedQueue[T] {
	return &SharedQueue[T]{q: queue.New()}
}

// Push appends v.
func (s *SharedQueue[T]) Push(v T) {
	s.mu.Lock()
	s.q.Add(v)
	s.mu.Unlock()
}

// Pop removes and returns the oldest element; ok is false when empty.
func (s *SharedQueue[T]) Pop() (v T, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.q.Length() == 0 {
		return v, false
	}
	v = s.q.Remove().(T)
	return v, true
}

// PopBatch moves up to len(dst) elements into dst and returns the count.
func (s *SharedQueue[T]) PopBatch(dst []T) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for n < len(dst) && s.q.Length() > 0 {
		dst[n] = s.q.Remove().(T)
		n++
	}
	return n
}

// Len returns the current element count.
func (s *SharedQueue[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.Length()
}
