// File: internal/concurrency/ring_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBufferFIFO(t *testing.T) {
	r := NewRingBuffer[int](8)
	for i := 0; i < 8; i++ {
		require.True(t, r.Enqueue(i))
	}
	assert.False(t, r.Enqueue(99), "full ring must reject")
	for i := 0; i < 8; i++ {
		v, ok := r.Dequeue()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := r.Dequeue()
	assert.False(t, ok)
}

func TestRingBufferRoundsCapacityUp(t *testing.T) {
	r := NewRingBuffer[int](5)
	assert.Equal(t, 8, r.Cap())
}

func TestRingBufferWrapAround(t *testing.T) {
	r := NewRingBuffer[int](4)
	for round := 0; round < 10; round++ {
		require.True(t, r.Enqueue(round))
		v, ok := r.Dequeue()
		require.True(t, ok)
		assert.Equal(t, round, v)
	}
	assert.Zero(t, r.Len())
}

func TestRingBufferSPSC(t *testing.T) {
	const total = 100000
	r := NewRingBuffer[int](64)
	var got []int
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < total; {
			if r.Enqueue(i) {
				i++
			}
		}
	}()
	go func() {
		defer wg.Done()
		for len(got) < total {
			if v, ok := r.Dequeue(); ok {
				got = append(got, v)
			}
		}
	}()
	wg.Wait()
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestSharedQueueFIFO(t *testing.T) {
	q := NewSharedQueue[string]()
	q.Push("a")
	q.Push("b")
	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "a", v)
	assert.Equal(t, 1, q.Len())
}

func TestSharedQueuePopBatch(t *testing.T) {
	q := NewSharedQueue[int]()
	for i := 0; i < 10; i++ {
		q.Push(i)
	}
	dst := make([]int, 4)
	assert.Equal(t, 4, q.PopBatch(dst))
	assert.Equal(t, []int{0, 1, 2, 3}, dst)
	assert.Equal(t, 6, q.Len())
}

func TestSharedQueueConcurrentProducers(t *testing.T) {
	q := NewSharedQueue[int]()
	const producers, each = 8, 1000
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				q.Push(i)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, producers*each, q.Len())
}
