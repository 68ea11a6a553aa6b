// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package pool provides size-classed byte buffer recycling for the I/O
// paths. The completion backend borrows buffers here for the kernel's side
// of every transfer; a buffer whose operation never completes is simply
// abandoned to the garbage collector rather than returned.
package pool

import (
	"math/bits"
	"sync"
)

const (
	minClassBits = 9  // 512 B
	maxClassBits = 16 // 64 KiB
	numClasses   = maxClassBits - minClassBits + 1
)

// BytePool recycles byte slices in power-of-two size classes from 512 B to
// 64 KiB. Requests above the largest class allocate directly and are never
// pooled.
type BytePool struct {
	classes [numClasses]sync.Pool
}

// NewBytePool builds an empty pool.
func NewBytePool() *BytePool {
	p := &BytePool{}
	for i := range p.classes {
		size := 1 << (minClassBits + i)
		p.classes[i].New = func() any {
			return make([]byte, size)
		}
	}
	return p
}

// classFor returns the class index covering n, or -1 when n is oversized.
func classFor(n int) int {
	if n <= 0 {
		return 0
	}
	b := bits.Len(uint(n - 1))
	if b < minClassBits {
		return 0
	}
	if b > maxClassBits {
		return -1
	}
	return b - minClassBits
}

// Get returns a buffer with len >= n. Callers slice it down themselves.
func (p *BytePool) Get(n int) []byte {
	c := classFor(n)
	if c < 0 {
		return make([]byte, n)
	}
	return p.classes[c].Get().([]byte)
}

// Put recycles a buffer obtained from Get. Foreign or oversized slices are
// dropped. The caller must not retain any reference after Put.
func (p *BytePool) Put(buf []byte) {
	n := cap(buf)
	if n < 1<<minClassBits || n&(n-1) != 0 {
		return
	}
	b := bits.Len(uint(n)) - 1
	if b > maxClassBits {
		return
	}
	p.classes[b-minClassBits].Put(buf[:n])
}

// Default is the process-wide pool used by the transport layer.
var Default = NewBytePool()
