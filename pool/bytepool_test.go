// File: pool/bytepool_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetCoversRequest(t *testing.T) {
	p := NewBytePool()
	for _, n := range []int{1, 511, 512, 513, 4096, 65536} {
		b := p.Get(n)
		assert.GreaterOrEqual(t, len(b), n, "request %d", n)
	}
}

func TestOversizedAllocatesExact(t *testing.T) {
	p := NewBytePool()
	b := p.Get(1 << 20)
	assert.Equal(t, 1<<20, len(b))
	p.Put(b) // dropped, not pooled
}

func TestClassFor(t *testing.T) {
	assert.Equal(t, 0, classFor(0))
	assert.Equal(t, 0, classFor(512))
	assert.Equal(t, 1, classFor(513))
	assert.Equal(t, maxClassBits-minClassBits, classFor(1<<16))
	assert.Equal(t, -1, classFor(1<<16+1))
}

func TestRoundTrip(t *testing.T) {
	p := NewBytePool()
	b := p.Get(1024)
	b[0] = 42
	p.Put(b)
	c := p.Get(1024)
	assert.GreaterOrEqual(t, cap(c), 1024)
}

func TestPutForeignSliceDropped(t *testing.T) {
	p := NewBytePool()
	p.Put(make([]byte, 300))  // below the smallest class
	p.Put(make([]byte, 1000)) // not a power of two
}
