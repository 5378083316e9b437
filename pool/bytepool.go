// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>

package pool

import (
	"sync"

	"github.com/momentics/corearbiterd/api"
)

// BytePool hands out fixed-size []byte scratch buffers, recycling them
// through a sync.Pool. Requests larger than the pooled size fall back
// to a plain allocation that Release discards.
type BytePool struct {
	size int
	pool sync.Pool
}

// NewBytePool creates a pool of buffers of the given size.
func NewBytePool(size int) *BytePool {
	b := &BytePool{size: size}
	b.pool.New = func() any { return make([]byte, size) }
	return b
}

// Acquire returns a slice of at least n bytes.
func (b *BytePool) Acquire(n int) []byte {
	if n > b.size {
		return make([]byte, n)
	}
	return b.pool.Get().([]byte)[:n]
}

// Release returns a buffer to the pool. Oversized buffers from the
// fallback path are dropped for the GC to collect.
func (b *BytePool) Release(buf []byte) {
	if cap(buf) != b.size {
		return
	}
	b.pool.Put(buf[:b.size])
}

var _ api.BytePool = (*BytePool)(nil)
