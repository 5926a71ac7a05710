package buffer

import (
	"math/bits"
	"sync"
)

const (
	minBucketShift = 12 // 4KiB
	maxBucketShift = 26 // 64MiB
)

// BytePool hands out scratch byte slices from power-of-two size buckets to
// reduce GC pressure on the encode and decode paths. Requests larger than the
// biggest bucket are allocated directly and never pooled.
type BytePool struct {
	pools [maxBucketShift - minBucketShift + 1]sync.Pool
}

// NewBytePool creates an empty pool.
func NewBytePool() *BytePool {
	p := &BytePool{}
	for i := range p.pools {
		size := 1 << (minBucketShift + i)
		p.pools[i].New = func() any {
			buf := make([]byte, size)
			return &buf
		}
	}
	return p
}

// bucket returns the index of the smallest bucket holding size bytes, or -1.
func bucket(size int) int {
	if size <= 1<<minBucketShift {
		return 0
	}
	shift := bits.Len(uint(size - 1))
	if shift > maxBucketShift {
		return -1
	}
	return shift - minBucketShift
}

// Get returns a slice of length size. Its contents are unspecified.
func (p *BytePool) Get(size int) []byte {
	i := bucket(size)
	if i < 0 {
		return make([]byte, size)
	}
	buf := p.pools[i].Get().(*[]byte)
	return (*buf)[:size]
}

// Put returns buf to the pool. Slices that did not come from Get are dropped.
func (p *BytePool) Put(buf []byte) {
	c := cap(buf)
	if c == 0 || c&(c-1) != 0 {
		return
	}
	i := bucket(c)
	if i < 0 || 1<<(minBucketShift+i) != c {
		return
	}
	buf = buf[:c]
	p.pools[i].Put(&buf)
}
