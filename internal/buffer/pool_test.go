package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBucket(t *testing.T) {
	tests := []struct {
		size int
		want int
	}{
		{0, 0},
		{1, 0},
		{4096, 0},
		{4097, 1},
		{8192, 1},
		{1 << 20, 20 - minBucketShift},
		{1 << maxBucketShift, maxBucketShift - minBucketShift},
		{1<<maxBucketShift + 1, -1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, bucket(tt.size), "bucket(%d)", tt.size)
	}
}

func TestBytePool_GetPut(t *testing.T) {
	p := NewBytePool()

	buf := p.Get(5000)
	assert.Len(t, buf, 5000)
	assert.Equal(t, 8192, cap(buf))
	p.Put(buf)

	// oversized requests bypass the pool
	big := p.Get(1<<maxBucketShift + 1)
	assert.Len(t, big, 1<<maxBucketShift+1)
	p.Put(big)

	// foreign slices are ignored
	p.Put(make([]byte, 100))
	p.Put(nil)

	// every pooled slice has a bucket-sized capacity
	again := p.Get(4100)
	assert.Len(t, again, 4100)
	assert.Equal(t, 8192, cap(again))
}

func TestBytePool_ConcurrentUse(t *testing.T) {
	p := NewBytePool()
	done := make(chan struct{})

	for w := 0; w < 8; w++ {
		go func(w int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 500; i++ {
				size := (w+1)*1000 + i
				buf := p.Get(size)
				if len(buf) != size {
					t.Errorf("Get(%d) returned len %d", size, len(buf))
					return
				}
				buf[0], buf[size-1] = byte(w), byte(i)
				p.Put(buf)
			}
		}(w)
	}
	for w := 0; w < 8; w++ {
		<-done
	}
}
