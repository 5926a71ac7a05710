package buffer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	items []string
}

func (r *recorder) flush(item string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)
	return nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.items...)
}

func TestWriteBehind_FIFO(t *testing.T) {
	var rec recorder
	q := NewWriteBehind(rec.flush)
	defer q.Close()

	for _, k := range []string{"k1", "k2", "k3"} {
		require.NoError(t, q.Push(k))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Flush(ctx))

	assert.Equal(t, []string{"k1", "k2", "k3"}, rec.snapshot())
	assert.Equal(t, 0, q.Pending())

	stats := q.Stats()
	assert.Equal(t, uint64(3), stats.Enqueued)
	assert.Equal(t, uint64(3), stats.Flushed)
}

func TestWriteBehind_FlushOnEmptyQueue(t *testing.T) {
	q := NewWriteBehind(func(string) error { return nil })
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, q.Flush(ctx))
}

func TestWriteBehind_FlushHonoursContext(t *testing.T) {
	release := make(chan struct{})
	q := NewWriteBehind(func(string) error {
		<-release
		return nil
	})

	require.NoError(t, q.Push("slow"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Flush(ctx), context.DeadlineExceeded)
	assert.Equal(t, 1, q.Pending())

	close(release)
	require.NoError(t, q.Close())
	assert.Equal(t, 0, q.Pending())
}

func TestWriteBehind_FailuresDoNotStopConsumer(t *testing.T) {
	var rec recorder
	q := NewWriteBehind(func(item string) error {
		if item == "bad" {
			return errors.New("disk full")
		}
		return rec.flush(item)
	})

	for _, k := range []string{"a", "bad", "b"} {
		require.NoError(t, q.Push(k))
	}
	require.NoError(t, q.Close())

	assert.Equal(t, []string{"a", "b"}, rec.snapshot())
	stats := q.Stats()
	assert.Equal(t, uint64(2), stats.Flushed)
	assert.Equal(t, uint64(1), stats.Failed)
}

func TestWriteBehind_CloseDrainsAndRejects(t *testing.T) {
	var rec recorder
	q := NewWriteBehind(rec.flush)

	for i := 0; i < 100; i++ {
		require.NoError(t, q.Push("item"))
	}
	require.NoError(t, q.Close())
	assert.Len(t, rec.snapshot(), 100)

	assert.ErrorIs(t, q.Push("late"), ErrQueueClosed)

	// idempotent
	assert.NoError(t, q.Close())
}

func TestWriteBehind_ConcurrentProducers(t *testing.T) {
	var count sync.Map
	q := NewWriteBehind(func(item int) error {
		count.Store(item, true)
		return nil
	})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				_ = q.Push(w*1000 + i)
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, q.Close())

	n := 0
	count.Range(func(_, _ any) bool {
		n++
		return true
	})
	assert.Equal(t, 2000, n)
}
