package buffer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrQueueClosed is returned by Push after Close.
var ErrQueueClosed = errors.New("write-behind queue closed")

// FlushFunc persists one queued item.
type FlushFunc[T any] func(item T) error

// WriteBehind is an unbounded multi-producer queue drained by a single
// consumer goroutine. Items are flushed in FIFO order. A failed flush is
// counted and the consumer moves on to the next item.
type WriteBehind[T any] struct {
	flush FlushFunc[T]

	mu       sync.Mutex
	items    []T
	head     int
	inflight bool
	closed   bool
	idle     chan struct{} // closed while nothing is queued or in flight

	signal  chan struct{}
	stopCh  chan struct{}
	stopped chan struct{}
	once    sync.Once

	enqueued atomic.Uint64
	flushed  atomic.Uint64
	failed   atomic.Uint64
}

// WriteBehindStats reports queue activity.
type WriteBehindStats struct {
	Enqueued uint64 `json:"enqueued"`
	Flushed  uint64 `json:"flushed"`
	Failed   uint64 `json:"failed"`
	Pending  int    `json:"pending"`
}

// NewWriteBehind starts the consumer goroutine.
func NewWriteBehind[T any](flush FlushFunc[T]) *WriteBehind[T] {
	idle := make(chan struct{})
	close(idle)

	q := &WriteBehind[T]{
		flush:   flush,
		idle:    idle,
		signal:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go q.consume()
	return q
}

// Push enqueues item without blocking.
func (q *WriteBehind[T]) Push(item T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if q.pendingLocked() == 0 {
		q.idle = make(chan struct{})
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	q.enqueued.Add(1)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the number of items queued or being flushed.
func (q *WriteBehind[T]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pendingLocked()
}

func (q *WriteBehind[T]) pendingLocked() int {
	n := len(q.items) - q.head
	if q.inflight {
		n++
	}
	return n
}

// Flush blocks until every item pushed before the call has been flushed or
// ctx is done.
func (q *WriteBehind[T]) Flush(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting items, waits for the consumer to drain what is
// already queued and stops it. Close is idempotent.
func (q *WriteBehind[T]) Close() error {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.stopCh)
	})
	<-q.stopped
	return nil
}

// Stats returns current queue statistics.
func (q *WriteBehind[T]) Stats() WriteBehindStats {
	return WriteBehindStats{
		Enqueued: q.enqueued.Load(),
		Flushed:  q.flushed.Load(),
		Failed:   q.failed.Load(),
		Pending:  q.Pending(),
	}
}

func (q *WriteBehind[T]) consume() {
	defer close(q.stopped)

	for {
		item, ok := q.next()
		if !ok {
			return
		}
		if err := q.flush(item); err != nil {
			q.failed.Add(1)
		} else {
			q.flushed.Add(1)
		}
		q.done()
	}
}

// next blocks until an item is available. It reports false once the queue is
// closed and empty.
func (q *WriteBehind[T]) next() (T, bool) {
	for {
		q.mu.Lock()
		if q.head < len(q.items) {
			var zero T
			item := q.items[q.head]
			q.items[q.head] = zero
			q.head++
			if q.head == len(q.items) {
				q.items = q.items[:0]
				q.head = 0
			}
			q.inflight = true
			q.mu.Unlock()
			return item, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			var zero T
			return zero, false
		}
		select {
		case <-q.signal:
		case <-q.stopCh:
		}
	}
}

func (q *WriteBehind[T]) done() {
	q.mu.Lock()
	q.inflight = false
	if q.pendingLocked() == 0 {
		close(q.idle)
	}
	q.mu.Unlock()
}
