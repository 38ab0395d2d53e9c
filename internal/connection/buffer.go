package connection

import (
	"sync"
)

// Queue is an unbounded FIFO that hands frames from the read loop to the
// session loop. Push never blocks and never drops, so a slow handler cannot
// stall socket reads or reorder frames; the ring doubles when full.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []T
	head   int // read position
	count  int
	closed bool

	// Stats
	pushed    int64
	popped    int64
	highWater int
	grows     int
}

// NewQueue creates a queue with the given initial capacity.
func NewQueue[T any](initialCapacity int) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	q := &Queue[T]{buf: make([]T, initialCapacity)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an item. It returns false if the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if q.count == len(q.buf) {
		q.grow()
	}

	q.buf[(q.head+q.count)%len(q.buf)] = item
	q.count++
	q.pushed++
	if q.count > q.highWater {
		q.highWater = q.count
	}

	q.cond.Signal()
	return true
}

// Pop removes the oldest item, blocking until one is available. After Close
// it keeps returning the remaining items, then the zero value and false.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}

	var zero T
	if q.count == 0 {
		return zero, false
	}

	item := q.buf[q.head]
	q.buf[q.head] = zero // Clear reference for GC
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	q.popped++

	return item, true
}

// Close stops further pushes and wakes all blocked readers.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() BufferStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return BufferStats{
		Count:     q.count,
		Capacity:  len(q.buf),
		Pushed:    q.pushed,
		Popped:    q.popped,
		HighWater: q.highWater,
		Grows:     q.grows,
	}
}

// BufferStats contains queue statistics.
type BufferStats struct {
	Count     int
	Capacity  int
	Pushed    int64
	Popped    int64
	HighWater int
	Grows     int
}

// grow doubles the capacity. Must be called with lock held.
func (q *Queue[T]) grow() {
	next := make([]T, len(q.buf)*2)

	// Unwrap: [head...end) + [0...tail)
	n := copy(next, q.buf[q.head:])
	if n < q.count {
		copy(next[n:], q.buf[:q.count-n])
	}

	q.buf = next
	q.head = 0
	q.grows++
}
