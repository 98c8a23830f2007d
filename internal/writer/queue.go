package writer

import "sync"

// Queue is a thread-safe FIFO ring buffer. It starts small, doubles its
// backing array when 70% full, and rejects items once limit items are
// queued.
type Queue[T any] struct {
	mu     sync.Mutex
	buf    []T
	head   int
	tail   int
	count  int
	limit  int
	closed bool
	ready  chan struct{}

	pushed  int64
	popped  int64
	dropped int64
	resizes int
}

// QueueStats contains queue counters.
type QueueStats struct {
	Len      int
	Capacity int
	Limit    int
	Pushed   int64
	Popped   int64
	Dropped  int64
	Resizes  int
}

// NewQueue creates a queue holding at most limit items.
func NewQueue[T any](limit int) *Queue[T] {
	if limit < 1 {
		limit = 1
	}
	initial := min(limit, 64)
	return &Queue[T]{
		buf:   make([]T, initial),
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// Push appends item. It returns false if the queue is full or closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.count >= q.limit {
		q.dropped++
		return false
	}

	threshold := max(len(q.buf)*70/100, 1)
	if q.count+1 >= threshold && len(q.buf) < q.limit {
		q.grow()
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % len(q.buf)
	q.count++
	q.pushed++

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Ready is signaled after a Push. A single signal may cover many pushes.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Drain removes up to n items (all items when n <= 0) in FIFO order.
func (q *Queue[T]) Drain(n int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}
	if n <= 0 || n > q.count {
		n = q.count
	}

	out := make([]T, n)
	var zero T
	for i := range out {
		out[i] = q.buf[q.head]
		q.buf[q.head] = zero
		q.head = (q.head + 1) % len(q.buf)
	}
	q.count -= n
	q.popped += int64(n)
	return out
}

// Close rejects further pushes. Queued items can still be drained.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats returns queue counters.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Len:      q.count,
		Capacity: len(q.buf),
		Limit:    q.limit,
		Pushed:   q.pushed,
		Popped:   q.popped,
		Dropped:  q.dropped,
		Resizes:  q.resizes,
	}
}

// grow doubles the backing array, capped at limit. Must be called with lock held.
func (q *Queue[T]) grow() {
	next := make([]T, min(len(q.buf)*2, q.limit))
	if q.count > 0 {
		if q.head < q.tail {
			copy(next, q.buf[q.head:q.tail])
		} else {
			n := copy(next, q.buf[q.head:])
			copy(next[n:], q.buf[:q.tail])
		}
	}
	q.buf = next
	q.head = 0
	q.tail = q.count
	q.resizes++
}
