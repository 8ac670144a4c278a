package dispatch

import "github.com/opd-ai/netchannel/transport"

// WithPeer pairs a received message with the peer that sent it.
type WithPeer[T any] struct {
	Peer    transport.PeerID
	Message T
}

// Queue is a FIFO filled by queue subscriptions and drained by game logic
// on its own tick. A Queue with a positive capacity drops new items once
// full; a zero capacity queue grows without bound.
type Queue[T any] struct {
	items    []T
	capacity int
	dropped  uint64
}

// NewQueue creates a queue holding at most capacity items, or any number
// of items when capacity is zero.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue[T]{capacity: capacity}
}

// Push appends v. It returns false and counts a drop when the queue is full.
func (q *Queue[T]) Push(v T) bool {
	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.dropped++
		return false
	}
	q.items = append(q.items, v)
	return true
}

// Pop removes and returns the oldest item.
func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

// Drain removes and returns every queued item, oldest first.
func (q *Queue[T]) Drain() []T {
	items := q.items
	q.items = nil
	return items
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Dropped returns how many items were refused because the queue was full.
func (q *Queue[T]) Dropped() uint64 {
	return q.dropped
}
