// Package buffer provides an unbounded, lock-free FIFO queue with always-on
// statistics.
//
// LinkedQueue accepts concurrent writers without a mutex. Reads are intended
// for a single consumer at a time; callers that need to exclude writers while
// reading (for example, to take a final snapshot) coordinate that themselves.
package buffer

import (
	"sync/atomic"
)

type node[T any] struct {
	value T
	next  atomic.Pointer[node[T]]
}

// LinkedQueue is an unbounded Michael-Scott queue.
// The zero value is not usable; create one with NewLinkedQueue.
type LinkedQueue[T any] struct {
	head  atomic.Pointer[node[T]] // sentinel; head.next is the oldest item
	tail  atomic.Pointer[node[T]]
	size  atomic.Int64
	stats *Statistics
}

// NewLinkedQueue creates an empty queue.
func NewLinkedQueue[T any]() *LinkedQueue[T] {
	q := &LinkedQueue[T]{stats: NewStatistics()}
	sentinel := &node[T]{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	return q
}

// Write appends item at the tail. Safe for any number of concurrent writers.
func (q *LinkedQueue[T]) Write(item T) {
	n := &node[T]{value: item}
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if tail != q.tail.Load() {
			continue
		}
		if next != nil {
			// Tail is lagging behind; help it along.
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		if tail.next.CompareAndSwap(nil, n) {
			q.tail.CompareAndSwap(tail, n)
			break
		}
	}

	size := q.size.Add(1)
	q.stats.Write()
	q.stats.UpdateSize(size)
}

// Read removes and returns the oldest item.
// Returns the zero value and false if the queue is empty.
func (q *LinkedQueue[T]) Read() (T, bool) {
	var zero T
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		next := head.next.Load()
		if head != q.head.Load() {
			continue
		}
		if next == nil {
			return zero, false
		}
		if head == tail {
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		item := next.value
		if q.head.CompareAndSwap(head, next) {
			// next is the new sentinel; drop its reference to the item.
			next.value = zero
			size := q.size.Add(-1)
			q.stats.Read()
			q.stats.UpdateSize(size)
			return item, true
		}
	}
}

// Drain removes every item currently in the queue and returns them oldest first.
func (q *LinkedQueue[T]) Drain() []T {
	items := make([]T, 0, q.Size())
	for {
		item, ok := q.Read()
		if !ok {
			return items
		}
		items = append(items, item)
	}
}

// Size returns the number of items in the queue.
func (q *LinkedQueue[T]) Size() int {
	return int(q.size.Load())
}

// IsEmpty reports whether the queue holds no items.
func (q *LinkedQueue[T]) IsEmpty() bool {
	return q.head.Load().next.Load() == nil
}

// Stats returns the queue's statistics.
func (q *LinkedQueue[T]) Stats() *Statistics {
	return q.stats
}
