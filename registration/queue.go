package registration

import (
	"sync"

	"github.com/c360/regqueue/pkg/buffer"
)

// Entry is one buffered event together with the message to deliver for it.
// The event is kept so routing can be recomputed when the queue is drained.
type Entry[E, M any] struct {
	Event   E
	Message M
}

// RWLocker is the reader/writer lock paired with a registration queue.
// *sync.RWMutex satisfies it.
type RWLocker interface {
	RLock()
	RUnlock()
	Lock()
	Unlock()
}

// Queue buffers the entries captured for one client during its registration
// window. It carries no synchronization of its own beyond lock-free appends;
// the paired RWLocker orders appends against the drain.
type Queue[E, M any] struct {
	entries *buffer.LinkedQueue[Entry[E, M]]
	lock    RWLocker
}

// QueueOption configures a queue created by Manager.Create.
type QueueOption func(*queueOptions)

type queueOptions struct {
	lock RWLocker
}

// WithLocker replaces the queue's *sync.RWMutex. Tests use it to force
// specific interleavings of Add and Drain.
func WithLocker(lock RWLocker) QueueOption {
	return func(o *queueOptions) {
		if lock != nil {
			o.lock = lock
		}
	}
}

func newQueue[E, M any](opts ...QueueOption) *Queue[E, M] {
	o := &queueOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.lock == nil {
		o.lock = &sync.RWMutex{}
	}

	return &Queue[E, M]{
		entries: buffer.NewLinkedQueue[Entry[E, M]](),
		lock:    o.lock,
	}
}

// IsEmpty reports whether the queue holds no entries. A drained queue is empty.
func (q *Queue[E, M]) IsEmpty() bool {
	return q.entries.IsEmpty()
}

// Len returns the number of buffered entries.
func (q *Queue[E, M]) Len() int {
	return q.entries.Size()
}

// Stats returns a snapshot of the queue's activity.
func (q *Queue[E, M]) Stats() buffer.StatsSummary {
	return q.entries.Stats().Summary()
}
