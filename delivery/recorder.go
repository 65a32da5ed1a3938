package delivery

import (
	"context"
	"sync"
)

// Recorder is an in-memory Sink that keeps every delivered message per client.
type Recorder[K comparable, M any] struct {
	mu        sync.Mutex
	delivered map[K][]M
	total     int
}

// NewRecorder creates an empty Recorder.
func NewRecorder[K comparable, M any]() *Recorder[K, M] {
	return &Recorder[K, M]{delivered: make(map[K][]M)}
}

// Deliver records msg for clientID. It never fails.
func (r *Recorder[K, M]) Deliver(_ context.Context, clientID K, msg M) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered[clientID] = append(r.delivered[clientID], msg)
	r.total++
	return nil
}

// Messages returns a copy of the messages delivered to clientID, in order.
func (r *Recorder[K, M]) Messages(clientID K) []M {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]M(nil), r.delivered[clientID]...)
}

// Count returns how many messages were delivered to clientID.
func (r *Recorder[K, M]) Count(clientID K) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.delivered[clientID])
}

// Total returns the number of messages delivered across all clients.
func (r *Recorder[K, M]) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Clients returns the identities that received at least one message.
func (r *Recorder[K, M]) Clients() []K {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]K, 0, len(r.delivered))
	for id := range r.delivered {
		ids = append(ids, id)
	}
	return ids
}
