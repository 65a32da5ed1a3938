package registration

import "context"

// Router recomputes which clients are interested in an event.
// Implementations must be safe for concurrent use.
type Router[K comparable, E, M any] interface {
	InterestedClients(ctx context.Context, event E, msg M) (Set[K], error)
}

// Sink hands a message to a client's live connection.
// Failures must be returned, not swallowed.
type Sink[K comparable, M any] interface {
	Deliver(ctx context.Context, clientID K, msg M) error
}

// Notifier is the capability Drain needs from the surrounding notification
// subsystem: resolve current interest, then deliver.
type Notifier[K comparable, E, M any] interface {
	Router[K, E, M]
	Sink[K, M]
}

// RouterFunc adapts a function to Router.
type RouterFunc[K comparable, E, M any] func(ctx context.Context, event E, msg M) (Set[K], error)

// InterestedClients calls f.
func (f RouterFunc[K, E, M]) InterestedClients(ctx context.Context, event E, msg M) (Set[K], error) {
	return f(ctx, event, msg)
}

// SinkFunc adapts a function to Sink.
type SinkFunc[K comparable, M any] func(ctx context.Context, clientID K, msg M) error

// Deliver calls f.
func (f SinkFunc[K, M]) Deliver(ctx context.Context, clientID K, msg M) error {
	return f(ctx, clientID, msg)
}

type notifier[K comparable, E, M any] struct {
	Router[K, E, M]
	Sink[K, M]
}

// NewNotifier combines a Router and a Sink.
func NewNotifier[K comparable, E, M any](router Router[K, E, M], sink Sink[K, M]) Notifier[K, E, M] {
	return notifier[K, E, M]{Router: router, Sink: sink}
}
