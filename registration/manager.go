package registration

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/c360/regqueue/errors"
	"github.com/c360/regqueue/metric"
)

// Option configures a Manager.
type Option func(*managerOptions)

type managerOptions struct {
	config        Config
	logger        *slog.Logger
	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
}

// WithConfig sets the manager configuration. Defaults to DefaultConfig().
func WithConfig(cfg Config) Option {
	return func(o *managerOptions) {
		o.config = cfg
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *managerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics exports manager activity to registry, labelled with prefix.
// Ignored if registry is nil or prefix is empty.
func WithMetrics(registry *metric.MetricsRegistry, prefix string) Option {
	return func(o *managerOptions) {
		if registry != nil && prefix != "" {
			o.metricsReg = registry
			o.metricsPrefix = prefix
		}
	}
}

// Manager owns the registration queues of every client that is currently
// registering. K identifies a client, E is the source event, and M is the
// outbound message delivered for it.
type Manager[K comparable, E, M any] struct {
	queues  sync.Map // K -> *Queue[E, M]
	pending atomic.Int64

	config  Config
	logger  *slog.Logger
	metrics *managerMetrics
}

// NewManager creates a manager with no pending registrations.
// Returns an error if the configuration is invalid or metrics registration fails.
func NewManager[K comparable, E, M any](opts ...Option) (*Manager[K, E, M], error) {
	o := &managerOptions{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	if err := o.config.Validate(); err != nil {
		return nil, errors.Wrap(err, "Manager", "NewManager", "config validation")
	}
	if o.config.ReplayPolicy == "" {
		o.config.ReplayPolicy = ReplayContinue
	}

	m := &Manager[K, E, M]{
		config: o.config,
		logger: o.logger.With("component", "registration"),
	}

	if o.metricsReg != nil {
		metrics, err := newManagerMetrics(o.metricsReg, o.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "Manager", "NewManager", "metrics registration")
		}
		m.metrics = metrics
	}

	return m, nil
}

// Create starts buffering for clientID and returns its queue. From the moment
// Create returns, Add captures events for this client instead of leaving it in
// the caller's interested set.
//
// Creating a queue for a client that is already registering returns an error
// wrapping errors.ErrAlreadyRegistering; the existing queue is left untouched.
func (m *Manager[K, E, M]) Create(clientID K, opts ...QueueOption) (*Queue[E, M], error) {
	q := newQueue[E, M](opts...)

	// Count first so a concurrent Add never takes the fast path past a stored queue.
	m.pending.Add(1)
	if _, loaded := m.queues.LoadOrStore(clientID, q); loaded {
		m.pending.Add(-1)
		return nil, errors.WrapInvalid(errors.ErrAlreadyRegistering, "Manager", "Create",
			fmt.Sprintf("queue insert for client %v", clientID))
	}

	m.metrics.recordCreate()
	m.logger.Debug("Registration queue created", "client_id", clientID)
	return q, nil
}

// Add offers an event to every pending registration queue. For each client whose
// queue accepts the entry, the client is removed from interested so the
// caller's immediate delivery path does not deliver it as well.
//
// Events are buffered for every registering client, not only the ones already
// in interested: interest is recomputed when the queue is drained, so a client
// whose filters are installed later in its registration window still receives
// the event. A client whose queue is drained while Add waits for its lock stays
// in interested.
//
// interested is owned by the caller for the duration of the call. Add is safe
// for concurrent use.
func (m *Manager[K, E, M]) Add(event E, msg M, interested Set[K]) {
	if m.pending.Load() == 0 {
		return
	}

	entry := Entry[E, M]{Event: event, Message: msg}

	m.queues.Range(func(key, value any) bool {
		clientID := key.(K)
		q := value.(*Queue[E, M])

		if m.appendIfPending(clientID, q, entry) {
			interested.Remove(clientID)
			m.metrics.recordBuffered()
		}
		return true
	})
}

// appendIfPending appends entry under the shared lock, provided q is still the
// queue registered for clientID.
func (m *Manager[K, E, M]) appendIfPending(clientID K, q *Queue[E, M], entry Entry[E, M]) bool {
	q.lock.RLock()
	defer q.lock.RUnlock()

	current, ok := m.queues.Load(clientID)
	if !ok || current != q {
		return false
	}

	q.entries.Write(entry)
	return true
}

// Abandon discards clientID's queue without replaying it, for registrations
// that fail before completing. Returns the number of entries dropped.
func (m *Manager[K, E, M]) Abandon(clientID K) (int, error) {
	q, err := m.detach(clientID, "Abandon")
	if err != nil {
		return 0, err
	}

	dropped := len(q.entries.Drain())
	m.metrics.recordAbandoned(dropped)
	m.logger.Info("Registration abandoned", "client_id", clientID, "dropped", dropped)
	return dropped, nil
}

// IsRegistering reports whether clientID currently has a pending queue.
func (m *Manager[K, E, M]) IsRegistering(clientID K) bool {
	_, ok := m.queues.Load(clientID)
	return ok
}

// Pending returns the number of clients with a pending queue.
func (m *Manager[K, E, M]) Pending() int {
	return int(m.pending.Load())
}

// detach removes clientID's queue from the map while holding the queue's
// exclusive lock. Appends that finished before the lock was granted are in the
// returned queue; appends that start afterwards see no queue.
func (m *Manager[K, E, M]) detach(clientID K, method string) (*Queue[E, M], error) {
	value, ok := m.queues.Load(clientID)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrNotRegistering, "Manager", method,
			fmt.Sprintf("queue lookup for client %v", clientID))
	}
	q := value.(*Queue[E, M])

	q.lock.Lock()
	removed := m.queues.CompareAndDelete(clientID, q)
	q.lock.Unlock()

	if !removed {
		// Another Drain or Abandon detached it first.
		return nil, errors.WrapInvalid(errors.ErrNotRegistering, "Manager", method,
			fmt.Sprintf("queue removal for client %v", clientID))
	}

	m.pending.Add(-1)
	m.metrics.recordDetach()
	return q, nil
}
