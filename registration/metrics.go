package registration

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/regqueue/metric"
)

// Replay outcomes used as the "outcome" label.
const (
	outcomeDelivered = "delivered"
	outcomeDiscarded = "discarded"
	outcomeFailed    = "failed"
	outcomeSkipped   = "skipped"
)

type managerMetrics struct {
	pending       prometheus.Gauge
	buffered      prometheus.Counter
	replayed      *prometheus.CounterVec
	abandoned     prometheus.Counter
	drainDuration prometheus.Histogram
}

func newManagerMetrics(registry *metric.MetricsRegistry, prefix string) (*managerMetrics, error) {
	labels := prometheus.Labels{"component": prefix}

	m := &managerMetrics{
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "regqueue",
			Subsystem:   "registration",
			Name:        "pending",
			ConstLabels: labels,
			Help:        "Number of clients with a pending registration queue",
		}),
		buffered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "regqueue",
			Subsystem:   "registration",
			Name:        "buffered_total",
			ConstLabels: labels,
			Help:        "Total entries appended to registration queues",
		}),
		replayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "regqueue",
			Subsystem:   "registration",
			Name:        "replayed_total",
			ConstLabels: labels,
			Help:        "Total entries replayed on drain, by outcome",
		}, []string{"outcome"}),
		abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "regqueue",
			Subsystem:   "registration",
			Name:        "abandoned_total",
			ConstLabels: labels,
			Help:        "Total entries dropped because their registration was abandoned",
		}),
		drainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "regqueue",
			Subsystem:   "registration",
			Name:        "drain_duration_seconds",
			ConstLabels: labels,
			Help:        "Time spent replaying a registration queue",
			Buckets:     []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}

	if err := registry.RegisterGauge(prefix, "registration_pending", m.pending); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "registration_buffered", m.buffered); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(prefix, "registration_replayed", m.replayed); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "registration_abandoned", m.abandoned); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram(prefix, "registration_drain_duration", m.drainDuration); err != nil {
		return nil, err
	}

	return m, nil
}

// All record methods are nil-safe so the manager can call them unconditionally.

func (m *managerMetrics) recordCreate() {
	if m != nil {
		m.pending.Inc()
	}
}

func (m *managerMetrics) recordDetach() {
	if m != nil {
		m.pending.Dec()
	}
}

func (m *managerMetrics) recordBuffered() {
	if m != nil {
		m.buffered.Inc()
	}
}

func (m *managerMetrics) recordAbandoned(entries int) {
	if m != nil {
		m.abandoned.Add(float64(entries))
	}
}

func (m *managerMetrics) recordDrain(r DrainResult) {
	if m == nil {
		return
	}
	m.replayed.WithLabelValues(outcomeDelivered).Add(float64(r.Delivered))
	m.replayed.WithLabelValues(outcomeDiscarded).Add(float64(r.Discarded))
	m.replayed.WithLabelValues(outcomeFailed).Add(float64(r.Failed))
	m.replayed.WithLabelValues(outcomeSkipped).Add(float64(r.Skipped))
	m.drainDuration.Observe(r.Duration.Seconds())
}
