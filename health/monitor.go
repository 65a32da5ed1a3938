package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Monitor holds the latest status reported for each component plus probes
// evaluated on every read. Safe for concurrent use.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	probes   map[string]func() Status
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		probes:   make(map[string]func() Status),
	}
}

// Update records status for name. The component name is forced to name and a
// zero timestamp is set to now.
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.statuses[name] = status
	m.mu.Unlock()
}

// AddProbe registers fn to compute name's status on demand. A probe takes
// precedence over a status recorded with Update under the same name.
func (m *Monitor) AddProbe(name string, fn func() Status) {
	m.mu.Lock()
	m.probes[name] = fn
	m.mu.Unlock()
}

// Remove stops tracking name.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	delete(m.statuses, name)
	delete(m.probes, name)
	m.mu.Unlock()
}

// Get returns name's current status.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	probe, hasProbe := m.probes[name]
	status, ok := m.statuses[name]
	m.mu.RUnlock()

	if hasProbe {
		return m.evaluate(name, probe), true
	}
	return status, ok
}

// GetAll returns a snapshot of every component's status.
func (m *Monitor) GetAll() map[string]Status {
	m.mu.RLock()
	result := make(map[string]Status, len(m.statuses)+len(m.probes))
	for name, status := range m.statuses {
		result[name] = status
	}
	probes := make(map[string]func() Status, len(m.probes))
	for name, fn := range m.probes {
		probes[name] = fn
	}
	m.mu.RUnlock()

	// Probes run without the lock so they may call back into the monitor.
	for name, fn := range probes {
		result[name] = m.evaluate(name, fn)
	}
	return result
}

// AggregateHealth returns the system status with one sub-status per
// component, sorted by name.
func (m *Monitor) AggregateHealth(system string) Status {
	all := m.GetAll()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	subs := make([]Status, 0, len(names))
	for _, name := range names {
		subs = append(subs, all[name])
	}
	return Aggregate(system, subs)
}

func (m *Monitor) evaluate(name string, fn func() Status) Status {
	status := fn()
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	return status
}

// Handler serves the aggregate status of system as JSON, with 503 when it is
// unhealthy.
func Handler(m *Monitor, system string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := m.AggregateHealth(system)

		w.Header().Set("Content-Type", "application/json")
		if status.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
}
