package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/c360/regqueue/config"
	"github.com/c360/regqueue/delivery"
	"github.com/c360/regqueue/registration"
)

const maxReportedViolations = 20

var regions = []string{
	"region-0", "region-1", "region-2", "region-3",
	"region-4", "region-5", "region-6", "region-7",
}

// cacheEvent is a put on a partitioned region.
type cacheEvent struct {
	Seq    int
	Region string
	Key    string
}

// update is what a client receives for a cacheEvent.
type update struct {
	Seq    int    `json:"seq"`
	Region string `json:"region"`
	Key    string `json:"key"`
	Value  int64  `json:"value"`
}

func newEvent(seq int) (cacheEvent, update) {
	region := regions[seq%len(regions)]
	key := fmt.Sprintf("key-%d", seq)
	return cacheEvent{Seq: seq, Region: region, Key: key},
		update{Seq: seq, Region: region, Key: key, Value: int64(seq)}
}

// subscriptions is the interest registry consulted on both the normal put
// path and at drain time.
type subscriptions struct {
	mu      sync.RWMutex
	regions map[uuid.UUID]map[string]struct{}
}

func newSubscriptions() *subscriptions {
	return &subscriptions{regions: make(map[uuid.UUID]map[string]struct{})}
}

func (s *subscriptions) subscribe(id uuid.UUID, names []string) {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	s.mu.Lock()
	s.regions[id] = set
	s.mu.Unlock()
}

// InterestedClients returns every client subscribed to the event's region.
func (s *subscriptions) InterestedClients(_ context.Context, e cacheEvent, _ update) (registration.Set[uuid.UUID], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := registration.NewSet[uuid.UUID]()
	for id, rs := range s.regions {
		if _, ok := rs[e.Region]; ok {
			ids.Add(id)
		}
	}
	return ids, nil
}

type simClient struct {
	id        uuid.UUID
	regions   []string
	installAt int64 // events produced before interest is installed
	drainAt   int64 // events produced before registration completes
}

// Report summarizes one simulation run.
type Report struct {
	Clients    int           `json:"clients"`
	Events     int           `json:"events"`
	Delivered  int           `json:"delivered"`
	Normal     int64         `json:"normal"`
	Replayed   int           `json:"replayed"`
	Discarded  int           `json:"discarded"`
	Failed     int           `json:"failed"`
	Abandoned  int           `json:"abandoned"`
	Violations []string      `json:"violations,omitempty"`
	Duration   time.Duration `json:"duration"`
}

type simulator struct {
	cfg      config.SimulationConfig
	manager  *registration.Manager[uuid.UUID, cacheEvent, update]
	subs     *subscriptions
	sink     registration.Sink[uuid.UUID, update]
	recorder *delivery.Recorder[uuid.UUID, update]
	logger   *slog.Logger

	// routeMu orders interest installation against in-flight puts: a put
	// routes and offers its event to the pending queues without an
	// interest change in between.
	routeMu  sync.RWMutex
	produced atomic.Int64
	normal   atomic.Int64

	resultsMu sync.Mutex
	report    Report
}

// newSimulator wires a simulation. Every delivery must reach recorder, either
// directly or because sink forwards to it.
func newSimulator(
	cfg config.SimulationConfig,
	manager *registration.Manager[uuid.UUID, cacheEvent, update],
	sink registration.Sink[uuid.UUID, update],
	recorder *delivery.Recorder[uuid.UUID, update],
	logger *slog.Logger,
) *simulator {
	return &simulator{
		cfg:      cfg,
		manager:  manager,
		subs:     newSubscriptions(),
		sink:     sink,
		recorder: recorder,
		logger:   logger.With("component", "simulation"),
	}
}

func (s *simulator) newClients() []simClient {
	clients := make([]simClient, s.cfg.Clients)
	events := int64(s.cfg.Events)
	for j := range clients {
		var rs []string
		for k, r := range regions {
			if (j+k)%3 != 0 {
				rs = append(rs, r)
			}
		}
		installAt := events * int64(j+1) / int64(2*(s.cfg.Clients+1))
		clients[j] = simClient{
			id:        uuid.New(),
			regions:   rs,
			installAt: installAt,
			drainAt:   installAt + events/4,
		}
	}
	return clients
}

func (s *simulator) limiter() *rate.Limiter {
	if s.cfg.Rate <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(s.cfg.Rate), max(s.cfg.Burst, 1))
}

func (s *simulator) run(ctx context.Context) (*Report, error) {
	start := time.Now()
	clients := s.newClients()

	// Every registration window opens before the first event.
	for _, c := range clients {
		if _, err := s.manager.Create(c.id); err != nil {
			return nil, err
		}
	}

	done := make(chan struct{})
	regCtx, cancelRegs := context.WithCancel(ctx)
	defer cancelRegs()
	regs, regCtx := errgroup.WithContext(regCtx)
	for _, c := range clients {
		c := c
		regs.Go(func() error { return s.register(regCtx, c, done) })
	}

	producers, prodCtx := errgroup.WithContext(ctx)
	producers.SetLimit(s.cfg.Workers)
	limiter := s.limiter()
	var prodErr error
	for seq := 0; seq < s.cfg.Events; seq++ {
		if err := limiter.Wait(prodCtx); err != nil {
			prodErr = err
			break
		}
		seq := seq
		producers.Go(func() error { return s.put(prodCtx, seq) })
	}
	if err := producers.Wait(); err != nil {
		prodErr = err
	}
	if prodErr != nil {
		// An incomplete stream cannot be verified; abandon the open registrations.
		cancelRegs()
	}
	close(done)

	regErr := regs.Wait()
	if prodErr != nil {
		return nil, prodErr
	}
	if regErr != nil {
		return nil, regErr
	}

	s.report.Clients = len(clients)
	s.report.Events = s.cfg.Events
	s.report.Delivered = s.recorder.Total()
	s.report.Normal = s.normal.Load()
	s.report.Violations = s.verify(clients)
	s.report.Duration = time.Since(start)
	return &s.report, nil
}

// put is the normal delivery path of a cache put.
func (s *simulator) put(ctx context.Context, seq int) error {
	event, msg := newEvent(seq)

	s.routeMu.RLock()
	interested, err := s.subs.InterestedClients(ctx, event, msg)
	if err == nil {
		s.manager.Add(event, msg, interested)
	}
	s.routeMu.RUnlock()
	s.produced.Add(1)
	if err != nil {
		return err
	}

	for id := range interested {
		if err := s.sink.Deliver(ctx, id, msg); err != nil {
			return err
		}
		s.normal.Add(1)
	}
	return nil
}

// register installs the client's interest partway through the event stream,
// then completes its registration by draining the queue.
func (s *simulator) register(ctx context.Context, c simClient, done <-chan struct{}) error {
	if err := s.waitForProduced(ctx, c.installAt, done); err != nil {
		return s.abandon(c, err)
	}

	s.routeMu.Lock()
	s.subs.subscribe(c.id, c.regions)
	s.routeMu.Unlock()

	if err := s.waitForProduced(ctx, c.drainAt, done); err != nil {
		return s.abandon(c, err)
	}

	notifier := registration.NewNotifier[uuid.UUID, cacheEvent, update](s.subs, s.sink)
	result, err := s.manager.Drain(ctx, c.id, notifier)

	s.resultsMu.Lock()
	s.report.Replayed += result.Delivered
	s.report.Discarded += result.Discarded
	s.report.Failed += result.Failed + result.Skipped
	s.resultsMu.Unlock()

	s.logger.Debug("Registration complete",
		"client_id", c.id, "regions", len(c.regions), "replayed", result.Delivered)
	return err
}

func (s *simulator) abandon(c simClient, cause error) error {
	dropped, err := s.manager.Abandon(c.id)
	if err == nil {
		s.resultsMu.Lock()
		s.report.Abandoned += dropped
		s.resultsMu.Unlock()
	}
	return cause
}

func (s *simulator) waitForProduced(ctx context.Context, n int64, done <-chan struct{}) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for s.produced.Load() < n {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return nil
		case <-ticker.C:
		}
	}
	return ctx.Err()
}

// verify checks that each client received every event of its regions exactly
// once and nothing else.
func (s *simulator) verify(clients []simClient) []string {
	var violations []string
	report := func(format string, args ...any) {
		if len(violations) < maxReportedViolations {
			violations = append(violations, fmt.Sprintf(format, args...))
		}
	}

	for _, c := range clients {
		wanted := make(map[string]bool, len(c.regions))
		for _, r := range c.regions {
			wanted[r] = true
		}

		expected := 0
		for seq := 0; seq < s.cfg.Events; seq++ {
			if wanted[regions[seq%len(regions)]] {
				expected++
			}
		}

		seen := make(map[int]bool)
		for _, msg := range s.recorder.Messages(c.id) {
			switch {
			case seen[msg.Seq]:
				report("client %s: event %d delivered more than once", c.id, msg.Seq)
			case !wanted[msg.Region]:
				report("client %s: event %d from unsubscribed %s", c.id, msg.Seq, msg.Region)
			}
			seen[msg.Seq] = true
		}

		if got := len(seen); got != expected {
			report("client %s: received %d distinct events, want %d", c.id, got, expected)
		}
	}

	if s.manager.Pending() != 0 {
		report("%d registrations still pending", s.manager.Pending())
	}
	return violations
}
