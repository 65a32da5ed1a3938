package registration

import (
	"bytes"
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/regqueue/errors"
	"github.com/c360/regqueue/metric"
	"github.com/c360/regqueue/testutil"
)

// cacheEvent stands in for a cache mutation; message is the pre-built update.
type cacheEvent struct {
	key int
}

type message struct {
	key int
}

// testNotifier records deliveries and lets each test decide interest.
type testNotifier struct {
	mu         sync.Mutex
	interested func(event cacheEvent) Set[string]
	routeErr   func(event cacheEvent) error
	deliverErr func(msg message) error
	delivered  map[string][]message
}

func newTestNotifier(interested func(event cacheEvent) Set[string]) *testNotifier {
	return &testNotifier{
		interested: interested,
		delivered:  make(map[string][]message),
	}
}

func (n *testNotifier) InterestedClients(_ context.Context, event cacheEvent, _ message) (Set[string], error) {
	if n.routeErr != nil {
		if err := n.routeErr(event); err != nil {
			return nil, err
		}
	}
	return n.interested(event), nil
}

func (n *testNotifier) Deliver(_ context.Context, clientID string, msg message) error {
	if n.deliverErr != nil {
		if err := n.deliverErr(msg); err != nil {
			return err
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delivered[clientID] = append(n.delivered[clientID], msg)
	return nil
}

func (n *testNotifier) deliveries(clientID string) []message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]message(nil), n.delivered[clientID]...)
}

func always(ids ...string) func(cacheEvent) Set[string] {
	return func(cacheEvent) Set[string] { return NewSet(ids...) }
}

func newTestManager(t *testing.T, opts ...Option) *Manager[string, cacheEvent, message] {
	t.Helper()
	m, err := NewManager[string, cacheEvent, message](opts...)
	require.NoError(t, err)
	return m
}

func TestManager_ClientRemovedFromInterestedSetWhenEventQueued(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Create("client-1")
	require.NoError(t, err)

	// The filter info already names the client, but its registration is not
	// complete, so the event must go to the registration queue instead.
	interested := NewSet("client-1", "client-2")
	m.Add(cacheEvent{key: 1}, message{key: 1}, interested)

	assert.Equal(t, NewSet("client-2"), interested)
}

func TestManager_AddWithoutPendingRegistration(t *testing.T) {
	m := newTestManager(t)

	interested := NewSet("client-1")
	m.Add(cacheEvent{key: 1}, message{key: 1}, interested)

	assert.True(t, interested.Contains("client-1"))
}

func TestManager_AddToleratesNilInterestedSet(t *testing.T) {
	m := newTestManager(t)
	q, err := m.Create("client-1")
	require.NoError(t, err)

	m.Add(cacheEvent{key: 1}, message{key: 1}, nil)

	assert.Equal(t, 1, q.Len())
}

func TestManager_DrainDeliversToClientThatBecameInterested(t *testing.T) {
	m := newTestManager(t)

	addHolding := make(chan struct{})
	drainStarted := make(chan struct{})
	lock := &testutil.HookLocker{
		AfterRLock: func() {
			close(addHolding)
			<-drainStarted
		},
		BeforeLock: func() {
			<-addHolding
			close(drainStarted)
		},
	}

	_, err := m.Create("client-1", WithLocker(lock))
	require.NoError(t, err)

	// Routing at drain time includes the client, although the normal put path
	// computed an empty interested set.
	notifier := newTestNotifier(always("client-1"))
	normal := NewSet[string]()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.Add(cacheEvent{key: 7}, message{key: 7}, normal)
	}()

	var result DrainResult
	var drainErr error
	go func() {
		defer wg.Done()
		result, drainErr = m.Drain(context.Background(), "client-1", notifier)
	}()
	wg.Wait()

	require.NoError(t, drainErr)
	assert.Equal(t, []message{{key: 7}}, notifier.deliveries("client-1"))
	assert.Equal(t, DrainResult{Entries: 1, Delivered: 1, Duration: result.Duration}, result)
	assert.Empty(t, normal)
}

func TestManager_AddAfterDrainWinsLeavesClientForNormalDelivery(t *testing.T) {
	m := newTestManager(t)

	addWaiting := make(chan struct{})
	drained := make(chan struct{})
	lock := &testutil.HookLocker{
		BeforeRLock: func() {
			close(addWaiting)
			<-drained
		},
		AfterUnlock: func() { close(drained) },
	}

	q, err := m.Create("client-1", WithLocker(lock))
	require.NoError(t, err)

	notifier := newTestNotifier(always("client-1"))
	interested := NewSet("client-1")

	addDone := make(chan struct{})
	go func() {
		defer close(addDone)
		m.Add(cacheEvent{key: 3}, message{key: 3}, interested)
	}()

	<-addWaiting
	result, err := m.Drain(context.Background(), "client-1", notifier)
	require.NoError(t, err)
	<-addDone

	assert.Equal(t, 0, result.Entries)
	assert.True(t, q.IsEmpty())
	assert.True(t, interested.Contains("client-1"), "client must stay in the set for normal delivery")
	assert.Empty(t, notifier.deliveries("client-1"))
}

func TestManager_DrainDiscardsWhenClientNoLongerInterested(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Create("client-1")
	require.NoError(t, err)

	m.Add(cacheEvent{key: 1}, message{key: 1}, NewSet("client-1"))
	m.Add(cacheEvent{key: 2}, message{key: 2}, NewSet("client-1"))

	// Client unsubscribed from even keys during its registration window.
	notifier := newTestNotifier(func(e cacheEvent) Set[string] {
		if e.key%2 == 0 {
			return NewSet[string]()
		}
		return NewSet("client-1")
	})

	result, err := m.Drain(context.Background(), "client-1", notifier)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Entries)
	assert.Equal(t, 1, result.Delivered)
	assert.Equal(t, 1, result.Discarded)
	assert.Equal(t, []message{{key: 1}}, notifier.deliveries("client-1"))
}

func TestManager_DrainReplaysInInsertionOrder(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Create("client-1")
	require.NoError(t, err)

	var want []message
	for i := 0; i < 50; i++ {
		m.Add(cacheEvent{key: i}, message{key: i}, NewSet[string]())
		want = append(want, message{key: i})
	}

	notifier := newTestNotifier(always("client-1"))
	_, err = m.Drain(context.Background(), "client-1", notifier)
	require.NoError(t, err)

	if diff := cmp.Diff(want, notifier.deliveries("client-1"), cmp.AllowUnexported(message{})); diff != "" {
		t.Errorf("replay order mismatch (-want +got):\n%s", diff)
	}
}

func TestManager_DrainOnlyAffectsItsClient(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Create("client-1")
	require.NoError(t, err)
	q2, err := m.Create("client-2")
	require.NoError(t, err)

	interested := NewSet("client-1", "client-2", "client-3")
	m.Add(cacheEvent{key: 1}, message{key: 1}, interested)
	assert.Equal(t, NewSet("client-3"), interested)

	notifier := newTestNotifier(always("client-1", "client-2"))
	_, err = m.Drain(context.Background(), "client-1", notifier)
	require.NoError(t, err)

	assert.True(t, m.IsRegistering("client-2"))
	assert.Equal(t, 1, q2.Len())
	assert.Equal(t, 1, m.Pending())
	assert.Empty(t, notifier.deliveries("client-2"))
}

func TestManager_FullConsumptionAfterDrain(t *testing.T) {
	m := newTestManager(t)
	q, err := m.Create("client-1")
	require.NoError(t, err)
	require.True(t, m.IsRegistering("client-1"))

	for i := 0; i < 10; i++ {
		m.Add(cacheEvent{key: i}, message{key: i}, NewSet("client-1"))
	}
	require.Equal(t, 10, q.Len())

	_, err = m.Drain(context.Background(), "client-1", newTestNotifier(always("client-1")))
	require.NoError(t, err)

	assert.True(t, q.IsEmpty())
	assert.False(t, m.IsRegistering("client-1"))
	assert.Equal(t, 0, m.Pending())

	stats := q.Stats()
	assert.Equal(t, int64(10), stats.Writes)
	assert.Equal(t, int64(10), stats.Reads)

	// Registration is complete: the next event goes through normal delivery.
	interested := NewSet("client-1")
	m.Add(cacheEvent{key: 99}, message{key: 99}, interested)
	assert.True(t, interested.Contains("client-1"))
	assert.True(t, q.IsEmpty())
}

func TestManager_CreateTwice(t *testing.T) {
	m := newTestManager(t)
	q, err := m.Create("client-1")
	require.NoError(t, err)
	m.Add(cacheEvent{key: 1}, message{key: 1}, nil)

	again, err := m.Create("client-1")
	require.Error(t, err)
	assert.Nil(t, again)
	assert.ErrorIs(t, err, errors.ErrAlreadyRegistering)
	assert.True(t, errors.IsInvalid(err))

	// Original queue untouched.
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 1, m.Pending())
}

func TestManager_DrainWithoutRegistration(t *testing.T) {
	m := newTestManager(t)
	notifier := newTestNotifier(always("client-1"))

	_, err := m.Drain(context.Background(), "client-1", notifier)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotRegistering)
	assert.True(t, errors.IsInvalid(err))

	_, err = m.Create("client-1")
	require.NoError(t, err)
	_, err = m.Drain(context.Background(), "client-1", notifier)
	require.NoError(t, err)

	// Second drain for the same registration is a contract violation.
	_, err = m.Drain(context.Background(), "client-1", notifier)
	assert.ErrorIs(t, err, errors.ErrNotRegistering)
}

func TestManager_DrainNilNotifierKeepsQueue(t *testing.T) {
	m := newTestManager(t)
	q, err := m.Create("client-1")
	require.NoError(t, err)
	m.Add(cacheEvent{key: 1}, message{key: 1}, nil)

	_, err = m.Drain(context.Background(), "client-1", nil)
	assert.ErrorIs(t, err, errors.ErrNilNotifier)
	assert.True(t, m.IsRegistering("client-1"))
	assert.Equal(t, 1, q.Len())
}

func TestManager_ReplayFailures(t *testing.T) {
	errRoute := stderrors.New("filter profile unavailable")
	errSend := stderrors.New("proxy closed")

	newFailingNotifier := func() *testNotifier {
		n := newTestNotifier(always("client-1"))
		n.routeErr = func(e cacheEvent) error {
			if e.key == 1 {
				return errRoute
			}
			return nil
		}
		n.deliverErr = func(msg message) error {
			if msg.key == 3 {
				return errSend
			}
			return nil
		}
		return n
	}

	fill := func(m *Manager[string, cacheEvent, message]) {
		for i := 0; i < 5; i++ {
			m.Add(cacheEvent{key: i}, message{key: i}, nil)
		}
	}

	t.Run("continue", func(t *testing.T) {
		m := newTestManager(t, WithConfig(Config{ReplayPolicy: ReplayContinue}))
		q, err := m.Create("client-1")
		require.NoError(t, err)
		fill(m)

		notifier := newFailingNotifier()
		result, err := m.Drain(context.Background(), "client-1", notifier)
		require.Error(t, err)

		assert.Equal(t, 5, result.Entries)
		assert.Equal(t, 3, result.Delivered)
		assert.Equal(t, 2, result.Failed)
		assert.Equal(t, 0, result.Skipped)
		assert.ErrorIs(t, err, errRoute)
		assert.ErrorIs(t, err, errSend)

		var replayErr *ReplayError
		require.ErrorAs(t, err, &replayErr)
		assert.Equal(t, 1, replayErr.Index)
		assert.Equal(t, StageRoute, replayErr.Stage)

		assert.Equal(t, []message{{key: 0}, {key: 2}, {key: 4}}, notifier.deliveries("client-1"))
		assert.True(t, q.IsEmpty())
		assert.False(t, m.IsRegistering("client-1"))
	})

	t.Run("abort", func(t *testing.T) {
		m := newTestManager(t, WithConfig(Config{ReplayPolicy: ReplayAbort}))
		q, err := m.Create("client-1")
		require.NoError(t, err)
		fill(m)

		notifier := newFailingNotifier()
		result, err := m.Drain(context.Background(), "client-1", notifier)
		require.Error(t, err)

		assert.Equal(t, 5, result.Entries)
		assert.Equal(t, 1, result.Delivered)
		assert.Equal(t, 1, result.Failed)
		assert.Equal(t, 3, result.Skipped)
		assert.ErrorIs(t, err, errRoute)
		assert.NotErrorIs(t, err, errSend)

		assert.Equal(t, []message{{key: 0}}, notifier.deliveries("client-1"))
		assert.True(t, q.IsEmpty())
	})
}

func TestManager_Abandon(t *testing.T) {
	m := newTestManager(t)
	q, err := m.Create("client-1")
	require.NoError(t, err)

	m.Add(cacheEvent{key: 1}, message{key: 1}, nil)
	m.Add(cacheEvent{key: 2}, message{key: 2}, nil)

	dropped, err := m.Abandon("client-1")
	require.NoError(t, err)
	assert.Equal(t, 2, dropped)
	assert.True(t, q.IsEmpty())
	assert.False(t, m.IsRegistering("client-1"))

	_, err = m.Abandon("client-1")
	assert.ErrorIs(t, err, errors.ErrNotRegistering)

	// A fresh registration episode may start afterwards.
	_, err = m.Create("client-1")
	assert.NoError(t, err)
}

func TestManager_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	m := newTestManager(t, WithMetrics(registry, "test"))

	_, err := m.Create("client-1")
	require.NoError(t, err)
	_, err = m.Create("client-2")
	require.NoError(t, err)
	assert.Equal(t, 2.0, promtestutil.ToFloat64(m.metrics.pending))

	m.Add(cacheEvent{key: 1}, message{key: 1}, nil)
	m.Add(cacheEvent{key: 2}, message{key: 2}, nil)
	assert.Equal(t, 4.0, promtestutil.ToFloat64(m.metrics.buffered))

	notifier := newTestNotifier(func(e cacheEvent) Set[string] {
		if e.key == 1 {
			return NewSet("client-1")
		}
		return NewSet[string]()
	})
	_, err = m.Drain(context.Background(), "client-1", notifier)
	require.NoError(t, err)

	_, err = m.Abandon("client-2")
	require.NoError(t, err)

	assert.Equal(t, 0.0, promtestutil.ToFloat64(m.metrics.pending))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.metrics.replayed.WithLabelValues(outcomeDelivered)))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.metrics.replayed.WithLabelValues(outcomeDiscarded)))
	assert.Equal(t, 2.0, promtestutil.ToFloat64(m.metrics.abandoned))
	assert.Equal(t, 1, promtestutil.CollectAndCount(m.metrics.drainDuration))

	// Same prefix cannot be registered twice.
	_, err = NewManager[string, cacheEvent, message](WithMetrics(registry, "test"))
	assert.Error(t, err)
}

func TestNewManager_InvalidConfig(t *testing.T) {
	_, err := NewManager[string, cacheEvent, message](WithConfig(Config{ReplayPolicy: "retry-forever"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.NoError(t, Config{}.Validate())
	assert.NoError(t, Config{ReplayPolicy: ReplayAbort}.Validate())
	assert.Error(t, Config{ReplayPolicy: "sometimes"}.Validate())
}

func TestNotifierAdapters(t *testing.T) {
	var got []string
	n := NewNotifier[string, cacheEvent, message](
		RouterFunc[string, cacheEvent, message](func(_ context.Context, e cacheEvent, _ message) (Set[string], error) {
			return NewSet("a"), nil
		}),
		SinkFunc[string, message](func(_ context.Context, id string, _ message) error {
			got = append(got, id)
			return nil
		}),
	)

	ids, err := n.InterestedClients(context.Background(), cacheEvent{}, message{})
	require.NoError(t, err)
	assert.True(t, ids.Contains("a"))
	require.NoError(t, n.Deliver(context.Background(), "a", message{}))
	assert.Equal(t, []string{"a"}, got)
}

func TestSet(t *testing.T) {
	s := NewSet(1, 2)
	s.Add(3)
	s.Remove(1)
	assert.False(t, s.Contains(1))
	assert.True(t, s.Contains(3))
	assert.Equal(t, 2, s.Len())

	var empty Set[int]
	empty.Remove(1)
	assert.False(t, empty.Contains(1))
	assert.Equal(t, 0, empty.Len())
}

// Drain never waits on more than the in-flight appends.
func TestManager_DrainDoesNotWaitForUnrelatedClients(t *testing.T) {
	m := newTestManager(t)

	blocked := make(chan struct{})
	release := make(chan struct{})
	slow := &testutil.HookLocker{AfterRLock: func() {
		close(blocked)
		<-release
	}}
	_, err := m.Create("slow", WithLocker(slow))
	require.NoError(t, err)
	_, err = m.Create("fast")
	require.NoError(t, err)

	go m.Add(cacheEvent{key: 1}, message{key: 1}, nil)
	<-blocked

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Drain(context.Background(), "fast", newTestNotifier(always("fast")))
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("drain of an unrelated client blocked behind another client's add")
	}
	close(release)
}

func TestManager_ReplayFailureLogsErrorClass(t *testing.T) {
	var buf bytes.Buffer
	m := newTestManager(t, WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))
	_, err := m.Create("client-1")
	require.NoError(t, err)
	m.Add(cacheEvent{key: 1}, message{key: 1}, NewSet[string]())

	n := newTestNotifier(always("client-1"))
	n.deliverErr = func(message) error {
		return errors.WrapInvalid(errors.ErrClientNotConnected, "proxy", "Deliver", "send")
	}

	result, err := m.Drain(context.Background(), "client-1", n)
	require.Error(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Contains(t, buf.String(), `"stage":"deliver"`)
	assert.Contains(t, buf.String(), `"error_class":"invalid"`)
}
