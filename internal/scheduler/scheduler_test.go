package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/medsync-dashboard/internal/domain"
	"github.com/xela07ax/medsync-dashboard/internal/metrics"
	"github.com/xela07ax/medsync-dashboard/internal/persistence"
	"github.com/xela07ax/medsync-dashboard/internal/scheduler"
	"github.com/xela07ax/medsync-dashboard/internal/state"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu    sync.Mutex
	calls []domain.FetchStatus
}

func (r *recordingSink) SetRemote(_ domain.Domain, _ domain.Payload, status domain.FetchStatus, _ time.Time, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, status)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newStateStore() *state.Store {
	gw := persistence.NewStore(persistence.NewMemoryMedium(nil), zap.NewNop(), metrics.New(nil))
	return state.NewStore(gw, zap.NewNop(), metrics.New(nil))
}

func TestFetchesImmediatelyOnStart(t *testing.T) {
	sink := &recordingSink{}
	s := scheduler.New(sink, zap.NewNop(), metrics.New(nil))

	require.NoError(t, s.Start(context.Background(), []scheduler.Policy{{
		Domain:   domain.AgentStatus,
		Interval: time.Hour,
		Fetch: func(context.Context) (domain.Payload, error) {
			return domain.AgentStatusPayload{Status: domain.AgentOnline}, nil
		},
	}}))
	defer s.Stop()

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, time.Millisecond,
		"first fetch does not wait for the first tick")
	assert.ErrorIs(t, s.Start(context.Background(), nil), scheduler.ErrAlreadyStarted)
}

func TestFetchesOnEveryTick(t *testing.T) {
	sink := &recordingSink{}
	s := scheduler.New(sink, zap.NewNop(), metrics.New(nil))

	require.NoError(t, s.Start(context.Background(), []scheduler.Policy{{
		Domain:   domain.AgentStatus,
		Interval: 20 * time.Millisecond,
		Fetch: func(context.Context) (domain.Payload, error) {
			return domain.AgentStatusPayload{Status: domain.AgentOnline}, nil
		},
	}}))
	defer s.Stop()

	require.Eventually(t, func() bool { return sink.count() >= 4 }, time.Second, 5*time.Millisecond)
}

func TestFailedTicksKeepCadence(t *testing.T) {
	sink := &recordingSink{}
	s := scheduler.New(sink, zap.NewNop(), metrics.New(nil))

	var calls atomic.Int32
	require.NoError(t, s.Start(context.Background(), []scheduler.Policy{{
		Domain:   domain.Alerts,
		Interval: 10 * time.Millisecond,
		Fetch: func(context.Context) (domain.Payload, error) {
			calls.Add(1)
			return nil, errors.New("backend down")
		},
	}}))
	defer s.Stop()

	// без backoff ошибки идут с той же частотой, что и тики
	require.Eventually(t, func() bool { return calls.Load() >= 8 }, time.Second, 5*time.Millisecond)
}

func TestInFlightDeduplication(t *testing.T) {
	sink := &recordingSink{}
	m := metrics.New(nil)
	s := scheduler.New(sink, zap.NewNop(), m)

	release := make(chan struct{})
	var calls atomic.Int32
	require.NoError(t, s.Start(context.Background(), []scheduler.Policy{{
		Domain:   domain.Overview,
		Interval: 5 * time.Millisecond,
		Fetch: func(context.Context) (domain.Payload, error) {
			calls.Add(1)
			<-release
			return domain.OverviewPayload{TotalClients: 1}, nil
		},
	}}))
	defer s.Stop()

	require.Eventually(t, func() bool { return s.InFlight(domain.Overview) }, time.Second, time.Millisecond)
	assert.False(t, s.Refresh(domain.Overview), "manual refresh respects the in-flight guard")

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.FetchSkipped.WithLabelValues("overview")) >= 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	close(release)
	require.Eventually(t, func() bool { return sink.count() >= 1 }, time.Second, time.Millisecond)
}

func TestManualRefresh(t *testing.T) {
	sink := &recordingSink{}
	s := scheduler.New(sink, zap.NewNop(), metrics.New(nil))

	assert.False(t, s.Refresh(domain.AgentStatus), "not started")

	require.NoError(t, s.Start(context.Background(), []scheduler.Policy{{
		Domain:   domain.AgentStatus,
		Interval: time.Hour,
		Fetch: func(context.Context) (domain.Payload, error) {
			return domain.AgentStatusPayload{}, nil
		},
	}}))
	defer s.Stop()

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return s.Refresh(domain.AgentStatus) }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, time.Millisecond)

	assert.False(t, s.Refresh(domain.Alerts), "no policy for alerts")
}

// Сценарий: два неудачных опроса подряд не стирают последнее удачное значение.
func TestFailuresRetainPreviousPayload(t *testing.T) {
	store := newStateStore()
	s := scheduler.New(store, zap.NewNop(), metrics.New(nil))

	var calls atomic.Int32
	require.NoError(t, s.Start(context.Background(), []scheduler.Policy{{
		Domain:   domain.Overview,
		Interval: 15 * time.Millisecond,
		Fetch: func(context.Context) (domain.Payload, error) {
			if calls.Add(1) == 1 {
				return domain.OverviewPayload{TotalClients: 42}, nil
			}
			return nil, errors.New("gateway timeout")
		},
	}}))

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	s.Stop()

	ev := store.Resolve(domain.Overview, time.Now())
	assert.Equal(t, domain.SourceRemote, ev.Source)
	require.NotNil(t, ev.Payload)
	assert.Equal(t, 42, ev.Payload.(domain.OverviewPayload).TotalClients)
	assert.True(t, ev.Stale)
}

func TestLateResultAfterStopIsDiscarded(t *testing.T) {
	sink := &recordingSink{}
	s := scheduler.New(sink, zap.NewNop(), metrics.New(nil))

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, s.Start(context.Background(), []scheduler.Policy{{
		Domain:   domain.ClientPerformance,
		Interval: time.Hour,
		Fetch: func(context.Context) (domain.Payload, error) {
			close(started)
			<-release // запрос, игнорирующий отмену контекста
			return domain.ClientPerformancePayload{}, nil
		},
	}}))

	<-started
	s.Stop()
	close(release)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, sink.count())
}

func TestRefreshAfter(t *testing.T) {
	sink := &recordingSink{}
	s := scheduler.New(sink, zap.NewNop(), metrics.New(nil))
	require.NoError(t, s.Start(context.Background(), []scheduler.Policy{{
		Domain:   domain.AgentStatus,
		Interval: time.Hour,
		Fetch: func(context.Context) (domain.Payload, error) {
			return domain.AgentStatusPayload{}, nil
		},
	}}))
	defer s.Stop()

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, time.Millisecond)

	s.RefreshAfter(domain.AgentStatus, 30*time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, sink.count(), "not before the delay")
	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestStopCancelsDelayedRefresh(t *testing.T) {
	sink := &recordingSink{}
	s := scheduler.New(sink, zap.NewNop(), metrics.New(nil))
	require.NoError(t, s.Start(context.Background(), []scheduler.Policy{{
		Domain:   domain.AgentStatus,
		Interval: time.Hour,
		Fetch: func(context.Context) (domain.Payload, error) {
			return domain.AgentStatusPayload{}, nil
		},
	}}))
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, time.Millisecond)

	s.RefreshAfter(domain.AgentStatus, 20*time.Millisecond)
	s.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, sink.count())
}

type slowSink struct {
	entered  chan struct{}
	once     sync.Once
	finished atomic.Bool
	writes   atomic.Int32
}

func (s *slowSink) SetRemote(domain.Domain, domain.Payload, domain.FetchStatus, time.Time, error) {
	s.writes.Add(1)
	s.once.Do(func() { close(s.entered) })
	time.Sleep(50 * time.Millisecond)
	s.finished.Store(true)
}

func TestStopWaitsForWriteInProgress(t *testing.T) {
	sink := &slowSink{entered: make(chan struct{})}
	s := scheduler.New(sink, zap.NewNop(), metrics.New(nil))
	require.NoError(t, s.Start(context.Background(), []scheduler.Policy{{
		Domain:   domain.AgentStatus,
		Interval: 5 * time.Millisecond,
		Fetch: func(context.Context) (domain.Payload, error) {
			return domain.AgentStatusPayload{}, nil
		},
	}}))

	<-sink.entered
	s.Stop()

	assert.True(t, sink.finished.Load(), "store write finishes before Stop returns")
	writes := sink.writes.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, writes, sink.writes.Load(), "no writes after Stop")
}
