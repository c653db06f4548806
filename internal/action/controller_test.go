package action_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/medsync-dashboard/internal/action"
	"github.com/xela07ax/medsync-dashboard/internal/domain"
	"github.com/xela07ax/medsync-dashboard/internal/metrics"
	"github.com/xela07ax/medsync-dashboard/internal/persistence"
	"github.com/xela07ax/medsync-dashboard/internal/remote"
	"github.com/xela07ax/medsync-dashboard/internal/state"
	"go.uber.org/zap"
)

var t0 = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = t
}

type fakeProcessor struct {
	release chan struct{}
	res     remote.ProcessResult
	err     error
	calls   atomic.Int32
}

func (f *fakeProcessor) ProcessAll(ctx context.Context) (remote.ProcessResult, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return remote.ProcessResult{}, ctx.Err()
		}
	}
	return f.res, f.err
}

type refetch struct {
	Domain domain.Domain
	Delay  time.Duration
}

type fakeRefresher struct {
	mu    sync.Mutex
	calls []refetch
}

func (f *fakeRefresher) RefreshAfter(d domain.Domain, delay time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, refetch{d, delay})
}

func (f *fakeRefresher) Calls() []refetch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]refetch(nil), f.calls...)
}

type fixture struct {
	clk   *fakeClock
	store *state.Store
	gw    *persistence.Store
	ref   *fakeRefresher
	ctl   *action.Controller
}

func newFixture(t *testing.T, cfg action.Config) *fixture {
	t.Helper()
	clk := &fakeClock{t: t0}
	m := metrics.New(nil)
	gw := persistence.NewStore(persistence.NewMemoryMedium(clk.Now), zap.NewNop(), m, persistence.WithNow(clk.Now))
	store := state.NewStore(gw, zap.NewNop(), m)
	ref := &fakeRefresher{}
	ctl := action.NewController(store, gw, ref, clk.Now, zap.NewNop(), m, cfg)
	t.Cleanup(ctl.Close)

	store.SetRemote(domain.ClientPerformance, domain.ClientPerformancePayload{Clients: []domain.ClientRow{
		{ID: "clinic-1", Name: "Clinica Vida"},
		{ID: "clinic-2", Name: "Sorriso"},
	}}, domain.FetchOK, t0.Add(-time.Hour), nil)
	store.SetRemote(domain.AgentStatus, domain.AgentStatusPayload{
		Status:          domain.AgentOnline,
		StatusText:      "Agent active",
		Performance:     70,
		ExecutionsToday: 3,
		LastExecution:   t0.Add(-2 * time.Hour),
	}, domain.FetchOK, t0.Add(-time.Minute), nil)

	return &fixture{clk: clk, store: store, gw: gw, ref: ref, ctl: ctl}
}

func TestProcessAllScenario(t *testing.T) {
	f := newFixture(t, action.Config{})
	api := &fakeProcessor{
		release: make(chan struct{}),
		res:     remote.ProcessResult{Success: true, Processed: 2, TotalClients: 2},
	}
	a := action.NewProcessAll(api)

	runID, err := f.ctl.Trigger(context.Background(), a)
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	// Pending: оверрайд виден сразу
	ev := f.store.Resolve(domain.AgentStatus, t0)
	assert.Equal(t, domain.SourceOverride, ev.Source)
	agent := ev.Payload.(domain.AgentStatusPayload)
	assert.Equal(t, domain.AgentProcessing, agent.Status)
	assert.True(t, agent.Processing)
	assert.Equal(t, domain.SourceOverride, f.store.Resolve(domain.LastUpdate, t0).Source)

	st := f.ctl.Status(action.ProcessAllName)
	assert.Equal(t, action.StatePending, st.State)
	assert.Equal(t, runID, st.RunID)

	n, ok := f.ctl.Notice()
	require.True(t, ok)
	assert.Equal(t, action.NoticeInfo, n.Level)

	_, err = f.ctl.Trigger(context.Background(), a)
	assert.ErrorIs(t, err, action.ErrActionPending)

	// Бэкенд отвечает через 1.5 с
	f.clk.Set(t0.Add(1500 * time.Millisecond))
	close(api.release)
	f.ctl.Wait()

	ev = f.store.Resolve(domain.AgentStatus, t0.Add(1600*time.Millisecond))
	assert.Equal(t, domain.SourcePersisted, ev.Source)
	agent = ev.Payload.(domain.AgentStatusPayload)
	assert.Equal(t, 98, agent.Performance)
	assert.Equal(t, domain.AgentOnline, agent.Status)
	assert.False(t, agent.Processing)
	assert.Equal(t, t0.Add(1500*time.Millisecond), agent.LastExecution)
	assert.Equal(t, 4, agent.ExecutionsToday)
	assert.Equal(t, "now", agent.LastSyncLabel)

	last := f.store.Resolve(domain.LastUpdate, t0.Add(1600*time.Millisecond))
	assert.Equal(t, domain.SourcePersisted, last.Source)
	assert.Equal(t, 2, last.Payload.(domain.LastUpdatePayload).Processed)

	for _, id := range []string{"clinic-1", "clinic-2"} {
		ev := f.store.Resolve(domain.ClientSync(id), t0.Add(1600*time.Millisecond))
		require.Equal(t, domain.SourcePersisted, ev.Source, id)
		assert.Equal(t, t0.Add(1500*time.Millisecond), ev.Payload.(domain.ClientSyncPayload).LastSync)
	}

	// Перезагрузка с бэкенда запланирована на t0+3500
	calls := f.ref.Calls()
	require.NotEmpty(t, calls)
	assert.Contains(t, calls, refetch{domain.AgentStatus, 2 * time.Second})

	st = f.ctl.Status(action.ProcessAllName)
	assert.Equal(t, action.StateSucceeded, st.State)
	require.NotNil(t, st.Result)
	assert.Equal(t, 2, st.Result.Total)

	n, ok = f.ctl.Notice()
	require.True(t, ok)
	assert.Equal(t, action.NoticeSuccess, n.Level)
	assert.Equal(t, "Processed 2 of 2 clients", n.Message)
}

func TestProcessAllFailureReverts(t *testing.T) {
	f := newFixture(t, action.Config{})
	cause := errors.New("gateway timeout")
	api := &fakeProcessor{err: cause}

	_, err := f.ctl.Run(context.Background(), action.NewProcessAll(api))
	require.Error(t, err)

	var actionErr *action.ActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Equal(t, action.ProcessAllName, actionErr.Action)
	assert.ErrorIs(t, err, cause)

	// Видно то, что было до запуска
	ev := f.store.Resolve(domain.AgentStatus, t0)
	assert.Equal(t, domain.SourceRemote, ev.Source)
	assert.Equal(t, 70, ev.Payload.(domain.AgentStatusPayload).Performance)
	assert.Equal(t, domain.SourceNone, f.store.Resolve(domain.LastUpdate, t0).Source)

	assert.False(t, f.gw.HasAny(context.Background())[domain.AgentStatus.Key()])
	assert.Empty(t, f.ref.Calls())

	assert.Equal(t, action.StateFailed, f.ctl.Status(action.ProcessAllName).State)
	n, ok := f.ctl.Notice()
	require.True(t, ok)
	assert.Equal(t, action.NoticeError, n.Level)
	assert.Contains(t, n.Message, "gateway timeout")
}

func TestBackendRejectionIsActionError(t *testing.T) {
	f := newFixture(t, action.Config{})
	api := &fakeProcessor{res: remote.ProcessResult{Success: false, Message: "agent offline"}}

	_, err := f.ctl.Run(context.Background(), action.NewProcessAll(api))
	assert.ErrorIs(t, err, action.ErrRejected)
	assert.Contains(t, err.Error(), "agent offline")
	assert.Equal(t, domain.SourceRemote, f.store.Resolve(domain.AgentStatus, t0).Source)
}

func TestPartialRunScalesPerformance(t *testing.T) {
	f := newFixture(t, action.Config{})
	api := &fakeProcessor{res: remote.ProcessResult{Success: true, Processed: 1, TotalClients: 2}}

	res, err := f.ctl.Run(context.Background(), action.NewProcessAll(api))
	require.NoError(t, err)
	assert.Equal(t, action.Result{Processed: 1, Total: 2}, res)

	ev := f.store.Resolve(domain.AgentStatus, t0)
	assert.Equal(t, 49, ev.Payload.(domain.AgentStatusPayload).Performance)
}

func TestCustomTTLPerKind(t *testing.T) {
	f := newFixture(t, action.Config{TTL: map[domain.Kind]time.Duration{domain.KindAgentStatus: time.Minute}})
	api := &fakeProcessor{res: remote.ProcessResult{Success: true, Processed: 2, TotalClients: 2}}

	_, err := f.ctl.Run(context.Background(), action.NewProcessAll(api))
	require.NoError(t, err)

	rec := f.store.Layers(domain.AgentStatus).Persisted
	require.NotNil(t, rec)
	assert.Equal(t, t0.Add(time.Minute), rec.ExpiresAt)

	last := f.store.Layers(domain.LastUpdate).Persisted
	require.NotNil(t, last)
	assert.Equal(t, t0.Add(persistence.DefaultTTL), last.ExpiresAt)

	// После истечения TTL снова авторитетен remote
	f.clk.Set(t0.Add(2 * time.Minute))
	assert.Equal(t, domain.SourceRemote, f.store.Resolve(domain.AgentStatus, t0.Add(2*time.Minute)).Source)
}

func TestNoticeAutoDismisses(t *testing.T) {
	f := newFixture(t, action.Config{NoticeDuration: 20 * time.Millisecond})
	api := &fakeProcessor{res: remote.ProcessResult{Success: true, Processed: 2, TotalClients: 2}}

	_, err := f.ctl.Run(context.Background(), action.NewProcessAll(api))
	require.NoError(t, err)
	_, ok := f.ctl.Notice()
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok := f.ctl.Notice()
		return !ok && f.ctl.Status(action.ProcessAllName).State == action.StateIdle
	}, time.Second, 5*time.Millisecond)
}

func TestOutcomeStateOutlivesStartNotice(t *testing.T) {
	f := newFixture(t, action.Config{NoticeDuration: 200 * time.Millisecond})
	api := &fakeProcessor{release: make(chan struct{}), res: remote.ProcessResult{Success: true, Processed: 2, TotalClients: 2}}

	_, err := f.ctl.Trigger(context.Background(), action.NewProcessAll(api))
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	close(api.release)
	f.ctl.Wait()

	// Сообщение о запуске уже истекло, итоговое еще на экране
	time.Sleep(130 * time.Millisecond)
	n, ok := f.ctl.Notice()
	require.True(t, ok)
	assert.Equal(t, action.NoticeSuccess, n.Level)
	assert.Equal(t, action.StateSucceeded, f.ctl.Status(action.ProcessAllName).State)

	assert.Eventually(t, func() bool {
		return f.ctl.Status(action.ProcessAllName).State == action.StateIdle
	}, time.Second, 5*time.Millisecond)
}

func TestEmptyRunKeepsFullPerformance(t *testing.T) {
	f := newFixture(t, action.Config{})
	api := &fakeProcessor{res: remote.ProcessResult{Success: true, Processed: -1, TotalClients: 0}}

	_, err := f.ctl.Run(context.Background(), action.NewProcessAll(api))
	require.NoError(t, err)

	ev := f.store.Resolve(domain.AgentStatus, t0)
	assert.Equal(t, action.SuccessPerformance, ev.Payload.(domain.AgentStatusPayload).Performance)
}

func TestUnknownActionIsIdle(t *testing.T) {
	f := newFixture(t, action.Config{})
	assert.Equal(t, action.StateIdle, f.ctl.Status("nothing").State)
}

type recorded struct {
	mu  sync.Mutex
	all []action.Status
}

func (r *recorded) Record(st action.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, st)
}

func TestRecorderGetsEveryOutcome(t *testing.T) {
	f := newFixture(t, action.Config{})
	rec := &recorded{}
	ctl := action.NewController(f.store, f.gw, f.ref, f.clk.Now, zap.NewNop(), metrics.New(nil), action.Config{},
		action.WithRecorder(rec))
	t.Cleanup(ctl.Close)

	ok := &fakeProcessor{res: remote.ProcessResult{Success: true, Processed: 2, TotalClients: 2}}
	_, err := ctl.Run(context.Background(), action.NewProcessAll(ok))
	require.NoError(t, err)

	bad := &fakeProcessor{err: errors.New("boom")}
	_, err = ctl.Run(context.Background(), action.NewProcessAll(bad))
	require.Error(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.all, 2)
	assert.Equal(t, action.StateSucceeded, rec.all[0].State)
	assert.Equal(t, 2, rec.all[0].Result.Processed)
	assert.Equal(t, action.StateFailed, rec.all[1].State)
	assert.Equal(t, "boom", rec.all[1].LastError)
	assert.NotEqual(t, rec.all[0].RunID, rec.all[1].RunID)
}
