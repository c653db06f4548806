// Package engine собирает движок дашборда: часы, хранилище слоев, планировщик
// опроса и контроллер действий, один экземпляр на сессию.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xela07ax/medsync-dashboard/internal/action"
	"github.com/xela07ax/medsync-dashboard/internal/clock"
	"github.com/xela07ax/medsync-dashboard/internal/domain"
	"github.com/xela07ax/medsync-dashboard/internal/journal"
	"github.com/xela07ax/medsync-dashboard/internal/metrics"
	"github.com/xela07ax/medsync-dashboard/internal/persistence"
	"github.com/xela07ax/medsync-dashboard/internal/remote"
	"github.com/xela07ax/medsync-dashboard/internal/scheduler"
	"github.com/xela07ax/medsync-dashboard/internal/state"
	"go.uber.org/zap"
)

var ErrNotRunning = errors.New("engine: session is not running")

type Config struct {
	Tick          time.Duration
	Intervals     Intervals
	ActivityLimit int
	Action        action.Config
}

// Session — движок одной сессии дашборда.
type Session struct {
	clock     *clock.Clock
	store     *state.Store
	gateway   persistence.Gateway
	scheduler *scheduler.Scheduler
	actions   *action.Controller
	process   *action.ProcessAllAction
	policies  []scheduler.Policy
	journal   *journal.Journal
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
	unsub   func()
	ctx     context.Context
	cancel  context.CancelFunc
}

type Option func(*options)

type options struct {
	clock   *clock.Clock
	journal *journal.Journal
}

// WithJournal пишет итоги действий в журнал и отдает его через History.
func WithJournal(j *journal.Journal) Option {
	return func(o *options) { o.journal = j }
}

// WithClock подменяет часы сессии (в тестах — с ручным источником времени).
func WithClock(c *clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func NewSession(cfg Config, api remote.API, gateway persistence.Gateway, logger *zap.Logger, m *metrics.Metrics, opts ...Option) *Session {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	clk := o.clock
	if clk == nil {
		clk = clock.New(cfg.Tick)
	}

	logger = logger.Named("engine")
	store := state.NewStore(gateway, logger, m)
	sched := scheduler.New(store, logger, m, scheduler.WithNow(clk.Wall))

	var actionOpts []action.Option
	if o.journal != nil {
		actionOpts = append(actionOpts, action.WithRecorder(o.journal))
	}

	return &Session{
		clock:     clk,
		store:     store,
		gateway:   gateway,
		scheduler: sched,
		actions:   action.NewController(store, gateway, sched, clk.Wall, logger, m, cfg.Action, actionOpts...),
		journal:   o.journal,
		process:   action.NewProcessAll(api),
		policies:  Policies(api, cfg.Intervals, cfg.ActivityLimit),
		logger:    logger,
	}
}

// Start поднимает persisted-слой из хранилища до первого сетевого запроса,
// затем запускает часы и опрос.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx, cancel := s.ctx, s.cancel
	s.mu.Unlock()

	s.warmup(runCtx)

	// Первый тик синхронный и вызывает подписчиков, поэтому без s.mu
	unsub := s.clock.OnTick(s.onTick)
	s.clock.Start(runCtx)
	if err := s.scheduler.Start(runCtx, s.policies); err != nil {
		unsub()
		s.clock.Stop()
		cancel()
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.unsub = unsub
	s.mu.Unlock()

	s.logger.Info("dashboard session started", zap.Int("policies", len(s.policies)))
	return nil
}

// Stop гасит все таймеры; результаты незавершенных запросов отбрасываются.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	unsub, cancel := s.unsub, s.cancel
	s.mu.Unlock()

	s.scheduler.Stop()
	if unsub != nil {
		unsub()
	}
	s.clock.Stop()
	s.actions.Close()
	cancel()
	s.logger.Info("dashboard session stopped")
}

// warmup — аналог прогрева L1 из L2: статические домены и все client-sync
// записи, которые нашлись в хранилище.
func (s *Session) warmup(ctx context.Context) {
	domains := domain.Static()
	for key := range s.gateway.HasAny(ctx) {
		d, err := domain.ParseDomain(key)
		if err != nil || d.Kind != domain.KindClientSync {
			continue
		}
		domains = append(domains, d)
	}

	restored := 0
	for _, d := range domains {
		if s.store.ReloadPersisted(ctx, d) {
			restored++
		}
	}
	s.logger.Info("persisted state restored", zap.Int("domains", restored))
}

// onTick сбрасывает persisted-слои, у которых истек срок, чтобы в store
// не висели "надгробия".
func (s *Session) onTick(now time.Time) {
	ctx := s.context()
	for _, d := range s.store.Domains() {
		rec := s.store.Layers(d).Persisted
		if rec != nil && rec.Expired(now) {
			s.store.ReloadPersisted(ctx, d)
		}
	}
}

func (s *Session) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// Now — время последнего тика часов; от него считаются все подписи.
func (s *Session) Now() time.Time {
	return s.clock.Now()
}

// Resolve возвращает значение домена на момент последнего тика.
func (s *Session) Resolve(d domain.Domain) domain.EffectiveValue {
	return s.store.Resolve(d, s.clock.Now())
}

// View — все известные домены, включая client-sync.
func (s *Session) View() []domain.EffectiveValue {
	now := s.clock.Now()
	domains := s.store.Domains()
	out := make([]domain.EffectiveValue, 0, len(domains))
	for _, d := range domains {
		out = append(out, s.store.Resolve(d, now))
	}
	return out
}

// Layers отдает сырые слои домена (диагностика).
func (s *Session) Layers(d domain.Domain) state.Layers {
	return s.store.Layers(d)
}

// Refresh — ручное обновление домена. false, если он уже грузится или не опрашивается.
func (s *Session) Refresh(d domain.Domain) bool {
	return s.scheduler.Refresh(d)
}

// ProcessAll запускает агента по всем клиентам; возвращает id запуска.
func (s *Session) ProcessAll(ctx context.Context) (string, error) {
	if !s.Running() {
		return "", ErrNotRunning
	}
	return s.actions.Trigger(ctx, s.process)
}

// ActionStatus — состояние "process all" и текущее сообщение оператору.
func (s *Session) ActionStatus() (action.Status, *action.Notice) {
	st := s.actions.Status(s.process.Name())
	if n, ok := s.actions.Notice(); ok {
		return st, &n
	}
	return st, nil
}

// History — последние запуски действий, новые первыми.
func (s *Session) History(ctx context.Context, limit int) ([]journal.Entry, error) {
	if s.journal == nil {
		return nil, nil
	}
	return s.journal.Recent(ctx, limit)
}

// Persisted — сводка HasAny по ключам хранилища.
func (s *Session) Persisted(ctx context.Context) map[string]bool {
	return s.gateway.HasAny(ctx)
}

// ClearPersisted удаляет все сохраненные записи и забывает persisted-слои.
func (s *Session) ClearPersisted(ctx context.Context) {
	s.gateway.ClearAll(ctx)
	s.store.ForgetPersisted()
}

// Invalidate перечитывает persisted-слой домена по его ключу.
// Вызывается слушателем сигналов хранилища.
func (s *Session) Invalidate(key string) {
	d, err := domain.ParseDomain(key)
	if err != nil {
		s.logger.Debug("ignoring invalidation of unknown key", zap.String("key", key))
		return
	}
	s.store.ReloadPersisted(s.context(), d)
}

func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
