// Package scheduler периодически обновляет remote-слой доменов.
// Один тикер на политику, не больше одного запроса на домен одновременно,
// без backoff: неудачный тик не меняет интервал следующих.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xela07ax/medsync-dashboard/internal/domain"
	"github.com/xela07ax/medsync-dashboard/internal/metrics"
	"go.uber.org/zap"
)

var ErrAlreadyStarted = errors.New("scheduler: already started")

// FetchFunc загружает актуальное значение домена с бэкенда.
type FetchFunc func(ctx context.Context) (domain.Payload, error)

// Policy — RefreshPolicy домена вместе с функцией загрузки.
type Policy struct {
	Domain   domain.Domain
	Interval time.Duration
	Fetch    FetchFunc
}

// RemoteSink — куда пишутся результаты (state.Store).
type RemoteSink interface {
	SetRemote(d domain.Domain, payload domain.Payload, status domain.FetchStatus, at time.Time, fetchErr error)
}

type Scheduler struct {
	sink    RemoteSink
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.Mutex
	policies map[domain.Domain]Policy
	inflight map[domain.Domain]bool
	delayed  map[*time.Timer]struct{}
	ctx      context.Context
	cancel   context.CancelFunc

	// active — защита от записи в store после Stop (завершившийся запрос "опоздал").
	// Проверка active и запись в sink идут под sinkMu, Stop сбрасывает active под ним же.
	active atomic.Bool
	sinkMu sync.Mutex
	loops  sync.WaitGroup
}

type Option func(*Scheduler)

// WithNow задает источник времени для отметок fetchedAt/attemptedAt.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(sink RemoteSink, logger *zap.Logger, m *metrics.Metrics, opts ...Option) *Scheduler {
	s := &Scheduler{
		sink:     sink,
		logger:   logger.Named("scheduler"),
		metrics:  m,
		now:      time.Now,
		policies: make(map[domain.Domain]Policy),
		inflight: make(map[domain.Domain]bool),
		delayed:  make(map[*time.Timer]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start запускает тикеры всех политик и сразу делает первую загрузку каждого домена.
func (s *Scheduler) Start(ctx context.Context, policies []Policy) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx
	for _, p := range policies {
		s.policies[p.Domain] = p
	}
	s.active.Store(true)
	s.mu.Unlock()

	for _, p := range policies {
		if p.Interval <= 0 || p.Fetch == nil {
			s.logger.Warn("policy without interval or fetch, skipped", zap.Stringer("domain", p.Domain))
			continue
		}
		s.loops.Add(1)
		go s.loop(runCtx, p)
	}

	s.logger.Info("scheduler started", zap.Int("policies", len(policies)))
	return nil
}

// Stop отменяет все таймеры (включая отложенные перезагрузки) и контекст
// незавершенных запросов. После возврата store больше не меняется, даже если
// запрос, игнорирующий отмену, вернется позже.
func (s *Scheduler) Stop() {
	// дожидаемся записи, которая уже прошла проверку active
	s.sinkMu.Lock()
	s.active.Store(false)
	s.sinkMu.Unlock()

	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	for t := range s.delayed {
		t.Stop()
	}
	clear(s.delayed)
	clear(s.policies)
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.loops.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, p Policy) {
	defer s.loops.Done()

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	s.trigger(ctx, p)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.trigger(ctx, p)
		}
	}
}

// Refresh — ручное обновление мимо таймера. Возвращает false, если домен
// не зарегистрирован, планировщик остановлен или запрос уже выполняется.
// Запрос живет, пока жив планировщик, а не вызывающий (HTTP-запрос оператора).
func (s *Scheduler) Refresh(d domain.Domain) bool {
	s.mu.Lock()
	p, ok := s.policies[d]
	base := s.ctx
	s.mu.Unlock()

	if !ok || !s.active.Load() {
		return false
	}
	if !s.tryStart(d) {
		return false
	}

	go s.run(base, p)
	return true
}

// RefreshAfter планирует однократное обновление домена через delay.
func (s *Scheduler) RefreshAfter(d domain.Domain, delay time.Duration) {
	if !s.active.Load() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.delayed, t)
		s.mu.Unlock()

		s.logger.Debug("delayed refresh fired", zap.Stringer("domain", d))
		s.Refresh(d)
	})
	s.delayed[t] = struct{}{}
}

// InFlight сообщает, выполняется ли сейчас загрузка домена.
func (s *Scheduler) InFlight(d domain.Domain) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight[d]
}

func (s *Scheduler) trigger(ctx context.Context, p Policy) {
	if !s.tryStart(p.Domain) {
		return
	}
	go s.run(ctx, p)
}

func (s *Scheduler) tryStart(d domain.Domain) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return false
	}
	if s.inflight[d] {
		s.metrics.FetchSkipped.WithLabelValues(string(d.Kind)).Inc()
		s.logger.Debug("fetch still in flight, tick skipped", zap.Stringer("domain", d))
		return false
	}
	s.inflight[d] = true
	return true
}

func (s *Scheduler) run(ctx context.Context, p Policy) {
	defer func() {
		s.mu.Lock()
		delete(s.inflight, p.Domain)
		s.mu.Unlock()
	}()

	start := time.Now()
	payload, err := p.Fetch(ctx)
	s.metrics.FetchDuration.WithLabelValues(string(p.Domain.Kind)).Observe(time.Since(start).Seconds())

	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()

	// Планировщик остановлен, пока шел запрос: store уже никому не нужен
	if !s.active.Load() || ctx.Err() != nil {
		s.logger.Debug("discarding fetch result after stop", zap.Stringer("domain", p.Domain))
		return
	}

	if err != nil {
		s.metrics.FetchTotal.WithLabelValues(string(p.Domain.Kind), string(domain.FetchError)).Inc()
		s.logger.Warn("could not refresh domain, keeping previous value",
			zap.Stringer("domain", p.Domain),
			zap.Error(err))
		s.sink.SetRemote(p.Domain, nil, domain.FetchError, s.now(), err)
		return
	}

	s.metrics.FetchTotal.WithLabelValues(string(p.Domain.Kind), string(domain.FetchOK)).Inc()
	s.sink.SetRemote(p.Domain, payload, domain.FetchOK, s.now(), nil)
}
