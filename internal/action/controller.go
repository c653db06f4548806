// Package action — оптимистичные действия оператора: на время долгого вызова
// бэкенда показываем синтетическое "processing" значение, по успеху фиксируем
// итог в хранилище, по ошибке откатываемся.
package action

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/medsync-dashboard/internal/domain"
	"github.com/xela07ax/medsync-dashboard/internal/metrics"
	"github.com/xela07ax/medsync-dashboard/internal/persistence"
	"github.com/xela07ax/medsync-dashboard/internal/state"
	"go.uber.org/zap"
)

const (
	DefaultRefetchDelay   = 2 * time.Second
	DefaultNoticeDuration = 5 * time.Second
)

// ErrActionPending — действие этого вида уже выполняется; повторный запуск отклоняется, а не ставится в очередь.
var ErrActionPending = errors.New("action: already pending")

// ActionError — действие не удалось; оптимистичное состояние откатано.
type ActionError struct {
	Action string
	Cause  error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %s failed: %v", e.Action, e.Cause)
}

func (e *ActionError) Unwrap() error { return e.Cause }

type State string

const (
	StateIdle      State = "idle"
	StatePending   State = "pending"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice — временное сообщение для оператора, исчезает само.
type Notice struct {
	ID        string      `json:"id"`
	Level     NoticeLevel `json:"level"`
	Message   string      `json:"message"`
	ShownAt   time.Time   `json:"shown_at"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Status — состояние действия одного вида.
type Status struct {
	Action     string    `json:"action"`
	State      State     `json:"state"`
	RunID      string    `json:"run_id,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Result     *Result   `json:"result,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Store — то, что контроллер делает со слоями домена.
type Store interface {
	SetOverride(d domain.Domain, payload domain.Payload, at time.Time)
	ClearOverride(d domain.Domain)
	ReloadPersisted(ctx context.Context, d domain.Domain) bool
	Layers(d domain.Domain) state.Layers
}

// Refresher планирует отложенную перезагрузку remote-слоя (scheduler).
type Refresher interface {
	RefreshAfter(d domain.Domain, delay time.Duration)
}

// Recorder получает итог каждого завершенного запуска (журнал действий).
type Recorder interface {
	Record(st Status)
}

type Option func(*Controller)

func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

type Config struct {
	RefetchDelay   time.Duration
	NoticeDuration time.Duration
	// TTL записей по видам доменов; для остальных persistence.DefaultTTL
	TTL map[domain.Kind]time.Duration
}

type Controller struct {
	store     Store
	gateway   persistence.Gateway
	refresher Refresher
	now       func() time.Time
	logger    *zap.Logger
	metrics   *metrics.Metrics
	recorder  Recorder
	cfg       Config

	mu       sync.Mutex
	statuses map[string]*Status
	notice   *Notice
	timers   map[*time.Timer]struct{}
	wg       sync.WaitGroup
}

func NewController(store Store, gateway persistence.Gateway, refresher Refresher, now func() time.Time,
	logger *zap.Logger, m *metrics.Metrics, cfg Config, opts ...Option) *Controller {
	if cfg.RefetchDelay <= 0 {
		cfg.RefetchDelay = DefaultRefetchDelay
	}
	if cfg.NoticeDuration <= 0 {
		cfg.NoticeDuration = DefaultNoticeDuration
	}
	if now == nil {
		now = time.Now
	}
	c := &Controller{
		store:     store,
		gateway:   gateway,
		refresher: refresher,
		now:       now,
		logger:    logger.Named("action"),
		metrics:   m,
		cfg:       cfg,
		statuses:  make(map[string]*Status),
		timers:    make(map[*time.Timer]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Trigger запускает действие и возвращается сразу: оверрайды уже выставлены,
// вызов бэкенда идет в фоне. Контекст вызывающего не ограничивает время действия.
func (c *Controller) Trigger(ctx context.Context, a Action) (string, error) {
	r, err := c.begin(a)
	if err != nil {
		return "", err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = c.execute(context.WithoutCancel(ctx), a, r)
	}()
	return r.id, nil
}

// Run — блокирующий вариант Trigger. Возвращает *ActionError при неудаче.
func (c *Controller) Run(ctx context.Context, a Action) (Result, error) {
	r, err := c.begin(a)
	if err != nil {
		return Result{}, err
	}
	c.wg.Add(1)
	defer c.wg.Done()

	if err := c.execute(ctx, a, r); err != nil {
		return Result{}, err
	}
	return *r.result, nil
}

// Wait дожидается завершения всех запущенных в фоне действий.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close дожидается фоновых действий и гасит таймеры уведомлений.
func (c *Controller) Close() {
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	for t := range c.timers {
		t.Stop()
	}
	clear(c.timers)
}

// Status возвращает состояние действия; для неизвестного имени — Idle.
func (c *Controller) Status(name string) Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.statuses[name]
	if !ok {
		return Status{Action: name, State: StateIdle}
	}
	return *st
}

// Notice возвращает текущее сообщение, если оно еще не истекло.
func (c *Controller) Notice() (Notice, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.notice == nil || !c.notice.ExpiresAt.After(c.now()) {
		return Notice{}, false
	}
	return *c.notice, true
}

type run struct {
	id       string
	started  time.Time
	touched  []domain.Domain
	result   *Result
	wallFrom time.Time
}

func (c *Controller) begin(a Action) (*run, error) {
	name := a.Name()
	at := c.now()

	c.mu.Lock()
	if st, ok := c.statuses[name]; ok && st.State == StatePending {
		c.mu.Unlock()
		c.metrics.ActionTotal.WithLabelValues(name, "rejected").Inc()
		return nil, ErrActionPending
	}
	r := &run{id: uuid.NewString(), started: at, wallFrom: time.Now()}
	c.statuses[name] = &Status{Action: name, State: StatePending, RunID: r.id, StartedAt: at}
	c.mu.Unlock()

	plan := a.Begin(c.lookup(at), at)
	for _, ch := range plan.Changes {
		c.store.SetOverride(ch.Domain, ch.Payload, at)
		r.touched = append(r.touched, ch.Domain)
	}
	if plan.Notice != "" {
		c.show(NoticeInfo, plan.Notice, r.id, name, false)
	}

	c.logger.Info("action started",
		zap.String("action", name),
		zap.String("run_id", r.id),
		zap.Int("overrides", len(plan.Changes)))
	return r, nil
}

func (c *Controller) execute(ctx context.Context, a Action, r *run) error {
	name := a.Name()
	res, err := a.Execute(ctx)
	c.metrics.ActionDuration.WithLabelValues(name).Observe(time.Since(r.wallFrom).Seconds())

	if err != nil {
		return c.fail(a, r, err)
	}
	c.succeed(ctx, a, r, res)
	return nil
}

func (c *Controller) succeed(ctx context.Context, a Action, r *run, res Result) {
	name := a.Name()
	at := c.now()

	plan := a.Finalize(c.lookup(at), res, at)
	for _, ch := range plan.Changes {
		c.gateway.Save(ctx, ch.Domain, ch.Payload, c.ttl(ch.Domain.Kind))
		c.store.ReloadPersisted(ctx, ch.Domain)
		r.touched = append(r.touched, ch.Domain)
	}
	// Теперь авторитетна сохраненная запись
	for _, d := range r.touched {
		c.store.ClearOverride(d)
	}
	for _, d := range a.Refetch() {
		c.refresher.RefreshAfter(d, c.cfg.RefetchDelay)
	}

	r.result = &res
	c.finish(name, r, StateSucceeded, at, "")
	c.metrics.ActionTotal.WithLabelValues(name, string(StateSucceeded)).Inc()
	msg := plan.Notice
	if msg == "" {
		msg = a.Title() + " completed"
	}
	c.show(NoticeSuccess, msg, r.id, name, true)

	c.logger.Info("action succeeded",
		zap.String("action", name),
		zap.String("run_id", r.id),
		zap.Int("processed", res.Processed),
		zap.Int("total", res.Total),
		zap.Int("persisted", len(plan.Changes)))
}

func (c *Controller) fail(a Action, r *run, cause error) error {
	name := a.Name()
	at := c.now()

	// Откат: снова видно то, что было до запуска. В хранилище ничего не пишем
	for _, d := range r.touched {
		c.store.ClearOverride(d)
	}

	err := &ActionError{Action: name, Cause: cause}
	c.finish(name, r, StateFailed, at, cause.Error())
	c.metrics.ActionTotal.WithLabelValues(name, string(StateFailed)).Inc()
	c.show(NoticeError, fmt.Sprintf("%s failed: %v", a.Title(), cause), r.id, name, true)

	c.logger.Warn("action failed, optimistic state reverted",
		zap.String("action", name),
		zap.String("run_id", r.id),
		zap.Error(cause))
	return err
}

func (c *Controller) finish(name string, r *run, st State, at time.Time, errText string) {
	c.mu.Lock()
	s, ok := c.statuses[name]
	if !ok || s.RunID != r.id {
		c.mu.Unlock()
		return
	}
	s.State = st
	s.FinishedAt = at
	s.Result = r.result
	s.LastError = errText
	done := *s
	c.mu.Unlock()

	if c.recorder != nil {
		c.recorder.Record(done)
	}
}

// show заменяет текущее сообщение и через NoticeDuration убирает его.
// Итоговое сообщение (final) по истечении еще и переводит запуск в Idle.
func (c *Controller) show(level NoticeLevel, msg, runID, name string, final bool) {
	at := c.now()
	n := &Notice{
		ID:        uuid.NewString(),
		Level:     level,
		Message:   msg,
		ShownAt:   at,
		ExpiresAt: at.Add(c.cfg.NoticeDuration),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.notice = n

	var t *time.Timer
	t = time.AfterFunc(c.cfg.NoticeDuration, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.timers, t)

		if c.notice != nil && c.notice.ID == n.ID {
			c.notice = nil
		}
		if !final {
			return
		}
		if s, ok := c.statuses[name]; ok && s.RunID == runID && s.State != StatePending {
			s.State = StateIdle
		}
	})
	c.timers[t] = struct{}{}
}

// lookup — текущее значение домена без учета оверрайдов: от него действие
// строит и "processing", и итоговый payload.
func (c *Controller) lookup(at time.Time) Lookup {
	return func(d domain.Domain) domain.Payload {
		l := c.store.Layers(d)
		l.Override = nil
		return state.Resolve(d, l, at).Payload
	}
}

func (c *Controller) ttl(kind domain.Kind) time.Duration {
	if ttl, ok := c.cfg.TTL[kind]; ok && ttl > 0 {
		return ttl
	}
	return persistence.DefaultTTL
}
