// Package clock — общий для процесса источник "текущего времени", который
// меняется с фиксированным шагом. Только от него пересчитываются подписи
// "5 min ago", независимо от сетевой активности.
package clock

import (
	"context"
	"sync"
	"time"
)

// DefaultCadence — шаг обновления относительных подписей.
const DefaultCadence = time.Minute

type Option func(*Clock)

// WithSource подменяет источник времени (в тестах).
func WithSource(source func() time.Time) Option {
	return func(c *Clock) { c.source = source }
}

type Clock struct {
	cadence time.Duration
	source  func() time.Time

	mu     sync.RWMutex
	now    time.Time
	subs   map[int]func(time.Time)
	nextID int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cadence time.Duration, opts ...Option) *Clock {
	if cadence <= 0 {
		cadence = DefaultCadence
	}
	c := &Clock{
		cadence: cadence,
		source:  time.Now,
		subs:    make(map[int]func(time.Time)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.now = c.source()
	return c
}

// Now — значение, зафиксированное последним тиком.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Wall — "настоящее" время источника, мимо каденции.
// Нужен для меток начала/завершения действий и сроков хранения.
func (c *Clock) Wall() time.Time {
	return c.source()
}

// OnTick подписывает callback на каждый тик. Возвращает функцию отписки.
func (c *Clock) OnTick(cb func(now time.Time)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = cb
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Start запускает тикер. Повторный Start без Stop ничего не делает.
func (c *Clock) Start(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.Tick()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cadence)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Tick()
			}
		}
	}()
}

// Stop останавливает тикер и дожидается выхода горутины.
func (c *Clock) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		c.wg.Wait()
	}
}

// Tick фиксирует новое "сейчас" и оповещает подписчиков.
// Вызывается тикером; доступен и вручную (тесты, принудительный пересчет).
func (c *Clock) Tick() time.Time {
	now := c.source()

	c.mu.Lock()
	c.now = now
	subs := make([]func(time.Time), 0, len(c.subs))
	for _, cb := range c.subs {
		subs = append(subs, cb)
	}
	c.mu.Unlock()

	// callbacks зовем без блокировки: подписчик может читать Now()
	for _, cb := range subs {
		cb(now)
	}
	return now
}
