package persistence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Expirer — носитель, который сам не удаляет истекшие записи (Postgres).
type Expirer interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Purger периодически вычищает "надгробия" из носителя. Чтение их и так
// не отдает, так что пропущенный проход ничего не ломает.
type Purger struct {
	medium   Expirer
	interval time.Duration
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPurger(medium Expirer, interval time.Duration, logger *zap.Logger) *Purger {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Purger{
		medium:   medium,
		interval: interval,
		logger:   logger.With(zap.String("mod", "purger")),
	}
}

func (p *Purger) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.worker(ctx)
}

// Stop останавливает воркер и ждет завершения текущего прохода.
func (p *Purger) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.logger.Info("purger stopped")
}

func (p *Purger) worker(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.medium.PurgeExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Warn("purge of expired records failed", zap.Error(err))
				}
				continue
			}
			if n > 0 {
				p.logger.Debug("expired records purged", zap.Int64("count", n))
			}
		}
	}
}
