// Package journal — журнал запусков действий оператора. Запись неблокирующая,
// в хранилище уходит пачками по таймеру или по размеру пачки.
package journal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/medsync-dashboard/internal/action"
	"go.uber.org/zap"
)

const (
	defaultBuffer        = 1000
	defaultBatch         = 100
	defaultFlushInterval = 500 * time.Millisecond
)

// Storage определяет, куда физически сохраняются записи
type Storage interface {
	// WriteBatch сохраняет пачку записей за один раз
	WriteBatch(ctx context.Context, entries []Entry) error
	// Recent — последние записи, новые первыми
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

type Journal struct {
	ch            chan Entry // Буфер для асинхронности
	storage       Storage
	flushInterval time.Duration
	logger        *zap.Logger
	wg            sync.WaitGroup

	// mu защищает ch от отправки после close: Record держит RLock, Stop — Lock
	mu     sync.RWMutex
	closed bool
}

var _ action.Recorder = (*Journal)(nil)

func New(storage Storage, logger *zap.Logger) *Journal {
	return &Journal{
		ch:            make(chan Entry, defaultBuffer),
		storage:       storage,
		flushInterval: defaultFlushInterval,
		logger:        logger.With(zap.String("mod", "journal")),
	}
}

func (j *Journal) Start() {
	j.wg.Add(1)
	go j.worker()
}

// Stop закрывает вход и ждет, пока воркер допишет остатки (Drain Pattern).
func (j *Journal) Stop() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	close(j.ch)
	j.mu.Unlock()

	j.logger.Info("stopping journal: flushing buffer...")
	j.wg.Wait()
	j.logger.Info("journal stopped gracefully")
}

// Record ставит итог действия в очередь. Незавершенные запуски не пишутся.
func (j *Journal) Record(st action.Status) {
	if st.State != action.StateSucceeded && st.State != action.StateFailed {
		return
	}
	e := entryFromStatus(st)
	e.ID = uuid.NewString()

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.logger.Warn("journal entry dropped: journal is stopping", zap.String("run_id", e.RunID))
		return
	}

	// Load Shedding: при переполнении не блокируем контроллер
	select {
	case j.ch <- e:
	default:
		j.logger.Error("journal_buffer_overflow",
			zap.String("action", e.Action),
			zap.String("run_id", e.RunID))
	}
}

// Recent — последние записи из хранилища (без учета еще не сброшенных).
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	return j.storage.Recent(ctx, limit)
}

func (j *Journal) worker() {
	defer j.wg.Done()

	batch := make([]Entry, 0, defaultBatch)
	ticker := time.NewTicker(j.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст при остановке уже может быть закрыт
		if err := j.storage.WriteBatch(context.Background(), batch); err != nil {
			j.logger.Error("journal flush failed", zap.Int("entries", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-j.ch:
			if !ok {
				flush() // Финальный сброс
				return
			}
			batch = append(batch, e)
			if len(batch) >= defaultBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
