// Package persistence — долговременное key-value хранилище состояния дашборда
// с TTL на каждую запись. Ядро зависит только от интерфейса Gateway:
// любая ошибка носителя превращается в "записи нет" при чтении и в no-op при записи.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/xela07ax/medsync-dashboard/internal/domain"
	"github.com/xela07ax/medsync-dashboard/internal/metrics"
	"go.uber.org/zap"
)

// DefaultTTL — срок хранения записи, если для домена не задан свой.
const DefaultTTL = 24 * time.Hour

// ErrNotFound возвращается носителем, если ключа нет (или он истек).
var ErrNotFound = errors.New("persistence: record not found")

// Gateway — контракт, на который опирается движок. Методы никогда не возвращают ошибок.
type Gateway interface {
	Save(ctx context.Context, d domain.Domain, payload domain.Payload, ttl time.Duration)
	Load(ctx context.Context, d domain.Domain) (domain.PersistedRecord, bool)
	Clear(ctx context.Context, d domain.Domain)
	ClearAll(ctx context.Context)
	// HasAny — сводка "есть ли живая запись" по ключам доменов, только для диагностики
	HasAny(ctx context.Context) map[string]bool
}

// Medium — физический носитель (Redis, Postgres, память). В отличие от Gateway
// честно возвращает ошибки.
type Medium interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context) ([]string, error)
}

type envelope struct {
	Domain     domain.Domain   `json:"domain"`
	Payload    json.RawMessage `json:"payload"`
	CapturedAt time.Time       `json:"captured_at"`
	ExpiresAt  time.Time       `json:"expires_at"`
}

type Option func(*Store)

// WithNow подменяет источник времени, от которого считаются capturedAt/expiresAt.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store реализует Gateway поверх любого Medium.
type Store struct {
	medium  Medium
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

var _ Gateway = (*Store)(nil)

func NewStore(medium Medium, logger *zap.Logger, m *metrics.Metrics, opts ...Option) *Store {
	s := &Store{
		medium:  medium,
		now:     time.Now,
		logger:  logger.Named("persistence"),
		metrics: m,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save пишет {payload, capturedAt: now, expiresAt: now + ttl}. Last write wins.
func (s *Store) Save(ctx context.Context, d domain.Domain, payload domain.Payload, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if payload == nil || payload.Kind() != d.Kind {
		s.logger.Warn("refusing to persist payload of foreign kind", zap.Stringer("domain", d))
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		s.fail("encode", d, err)
		return
	}

	now := s.now()
	data, err := json.Marshal(envelope{
		Domain:     d,
		Payload:    raw,
		CapturedAt: now,
		ExpiresAt:  now.Add(ttl),
	})
	if err != nil {
		s.fail("encode", d, err)
		return
	}

	if err := s.medium.Set(ctx, d.Key(), data, ttl); err != nil {
		s.fail("set", d, err)
		return
	}

	s.logger.Debug("state persisted",
		zap.Stringer("domain", d),
		zap.Duration("ttl", ttl))
}

// Load возвращает запись, если она есть и ее expiresAt > now.
func (s *Store) Load(ctx context.Context, d domain.Domain) (domain.PersistedRecord, bool) {
	data, err := s.medium.Get(ctx, d.Key())
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.fail("get", d, err)
		}
		return domain.PersistedRecord{}, false
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.fail("decode", d, err)
		return domain.PersistedRecord{}, false
	}
	if env.Domain != d {
		s.fail("decode", d, errors.New("record domain mismatch: "+env.Domain.Key()))
		return domain.PersistedRecord{}, false
	}

	rec := domain.PersistedRecord{
		Domain:     d,
		CapturedAt: env.CapturedAt,
		ExpiresAt:  env.ExpiresAt,
	}
	// Истекшая запись — "надгробие": не удаляем сразу, просто не отдаем
	if rec.Expired(s.now()) {
		return domain.PersistedRecord{}, false
	}

	payload, err := domain.DecodePayload(d.Kind, env.Payload)
	if err != nil {
		s.fail("decode", d, err)
		return domain.PersistedRecord{}, false
	}
	rec.Payload = payload

	return rec, true
}

func (s *Store) Clear(ctx context.Context, d domain.Domain) {
	if err := s.medium.Delete(ctx, d.Key()); err != nil {
		s.fail("delete", d, err)
	}
}

// ClearAll удаляет все записи дашборда ("сбросить сохраненное состояние").
func (s *Store) ClearAll(ctx context.Context) {
	keys, err := s.medium.Keys(ctx)
	if err != nil {
		s.fail("keys", domain.Domain{}, err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := s.medium.Delete(ctx, keys...); err != nil {
		s.fail("delete", domain.Domain{}, err)
		return
	}
	s.logger.Info("persisted state cleared", zap.Int("count", len(keys)))
}

func (s *Store) HasAny(ctx context.Context) map[string]bool {
	summary := map[string]bool{
		domain.AgentStatus.Key(): false,
		domain.LastUpdate.Key():  false,
	}

	keys, err := s.medium.Keys(ctx)
	if err != nil {
		s.fail("keys", domain.Domain{}, err)
		return summary
	}

	for _, key := range keys {
		d, err := domain.ParseDomain(key)
		if err != nil {
			continue
		}
		_, ok := s.Load(ctx, d)
		summary[key] = ok
	}
	return summary
}

func (s *Store) fail(op string, d domain.Domain, err error) {
	s.metrics.PersistenceErrors.WithLabelValues(op).Inc()
	s.logger.Warn("persistence operation failed, degrading",
		zap.String("op", op),
		zap.Stringer("domain", d),
		zap.Error(err))
}
