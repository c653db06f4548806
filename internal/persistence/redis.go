package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/medsync-dashboard/internal/infra"
	"go.uber.org/zap"
)

// RedisMedium хранит записи строками с нативным TTL (SET ... EX),
// так что истекшие ключи Redis подчищает сам.
type RedisMedium struct {
	rdb     *redis.Client
	prefix  string
	channel string
	logger  *zap.Logger
}

func NewRedisMedium(rdb *redis.Client, logger *zap.Logger) *RedisMedium {
	return &RedisMedium{
		rdb:     rdb,
		prefix:  infra.RedisKeyStatePrefix,
		channel: infra.RedisChanStateInvalidation,
		logger:  logger.With(zap.String("mod", "redis-medium")),
	}
}

func (m *RedisMedium) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := m.rdb.Get(ctx, infra.StateKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

func (m *RedisMedium) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := m.rdb.Set(ctx, infra.StateKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	m.signal(ctx, key)
	return nil
}

func (m *RedisMedium) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = infra.StateKey(key)
	}
	if err := m.rdb.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	for _, key := range keys {
		m.signal(ctx, key)
	}
	return nil
}

// Keys перечисляет ключи через SCAN, без блокирующего KEYS.
func (m *RedisMedium) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := m.rdb.Scan(ctx, 0, m.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := strings.TrimPrefix(iter.Val(), m.prefix)
		if key == "" {
			continue
		}
		keys = append(keys, key)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return keys, nil
}

// signal — best effort: запись уже сделана, потеря сигнала лишь задержит
// перечитывание у соседних сессий.
func (m *RedisMedium) signal(ctx context.Context, key string) {
	if err := m.rdb.Publish(ctx, m.channel, key).Err(); err != nil {
		m.logger.Warn("invalidation signal failed", zap.String("key", key), zap.Error(err))
	}
}
