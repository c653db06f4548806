package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS dashboard_state (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresMedium — носитель для инсталляций без Redis. Истекшие строки
// не отдаются и вычищаются PurgeExpired.
type PostgresMedium struct {
	pool *pgxpool.Pool
}

// NewPostgresMedium подключается к базе и создает таблицу при необходимости.
func NewPostgresMedium(ctx context.Context, connString string, maxConns, minConns int32) (*PostgresMedium, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: invalid connection string: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}
	cfg.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: unreachable: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: failed to migrate dashboard_state: %w", err)
	}
	return &PostgresMedium{pool: pool}, nil
}

func (m *PostgresMedium) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := m.pool.QueryRow(ctx,
		`SELECT value FROM dashboard_state WHERE key = $1 AND expires_at > NOW()`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to read %s: %w", key, err)
	}
	return value, nil
}

func (m *PostgresMedium) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	query := `
		INSERT INTO dashboard_state (key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = NOW()`

	if _, err := m.pool.Exec(ctx, query, key, value, time.Now().Add(ttl)); err != nil {
		return fmt.Errorf("postgres: failed to upsert %s: %w", key, err)
	}
	return nil
}

func (m *PostgresMedium) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := m.pool.Exec(ctx, `DELETE FROM dashboard_state WHERE key = ANY($1)`, keys); err != nil {
		return fmt.Errorf("postgres: failed to delete: %w", err)
	}
	return nil
}

func (m *PostgresMedium) Keys(ctx context.Context) ([]string, error) {
	rows, err := m.pool.Query(ctx, `SELECT key FROM dashboard_state WHERE expires_at > NOW() ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list keys: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to scan keys: %w", err)
	}
	return keys, nil
}

// PurgeExpired физически удаляет "надгробия".
func (m *PostgresMedium) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := m.pool.Exec(ctx, `DELETE FROM dashboard_state WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to purge expired state: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping проверяет доступность базы
func (m *PostgresMedium) Ping(ctx context.Context) error {
	return m.pool.Ping(ctx)
}

func (m *PostgresMedium) Close() {
	m.pool.Close()
}

// Pool отдает пул соединений для соседних таблиц (журнал действий).
func (m *PostgresMedium) Pool() *pgxpool.Pool {
	return m.pool
}
