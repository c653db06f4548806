package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS action_journal (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	action      TEXT NOT NULL,
	state       TEXT NOT NULL,
	processed   INTEGER NOT NULL,
	total       INTEGER NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL
)`

var journalColumns = []string{
	"id", "run_id", "action", "state", "processed", "total", "error", "started_at", "finished_at", "duration_ms",
}

type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage создает таблицу при необходимости. Пул принадлежит вызывающему.
func NewPostgresStorage(ctx context.Context, pool *pgxpool.Pool) (*PostgresStorage, error) {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("postgres: failed to migrate action_journal: %w", err)
	}
	return &PostgresStorage{pool: pool}, nil
}

// WriteBatch пишет пачку через COPY.
func (s *PostgresStorage) WriteBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{"action_journal"}, journalColumns,
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			e := entries[i]
			return []any{
				e.ID, e.RunID, e.Action, e.State, e.Processed, e.Total, e.Error,
				e.StartedAt, e.FinishedAt, e.DurationMs(),
			}, nil
		}))
	if err != nil {
		return fmt.Errorf("postgres: failed to write journal batch: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, action, state, processed, total, error, started_at, finished_at
		FROM action_journal
		ORDER BY finished_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query journal: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		err := row.Scan(&e.ID, &e.RunID, &e.Action, &e.State, &e.Processed, &e.Total, &e.Error, &e.StartedAt, &e.FinishedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to scan journal: %w", err)
	}
	return entries, nil
}
