// Package postgres provides the Postgres-backed run-history repository.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/regdata/harvester/internal/harvest"
)

// Expected schema:
//
//	CREATE TABLE run_history (
//		run_id      TEXT PRIMARY KEY,
//		total_terms INT NOT NULL,
//		total_items INT NOT NULL,
//		successful  INT NOT NULL,
//		failed      INT NOT NULL,
//		errors      JSONB NOT NULL,
//		started_at  TIMESTAMPTZ NOT NULL,
//		finished_at TIMESTAMPTZ NOT NULL
//	);

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// RunStore persists run statistics in Postgres.
type RunStore struct {
	pool pool
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// NewRunStore connects a pool using cfg.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: p}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewRunStoreWithPool(p pool) (*RunStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// SaveRun inserts one run-history row.
func (s *RunStore) SaveRun(ctx context.Context, stats harvest.RunStats) error {
	if stats.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	failuresJSON, err := json.Marshal(stats.Failures)
	if err != nil {
		return fmt.Errorf("marshal failures: %w", err)
	}
	query := `
INSERT INTO run_history (
	run_id,
	total_terms,
	total_items,
	successful,
	failed,
	errors,
	started_at,
	finished_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err = s.pool.Exec(ctx, query,
		stats.RunID,
		stats.TotalTerms,
		stats.TotalItems,
		stats.Successful,
		stats.Failed,
		failuresJSON,
		stats.StartedAt,
		stats.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run history: %w", err)
	}
	return nil
}

// LastRuns returns up to limit runs, newest first.
func (s *RunStore) LastRuns(ctx context.Context, limit int) ([]harvest.RunStats, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
SELECT run_id, total_terms, total_items, successful, failed, errors, started_at, finished_at
FROM run_history
ORDER BY finished_at DESC
LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query run history: %w", err)
	}
	defer rows.Close()

	var out []harvest.RunStats
	for rows.Next() {
		var (
			stats        harvest.RunStats
			failuresJSON []byte
		)
		if err := rows.Scan(
			&stats.RunID,
			&stats.TotalTerms,
			&stats.TotalItems,
			&stats.Successful,
			&stats.Failed,
			&failuresJSON,
			&stats.StartedAt,
			&stats.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run history row: %w", err)
		}
		if len(failuresJSON) > 0 {
			if err := json.Unmarshal(failuresJSON, &stats.Failures); err != nil {
				return nil, fmt.Errorf("unmarshal failures for run %s: %w", stats.RunID, err)
			}
		}
		out = append(out, stats)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run history rows: %w", err)
	}
	return out, nil
}
