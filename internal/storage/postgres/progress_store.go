// Package postgres provides the Postgres-backed progress repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/shardkit/internal/store"
)

// Schema creates the tables used by ProgressStore.
const Schema = `
CREATE TABLE IF NOT EXISTS consume_runs (
	id            UUID PRIMARY KEY,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	shards        INTEGER NOT NULL DEFAULT 0,
	workers       INTEGER NOT NULL DEFAULT 0,
	items         BIGINT NOT NULL DEFAULT 0,
	error_message TEXT
);
CREATE TABLE IF NOT EXISTS shard_progress (
	run_id      UUID NOT NULL REFERENCES consume_runs (id),
	shard       INTEGER NOT NULL,
	worker      INTEGER NOT NULL,
	items       BIGINT NOT NULL DEFAULT 0,
	complete    BOOLEAN NOT NULL DEFAULT FALSE,
	last_update TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, shard)
);
`

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// ProgressStore implements store.ProgressRepository using Postgres.
type ProgressStore struct {
	pool pgxPool
}

var _ store.ProgressRepository = (*ProgressStore)(nil)

// NewProgressStore opens a connection pool for cfg.
func NewProgressStore(ctx context.Context, cfg Config) (*ProgressStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ProgressStore{pool: pool}, nil
}

// NewProgressStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewProgressStoreWithPool(pool pgxPool) (*ProgressStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &ProgressStore{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (s *ProgressStore) Close() {
	s.pool.Close()
}

// Migrate applies Schema.
func (s *ProgressStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// StartRun inserts a running run, refreshing the fan-out on conflict.
func (s *ProgressStore) StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time, shards, workers int) error {
	query := `
		INSERT INTO consume_runs (id, started_at, status, shards, workers)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, shards = EXCLUDED.shards, workers = EXCLUDED.workers;
	`
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, string(store.RunRunning), shards, workers); err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// CompleteRun marks a run as finished with a status and optional error message.
func (s *ProgressStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	items int64,
	errMsg *string,
) error {
	query := `
		UPDATE consume_runs
		SET finished_at = $1, status = $2, items = $3, error_message = $4
		WHERE id = $5;
	`
	res, err := s.pool.Exec(ctx, query, finishedAt, string(status), items, errMsg, runID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AddShardProgress adds an item delta to a shard row, creating it on first use.
func (s *ProgressStore) AddShardProgress(ctx context.Context, delta store.ShardProgress) error {
	query := `
		INSERT INTO shard_progress (run_id, shard, worker, items, complete, last_update)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id, shard) DO UPDATE
		SET worker = EXCLUDED.worker,
			items = shard_progress.items + EXCLUDED.items,
			complete = shard_progress.complete OR EXCLUDED.complete,
			last_update = GREATEST(shard_progress.last_update, EXCLUDED.last_update);
	`
	_, err := s.pool.Exec(ctx, query,
		delta.RunID,
		delta.Shard,
		delta.Worker,
		delta.Items,
		delta.Complete,
		delta.LastUpdate,
	)
	if err != nil {
		return fmt.Errorf("failed to add shard progress: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *ProgressStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := `
		SELECT id, started_at, finished_at, status, shards, workers, items, error_message
		FROM consume_runs
		WHERE id = $1;
	`
	var (
		run    store.Run
		status string
	)
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.Shards,
		&run.Workers,
		&run.Items,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	run.Status = store.RunStatus(status)
	return run, nil
}

// ListRunShards retrieves per-shard progress ordered by shard id. A
// non-positive limit returns every row.
func (s *ProgressStore) ListRunShards(ctx context.Context, runID uuid.UUID, limit, offset int) ([]store.ShardProgress, error) {
	query := `
		SELECT run_id, shard, worker, items, complete, last_update
		FROM shard_progress
		WHERE run_id = $1
		ORDER BY shard
		LIMIT $2 OFFSET $3;
	`
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, query, runID, lim, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list run shards: %w", err)
	}
	defer rows.Close()

	var shards []store.ShardProgress
	for rows.Next() {
		var sp store.ShardProgress
		if err := rows.Scan(
			&sp.RunID,
			&sp.Shard,
			&sp.Worker,
			&sp.Items,
			&sp.Complete,
			&sp.LastUpdate,
		); err != nil {
			return nil, fmt.Errorf("failed to scan shard row: %w", err)
		}
		shards = append(shards, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shard rows: %w", err)
	}
	return shards, nil
}
