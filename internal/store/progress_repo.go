package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("progress record not found")

// RunStatus mirrors the consume_runs status column.
type RunStatus string

// Run statuses persisted in consume_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run models one consume run.
type Run struct {
	// ID is the run identifier stamped on every progress event.
	ID uuid.UUID
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run is marked success/error.
	FinishedAt *time.Time
	// Status is running/success/error.
	Status RunStatus
	// Shards and Workers describe the run's fan-out.
	Shards  int
	Workers int
	// Items is the final item total, set on completion.
	Items int64
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// ShardProgress is the per-shard aggregate of one run.
type ShardProgress struct {
	RunID      uuid.UUID
	Shard      int
	Worker     int
	Items      int64
	Complete   bool
	LastUpdate time.Time
}

// ProgressRepository persists incremental run progress.
type ProgressRepository interface {
	// StartRun inserts (or idempotently updates) a running run.
	StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time, shards, workers int) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, items int64, errMsg *string) error
	// AddShardProgress applies an item delta to one shard.
	AddShardProgress(ctx context.Context, delta ShardProgress) error
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRunShards returns per-shard progress for one run ordered by shard.
	ListRunShards(ctx context.Context, runID uuid.UUID, limit, offset int) ([]ShardProgress, error)
}
