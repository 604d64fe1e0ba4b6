package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shardkit/internal/store"
)

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *ProgressStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s, err := NewProgressStoreWithPool(mock)
	require.NoError(t, err)
	return mock, s
}

func TestNewProgressStoreWithPoolRequiresPool(t *testing.T) {
	t.Parallel()
	_, err := NewProgressStoreWithPool(nil)
	require.Error(t, err)
}

func TestNewProgressStoreRequiresDSN(t *testing.T) {
	t.Parallel()
	_, err := NewProgressStore(context.Background(), Config{})
	require.ErrorContains(t, err, "db.dsn is required")
}

func TestMigrate(t *testing.T) {
	t.Parallel()
	mock, s := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS consume_runs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStartRun(t *testing.T) {
	t.Parallel()
	mock, s := newMockStore(t)
	runID := uuid.New()
	started := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO consume_runs").
		WithArgs(runID, started, "running", 10, 4).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.StartRun(context.Background(), runID, started, 10, 4))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRun(t *testing.T) {
	t.Parallel()
	mock, s := newMockStore(t)
	runID := uuid.New()
	finished := time.Unix(1700000100, 0).UTC()
	msg := "worker 2 failed"

	mock.ExpectExec("UPDATE consume_runs").
		WithArgs(finished, "error", int64(42), &msg, runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.CompleteRun(context.Background(), runID, finished, store.RunError, 42, &msg))

	mock.ExpectExec("UPDATE consume_runs").
		WithArgs(finished, "success", int64(0), (*string)(nil), runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err := s.CompleteRun(context.Background(), runID, finished, store.RunSuccess, 0, nil)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddShardProgress(t *testing.T) {
	t.Parallel()
	mock, s := newMockStore(t)
	delta := store.ShardProgress{
		RunID:      uuid.New(),
		Shard:      3,
		Worker:     1,
		Items:      25,
		Complete:   true,
		LastUpdate: time.Unix(1700000050, 0).UTC(),
	}

	mock.ExpectExec("INSERT INTO shard_progress").
		WithArgs(delta.RunID, delta.Shard, delta.Worker, delta.Items, delta.Complete, delta.LastUpdate).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.AddShardProgress(context.Background(), delta))

	mock.ExpectExec("INSERT INTO shard_progress").
		WillReturnError(errors.New("connection reset"))
	err := s.AddShardProgress(context.Background(), delta)
	require.ErrorContains(t, err, "failed to add shard progress")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRun(t *testing.T) {
	t.Parallel()
	mock, s := newMockStore(t)
	runID := uuid.New()
	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(time.Minute)

	rows := pgxmock.NewRows([]string{"id", "started_at", "finished_at", "status", "shards", "workers", "items", "error_message"}).
		AddRow(runID, started, &finished, "success", 10, 4, int64(100), (*string)(nil))
	mock.ExpectQuery("SELECT id, started_at").WithArgs(runID).WillReturnRows(rows)

	run, err := s.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.Equal(t, runID, run.ID)
	require.Equal(t, store.RunSuccess, run.Status)
	require.Equal(t, 10, run.Shards)
	require.EqualValues(t, 100, run.Items)
	require.NotNil(t, run.FinishedAt)

	mock.ExpectQuery("SELECT id, started_at").WithArgs(runID).WillReturnError(pgx.ErrNoRows)
	_, err = s.GetRun(context.Background(), runID)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRunShards(t *testing.T) {
	t.Parallel()
	mock, s := newMockStore(t)
	runID := uuid.New()
	at := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows([]string{"run_id", "shard", "worker", "items", "complete", "last_update"}).
		AddRow(runID, 0, 0, int64(10), true, at).
		AddRow(runID, 1, 2, int64(4), false, at)
	mock.ExpectQuery("SELECT run_id, shard").WithArgs(runID, 50, 0).WillReturnRows(rows)

	shards, err := s.ListRunShards(context.Background(), runID, 50, 0)
	require.NoError(t, err)
	require.Len(t, shards, 2)
	require.True(t, shards[0].Complete)
	require.Equal(t, 2, shards[1].Worker)

	mock.ExpectQuery("SELECT run_id, shard").WithArgs(runID, nil, 5).
		WillReturnRows(pgxmock.NewRows([]string{"run_id", "shard", "worker", "items", "complete", "last_update"}))
	shards, err = s.ListRunShards(context.Background(), runID, 0, 5)
	require.NoError(t, err)
	require.Empty(t, shards)
	require.NoError(t, mock.ExpectationsWereMet())
}
