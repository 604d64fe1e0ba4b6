package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shardkit/internal/store"
)

func TestProgressStoreLifecycle(t *testing.T) {
	t.Parallel()

	s := NewProgressStore()
	ctx := context.Background()
	runID := uuid.New()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.GetRun(ctx, runID)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.StartRun(ctx, runID, start, 3, 2))
	require.NoError(t, s.StartRun(ctx, runID, start.Add(time.Hour), 3, 2))

	for _, d := range []store.ShardProgress{
		{RunID: runID, Shard: 2, Worker: 1, Items: 4, LastUpdate: start.Add(time.Second)},
		{RunID: runID, Shard: 0, Worker: 0, Items: 5, LastUpdate: start.Add(time.Second)},
		{RunID: runID, Shard: 2, Worker: 1, Items: 6, Complete: true, LastUpdate: start.Add(2 * time.Second)},
	} {
		require.NoError(t, s.AddShardProgress(ctx, d))
	}

	shards, err := s.ListRunShards(ctx, runID, 0, 0)
	require.NoError(t, err)
	require.Len(t, shards, 2)
	require.Equal(t, 0, shards[0].Shard)
	require.EqualValues(t, 10, shards[1].Items)
	require.True(t, shards[1].Complete)

	page, err := s.ListRunShards(ctx, runID, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, 2, page[0].Shard)

	msg := "boom"
	require.NoError(t, s.CompleteRun(ctx, runID, start.Add(time.Minute), store.RunError, 15, &msg))
	run, err := s.GetRun(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, start, run.StartedAt)
	require.Equal(t, store.RunError, run.Status)
	require.EqualValues(t, 15, run.Items)
	require.NotNil(t, run.FinishedAt)
	require.Equal(t, "boom", *run.ErrorMessage)

	require.ErrorIs(t, s.CompleteRun(ctx, uuid.New(), start, store.RunSuccess, 0, nil), store.ErrNotFound)
}
