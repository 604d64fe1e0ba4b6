package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shardkit/internal/storage/memory"
	"github.com/JakeFAU/shardkit/internal/store"
)

func TestRunHandlerGetRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewProgressStore()
	runID := uuid.New()
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, repo.StartRun(ctx, runID, started, 4, 2))
	require.NoError(t, repo.CompleteRun(ctx, runID, started.Add(time.Minute), store.RunSuccess, 99, nil))

	server := newTestServer(Deps{Runs: repo})
	rec := serve(t, server, http.MethodGet, "/v1/runs/"+runID.String())
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Run runDTO `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, runID.String(), body.Run.ID)
	require.Equal(t, "success", body.Run.Status)
	require.EqualValues(t, 99, body.Run.Items)
	require.Equal(t, 4, body.Run.Shards)
	require.NotNil(t, body.Run.FinishedAt)
}

func TestRunHandlerGetRunNotFound(t *testing.T) {
	t.Parallel()

	server := newTestServer(Deps{Runs: memory.NewProgressStore()})
	rec := serve(t, server, http.MethodGet, "/v1/runs/"+uuid.NewString())
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunHandlerErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		deps Deps
		path string
		want int
	}{
		{"invalid id", Deps{Runs: memory.NewProgressStore()}, "/v1/runs/not-a-uuid", http.StatusBadRequest},
		{"no repository", Deps{}, "/v1/runs/" + uuid.NewString(), http.StatusServiceUnavailable},
		{"repository failure", Deps{Runs: failingRepo{}}, "/v1/runs/" + uuid.NewString(), http.StatusInternalServerError},
		{"invalid limit", Deps{Runs: memory.NewProgressStore()}, "/v1/runs/" + uuid.NewString() + "/shards?limit=-1", http.StatusBadRequest},
		{"invalid offset", Deps{Runs: memory.NewProgressStore()}, "/v1/runs/" + uuid.NewString() + "/shards?offset=x", http.StatusBadRequest},
		{"list failure", Deps{Runs: failingRepo{}}, "/v1/runs/" + uuid.NewString() + "/shards", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := serve(t, newTestServer(tt.deps), http.MethodGet, tt.path)
			require.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRunHandlerListRunShards(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewProgressStore()
	runID := uuid.New()
	now := time.Now().UTC()
	require.NoError(t, repo.StartRun(ctx, runID, now, 3, 2))
	for shard := range 3 {
		require.NoError(t, repo.AddShardProgress(ctx, store.ShardProgress{
			RunID: runID, Shard: shard, Worker: shard % 2, Items: int64(10 * (shard + 1)), Complete: true, LastUpdate: now,
		}))
	}

	rec := serve(t, newTestServer(Deps{Runs: repo}), http.MethodGet, "/v1/runs/"+runID.String()+"/shards?limit=2&offset=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Shards []shardDTO `json:"shards"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Shards, 2)
	require.Equal(t, 1, body.Shards[0].Shard)
	require.EqualValues(t, 30, body.Shards[1].Items)
}

type failingRepo struct{}

var errRepo = errors.New("repository down")

func (failingRepo) StartRun(context.Context, uuid.UUID, time.Time, int, int) error { return errRepo }

func (failingRepo) CompleteRun(context.Context, uuid.UUID, time.Time, store.RunStatus, int64, *string) error {
	return errRepo
}

func (failingRepo) AddShardProgress(context.Context, store.ShardProgress) error { return errRepo }

func (failingRepo) GetRun(context.Context, uuid.UUID) (store.Run, error) { return store.Run{}, errRepo }

func (failingRepo) ListRunShards(context.Context, uuid.UUID, int, int) ([]store.ShardProgress, error) {
	return nil, errRepo
}
