package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/shardkit/internal/store"
)

// ProgressStore is an in-memory store.ProgressRepository for development and
// tests.
type ProgressStore struct {
	mu     sync.RWMutex
	runs   map[uuid.UUID]store.Run
	shards map[uuid.UUID]map[int]store.ShardProgress
}

var _ store.ProgressRepository = (*ProgressStore)(nil)

// NewProgressStore constructs a ProgressStore.
func NewProgressStore() *ProgressStore {
	return &ProgressStore{
		runs:   make(map[uuid.UUID]store.Run),
		shards: make(map[uuid.UUID]map[int]store.ShardProgress),
	}
}

// StartRun records a running run. Starting a known run keeps its original
// start time.
func (s *ProgressStore) StartRun(_ context.Context, runID uuid.UUID, startedAt time.Time, shards, workers int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		run = store.Run{ID: runID, StartedAt: startedAt.UTC()}
	}
	run.Status = store.RunRunning
	run.Shards = shards
	run.Workers = workers
	s.runs[runID] = run
	return nil
}

// CompleteRun marks a run finished.
func (s *ProgressStore) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	items int64,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.FinishedAt = pointerTime(finishedAt.UTC())
	run.Status = status
	run.Items = items
	if errMsg != nil {
		msg := *errMsg
		run.ErrorMessage = &msg
	}
	s.runs[runID] = run
	return nil
}

// AddShardProgress accumulates an item delta for one shard.
func (s *ProgressStore) AddShardProgress(_ context.Context, delta store.ShardProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byShard := s.shards[delta.RunID]
	if byShard == nil {
		byShard = make(map[int]store.ShardProgress)
		s.shards[delta.RunID] = byShard
	}
	cur, ok := byShard[delta.Shard]
	if !ok {
		cur = store.ShardProgress{RunID: delta.RunID, Shard: delta.Shard}
	}
	cur.Worker = delta.Worker
	cur.Items += delta.Items
	cur.Complete = cur.Complete || delta.Complete
	if delta.LastUpdate.After(cur.LastUpdate) {
		cur.LastUpdate = delta.LastUpdate
	}
	byShard[delta.Shard] = cur
	return nil
}

// GetRun fetches a run by ID.
func (s *ProgressStore) GetRun(_ context.Context, runID uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListRunShards returns shard progress ordered by shard id.
func (s *ProgressStore) ListRunShards(_ context.Context, runID uuid.UUID, limit, offset int) ([]store.ShardProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.ShardProgress, 0, len(s.shards[runID]))
	for _, sp := range s.shards[runID] {
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Shard < out[j].Shard })
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
