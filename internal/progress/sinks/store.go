package sinks

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/shardkit/internal/progress"
	"github.com/JakeFAU/shardkit/internal/store"
)

// StoreSink persists progress deltas via a store.ProgressRepository. It
// collapses deltas per shard to reduce write amplification.
type StoreSink struct {
	repo   store.ProgressRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ProgressRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume collapses shard deltas and forwards them to the repository in shard
// order. It respects ctx deadlines and returns the first repository error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	byShard := make(map[shardKey]*store.ShardProgress)
	for _, evt := range batch {
		key := shardKey{runID: evt.RunUUID(), shard: evt.Shard}
		cur := byShard[key]
		if cur == nil {
			cur = &store.ShardProgress{RunID: key.runID, Shard: evt.Shard}
			byShard[key] = cur
		}
		cur.Worker = evt.Worker
		cur.Items += evt.Delta
		cur.Complete = cur.Complete || evt.ShardComplete
		if evt.TS.After(cur.LastUpdate) {
			cur.LastUpdate = evt.TS
		}
	}

	keys := make([]shardKey, 0, len(byShard))
	for k := range byShard {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].runID != keys[j].runID {
			return keys[i].runID.String() < keys[j].runID.String()
		}
		return keys[i].shard < keys[j].shard
	})
	for _, k := range keys {
		delta := byShard[k]
		if delta.Items == 0 && !delta.Complete {
			continue
		}
		if delta.LastUpdate.IsZero() {
			delta.LastUpdate = time.Now().UTC()
		}
		if err := s.repo.AddShardProgress(ctx, *delta); err != nil {
			return fmt.Errorf("add shard progress: %w", err)
		}
	}
	s.logger.Debug("persisted shard progress", zap.Int("shards", len(keys)), zap.Int("events", len(batch)))
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type shardKey struct {
	runID uuid.UUID
	shard int
}
