package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/shardkit/internal/progress"
	"github.com/JakeFAU/shardkit/internal/publisher"
)

// ShardCompleted is the message published when a worker finishes a shard.
type ShardCompleted struct {
	RunID       uuid.UUID `json:"run_id"`
	Shard       int       `json:"shard"`
	Worker      int       `json:"worker"`
	CompletedAt time.Time `json:"completed_at"`
}

// PublishSink publishes one ShardCompleted message per completed shard.
type PublishSink struct {
	pub    publisher.Publisher
	topic  string
	logger *zap.Logger
}

// NewPublishSink returns a sink publishing to topic. An empty topic disables
// the sink.
func NewPublishSink(pub publisher.Publisher, topic string, logger *zap.Logger) *PublishSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishSink{pub: pub, topic: topic, logger: logger}
}

// Consume publishes the shard completions contained in batch.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s.pub == nil || s.topic == "" {
		return nil
	}
	for _, evt := range batch {
		if !evt.ShardComplete {
			continue
		}
		msg := ShardCompleted{
			RunID:       evt.RunUUID(),
			Shard:       evt.Shard,
			Worker:      evt.Worker,
			CompletedAt: evt.TS,
		}
		id, err := s.pub.Publish(ctx, s.topic, msg)
		if err != nil {
			return fmt.Errorf("publish shard %d completion: %w", evt.Shard, err)
		}
		s.logger.Debug("published shard completion", zap.Int("shard", evt.Shard), zap.String("message_id", id))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PublishSink) Close(context.Context) error {
	return nil
}
