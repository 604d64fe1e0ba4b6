package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/shardkit/internal/progress"
)

// LogSink emits one debug line per event. It is useful during development
// when no durable store is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.logger.Debug("progress event",
			zap.Stringer("run_id", evt.RunUUID()),
			zap.Int("worker", evt.Worker),
			zap.Int("shard", evt.Shard),
			zap.Bool("shard_complete", evt.ShardComplete),
			zap.Int64("delta", evt.Delta),
			zap.Time("ts", evt.TS),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
