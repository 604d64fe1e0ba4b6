package sinks

import (
	"context"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/shardkit/internal/progress"
)

// PrometheusSink exports consume progress via Prometheus.
type PrometheusSink struct {
	items  *prometheus.CounterVec
	shards prometheus.Counter
	events prometheus.Counter
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardkit_items_consumed_total",
			Help: "Items consumed partitioned by worker index.",
		}, []string{"worker"}),
		shards: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shardkit_shards_completed_total",
			Help: "Shards fully consumed.",
		}),
		events: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shardkit_progress_events_total",
			Help: "Progress events delivered to sinks.",
		}),
	}
	for _, collector := range []prometheus.Collector{s.items, s.shards, s.events} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.events.Inc()
		if evt.Delta > 0 {
			s.items.WithLabelValues(strconv.Itoa(evt.Worker)).Add(float64(evt.Delta))
		}
		if evt.ShardComplete {
			s.shards.Inc()
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
