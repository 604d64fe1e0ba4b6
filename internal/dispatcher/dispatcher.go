// Package dispatcher runs a pool of workers over a sharded source: it builds
// the shard queue and one progress channel per worker, starts the aggregator,
// fans the workers out and joins them before the aggregator.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/shardkit/internal/proc"
	"github.com/JakeFAU/shardkit/internal/progress"
	"github.com/JakeFAU/shardkit/internal/queue/memory"
	"github.com/JakeFAU/shardkit/internal/shard"
	"github.com/JakeFAU/shardkit/internal/worker"
)

const tracerName = "github.com/JakeFAU/shardkit/internal/dispatcher"

// Config controls pool sizing and per-worker behavior.
type Config struct {
	// NumProc caps the number of workers. Zero means runtime.NumCPU().
	NumProc int
	Worker  worker.Config
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	if c.NumProc <= 0 {
		c.NumProc = runtime.NumCPU()
	}
	c.Worker = c.Worker.WithDefaults()
	return c
}

// Result summarises a finished consume run.
type Result struct {
	RunID           uuid.UUID     `json:"run_id"`
	Items           int64         `json:"items"`
	Shards          int           `json:"shards"`
	ShardsCompleted int64         `json:"shards_completed"`
	Workers         int           `json:"workers"`
	Elapsed         time.Duration `json:"elapsed_ns"`
	Throughput      float64       `json:"items_per_second"`
}

// Option customises a Pool.
type Option func(*Pool)

// WithEmitter forwards aggregated progress events, typically to a progress.Hub.
func WithEmitter(emitter progress.Emitter) Option {
	return func(p *Pool) {
		p.emitter = emitter
	}
}

// WithObserver receives worker lifecycle notifications.
func WithObserver(obs worker.Observer) Option {
	return func(p *Pool) {
		if obs != nil {
			p.observer = obs
		}
	}
}

// WithClock overrides wall time for workers and the aggregator.
func WithClock(clock progress.Clock) Option {
	return func(p *Pool) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithLogger sets the pool logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithTracer overrides the tracer used for run and worker spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Pool) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}

// Pool runs consume jobs. A Pool may run several jobs one after another;
// Snapshot reports on the most recent one.
type Pool struct {
	cfg      Config
	emitter  progress.Emitter
	observer worker.Observer
	clock    progress.Clock
	logger   *zap.Logger
	tracer   trace.Tracer

	current atomic.Pointer[progress.Aggregator]
}

// New constructs a Pool.
func New(cfg Config, opts ...Option) *Pool {
	p := &Pool{
		cfg:      cfg.WithDefaults(),
		observer: worker.NopObserver{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(tracerName)
	}
	return p
}

// Config returns the effective configuration.
func (p *Pool) Config() Config {
	return p.cfg
}

// Snapshot returns live progress of the current or last run. ok is false
// before the first run starts.
func (p *Pool) Snapshot() (snap progress.Snapshot, ok bool) {
	agg := p.current.Load()
	if agg == nil {
		return progress.Snapshot{}, false
	}
	return agg.Snapshot(), true
}

// RunOption customises a single Consume call.
type RunOption func(*runOptions)

type runOptions struct {
	runID uuid.UUID
}

// WithRunID tags the run's progress events and result.
func WithRunID(id uuid.UUID) RunOption {
	return func(o *runOptions) {
		o.runID = id
	}
}

// Consume feeds every item of src to hooks exactly once, spread over
// min(NumProc, ShardCount) workers, and blocks until all workers and the
// aggregator have finished. The first worker failure cancels its siblings
// and is returned as a *worker.Failure.
func Consume[T any](ctx context.Context, p *Pool, src shard.Source[T], hooks worker.Hooks[T], opts ...RunOption) (Result, error) {
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.runID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return Result{}, fmt.Errorf("consume: new run id: %w", err)
		}
		ro.runID = id
	}
	shards := src.ShardCount()
	numWorkers := min(p.cfg.NumProc, shards)

	ctx, span := p.tracer.Start(ctx, "dispatcher.Consume", trace.WithAttributes(
		attribute.Int("shardkit.shards", shards),
		attribute.Int("shardkit.workers", numWorkers),
	))
	defer span.End()

	logger := p.logger.With(zap.String("run_id", ro.runID.String()))

	chans := make([]chan progress.Event, numWorkers)
	recv := make([]<-chan progress.Event, numWorkers)
	for i := range chans {
		chans[i] = make(chan progress.Event, 1)
		recv[i] = chans[i]
	}

	aggOpts := []progress.AggregatorOption{
		progress.WithRunID(ro.runID),
		progress.WithLogger(logger),
	}
	if p.emitter != nil {
		aggOpts = append(aggOpts, progress.WithEmitter(p.emitter))
	}
	if p.clock != nil {
		aggOpts = append(aggOpts, progress.WithClock(p.clock))
	}
	if sized, ok := src.(shard.Sized); ok {
		aggOpts = append(aggOpts, progress.WithExpected(int64(sized.Len())))
	}
	agg := progress.NewAggregator(recv, aggOpts...)
	p.current.Store(agg)
	go agg.Run()

	logger.Info("consume started", zap.Int("shards", shards), zap.Int("workers", numWorkers))

	q := memory.NewShardQueue(shards)
	workerOpts := []worker.Option{
		worker.WithObserver(p.observer),
		worker.WithLogger(logger),
	}
	if p.clock != nil {
		workerOpts = append(workerOpts, worker.WithClock(p.clock))
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range numWorkers {
		w := worker.New(i, q, src, hooks, chans[i], p.cfg.Worker, workerOpts...)
		g.Go(func() error {
			wctx, _ := proc.Fork(gctx)
			wctx, wspan := p.tracer.Start(wctx, "worker.Run", trace.WithAttributes(attribute.Int("shardkit.worker", w.Index())))
			defer wspan.End()
			err := w.Run(wctx)
			if err != nil {
				wspan.RecordError(err)
			}
			return err
		})
	}
	werr := g.Wait()
	agg.Wait()

	snap := agg.Snapshot()
	res := Result{
		RunID:           ro.runID,
		Items:           snap.Total,
		Shards:          shards,
		ShardsCompleted: snap.ShardsCompleted,
		Workers:         numWorkers,
		Elapsed:         snap.Elapsed,
		Throughput:      snap.Throughput,
	}
	span.SetAttributes(attribute.Int64("shardkit.items", res.Items))

	if werr != nil {
		span.RecordError(werr)
		logger.Warn("consume stopped early", zap.Error(werr), zap.Int64("items", res.Items))
		if errors.Is(werr, worker.ErrWorkerFailure) {
			return res, werr
		}
		return res, fmt.Errorf("consume: %w", werr)
	}
	logger.Info("consume finished",
		zap.Int64("items", res.Items),
		zap.Duration("elapsed", res.Elapsed),
		zap.Float64("items_per_second", res.Throughput),
	)
	return res, nil
}

// ConsumeSlice splits items evenly into at most NumProc shards and consumes
// them.
func ConsumeSlice[T any](ctx context.Context, p *Pool, items []T, hooks worker.Hooks[T], opts ...RunOption) (Result, error) {
	src, err := shard.EvenSplit(items, p.cfg.NumProc)
	if err != nil {
		return Result{}, fmt.Errorf("consume slice: %w", err)
	}
	return Consume[T](ctx, p, src, hooks, opts...)
}
