// Package worker implements the consume loop run by each member of a pool:
// pull shard ids from the shared queue, feed every item of the shard to the
// hooks, and report throttled progress deltas on a private channel.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/shardkit/internal/clock/system"
	"github.com/JakeFAU/shardkit/internal/progress"
	"github.com/JakeFAU/shardkit/internal/queue"
	"github.com/JakeFAU/shardkit/internal/shard"
)

// Defaults applied by Config.WithDefaults.
const (
	DefaultThrottleInterval = 20 * time.Millisecond
	DefaultPopWait          = time.Second
)

// Config controls Worker behavior.
type Config struct {
	// ThrottleInterval is the minimum time between two progress deltas for
	// the same shard. Shard boundaries always emit.
	ThrottleInterval time.Duration
	// PopWait bounds how long a worker waits for a shard id.
	PopWait time.Duration
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	if c.ThrottleInterval <= 0 {
		c.ThrottleInterval = DefaultThrottleInterval
	}
	if c.PopWait <= 0 {
		c.PopWait = DefaultPopWait
	}
	return c
}

// Clock abstracts wall time for throttling.
type Clock interface {
	Now() time.Time
}

// Observer is notified about worker lifecycle transitions. Implementations
// must be safe for concurrent use.
type Observer interface {
	WorkerStarted(worker int)
	WorkerStopped(worker int)
	WorkerFailed(worker int, phase Phase)
	ShardCompleted(worker, shard int, items int64, elapsed time.Duration)
}

// NopObserver ignores every notification.
type NopObserver struct{}

// WorkerStarted implements Observer.
func (NopObserver) WorkerStarted(int) {}

// WorkerStopped implements Observer.
func (NopObserver) WorkerStopped(int) {}

// WorkerFailed implements Observer.
func (NopObserver) WorkerFailed(int, Phase) {}

// ShardCompleted implements Observer.
func (NopObserver) ShardCompleted(int, int, int64, time.Duration) {}

// Option customises a Worker.
type Option func(*options)

type options struct {
	clock    Clock
	observer Observer
	logger   *zap.Logger
}

// WithClock overrides the wall clock.
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithObserver registers a lifecycle observer.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithLogger sets the worker's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Worker consumes shards from a queue. It is single-use: Run closes the
// events channel on return.
type Worker[T any] struct {
	index  int
	queue  queue.Popper
	source shard.Source[T]
	hooks  Hooks[T]
	events chan<- progress.Event
	cfg    Config
	options
}

// New constructs a Worker. events is the worker's private progress channel;
// the worker owns its send end and closes it when Run returns.
func New[T any](
	index int,
	q queue.Popper,
	src shard.Source[T],
	hooks Hooks[T],
	events chan<- progress.Event,
	cfg Config,
	opts ...Option,
) *Worker[T] {
	o := options{
		clock:    system.New(),
		observer: NopObserver{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With(zap.Int("worker", index))
	return &Worker[T]{
		index:   index,
		queue:   q,
		source:  src,
		hooks:   hooks,
		events:  events,
		cfg:     cfg.WithDefaults(),
		options: o,
	}
}

// Index returns the worker's position in its pool.
func (w *Worker[T]) Index() int {
	return w.index
}

// Run blocks until the queue runs dry, ctx ends, or a hook fails. Whatever
// the exit path, the events channel is closed and, once InitializeWorker has
// succeeded, FinalizeWorker runs. Hook errors and panics come back as
// *Failure; cancellation comes back wrapping ctx.Err().
func (w *Worker[T]) Run(ctx context.Context) (err error) {
	defer close(w.events)
	ctx = WithIndex(ctx, w.index)

	w.observer.WorkerStarted(w.index)
	defer func() {
		var failure *Failure
		if errors.As(err, &failure) {
			w.observer.WorkerFailed(w.index, failure.Phase)
			w.logger.Error("worker failed", zap.Error(err))
		}
		w.observer.WorkerStopped(w.index)
	}()

	if err := w.initialize(ctx); err != nil {
		return &Failure{Worker: w.index, Shard: -1, Index: -1, Phase: PhaseInitialize, Err: err}
	}
	defer func() {
		// Finalize must run even when ctx was cancelled by a failing sibling.
		ferr := w.finalize(context.WithoutCancel(ctx))
		if ferr != nil && err == nil {
			err = &Failure{Worker: w.index, Shard: -1, Index: -1, Phase: PhaseFinalize, Err: ferr}
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("worker %d: %w", w.index, err)
		}
		id, err := w.queue.Pop(ctx, w.cfg.PopWait)
		if queue.Exhausted(err) {
			w.logger.Debug("queue exhausted")
			return nil
		}
		if err != nil {
			return fmt.Errorf("worker %d pop: %w", w.index, err)
		}
		if err := w.consumeShard(ctx, id); err != nil {
			return err
		}
	}
}

func (w *Worker[T]) consumeShard(ctx context.Context, id int) error {
	start := w.clock.Now()
	last := start
	var pending, total int64
	emit := func(complete bool, at time.Time) {
		w.events <- progress.Event{
			Worker:        w.index,
			Shard:         id,
			ShardComplete: complete,
			Delta:         pending,
			TS:            at,
		}
		pending = 0
	}

	for idx, item := range w.source.ShardItems(id) {
		if err := ctx.Err(); err != nil {
			if pending > 0 {
				emit(false, w.clock.Now())
			}
			return fmt.Errorf("worker %d: %w", w.index, err)
		}
		if err := w.consume(ctx, id, idx, item); err != nil {
			if pending > 0 {
				emit(false, w.clock.Now())
			}
			return &Failure{Worker: w.index, Shard: id, Index: idx, Phase: PhaseConsume, Err: err}
		}
		pending++
		total++
		if now := w.clock.Now(); now.Sub(last) > w.cfg.ThrottleInterval {
			emit(false, now)
			last = now
		}
	}
	end := w.clock.Now()
	emit(true, end)
	w.observer.ShardCompleted(w.index, id, total, end.Sub(start))
	w.logger.Debug("shard consumed", zap.Int("shard", id), zap.Int64("items", total))
	return nil
}

func (w *Worker[T]) consume(ctx context.Context, id, idx int, item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recovered(r)
		}
	}()
	return w.hooks.ConsumeExample(ctx, id, idx, item)
}

func (w *Worker[T]) initialize(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recovered(r)
		}
	}()
	return w.hooks.InitializeWorker(ctx, w.index)
}

func (w *Worker[T]) finalize(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recovered(r)
		}
	}()
	return w.hooks.FinalizeWorker(ctx, w.index)
}
