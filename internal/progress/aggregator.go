package progress

import (
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// AggregatorOption customises an Aggregator.
type AggregatorOption func(*Aggregator)

// WithEmitter forwards every accepted event to emitter.
func WithEmitter(emitter Emitter) AggregatorOption {
	return func(a *Aggregator) {
		a.emitter = emitter
	}
}

// WithClock overrides the wall clock.
func WithClock(clock Clock) AggregatorOption {
	return func(a *Aggregator) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// WithRunID stamps events with the run identifier.
func WithRunID(id uuid.UUID) AggregatorOption {
	return func(a *Aggregator) {
		a.runID = id
	}
}

// WithExpected records the number of items the run should consume.
func WithExpected(n int64) AggregatorOption {
	return func(a *Aggregator) {
		a.expected = n
	}
}

// WithLogger sets the aggregator's logger.
func WithLogger(logger *zap.Logger) AggregatorOption {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// Aggregator merges per-worker event channels into one running total. Only
// the goroutine executing Run mutates it; Snapshot may be called from any
// goroutine.
type Aggregator struct {
	cases   []reflect.SelectCase
	workers []int

	runID    uuid.UUID
	expected int64
	emitter  Emitter
	clock    Clock
	logger   *zap.Logger

	started    atomic.Time
	elapsed    atomic.Duration
	total      atomic.Int64
	shards     atomic.Int64
	open       atomic.Int64
	throughput atomic.Float64
	finished   atomic.Bool
	done       chan struct{}
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

// NewAggregator prepares an aggregator over the receive ends of the worker
// channels; chans[i] belongs to worker i.
func NewAggregator(chans []<-chan Event, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		cases:   make([]reflect.SelectCase, 0, len(chans)),
		workers: make([]int, 0, len(chans)),
		clock:   wallClock{},
		logger:  zap.NewNop(),
		done:    make(chan struct{}),
	}
	for i, ch := range chans {
		a.cases = append(a.cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ch)})
		a.workers = append(a.workers, i)
	}
	for _, opt := range opts {
		opt(a)
	}
	a.open.Store(int64(len(chans)))
	a.started.Store(a.clock.Now())
	return a
}

// Run blocks until every worker channel has been closed. It must be called
// once; the sentinel of each worker is the close of its channel.
func (a *Aggregator) Run() {
	defer close(a.done)
	start := a.clock.Now()
	a.started.Store(start)

	for len(a.cases) > 0 {
		chosen, value, ok := reflect.Select(a.cases)
		if !ok {
			a.logger.Debug("worker progress closed", zap.Int("worker", a.workers[chosen]))
			a.cases = append(a.cases[:chosen], a.cases[chosen+1:]...)
			a.workers = append(a.workers[:chosen], a.workers[chosen+1:]...)
			a.open.Dec()
			continue
		}
		evt, _ := value.Interface().(Event)
		a.accept(evt, start)
	}
	a.elapsed.Store(a.clock.Now().Sub(start))
	a.finished.Store(true)
	a.logger.Debug("progress aggregation finished",
		zap.Int64("total", a.total.Load()),
		zap.Int64("shards", a.shards.Load()),
	)
}

func (a *Aggregator) accept(evt Event, start time.Time) {
	total := a.total.Add(evt.Delta)
	if evt.ShardComplete {
		a.shards.Inc()
	}
	elapsed := a.clock.Now().Sub(start)
	a.elapsed.Store(elapsed)
	if secs := elapsed.Seconds(); secs > 0 {
		a.throughput.Store(float64(total) / secs)
	}
	if a.emitter == nil {
		return
	}
	evt.RunID = UUIDToBytes(a.runID)
	if evt.TS.IsZero() {
		evt.TS = a.clock.Now()
	}
	a.emitter.Emit(evt)
}

// Done is closed when Run returns.
func (a *Aggregator) Done() <-chan struct{} {
	return a.done
}

// Wait blocks until Run returns.
func (a *Aggregator) Wait() {
	<-a.done
}

// Total returns the number of items reported so far.
func (a *Aggregator) Total() int64 {
	return a.total.Load()
}

// Snapshot returns the current totals. While running, Elapsed is measured to
// now; once finished it is frozen at the moment the last channel closed.
func (a *Aggregator) Snapshot() Snapshot {
	done := a.finished.Load()
	elapsed := a.elapsed.Load()
	if !done {
		elapsed = a.clock.Now().Sub(a.started.Load())
	}
	return Snapshot{
		RunID:           a.runID,
		Total:           a.total.Load(),
		Expected:        a.expected,
		ShardsCompleted: a.shards.Load(),
		WorkersOpen:     int(a.open.Load()),
		Elapsed:         elapsed,
		Throughput:      a.throughput.Load(),
		Done:            done,
	}
}
