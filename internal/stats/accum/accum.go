// Package accum contains statistic producers: small types that register an
// initial value in session registries and record observations through a
// stats.Manager broadcast, so the producing code never touches locks.
package accum

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/montanaflynn/stats"

	sessions "github.com/JakeFAU/shardkit/internal/stats"
)

// Broadcaster is the part of stats.Manager producers depend on.
type Broadcaster interface {
	Broadcast(ctx context.Context, key string, fn func(old any) (any, error)) (sessions.WriteResult, error)
}

// Registrar is satisfied by stats.Session and stats.Registry.
type Registrar interface {
	Register(ctx context.Context, key string, initial any) error
}

// RegisterAll registers every producer in each target.
func RegisterAll(ctx context.Context, producers []Producer, targets ...Registrar) error {
	for _, target := range targets {
		for _, p := range producers {
			if err := p.Register(ctx, target); err != nil {
				return err
			}
		}
	}
	return nil
}

// Producer is implemented by every statistic type in this package.
type Producer interface {
	Key() string
	Register(ctx context.Context, target Registrar) error
}

func typeError(key string, got any, want string) error {
	return fmt.Errorf("statistic %q holds %T, want %s", key, got, want)
}

// Counter is an int64 running sum.
type Counter struct {
	key string
	out Broadcaster
}

// NewCounter creates a counter writing key through out.
func NewCounter(out Broadcaster, key string) *Counter {
	return &Counter{key: key, out: out}
}

// Key returns the statistic key.
func (c *Counter) Key() string { return c.key }

// Register stores a zero count.
func (c *Counter) Register(ctx context.Context, target Registrar) error {
	return target.Register(ctx, c.key, int64(0))
}

// Add increments the count in every active session.
func (c *Counter) Add(ctx context.Context, n int64) (sessions.WriteResult, error) {
	return c.out.Broadcast(ctx, c.key, func(old any) (any, error) {
		v, ok := old.(int64)
		if !ok {
			return nil, typeError(c.key, old, "int64")
		}
		return v + n, nil
	})
}

// HistogramValue is the stored state of a Histogram. Counts has one slot per
// bound plus an overflow slot.
type HistogramValue struct {
	Bounds []float64
	Counts []int64
	Count  int64
	Sum    float64
}

// Histogram counts observations into fixed upper-bound buckets.
type Histogram struct {
	key    string
	bounds []float64
	out    Broadcaster
}

// NewHistogram creates a histogram with the given bucket upper bounds.
func NewHistogram(out Broadcaster, key string, bounds []float64) *Histogram {
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	return &Histogram{key: key, bounds: sorted, out: out}
}

// Key returns the statistic key.
func (h *Histogram) Key() string { return h.key }

// Register stores an empty histogram.
func (h *Histogram) Register(ctx context.Context, target Registrar) error {
	return target.Register(ctx, h.key, HistogramValue{
		Bounds: append([]float64(nil), h.bounds...),
		Counts: make([]int64, len(h.bounds)+1),
	})
}

// Observe adds v to its bucket in every active session.
func (h *Histogram) Observe(ctx context.Context, v float64) (sessions.WriteResult, error) {
	return h.out.Broadcast(ctx, h.key, func(old any) (any, error) {
		hv, ok := old.(HistogramValue)
		if !ok {
			return nil, typeError(h.key, old, "HistogramValue")
		}
		hv.Counts[sort.SearchFloat64s(hv.Bounds, v)]++
		hv.Count++
		hv.Sum += v
		return hv, nil
	})
}

// MeanStdValue is Welford's running mean and sum of squared deviations.
type MeanStdValue struct {
	Count int64
	Mean  float64
	M2    float64
}

// Variance returns the sample variance, zero for fewer than two observations.
func (v MeanStdValue) Variance() float64 {
	if v.Count < 2 {
		return 0
	}
	return v.M2 / float64(v.Count-1)
}

// StdDev returns the sample standard deviation.
func (v MeanStdValue) StdDev() float64 {
	return math.Sqrt(v.Variance())
}

// MeanStd tracks a running mean and standard deviation.
type MeanStd struct {
	key string
	out Broadcaster
}

// NewMeanStd creates a running mean/std statistic.
func NewMeanStd(out Broadcaster, key string) *MeanStd {
	return &MeanStd{key: key, out: out}
}

// Key returns the statistic key.
func (m *MeanStd) Key() string { return m.key }

// Register stores an empty accumulator.
func (m *MeanStd) Register(ctx context.Context, target Registrar) error {
	return target.Register(ctx, m.key, MeanStdValue{})
}

// Observe folds x into every active session's accumulator.
func (m *MeanStd) Observe(ctx context.Context, x float64) (sessions.WriteResult, error) {
	return m.out.Broadcast(ctx, m.key, func(old any) (any, error) {
		v, ok := old.(MeanStdValue)
		if !ok {
			return nil, typeError(m.key, old, "MeanStdValue")
		}
		v.Count++
		delta := x - v.Mean
		v.Mean += delta / float64(v.Count)
		v.M2 += delta * (x - v.Mean)
		return v, nil
	})
}

// DistributionValue keeps a uniform reservoir sample of observations.
type DistributionValue struct {
	Samples []float64
	Seen    int64
	Cap     int
}

// Summary describes a sample distribution.
type Summary struct {
	Count  int64   `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P90    float64 `json:"p90"`
	P99    float64 `json:"p99"`
	StdDev float64 `json:"stddev"`
}

// Summarize computes order statistics over the reservoir.
func (v DistributionValue) Summarize() (Summary, error) {
	out := Summary{Count: v.Seen}
	if len(v.Samples) == 0 {
		return out, nil
	}
	data := stats.Float64Data(v.Samples)
	var err error
	if out.Min, err = data.Min(); err != nil {
		return out, fmt.Errorf("min: %w", err)
	}
	if out.Max, err = data.Max(); err != nil {
		return out, fmt.Errorf("max: %w", err)
	}
	if out.Mean, err = data.Mean(); err != nil {
		return out, fmt.Errorf("mean: %w", err)
	}
	if out.Median, err = data.Median(); err != nil {
		return out, fmt.Errorf("median: %w", err)
	}
	if out.P90, err = data.Percentile(90); err != nil {
		return out, fmt.Errorf("p90: %w", err)
	}
	if out.P99, err = data.Percentile(99); err != nil {
		return out, fmt.Errorf("p99: %w", err)
	}
	if out.StdDev, err = data.StandardDeviation(); err != nil {
		return out, fmt.Errorf("stddev: %w", err)
	}
	return out, nil
}

// Distribution samples observations into a bounded reservoir.
type Distribution struct {
	key      string
	capacity int
	out      Broadcaster
}

// NewDistribution creates a reservoir of at most capacity samples.
func NewDistribution(out Broadcaster, key string, capacity int) *Distribution {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Distribution{key: key, capacity: capacity, out: out}
}

// Key returns the statistic key.
func (d *Distribution) Key() string { return d.key }

// Register stores an empty reservoir.
func (d *Distribution) Register(ctx context.Context, target Registrar) error {
	return target.Register(ctx, d.key, DistributionValue{Cap: d.capacity})
}

// Observe offers x to every active session's reservoir.
func (d *Distribution) Observe(ctx context.Context, x float64) (sessions.WriteResult, error) {
	return d.out.Broadcast(ctx, d.key, func(old any) (any, error) {
		v, ok := old.(DistributionValue)
		if !ok {
			return nil, typeError(d.key, old, "DistributionValue")
		}
		v.Seen++
		if len(v.Samples) < v.Cap {
			v.Samples = append(v.Samples, x)
			return v, nil
		}
		if j := rand.Int64N(v.Seen); j < int64(v.Cap) {
			v.Samples[j] = x
		}
		return v, nil
	})
}
