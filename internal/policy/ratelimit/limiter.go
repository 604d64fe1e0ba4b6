// Package ratelimit throttles item consumption with token buckets, one per
// key, and can wrap any worker.Hooks so each item waits for a token first.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/shardkit/internal/worker"
)

// DelayObserver is told how long a caller waited for a token.
type DelayObserver interface {
	RateLimitDelayed(key string, delay time.Duration)
}

// Limiter manages one token bucket per key.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	observer DelayObserver
}

// Config holds rate limiter configuration. A non-positive PerSecond
// disables limiting.
type Config struct {
	PerSecond float64
	Burst     int
}

// New creates a new Limiter. observer may be nil.
func New(cfg Config, observer DelayObserver) *Limiter {
	r := rate.Limit(cfg.PerSecond)
	if cfg.PerSecond <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
		observer: observer,
	}
}

// Unlimited reports whether the limiter never blocks.
func (l *Limiter) Unlimited() bool {
	return l.rate == rate.Inf
}

// Wait blocks until a token for key is available or ctx ends.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	l.mu.Lock()
	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Tokens that were already available are not worth reporting.
	if d := time.Since(start); d > time.Millisecond && l.observer != nil {
		l.observer.RateLimitDelayed(key, d)
	}
	return nil
}

// KeyFunc picks the bucket for an item.
type KeyFunc func(shard, index int) string

// Global puts every item in one bucket, limiting the whole run.
func Global(int, int) string { return "all" }

// PerShard gives every shard its own bucket.
func PerShard(shard, _ int) string { return fmt.Sprintf("shard-%d", shard) }

// Hooks wraps inner so ConsumeExample waits for a token first.
type Hooks[T any] struct {
	inner   worker.Hooks[T]
	limiter *Limiter
	key     KeyFunc
}

var _ worker.Hooks[int] = (*Hooks[int])(nil)

// Wrap returns inner unchanged when l is nil or unlimited. A nil key means
// Global.
func Wrap[T any](inner worker.Hooks[T], l *Limiter, key KeyFunc) worker.Hooks[T] {
	if l == nil || l.Unlimited() {
		return inner
	}
	if key == nil {
		key = Global
	}
	return &Hooks[T]{inner: inner, limiter: l, key: key}
}

// InitializeWorker implements worker.Hooks.
func (h *Hooks[T]) InitializeWorker(ctx context.Context, w int) error {
	return h.inner.InitializeWorker(ctx, w)
}

// ConsumeExample implements worker.Hooks.
func (h *Hooks[T]) ConsumeExample(ctx context.Context, shard, index int, item T) error {
	if err := h.limiter.Wait(ctx, h.key(shard, index)); err != nil {
		return err
	}
	return h.inner.ConsumeExample(ctx, shard, index, item)
}

// FinalizeWorker implements worker.Hooks.
func (h *Hooks[T]) FinalizeWorker(ctx context.Context, w int) error {
	return h.inner.FinalizeWorker(ctx, w)
}
