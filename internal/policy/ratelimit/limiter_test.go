package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/JakeFAU/shardkit/internal/worker"
)

type delays struct {
	mu   sync.Mutex
	keys []string
}

func (d *delays) RateLimitDelayed(key string, _ time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys = append(d.keys, key)
}

func TestLimiter_Wait(t *testing.T) {
	t.Parallel()

	obs := &delays{}
	// 10 per second = one token every 100ms, starting with one.
	l := New(Config{PerSecond: 10, Burst: 1}, obs)
	ctx := context.Background()

	start := time.Now()
	if err := l.Wait(ctx, "a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Logf("warning: first wait took %v", time.Since(start))
	}

	start = time.Now()
	if err := l.Wait(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}

	// A different key has its own bucket.
	start = time.Now()
	if err := l.Wait(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur > 50*time.Millisecond {
		t.Errorf("expected key b to start with a token, waited %v", dur)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.keys) != 1 || obs.keys[0] != "a" {
		t.Fatalf("expected one delay on key a, got %v", obs.keys)
	}
}

func TestLimiter_WaitCancelled(t *testing.T) {
	t.Parallel()

	l := New(Config{PerSecond: 0.001, Burst: 1}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := l.Wait(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := l.Wait(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWrapUnlimitedReturnsInner(t *testing.T) {
	t.Parallel()

	inner := worker.HookFuncs[int]{}
	if got := Wrap[int](inner, New(Config{}, nil), nil); !isInner(got) {
		t.Fatalf("expected unlimited wrap to return inner hooks, got %T", got)
	}
	if got := Wrap[int](inner, nil, nil); !isInner(got) {
		t.Fatalf("expected nil limiter wrap to return inner hooks, got %T", got)
	}
}

func isInner(h worker.Hooks[int]) bool {
	_, ok := h.(worker.HookFuncs[int])
	return ok
}

func TestWrapThrottlesConsume(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var consumed []int
	var events []string
	inner := worker.HookFuncs[int]{
		Initialize: func(context.Context, int) error { events = append(events, "init"); return nil },
		Consume: func(_ context.Context, _, _ int, item int) error {
			mu.Lock()
			defer mu.Unlock()
			consumed = append(consumed, item)
			return nil
		},
		Finalize: func(context.Context, int) error { events = append(events, "finalize"); return nil },
	}
	obs := &delays{}
	h := Wrap[int](inner, New(Config{PerSecond: 20, Burst: 1}, obs), PerShard)
	ctx := context.Background()

	if err := h.InitializeWorker(ctx, 0); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	for i := range 3 {
		if err := h.ConsumeExample(ctx, 7, i, i*10); err != nil {
			t.Fatal(err)
		}
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected two throttled waits (~100ms), got %v", dur)
	}
	if err := h.FinalizeWorker(ctx, 0); err != nil {
		t.Fatal(err)
	}

	if len(consumed) != 3 || consumed[2] != 20 {
		t.Fatalf("unexpected consumed items %v", consumed)
	}
	if len(events) != 2 {
		t.Fatalf("expected init and finalize to pass through, got %v", events)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	for _, key := range obs.keys {
		if key != "shard-7" {
			t.Fatalf("expected shard-7 bucket, got %q", key)
		}
	}
}
