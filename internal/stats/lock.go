package stats

import (
	"context"
	"fmt"

	"go.uber.org/atomic"
)

// Lock guards a single statistic key. It is reentrant through the context
// returned by Lock: calls made with that context (including Registry Get/Set)
// do not block on the lock again.
type Lock struct {
	key string
	sem chan struct{}
}

type holdKey struct{ lock *Lock }

type hold struct {
	depth atomic.Int32
}

func newLock(key string) *Lock {
	return &Lock{key: key, sem: make(chan struct{}, 1)}
}

// Key returns the statistic key the lock guards.
func (l *Lock) Key() string {
	return l.key
}

// Lock acquires the lock and returns a context that records the hold. Pass the
// returned context to Unlock and to any nested call that must see the hold.
func (l *Lock) Lock(ctx context.Context) (context.Context, error) {
	h, ok := ctx.Value(holdKey{l}).(*hold)
	if ok && h.depth.Load() > 0 {
		h.depth.Inc()
		return ctx, nil
	}
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx, fmt.Errorf("lock %q: %w", l.key, ctx.Err())
	}
	// A released hold left in ctx may be shared by other goroutines; each
	// acquisition gets its own record.
	h = &hold{}
	h.depth.Store(1)
	return context.WithValue(ctx, holdKey{l}, h), nil
}

// Unlock releases one level of the hold recorded in ctx. It panics when ctx
// does not hold the lock.
func (l *Lock) Unlock(ctx context.Context) {
	h, ok := ctx.Value(holdKey{l}).(*hold)
	if !ok || h.depth.Load() <= 0 {
		panic(fmt.Sprintf("stats: unlock of unheld lock %q", l.key))
	}
	if h.depth.Dec() == 0 {
		<-l.sem
	}
}

// Held reports whether ctx currently holds the lock.
func (l *Lock) Held(ctx context.Context) bool {
	h, ok := ctx.Value(holdKey{l}).(*hold)
	return ok && h.depth.Load() > 0
}
