package worker

import "context"

// Hooks are the customisation points of a consume run. InitializeWorker and
// FinalizeWorker run once per worker and are the only places that should
// acquire or release per-worker resources; ConsumeExample runs once per item.
type Hooks[T any] interface {
	InitializeWorker(ctx context.Context, worker int) error
	ConsumeExample(ctx context.Context, shard, index int, item T) error
	FinalizeWorker(ctx context.Context, worker int) error
}

// HookFuncs adapts a bundle of closures to Hooks. Nil fields are no-ops.
type HookFuncs[T any] struct {
	Initialize func(ctx context.Context, worker int) error
	Consume    func(ctx context.Context, shard, index int, item T) error
	Finalize   func(ctx context.Context, worker int) error
}

var _ Hooks[int] = HookFuncs[int]{}

// InitializeWorker implements Hooks.
func (h HookFuncs[T]) InitializeWorker(ctx context.Context, worker int) error {
	if h.Initialize == nil {
		return nil
	}
	return h.Initialize(ctx, worker)
}

// ConsumeExample implements Hooks.
func (h HookFuncs[T]) ConsumeExample(ctx context.Context, shard, index int, item T) error {
	if h.Consume == nil {
		return nil
	}
	return h.Consume(ctx, shard, index, item)
}

// FinalizeWorker implements Hooks.
func (h HookFuncs[T]) FinalizeWorker(ctx context.Context, worker int) error {
	if h.Finalize == nil {
		return nil
	}
	return h.Finalize(ctx, worker)
}

type indexKey struct{}

// WithIndex records the worker index in ctx.
func WithIndex(ctx context.Context, worker int) context.Context {
	return context.WithValue(ctx, indexKey{}, worker)
}

// IndexFrom returns the worker index stored by WithIndex.
func IndexFrom(ctx context.Context) (int, bool) {
	i, ok := ctx.Value(indexKey{}).(int)
	return i, ok
}
