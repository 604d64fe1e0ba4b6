// Package proc tracks which logical execution context ("process") a call runs
// in. Workers, gate children and the main routine each carry an ID in their
// context.Context so that owner-only operations can be enforced without
// relying on goroutine identity.
package proc

import (
	"context"

	"go.uber.org/atomic"
)

// ID identifies one logical execution context.
type ID uint64

// Root is the ID reported for contexts that never had an ID attached. It
// stands for the main routine of the binary.
const Root ID = 1

var lastID = atomic.NewUint64(uint64(Root))

type idKey struct{}

// New allocates a fresh, never reused ID.
func New() ID {
	return ID(lastID.Inc())
}

// With returns a copy of ctx that reports id from From.
func With(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, idKey{}, id)
}

// From returns the ID attached to ctx, or Root when none is attached.
func From(ctx context.Context) ID {
	if ctx == nil {
		return Root
	}
	if id, ok := ctx.Value(idKey{}).(ID); ok {
		return id
	}
	return Root
}

// Fork derives a child context carrying a newly allocated ID.
func Fork(ctx context.Context) (context.Context, ID) {
	id := New()
	return With(ctx, id), id
}
