package proc

import (
	"context"
	"fmt"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Func is the callable executed by a Gate.
type Func func(ctx context.Context) (any, error)

// SpawnObserver is notified each time a Gate starts a child context.
type SpawnObserver interface {
	GateSpawned()
}

// Gate guarantees that a callable runs inside a child of the gate's home
// context without nesting children: calls that already come from a child run
// inline.
type Gate struct {
	home     ID
	spawned  atomic.Int64
	observer SpawnObserver
	logger   *zap.Logger
}

// NewGate records the ID carried by ctx as the gate's home.
func NewGate(ctx context.Context, observer SpawnObserver, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		home:     From(ctx),
		observer: observer,
		logger:   logger,
	}
}

// Home returns the ID the gate was created in.
func (g *Gate) Home() ID {
	return g.home
}

// Spawned reports how many child contexts the gate has started.
func (g *Gate) Spawned() int64 {
	return g.spawned.Load()
}

type gateResult struct {
	value any
	err   error
}

// Execute runs fn. From the home context it starts a short-lived child with a
// fresh ID, waits for it and reads the result from a single-slot channel.
// From any other context fn is called directly. When returnOutput is false
// the value is discarded but errors still propagate.
func (g *Gate) Execute(ctx context.Context, fn Func, returnOutput bool) (any, error) {
	if From(ctx) != g.home {
		value, err := fn(ctx)
		if !returnOutput {
			value = nil
		}
		return value, err
	}

	childCtx, child := Fork(ctx)
	g.spawned.Inc()
	if g.observer != nil {
		g.observer.GateSpawned()
	}
	g.logger.Debug("gate spawning child", zap.Uint64("home", uint64(g.home)), zap.Uint64("child", uint64(child)))

	out := make(chan gateResult, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				out <- gateResult{err: fmt.Errorf("gate child %d panicked: %v", child, r)}
			}
		}()
		value, err := fn(childCtx)
		if !returnOutput {
			value = nil
		}
		out <- gateResult{value: value, err: err}
	}()
	<-done

	res := <-out
	if res.err != nil {
		return nil, fmt.Errorf("gate child %d: %w", child, res.err)
	}
	return res.value, nil
}
