package proc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromDefaultsToRoot(t *testing.T) {
	t.Parallel()

	require.Equal(t, Root, From(context.Background()))

	ctx, id := Fork(context.Background())
	require.NotEqual(t, Root, id)
	require.Equal(t, id, From(ctx))
}

// TestGateExecuteFromHomeSpawnsChild covers the home-process path: the callable
// runs in a child context and its value comes back to the caller.
func TestGateExecuteFromHomeSpawnsChild(t *testing.T) {
	t.Parallel()

	home := context.Background()
	gate := NewGate(home, nil, nil)

	var ranIn ID
	got, err := gate.Execute(home, func(ctx context.Context) (any, error) {
		ranIn = From(ctx)
		return 21 * 2, nil
	}, true)
	require.NoError(t, err)
	require.Equal(t, 42, got)
	require.NotEqual(t, gate.Home(), ranIn)
	require.EqualValues(t, 1, gate.Spawned())
}

// TestGateExecuteFromChildRunsInline simulates a caller that is already a child
// of the home context: the same value comes back and nothing new is spawned.
func TestGateExecuteFromChildRunsInline(t *testing.T) {
	t.Parallel()

	home := context.Background()
	gate := NewGate(home, nil, nil)
	childCtx, child := Fork(home)

	var ranIn ID
	got, err := gate.Execute(childCtx, func(ctx context.Context) (any, error) {
		ranIn = From(ctx)
		return 42, nil
	}, true)
	require.NoError(t, err)
	require.Equal(t, 42, got)
	require.Equal(t, child, ranIn)
	require.Zero(t, gate.Spawned())
}

func TestGateExecuteWithoutOutput(t *testing.T) {
	t.Parallel()

	gate := NewGate(context.Background(), nil, nil)
	called := false
	got, err := gate.Execute(context.Background(), func(context.Context) (any, error) {
		called = true
		return "ignored", nil
	}, false)
	require.NoError(t, err)
	require.Nil(t, got)
	require.True(t, called)
}

func TestGateExecutePropagatesErrorsAndPanics(t *testing.T) {
	t.Parallel()

	gate := NewGate(context.Background(), nil, nil)
	boom := errors.New("boom")

	_, err := gate.Execute(context.Background(), func(context.Context) (any, error) {
		return nil, boom
	}, true)
	require.ErrorIs(t, err, boom)

	_, err = gate.Execute(context.Background(), func(context.Context) (any, error) {
		panic("kaput")
	}, true)
	require.ErrorContains(t, err, "kaput")
}

type countingObserver struct{ n int }

func (c *countingObserver) GateSpawned() { c.n++ }

func TestGateNotifiesObserver(t *testing.T) {
	t.Parallel()

	obs := &countingObserver{}
	gate := NewGate(context.Background(), obs, nil)
	_, err := gate.Execute(context.Background(), func(context.Context) (any, error) { return nil, nil }, false)
	require.NoError(t, err)
	require.Equal(t, 1, obs.n)
}
