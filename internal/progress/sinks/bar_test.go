package sinks

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shardkit/internal/progress"
)

func TestBarSinkAdvances(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	sink := NewBarSink(BarOptions{
		Enabled:     true,
		Description: "consuming",
		Total:       100,
		Writer:      &out,
	})

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{Delta: 30}, {Delta: 20}}))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{ShardComplete: true}}))
	require.EqualValues(t, 50, sink.Current())

	require.NoError(t, sink.Close(context.Background()))
	require.Contains(t, out.String(), "consuming")
}

func TestBarSinkDisabled(t *testing.T) {
	t.Parallel()

	sink := NewBarSink(BarOptions{})
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{Delta: 3}}))
	require.Zero(t, sink.Current())
	require.NoError(t, sink.Close(context.Background()))
}
