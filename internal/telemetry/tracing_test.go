package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// Not parallel: the provider and propagator are process globals.
func TestInitTracerProvider(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp, err := InitTracerProvider(context.Background(), "shardkit-test", sr)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, tp.Shutdown(context.Background())) })

	ctx, span := otel.Tracer("test").Start(context.Background(), "op")
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	span.End()

	require.NotEmpty(t, carrier.Get("traceparent"))
	ended := sr.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, "op", ended[0].Name())

	var service string
	for _, kv := range ended[0].Resource().Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	require.Equal(t, "shardkit-test", service)
}
