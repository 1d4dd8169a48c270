package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetup_WithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{ServiceName: "catalog-test", ServiceVersion: "dev"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	_, span := Tracer().Start(context.Background(), "probe")
	defer span.End()

	require.True(t, span.SpanContext().IsValid())
	require.True(t, span.SpanContext().IsSampled())
	require.NotEmpty(t, otel.GetTextMapPropagator().Fields())
}

func TestRatio(t *testing.T) {
	require.Equal(t, 1.0, ratio(0))
	require.Equal(t, 1.0, ratio(5))
	require.Equal(t, 0.25, ratio(0.25))
}
