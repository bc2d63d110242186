package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracerInstallsGlobalProvider(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tp, err := InitTracer(ctx, "mythosmud-test", "127.0.0.1:4317")
	require.NoError(t, err)
	require.NotNil(t, tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	tracer := tp.Tracer("test")
	_, span := tracer.Start(ctx, "test-span")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
}
