package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestInitOpenTelemetry_Idempotent(t *testing.T) {
	require.NoError(t, InitOpenTelemetry(ProviderConfig{ServiceName: "loom-test", SampleRatio: 1}))
	require.NoError(t, InitOpenTelemetry(ProviderConfig{ServiceName: "ignored", SampleRatio: -3}))
}

func TestStartSpan_SeedsTraceID(t *testing.T) {
	require.NoError(t, InitOpenTelemetry(ProviderConfig{ServiceName: "loom-test"}))

	ctx, span := StartSpan(context.Background(), "test.op")
	defer span.End()

	assert.NotEmpty(t, GetTraceID(ctx))
}

func TestStartSpan_KeepsExistingTraceID(t *testing.T) {
	require.NoError(t, InitOpenTelemetry(ProviderConfig{ServiceName: "loom-test"}))

	ctx := WithTraceID(context.Background(), "fixed-trace")
	ctx, span := StartSpan(ctx, "test.op")
	defer span.End()

	assert.Equal(t, "fixed-trace", GetTraceID(ctx))
}

func TestContextAttributes(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithAgent(ctx, "solver")
	ctx = WithThreadID(ctx, "thread-1")

	assert.ElementsMatch(t, []attribute.KeyValue{
		attribute.String("run_id", "run-1"),
		attribute.String("agent", "solver"),
		attribute.String("thread_id", "thread-1"),
	}, contextAttributes(ctx))

	assert.Empty(t, contextAttributes(context.Background()))
}
