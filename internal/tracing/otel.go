package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the single tracer every package in this module emits under.
// Spans are distinguished by span name (agent.run, store.create_thread, ...)
// rather than per-subsystem tracers.
const tracerName = "loom"

// ProviderConfig controls the process-wide tracer provider.
type ProviderConfig struct {
	// ServiceName defaults to the module tracer name when empty
	ServiceName string

	// SampleRatio is the head sampling ratio in (0, 1]; out-of-range
	// values fall back to 1. Child spans always follow their parent's
	// sampling decision.
	SampleRatio float64
}

var (
	providerOnce sync.Once
	providerMu   sync.RWMutex
	provider     *sdktrace.TracerProvider
	providerErr  error
)

// InitOpenTelemetry initializes the process-wide tracer provider. It is safe
// to call multiple times; only the first call's config takes effect.
func InitOpenTelemetry(cfg ProviderConfig) error {
	providerOnce.Do(func() {
		serviceName := cfg.ServiceName
		if serviceName == "" {
			serviceName = tracerName
		}
		ratio := cfg.SampleRatio
		if ratio <= 0 || ratio > 1 {
			ratio = 1
		}

		res, err := resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(serviceName),
			),
		)
		if err != nil {
			providerErr = err
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
			sdktrace.WithResource(res),
		)

		providerMu.Lock()
		provider = tp
		providerMu.Unlock()

		otel.SetTracerProvider(tp)
	})

	return providerErr
}

// ShutdownOpenTelemetry flushes and shuts down the tracer provider.
func ShutdownOpenTelemetry(ctx context.Context) error {
	providerMu.RLock()
	tp := provider
	providerMu.RUnlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan starts a span under the module tracer and stamps it with the
// run, agent, and thread ids carried by the tracing context. The returned
// context always carries a trace id when the span is valid.
func StartSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	attrs = append(contextAttributes(ctx), attrs...)
	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		sc := span.SpanContext()
		if sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}

// contextAttributes converts the ids on the tracing context into span
// attributes, so delegation lineage survives into exported traces.
func contextAttributes(ctx context.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if runID := GetRunID(ctx); runID != "" {
		attrs = append(attrs, attribute.String("run_id", runID))
	}
	if agent := GetAgent(ctx); agent != "" {
		attrs = append(attrs, attribute.String("agent", agent))
	}
	if threadID := GetThreadID(ctx); threadID != "" {
		attrs = append(attrs, attribute.String("thread_id", threadID))
	}
	return attrs
}
