package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggerFromContext creates a logger enriched with tracing fields from the
// given context.
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	if tc.TraceID != "" {
		baseLogger = baseLogger.With().Str("trace_id", tc.TraceID).Logger()
	}
	if tc.RunID != "" {
		baseLogger = baseLogger.With().Str("run_id", tc.RunID).Logger()
	}
	if tc.Agent != "" {
		baseLogger = baseLogger.With().Str("agent", tc.Agent).Logger()
	}
	if tc.ThreadID != "" {
		baseLogger = baseLogger.With().Str("thread_id", tc.ThreadID).Logger()
	}

	return baseLogger
}
