package tracing

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// LoggerFromContext returns base annotated with the request identifiers in
// ctx. When no trace id was set explicitly, the active span's trace id is used.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	if tc.TraceID == "" {
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			tc.TraceID = sc.TraceID().String()
		}
	}

	fields := [...]struct{ key, value string }{
		{"trace_id", tc.TraceID},
		{"request_id", tc.RequestID},
		{"call_id", tc.CallID},
		{"tool", tc.Tool},
	}

	lc := base.With()
	for _, f := range fields {
		if f.value != "" {
			lc = lc.Str(f.key, f.value)
		}
	}
	return lc.Logger()
}
