package observe

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// scope names the instrumentation scope of every jarvis span and instrument.
const scope = "github.com/MrWong99/jarvis"

// Tracer returns the jarvis tracer from the global provider installed by
// [InitProvider]. Before that it is a no-op tracer.
func Tracer() trace.Tracer { return otel.Tracer(scope) }

// StartSpan starts a span named after a pipeline stage ("gateway.dispatch",
// "inference.stream", ...). The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// SpanError marks span as failed with err. Cancellation is a barge-in, not a
// failure, so context.Canceled leaves the span status untouched.
func SpanError(span trace.Span, err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// CorrelationID is the hex trace ID of the span in ctx, or "" without one.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger, tagged with trace_id and span_id when
// ctx carries a recording span so log lines can be joined with traces.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	attrs := []any{slog.String("trace_id", sc.TraceID().String())}
	if sc.HasSpanID() {
		attrs = append(attrs, slog.String("span_id", sc.SpanID().String()))
	}
	return slog.Default().With(attrs...)
}
