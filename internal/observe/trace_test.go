package observe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useRecordingTracer installs an in-memory tracer provider globally for the
// duration of the test.
func useRecordingTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestStartSpan_NestsStages(t *testing.T) {
	exp := useRecordingTracer(t)

	ctx, turn := StartSpan(context.Background(), "pipeline.turn")
	_, dispatch := StartSpan(ctx, "gateway.dispatch")
	dispatch.End()
	turn.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	child, parent := spans[0], spans[1]
	if child.Name != "gateway.dispatch" || parent.Name != "pipeline.turn" {
		t.Fatalf("span order = %q, %q", child.Name, parent.Name)
	}
	if child.Parent.SpanID() != parent.SpanContext.SpanID() {
		t.Error("dispatch span is not a child of the turn span")
	}
	if child.InstrumentationScope.Name != "github.com/MrWong99/jarvis" {
		t.Errorf("scope = %q", child.InstrumentationScope.Name)
	}
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("without span = %q, want empty", got)
	}

	useRecordingTracer(t)
	seen := make(map[string]bool)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "pipeline.recognize")
		cid := CorrelationID(ctx)
		span.End()
		if len(cid) != 32 || strings.Trim(cid, "0123456789abcdef") != "" {
			t.Fatalf("correlation ID %q is not 32 lowercase hex chars", cid)
		}
		if seen[cid] {
			t.Fatalf("duplicate correlation ID %s", cid)
		}
		seen[cid] = true
	}
}

func TestSpanError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus codes.Code
		wantEvents int
	}{
		{name: "nil", err: nil, wantStatus: codes.Unset},
		{name: "barge-in", err: context.Canceled, wantStatus: codes.Unset},
		{name: "wrapped barge-in", err: fmt.Errorf("stream: %w", context.Canceled), wantStatus: codes.Unset},
		{name: "timeout", err: context.DeadlineExceeded, wantStatus: codes.Error, wantEvents: 1},
		{name: "agent down", err: errors.New("gateway unreachable"), wantStatus: codes.Error, wantEvents: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := useRecordingTracer(t)
			_, span := StartSpan(context.Background(), "gateway.dispatch")
			SpanError(span, tt.err)
			span.End()

			got := exp.GetSpans()[0]
			if got.Status.Code != tt.wantStatus {
				t.Errorf("status = %v, want %v", got.Status.Code, tt.wantStatus)
			}
			if len(got.Events) != tt.wantEvents {
				t.Errorf("events = %d, want %d", len(got.Events), tt.wantEvents)
			}
			if tt.wantStatus == codes.Error && got.Status.Description != tt.err.Error() {
				t.Errorf("description = %q", got.Status.Description)
			}
		})
	}
}

func TestLogger(t *testing.T) {
	t.Run("inside a span", func(t *testing.T) {
		useRecordingTracer(t)
		buf := captureLog(t)

		ctx, span := StartSpan(context.Background(), "inference.stream")
		defer span.End()
		Logger(ctx).Info("first token", "agent", "jarvis")

		out := buf.String()
		want := "trace_id=" + CorrelationID(ctx)
		if !strings.Contains(out, want) {
			t.Errorf("log %q missing %s", out, want)
		}
		if !strings.Contains(out, "span_id="+span.SpanContext().SpanID().String()) {
			t.Errorf("log %q missing span_id", out)
		}
	})

	t.Run("no span", func(t *testing.T) {
		buf := captureLog(t)
		Logger(context.Background()).Info("idle")
		if strings.Contains(buf.String(), "trace_id") {
			t.Errorf("log without span carries trace attributes: %s", buf)
		}
	})
}
