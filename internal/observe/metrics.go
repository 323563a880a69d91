// Package observe instruments jarvis with OpenTelemetry.
//
// [Metrics] holds the per-stage latency histograms and the pipeline counters,
// exported in Prometheus format by [InitProvider]. [StartSpan] and [Logger]
// tie spans and log lines together, and [Middleware] wraps the control
// server. Tests build [Metrics] on their own meter provider with
// [NewMetrics].
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)


// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks recognition latency per utterance.
	STTDuration metric.Float64Histogram

	// LLMFirstToken tracks time from request to the first streamed delta.
	LLMFirstToken metric.Float64Histogram

	// LLMDuration tracks full inference stream duration.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks synthesis latency per sentence.
	TTSDuration metric.Float64Histogram

	// GatewayDuration tracks specialist dispatch latency. Use with attributes:
	//   attribute.String("agent", ...), attribute.String("status", ...)
	GatewayDuration metric.Float64Histogram

	// BargeInDuration tracks the time from barge-in to Listening.
	BargeInDuration metric.Float64Histogram

	// --- Counters ---

	// Utterances counts closed utterances. Use with attribute:
	//   attribute.String("outcome", ...) (routed, local, meta, empty, failed)
	Utterances metric.Int64Counter

	// Routes counts route decisions. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("agent", ...)
	Routes metric.Int64Counter

	// BargeIns counts barge-ins. Use with attribute:
	//   attribute.String("reason", ...)
	BargeIns metric.Int64Counter

	// Handoffs counts side-channel hand-offs. Use with attribute:
	//   attribute.String("reason", ...)
	Handoffs metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// PipelineState reports the orchestrator state as its ordinal.
	PipelineState metric.Int64Gauge

	// BreakerState reports circuit breaker states (0 closed, 1 open,
	// 2 half-open). Use with attribute:
	//   attribute.String("breaker", ...)
	BreakerState metric.Int64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(scope)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "jarvis.stt.duration", "Latency of speech recognition."},
		{&met.LLMFirstToken, "jarvis.llm.first_token", "Time to the first streamed inference delta."},
		{&met.LLMDuration, "jarvis.llm.duration", "Duration of an inference stream."},
		{&met.TTSDuration, "jarvis.tts.duration", "Latency of speech synthesis per sentence."},
		{&met.GatewayDuration, "jarvis.gateway.duration", "Latency of specialist dispatch."},
		{&met.BargeInDuration, "jarvis.bargein.duration", "Time from barge-in to listening."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	// Counters.
	if met.Utterances, err = m.Int64Counter("jarvis.utterances",
		metric.WithDescription("Total utterances by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Routes, err = m.Int64Counter("jarvis.routes",
		metric.WithDescription("Total route decisions by kind and agent."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("jarvis.bargeins",
		metric.WithDescription("Total barge-ins by reason."),
	); err != nil {
		return nil, err
	}
	if met.Handoffs, err = m.Int64Counter("jarvis.handoffs",
		metric.WithDescription("Total side-channel hand-offs by reason."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("jarvis.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("jarvis.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.PipelineState, err = m.Int64Gauge("jarvis.pipeline.state",
		metric.WithDescription("Current orchestrator state."),
	); err != nil {
		return nil, err
	}
	if met.BreakerState, err = m.Int64Gauge("jarvis.breaker.state",
		metric.WithDescription("Circuit breaker state: 0 closed, 1 open, 2 half-open."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("jarvis.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordUtterance counts one utterance with its outcome.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordRoute counts one route decision. agent is empty for local answers.
func (m *Metrics) RecordRoute(ctx context.Context, kind, agent string) {
	m.Routes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("agent", agent),
		),
	)
}

// RecordBargeIn counts one barge-in and how long the pipeline took to get
// back to listening.
func (m *Metrics) RecordBargeIn(ctx context.Context, reason string, took time.Duration) {
	m.BargeIns.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.BargeInDuration.Record(ctx, took.Seconds())
}

// RecordGateway records one specialist dispatch.
func (m *Metrics) RecordGateway(ctx context.Context, agent, status string, took time.Duration) {
	m.GatewayDuration.Record(ctx, took.Seconds(),
		metric.WithAttributes(
			attribute.String("agent", agent),
			attribute.String("status", status),
		),
	)
}

// RecordHandoff counts one side-channel hand-off.
func (m *Metrics) RecordHandoff(ctx context.Context, reason string) {
	m.Handoffs.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordBreakerState reports the state ordinal of a named circuit breaker.
func (m *Metrics) RecordBreakerState(ctx context.Context, breaker string, state int64) {
	m.BreakerState.Record(ctx, state, metric.WithAttributes(attribute.String("breaker", breaker)))
}
