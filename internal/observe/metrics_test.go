package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// meterHarness records into a private meter provider.
type meterHarness struct {
	*Metrics
	t      *testing.T
	reader *sdkmetric.ManualReader
}

func newMeterHarness(t *testing.T) *meterHarness {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return &meterHarness{Metrics: m, t: t, reader: reader}
}

func (h *meterHarness) collect() metricdata.ResourceMetrics {
	h.t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		h.t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func matches(set attribute.Set, want map[string]string) bool {
	for k, v := range want {
		got, ok := set.Value(attribute.Key(k))
		if !ok || got.AsString() != v {
			return false
		}
	}
	return true
}

// count returns the counter value, or histogram sample count, of the series
// of name whose attributes include want.
func (h *meterHarness) count(rm metricdata.ResourceMetrics, name string, want map[string]string) int64 {
	h.t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		h.t.Fatalf("%s not recorded", name)
	}
	switch d := met.Data.(type) {
	case metricdata.Sum[int64]:
		for _, dp := range d.DataPoints {
			if matches(dp.Attributes, want) {
				return dp.Value
			}
		}
	case metricdata.Histogram[float64]:
		for _, dp := range d.DataPoints {
			if matches(dp.Attributes, want) {
				return int64(dp.Count)
			}
		}
	default:
		h.t.Fatalf("%s has unexpected type %T", name, met.Data)
	}
	return 0
}

func (h *meterHarness) gauge(rm metricdata.ResourceMetrics, name string, want map[string]string) int64 {
	h.t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		h.t.Fatalf("%s not recorded", name)
	}
	g, ok := met.Data.(metricdata.Gauge[int64])
	if !ok {
		h.t.Fatalf("%s is %T, want int64 gauge", name, met.Data)
	}
	for _, dp := range g.DataPoints {
		if matches(dp.Attributes, want) {
			return dp.Value
		}
	}
	h.t.Fatalf("%s has no series %v", name, want)
	return 0
}

func TestMetrics_ConversationalTurn(t *testing.T) {
	h := newMeterHarness(t)
	ctx := context.Background()

	// One utterance answered locally: recognize, stream, two spoken sentences.
	h.STTDuration.Record(ctx, 0.31)
	h.RecordRoute(ctx, "local", "")
	h.RecordProviderRequest(ctx, "ollama", "llm", "ok")
	h.LLMFirstToken.Record(ctx, 0.22)
	h.LLMDuration.Record(ctx, 1.4)
	h.TTSDuration.Record(ctx, 0.12)
	h.TTSDuration.Record(ctx, 0.09)
	h.RecordUtterance(ctx, "local")

	rm := h.collect()
	for _, c := range []struct {
		name  string
		attrs map[string]string
		want  int64
	}{
		{"jarvis.stt.duration", nil, 1},
		{"jarvis.llm.first_token", nil, 1},
		{"jarvis.llm.duration", nil, 1},
		{"jarvis.tts.duration", nil, 2},
		{"jarvis.routes", map[string]string{"kind": "local", "agent": ""}, 1},
		{"jarvis.provider.requests", map[string]string{"provider": "ollama", "kind": "llm", "status": "ok"}, 1},
		{"jarvis.utterances", map[string]string{"outcome": "local"}, 1},
	} {
		if got := h.count(rm, c.name, c.attrs); got != c.want {
			t.Errorf("%s%v = %d, want %d", c.name, c.attrs, got, c.want)
		}
	}
}

func TestMetrics_RoutedTurns(t *testing.T) {
	h := newMeterHarness(t)
	ctx := context.Background()

	h.RecordRoute(ctx, "specialist", "system-guardian")
	h.RecordGateway(ctx, "system-guardian", "ok", 800*time.Millisecond)
	h.RecordRoute(ctx, "specialist", "deal-scanner")
	h.RecordGateway(ctx, "deal-scanner", "timeout", 10*time.Second)
	h.RecordHandoff(ctx, "timeout")
	h.RecordRoute(ctx, "specialist", "system-guardian")
	h.RecordGateway(ctx, "system-guardian", "ok", 600*time.Millisecond)

	rm := h.collect()
	if got := h.count(rm, "jarvis.routes", map[string]string{"agent": "system-guardian"}); got != 2 {
		t.Errorf("system-guardian routes = %d, want 2", got)
	}
	if got := h.count(rm, "jarvis.gateway.duration", map[string]string{"agent": "system-guardian", "status": "ok"}); got != 2 {
		t.Errorf("system-guardian ok dispatches = %d, want 2", got)
	}
	if got := h.count(rm, "jarvis.gateway.duration", map[string]string{"agent": "deal-scanner", "status": "timeout"}); got != 1 {
		t.Errorf("deal-scanner timeouts = %d, want 1", got)
	}
	if got := h.count(rm, "jarvis.handoffs", map[string]string{"reason": "timeout"}); got != 1 {
		t.Errorf("handoffs = %d, want 1", got)
	}
}

func TestMetrics_BargeInAndErrors(t *testing.T) {
	h := newMeterHarness(t)
	ctx := context.Background()

	h.RecordBargeIn(ctx, "speech", 40*time.Millisecond)
	h.RecordBargeIn(ctx, "speech", 55*time.Millisecond)
	h.RecordBargeIn(ctx, "activation", 20*time.Millisecond)
	h.RecordProviderRequest(ctx, "ollama", "llm", "error")
	h.RecordProviderError(ctx, "ollama", "llm")

	rm := h.collect()
	if got := h.count(rm, "jarvis.bargeins", map[string]string{"reason": "speech"}); got != 2 {
		t.Errorf("speech barge-ins = %d, want 2", got)
	}
	if got := h.count(rm, "jarvis.bargein.duration", nil); got != 3 {
		t.Errorf("barge-in latency samples = %d, want 3", got)
	}
	if got := h.count(rm, "jarvis.provider.errors", map[string]string{"provider": "ollama"}); got != 1 {
		t.Errorf("provider errors = %d, want 1", got)
	}
}

func TestMetrics_Gauges(t *testing.T) {
	h := newMeterHarness(t)
	ctx := context.Background()

	h.PipelineState.Record(ctx, 1)
	h.PipelineState.Record(ctx, 4)
	h.RecordBreakerState(ctx, "gateway", 1)
	h.RecordBreakerState(ctx, "ollama", 2)
	h.RecordBreakerState(ctx, "gateway", 0)

	rm := h.collect()
	if got := h.gauge(rm, "jarvis.pipeline.state", nil); got != 4 {
		t.Errorf("pipeline state = %d, want the last recorded value", got)
	}
	if got := h.gauge(rm, "jarvis.breaker.state", map[string]string{"breaker": "gateway"}); got != 0 {
		t.Errorf("gateway breaker = %d, want 0", got)
	}
	if got := h.gauge(rm, "jarvis.breaker.state", map[string]string{"breaker": "ollama"}); got != 2 {
		t.Errorf("ollama breaker = %d, want 2", got)
	}
}
