package telemetry

import (
	"context"
	"slices"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry keeps spans and metrics in memory.
type TestTelemetry struct {
	*Telemetry
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
}

// NewTestTelemetry returns an exporting instance whose providers record in
// memory. Components that take their tracer from the global provider need
// Install as well.
func NewTestTelemetry() *TestTelemetry {
	rec := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	return &TestTelemetry{
		Telemetry: &Telemetry{
			cfg: cfg,
			tp:  sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)),
			mp:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		},
		spans:  rec,
		reader: reader,
	}
}

// Install swaps the global providers for the recording ones until tb ends.
func (t *TestTelemetry) Install(tb testing.TB) {
	tb.Helper()
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	otel.SetTracerProvider(t.tp)
	otel.SetMeterProvider(t.mp)
	tb.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	})
}

// SpanNames lists ended spans in end order.
func (t *TestTelemetry) SpanNames() []string {
	ended := t.spans.Ended()
	names := make([]string, len(ended))
	for i, s := range ended {
		names[i] = s.Name()
	}
	return names
}

// Span returns the first ended span called name, or nil.
func (t *TestTelemetry) Span(name string) sdktrace.ReadOnlySpan {
	for _, s := range t.spans.Ended() {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// AssertSpanExists fails tb unless a span called name has ended.
func (t *TestTelemetry) AssertSpanExists(tb testing.TB, name string) {
	tb.Helper()
	if t.Span(name) == nil {
		tb.Errorf("no span %q; ended: %v", name, t.SpanNames())
	}
}

// AssertSpanAttribute fails tb unless span carries key=want. Integer
// attributes compare as int64.
func (t *TestTelemetry) AssertSpanAttribute(tb testing.TB, span, key string, want any) {
	tb.Helper()
	s := t.Span(span)
	if s == nil {
		tb.Errorf("no span %q; ended: %v", span, t.SpanNames())
		return
	}
	i := slices.IndexFunc(s.Attributes(), func(kv attribute.KeyValue) bool { return string(kv.Key) == key })
	if i < 0 {
		tb.Errorf("span %q has no attribute %q", span, key)
		return
	}
	if got := s.Attributes()[i].Value.AsInterface(); got != want {
		tb.Errorf("span %q attribute %q = %v (%T), want %v (%T)", span, key, got, got, want, want)
	}
}

// MetricNames collects once and lists every instrument that reported.
func (t *TestTelemetry) MetricNames(ctx context.Context) ([]string, error) {
	var rm metricdata.ResourceMetrics
	if err := t.reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}
	var names []string
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names = append(names, m.Name)
		}
	}
	return names, nil
}
