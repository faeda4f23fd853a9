package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// restoreGlobals puts the global providers back after a test that installs
// its own.
func restoreGlobals(t *testing.T) {
	t.Helper()
	tp, mp, prop := otel.GetTracerProvider(), otel.GetMeterProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
		otel.SetTextMapPropagator(prop)
	})
}

func TestNew_DisabledStillInstallsPropagator(t *testing.T) {
	restoreGlobals(t)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator())

	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, Health{}, tel.Health())
	assert.ElementsMatch(t, []string{"traceparent", "tracestate", "baggage"}, otel.GetTextMapPropagator().Fields())
	assert.NotNil(t, tel.Tracer("govcore"))
	assert.NotNil(t, tel.LoggerProvider())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	tel, err := New(context.Background(), &Config{Enabled: true})
	assert.Nil(t, tel)
	assert.ErrorContains(t, err, "invalid telemetry config")
}

func TestNew_EnabledExports(t *testing.T) {
	restoreGlobals(t)
	core, logs := observer.New(zap.InfoLevel)
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Service.Instance = "gov-test"

	// OTLP exporters dial lazily, so no collector is needed.
	tel, err := New(context.Background(), cfg, WithLogger(zap.New(core)))
	require.NoError(t, err)

	h := tel.Health()
	assert.True(t, h.Exporting)
	assert.Empty(t, h.Degraded)
	assert.Equal(t, 1, logs.FilterMessage("telemetry export enabled").Len())
	assert.Same(t, tel.tp, otel.GetTracerProvider())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = tel.Shutdown(ctx)
	assert.False(t, tel.Health().Exporting)
	assert.NoError(t, tel.Shutdown(ctx), "second shutdown is a no-op")
}

func TestNew_MetricExportOff(t *testing.T) {
	restoreGlobals(t)
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Protocol = ProtocolHTTP
	cfg.MetricInterval = 0

	tel, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = tel.Shutdown(context.Background()) }()

	assert.NotNil(t, tel.tp)
	assert.Nil(t, tel.mp)
}

func TestTelemetry_Nil(t *testing.T) {
	var tel *Telemetry
	assert.NotPanics(t, func() {
		_ = tel.Tracer("x")
		_ = tel.LoggerProvider()
	})
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.Equal(t, Health{}, tel.Health())
}

func TestTelemetry_DegradeIsReported(t *testing.T) {
	tel := &Telemetry{log: zap.NewNop()}
	tel.degrade("metrics", assert.AnError)

	assert.Equal(t, Health{Degraded: []string{"metrics"}}, tel.Health())
}

func TestTestTelemetry_RecordsSpans(t *testing.T) {
	tt := NewTestTelemetry()

	_, span := tt.Tracer("govcore").Start(context.Background(), "governance.tick")
	span.SetAttributes(
		attribute.Int64("cycle.id", 7),
		attribute.String("decision.kind", "unanimous"),
		attribute.Bool("authorized", true),
		attribute.Float64("drift.rolling", 0.92),
	)
	span.End()

	tt.AssertSpanExists(t, "governance.tick")
	tt.AssertSpanAttribute(t, "governance.tick", "cycle.id", int64(7))
	tt.AssertSpanAttribute(t, "governance.tick", "decision.kind", "unanimous")
	tt.AssertSpanAttribute(t, "governance.tick", "authorized", true)
	tt.AssertSpanAttribute(t, "governance.tick", "drift.rolling", 0.92)
	assert.Equal(t, []string{"governance.tick"}, tt.SpanNames())
	assert.Nil(t, tt.Span("orchestrator.decide"))
}

func TestTestTelemetry_Install(t *testing.T) {
	tt := NewTestTelemetry()
	tt.Install(t)

	_, span := otel.Tracer("global").Start(context.Background(), "events.recommend")
	span.End()
	counter, err := otel.Meter("global").Int64Counter("govcore.test.counter")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	tt.AssertSpanExists(t, "events.recommend")
	names, err := tt.MetricNames(context.Background())
	require.NoError(t, err)
	assert.Contains(t, names, "govcore.test.counter")
}
