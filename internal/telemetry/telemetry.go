package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Telemetry owns the OTLP tracer and meter providers of one govd process.
// A nil *Telemetry is usable and behaves as disabled.
type Telemetry struct {
	cfg *Config
	log *zap.Logger

	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider

	mu       sync.Mutex
	degraded []string
	stopped  bool
}

// Option configures New.
type Option func(*Telemetry)

// WithLogger reports exporter problems through l. govd passes a bootstrap
// logger here since the real one is built after telemetry.
func WithLogger(l *zap.Logger) Option {
	return func(t *Telemetry) {
		if l != nil {
			t.log = l
		}
	}
}

// New installs the W3C trace-context and baggage propagator, which NATS
// headers rely on even with export disabled. When cfg is enabled it also
// builds and installs the OTLP providers. An exporter that cannot be built
// leaves its signal on the no-op provider and marks the instance degraded;
// the governor keeps running.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}
	t := &Telemetry{cfg: cfg, log: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	if !cfg.Enabled {
		return t, nil
	}

	res := newResource(cfg)
	c := newCollector(cfg)
	if tp, err := newTracerProvider(ctx, cfg, c, res); err != nil {
		t.degrade("traces", err)
	} else {
		t.tp = tp
		otel.SetTracerProvider(tp)
	}
	if cfg.MetricInterval.Duration() > 0 {
		if mp, err := newMeterProvider(ctx, cfg, c, res); err != nil {
			t.degrade("metrics", err)
		} else {
			t.mp = mp
			otel.SetMeterProvider(mp)
		}
	}
	t.log.Info("telemetry export enabled",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("protocol", cfg.Protocol),
		zap.Float64("trace_ratio", cfg.TraceRatio),
		zap.Bool("metrics", t.mp != nil),
		zap.Strings("degraded", t.Health().Degraded))
	return t, nil
}

func (t *Telemetry) degrade(signal string, err error) {
	t.mu.Lock()
	t.degraded = append(t.degraded, signal)
	t.mu.Unlock()
	t.log.Warn("telemetry export unavailable, using no-op provider",
		zap.String("signal", signal), zap.Error(err))
}

// Tracer returns a tracer from the owned provider, or the global one.
func (t *Telemetry) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	if t == nil || t.tp == nil {
		return otel.Tracer(name, opts...)
	}
	return t.tp.Tracer(name, opts...)
}

// LoggerProvider is what the logging bridge writes to when the OTel output
// is on. govd has no OTLP log exporter of its own, so this is the global
// provider an embedding process may have installed.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	return global.GetLoggerProvider()
}

// Shutdown flushes and stops the providers. Without a deadline on ctx the
// configured shutdown timeout applies. Calling it twice is harmless.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	t.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok && t.cfg != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.ShutdownTimeout.Duration())
		defer cancel()
	}
	var errs []error
	if t.tp != nil {
		if err := t.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider: %w", err))
		}
	}
	if t.mp != nil {
		if err := t.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Health is reported under /health.
type Health struct {
	Exporting bool     `json:"exporting"`
	Degraded  []string `json:"degraded,omitempty"`
}

// Health reports whether spans are being exported and which signals fell
// back to no-op.
func (t *Telemetry) Health() Health {
	if t == nil {
		return Health{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return Health{
		Exporting: t.tp != nil && !t.stopped,
		Degraded:  append([]string(nil), t.degraded...),
	}
}
