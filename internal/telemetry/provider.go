package telemetry

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc/credentials"
)

func newResource(cfg *Config) *resource.Resource {
	instance := cfg.Service.Instance
	if instance == "" {
		instance, _ = os.Hostname()
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.Service.Name),
		semconv.ServiceVersion(cfg.Service.Version),
	}
	if instance != "" {
		attrs = append(attrs, semconv.ServiceInstanceID(instance))
	}
	keys := make([]string, 0, len(cfg.Attributes))
	for k := range cfg.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, cfg.Attributes[k]))
	}
	// resource.Default() would pin a different semconv schema URL.
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

// collector describes where and how OTLP data is pushed.
type collector struct {
	addr     string
	http     bool
	insecure bool
	tls      *tls.Config
}

func newCollector(cfg *Config) collector {
	c := collector{
		addr:     hostPort(cfg.Endpoint),
		http:     cfg.Protocol == ProtocolHTTP,
		insecure: cfg.Insecure,
	}
	if !cfg.Insecure && cfg.TLSSkipVerify {
		c.tls = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opted in
	}
	return c
}

func (c collector) spanExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	if c.http {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(c.addr)}
		switch {
		case c.insecure:
			opts = append(opts, otlptracehttp.WithInsecure())
		case c.tls != nil:
			opts = append(opts, otlptracehttp.WithTLSClientConfig(c.tls))
		}
		return otlptracehttp.New(ctx, opts...)
	}
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(c.addr)}
	switch {
	case c.insecure:
		opts = append(opts, otlptracegrpc.WithInsecure())
	case c.tls != nil:
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(c.tls)))
	}
	return otlptracegrpc.New(ctx, opts...)
}

// cumulative keeps Prometheus-backed collectors consistent with the /metrics
// scrape regardless of any inherited temporality preference.
func cumulative(sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (c collector) metricExporter(ctx context.Context) (sdkmetric.Exporter, error) {
	if c.http {
		opts := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpoint(c.addr),
			otlpmetrichttp.WithTemporalitySelector(cumulative),
		}
		switch {
		case c.insecure:
			opts = append(opts, otlpmetrichttp.WithInsecure())
		case c.tls != nil:
			opts = append(opts, otlpmetrichttp.WithTLSClientConfig(c.tls))
		}
		return otlpmetrichttp.New(ctx, opts...)
	}
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(c.addr),
		otlpmetricgrpc.WithTemporalitySelector(cumulative),
	}
	switch {
	case c.insecure:
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	case c.tls != nil:
		opts = append(opts, otlpmetricgrpc.WithTLSCredentials(credentials.NewTLS(c.tls)))
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

func newTracerProvider(ctx context.Context, cfg *Config, c collector, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exp, err := c.spanExporter(ctx)
	if err != nil {
		return nil, fmt.Errorf("span exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.TraceRatio)),
	), nil
}

func newMeterProvider(ctx context.Context, cfg *Config, c collector, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exp, err := c.metricExporter(ctx)
	if err != nil {
		return nil, fmt.Errorf("metric exporter: %w", err)
	}
	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(cfg.MetricInterval.Duration()))
	return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader)), nil
}

// sampler honours the parent decision so an inbound NATS recommendation
// that was traced upstream stays traced.
func sampler(ratio float64) sdktrace.Sampler {
	root := sdktrace.TraceIDRatioBased(ratio)
	switch {
	case ratio >= 1:
		root = sdktrace.AlwaysSample()
	case ratio <= 0:
		root = sdktrace.NeverSample()
	}
	return sdktrace.ParentBased(root)
}
