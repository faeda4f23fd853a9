package http

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/govcore/internal/http"

// HTTPMetrics instruments the API on the OTel meter provider. The governance
// gauges themselves are Prometheus collectors served at /metrics.
type HTTPMetrics struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	size     metric.Int64Histogram
	inFlight metric.Int64UpDownCounter
}

// NewHTTPMetrics uses the global meter provider. An instrument that cannot
// be created is logged once and left as a no-op.
func NewHTTPMetrics(logger *zap.Logger) *HTTPMetrics {
	m, err := newHTTPMetrics(otel.Meter(httpInstrumentationName))
	if err != nil && logger != nil {
		logger.Warn("http instruments partially unavailable", zap.Error(err))
	}
	return m
}

func newHTTPMetrics(meter metric.Meter) (*HTTPMetrics, error) {
	var m HTTPMetrics
	var errs [4]error
	m.requests, errs[0] = meter.Int64Counter("govcore.http.requests_total",
		metric.WithDescription("API requests by method, route and status."),
		metric.WithUnit("{request}"))
	// Most routes answer from memory; the upper buckets catch retrain and
	// commit, which touch disk.
	m.latency, errs[1] = meter.Float64Histogram("govcore.http.request_duration_seconds",
		metric.WithDescription("API latency by method, route and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05, 0.25, 1, 5))
	m.size, errs[2] = meter.Int64Histogram("govcore.http.response_size_bytes",
		metric.WithDescription("API response body size."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(256, 1024, 4096, 16384, 65536, 262144, 1048576))
	m.inFlight, errs[3] = meter.Int64UpDownCounter("govcore.http.active_requests",
		metric.WithDescription("API requests in flight."),
		metric.WithUnit("{request}"))
	return &m, errors.Join(errs[:]...)
}

// MetricsMiddleware records every request, labelled by route pattern.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			if err := next(c); err != nil {
				// Let the error handler write the response so the status is final.
				c.Error(err)
			}

			set := metric.WithAttributeSet(attribute.NewSet(
				attribute.String("method", c.Request().Method),
				attribute.String("route", routeLabel(c.Path())),
				attribute.Int("status", c.Response().Status),
			))
			if m.requests != nil {
				m.requests.Add(ctx, 1, set)
			}
			if m.latency != nil {
				m.latency.Record(ctx, time.Since(start).Seconds(), set)
			}
			if m.size != nil {
				m.size.Record(ctx, c.Response().Size, set)
			}
			return nil
		}
	}
}

// routeLabel keeps ids such as approval and version numbers out of labels.
// Requests that matched no route share one label.
func routeLabel(route string) string {
	if route == "" || route == "/*" {
		return "unmatched"
	}
	return route
}
