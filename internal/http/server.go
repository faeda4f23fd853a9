// Package http exposes the governance core over a JSON API. Handlers only
// translate between HTTP and core calls; every decision stays in the core.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/govcore/internal/governance"
	"github.com/fyrsmithlabs/govcore/internal/logging"
	"github.com/fyrsmithlabs/govcore/internal/telemetry"
)

// Server serves the governance API.
type Server struct {
	echo   *echo.Echo
	core   *governance.Core
	logger *logging.Logger
	addr   string
	tel    *telemetry.Telemetry
}

// Option configures a Server.
type Option func(*serverOptions)

type serverOptions struct {
	gatherer prometheus.Gatherer
	metrics  *HTTPMetrics
	token    string
	tel      *telemetry.Telemetry
}

// WithGatherer serves gatherer at /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(o *serverOptions) { o.gatherer = g }
}

// WithHTTPMetrics records request metrics through m.
func WithHTTPMetrics(m *HTTPMetrics) Option {
	return func(o *serverOptions) { o.metrics = m }
}

// WithOperatorToken requires "Authorization: Bearer <token>" on every
// mutating /api/v1 route.
func WithOperatorToken(token string) Option {
	return func(o *serverOptions) { o.token = token }
}

// WithTelemetry adds the exporter state to GET /health. A degraded exporter
// is reported but does not fail the check.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(o *serverOptions) { o.tel = t }
}

// NewServer builds the router for core, listening on addr once started.
func NewServer(core *governance.Core, logger *logging.Logger, addr string, opts ...Option) (*Server, error) {
	if core == nil {
		return nil, errors.New("governance core is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required for request tracking")
	}
	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger))
	if o.metrics != nil {
		e.Use(o.metrics.MetricsMiddleware())
	}

	s := &Server{echo: e, core: core, logger: logger, addr: addr, tel: o.tel}
	s.registerRoutes(o.gatherer, o.token)
	return s, nil
}

func requestLogger(logger *logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(req.Context(), id)
			c.SetRequest(req.WithContext(ctx))

			err := next(c)
			if err != nil {
				c.Error(err)
			}
			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("route", c.Path()),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			}
			if op := operator(c); op != "" {
				fields = append(fields, zap.String("operator", op))
			}
			logger.Info(ctx, "http request", fields...)
			return nil
		}
	}
}

func (s *Server) registerRoutes(g prometheus.Gatherer, token string) {
	s.echo.GET("/health", s.handleHealth)
	if g != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
	}

	v1 := s.echo.Group("/api/v1", operatorAuth(token))
	v1.GET("/status", s.handleStatus)
	v1.GET("/history", s.handleHistory)
	v1.GET("/audit", s.handleAudit)
	v1.GET("/authorizations", s.handleAuthorizations)
	v1.GET("/transparency", s.handleTransparency)
	v1.GET("/checklist", s.handleChecklist)
	v1.GET("/preview", s.handlePreview)
	v1.GET("/drift", s.handleDrift)

	v1.GET("/incidents", s.handleIncidents)
	v1.POST("/incidents/:id/resolve", s.handleResolveIncident)

	v1.GET("/approvals", s.handleApprovals)
	v1.GET("/approvals/:id", s.handleApproval)
	v1.POST("/approve/:id", s.handleApprove)
	v1.POST("/reject/:id", s.handleReject)

	v1.POST("/phase", s.handleSetPhase)
	v1.POST("/phase/auto", s.handleAutoTransitions)
	v1.POST("/query-mode", s.handleQueryMode)
	v1.POST("/cycle", s.handleCycle)
	v1.POST("/recommendations", s.handleRecommendation)
	v1.POST("/observations", s.handleObservations)
	v1.POST("/retrain", s.handleRetrain)

	v1.GET("/versions", s.handleVersions)
	v1.POST("/versions", s.handleCommit)
	v1.GET("/versions/history", s.handleVersionHistory)
	v1.GET("/versions/diff", s.handleDiff)
	v1.GET("/versions/:id", s.handleVersion)
	v1.POST("/versions/tag", s.handleTag)
	v1.DELETE("/versions/tag/:label", s.handleUntag)
	v1.POST("/versions/rollback", s.handleRollback)
	v1.POST("/versions/gc", s.handleGC)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", s.addr))
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
