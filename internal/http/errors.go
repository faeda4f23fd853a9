package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/govcore/internal/agent"
	"github.com/fyrsmithlabs/govcore/internal/deployment"
	"github.com/fyrsmithlabs/govcore/internal/drift"
	"github.com/fyrsmithlabs/govcore/internal/governance"
	"github.com/fyrsmithlabs/govcore/internal/logging"
	"github.com/fyrsmithlabs/govcore/internal/versionctl"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// statusFor maps core errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, governance.ErrApprovalNotFound),
		errors.Is(err, governance.ErrIncidentNotFound),
		errors.Is(err, governance.ErrNoMailbox),
		errors.Is(err, versionctl.ErrVersionNotFound),
		errors.Is(err, versionctl.ErrTagNotFound),
		errors.Is(err, versionctl.ErrEmpty):
		return http.StatusNotFound
	case errors.Is(err, governance.ErrApprovalResolved),
		errors.Is(err, deployment.ErrSamePhase),
		errors.Is(err, versionctl.ErrTagExists):
		return http.StatusConflict
	case errors.Is(err, versionctl.ErrStorageFull):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, deployment.ErrInvalidPhase),
		errors.Is(err, versionctl.ErrInvalidTag),
		errors.Is(err, agent.ErrUnknownAgent),
		errors.Is(err, agent.ErrInvalidConfidence),
		errors.Is(err, drift.ErrInvalidAccuracy):
		return http.StatusBadRequest
	case errors.Is(err, governance.ErrInvariantViolation):
		return http.StatusServiceUnavailable
	case errors.Is(err, governance.ErrRetrainFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			if m, ok := he.Message.(string); ok {
				msg = m
			} else {
				msg = http.StatusText(status)
			}
		} else {
			status = statusFor(err)
		}
		if status >= http.StatusInternalServerError {
			logger.Error(c.Request().Context(), "request failed", zap.Error(err), zap.Int("status", status))
		}
		body := ErrorResponse{Error: msg, RequestID: c.Response().Header().Get(echo.HeaderXRequestID)}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, body)
	}
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}
