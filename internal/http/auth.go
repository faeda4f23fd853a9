package http

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// HeaderOperator names the operator behind a mutating request. It is
// recorded in the request log, not trusted for authorization.
const HeaderOperator = "X-Operator"

const operatorKey = "operator"

// operatorAuth guards mutating routes with a shared bearer token. Reads stay
// open so dashboards and scrapers need no credentials. An empty token
// disables the check.
func operatorAuth(token string) echo.MiddlewareFunc {
	want := []byte(token)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if op := strings.TrimSpace(req.Header.Get(HeaderOperator)); op != "" {
				c.Set(operatorKey, op)
			}
			if len(want) == 0 || req.Method == http.MethodGet || req.Method == http.MethodHead {
				return next(c)
			}
			got, ok := bearer(req.Header.Get(echo.HeaderAuthorization))
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer realm="govd"`)
				return echo.NewHTTPError(http.StatusUnauthorized, "operator token required")
			}
			return next(c)
		}
	}
}

func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// operator returns the X-Operator value for the request, if any.
func operator(c echo.Context) string {
	op, _ := c.Get(operatorKey).(string)
	return op
}
