package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestOperatorAuth(t *testing.T) {
	s := setupTestServer(t, WithOperatorToken("s3cret-token"))

	tests := []struct {
		name   string
		method string
		path   string
		auth   string
		want   int
	}{
		{name: "reads stay open", method: http.MethodGet, path: "/api/v1/status", want: http.StatusOK},
		{name: "health stays open", method: http.MethodGet, path: "/health", want: http.StatusOK},
		{name: "missing token", method: http.MethodPost, path: "/api/v1/query-mode", want: http.StatusUnauthorized},
		{name: "wrong token", method: http.MethodPost, path: "/api/v1/query-mode", auth: "Bearer nope", want: http.StatusUnauthorized},
		{name: "wrong scheme", method: http.MethodPost, path: "/api/v1/query-mode", auth: "Basic s3cret-token", want: http.StatusUnauthorized},
		{name: "valid token", method: http.MethodPost, path: "/api/v1/query-mode", auth: "Bearer s3cret-token", want: http.StatusOK},
		{name: "scheme is case-insensitive", method: http.MethodPost, path: "/api/v1/query-mode", auth: "bearer s3cret-token", want: http.StatusOK},
		{name: "delete is guarded", method: http.MethodDelete, path: "/api/v1/versions/tag/stable", want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body *strings.Reader
			if tt.method == http.MethodPost {
				body = strings.NewReader(`{"enabled":true}`)
			} else {
				body = strings.NewReader("")
			}
			req := httptest.NewRequest(tt.method, tt.path, body)
			req.Header.Set("Content-Type", "application/json")
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()

			s.Handler().ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			if tt.want == http.StatusUnauthorized {
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
			}
		})
	}
}

func TestOperatorAuth_DisabledWithoutToken(t *testing.T) {
	s := setupTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/query-mode", map[string]bool{"enabled": true})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, s.core.QueryMode())
}

func TestServer_LogsOperator(t *testing.T) {
	s := setupTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set(HeaderOperator, "alice")

	s.Handler().ServeHTTP(httptest.NewRecorder(), req)

	s.logger.AssertLogged(t, zapcore.InfoLevel, "http request")
	s.logger.AssertField(t, "http request", "operator", "alice")
}

func TestBearer(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"BEARER  abc ", "abc", true},
		{"Bearer", "", false},
		{"Bearer ", "", false},
		{"Token abc", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		token, ok := bearer(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.token, token, tt.header)
	}
}
