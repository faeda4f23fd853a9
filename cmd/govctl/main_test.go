package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	method string
	path   string
	header http.Header
	body   map[string]any
}

func newTestServer(t *testing.T, status int, reply string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.RequestURI()
		got.header = r.Header.Clone()
		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			_ = json.Unmarshal(data, &got.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func execute(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--server", srv.URL}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestCommands_Requests(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		method string
		path   string
		body   map[string]any
	}{
		{name: "status", args: []string{"status"}, method: http.MethodGet, path: "/api/v1/status"},
		{name: "audit since", args: []string{"audit", "--since", "7"}, method: http.MethodGet, path: "/api/v1/audit?since=7"},
		{name: "preview", args: []string{"preview", "-n", "3"}, method: http.MethodGet, path: "/api/v1/preview?n=3"},
		{name: "incidents by severity", args: []string{"incidents", "--severity", "critical"}, method: http.MethodGet, path: "/api/v1/incidents?severity=critical"},
		{name: "resolve incident", args: []string{"incidents", "resolve", "4"}, method: http.MethodPost, path: "/api/v1/incidents/4/resolve"},
		{name: "approve", args: []string{"approve", "abc", "--note", "ok"}, method: http.MethodPost, path: "/api/v1/approve/abc",
			body: map[string]any{"note": "ok"}},
		{name: "phase set", args: []string{"phase", "set", "B", "--reason", "reviewed"}, method: http.MethodPost, path: "/api/v1/phase",
			body: map[string]any{"phase": "B", "reason": "reviewed"}},
		{name: "query mode", args: []string{"query-mode", "on"}, method: http.MethodPost, path: "/api/v1/query-mode",
			body: map[string]any{"enabled": true}},
		{name: "recommend", args: []string{"recommend", "metrics", "compact_memory", "--param", "64", "--confidence", "300"},
			method: http.MethodPost, path: "/api/v1/recommendations",
			body: map[string]any{
				"agent":       "metrics",
				"action":      map[string]any{"kind": "compact_memory", "param": float64(64)},
				"confidence":  float64(300),
				"explanation": "",
			}},
		{name: "observe", args: []string{"observe", "true", "false"}, method: http.MethodPost, path: "/api/v1/observations",
			body: map[string]any{"outcomes": []any{true, false}}},
		{name: "version diff", args: []string{"versions", "diff", "1", "3"}, method: http.MethodGet, path: "/api/v1/versions/diff?a=1&b=3"},
		{name: "version tag", args: []string{"versions", "tag", "2", "stable"}, method: http.MethodPost, path: "/api/v1/versions/tag",
			body: map[string]any{"id": float64(2), "label": "stable"}},
		{name: "untag", args: []string{"versions", "untag", "stable"}, method: http.MethodDelete, path: "/api/v1/versions/tag/stable"},
		{name: "gc before", args: []string{"versions", "gc", "--before", "5"}, method: http.MethodPost, path: "/api/v1/versions/gc",
			body: map[string]any{"keep_last": float64(10), "before": float64(5)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, got := newTestServer(t, http.StatusOK, `{"ok":true}`)

			out, err := execute(t, srv, tt.args...)

			require.NoError(t, err)
			assert.Equal(t, tt.method, got.method)
			assert.Equal(t, tt.path, got.path)
			if tt.body != nil {
				assert.Equal(t, tt.body, got.body)
			}
			assert.Contains(t, out, `"ok": true`)
		})
	}
}

func TestCommands_ServerError(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusConflict, `{"error":"approval already resolved","request_id":"r1"}`)

	_, err := execute(t, srv, "reject", "abc")

	require.Error(t, err)
	assert.True(t, isStatus(err, http.StatusConflict))
	assert.Contains(t, err.Error(), "approval already resolved")
	assert.Contains(t, err.Error(), "r1")
}

func TestHealth_PrintsDegradedBody(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusServiceUnavailable, `{"status":"degraded"}`)

	out, err := execute(t, srv, "health")

	require.Error(t, err)
	assert.Contains(t, out, `"status": "degraded"`)
}

func TestQueryMode_RejectsUnknownArgument(t *testing.T) {
	srv, got := newTestServer(t, http.StatusOK, `{}`)

	_, err := execute(t, srv, "query-mode", "maybe")

	require.Error(t, err)
	assert.Empty(t, got.method, "no request is sent")
}

func TestPrintJSON_NonJSONPassesThrough(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printJSON(&out, []byte("plain text")))
	assert.Equal(t, "plain text", strings.TrimSpace(out.String()))
}

func TestTop_RejectsNonPositiveInterval(t *testing.T) {
	srv, got := newTestServer(t, http.StatusOK, `{}`)

	_, err := execute(t, srv, "top", "--interval", "0s")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "interval must be positive")
	assert.Empty(t, got.method)
}

func TestClient_SendsTokenAndOperator(t *testing.T) {
	srv, got := newTestServer(t, http.StatusOK, `{}`)

	_, err := execute(t, srv, "--token", "s3cret", "--operator", "oncall", "query-mode", "off")

	require.NoError(t, err)
	assert.Equal(t, "Bearer s3cret", got.header.Get("Authorization"))
	assert.Equal(t, "oncall", got.header.Get("X-Operator"))
}

func TestClient_NoTokenNoAuthorizationHeader(t *testing.T) {
	t.Setenv("GOVCTL_TOKEN", "")
	srv, got := newTestServer(t, http.StatusOK, `{}`)

	_, err := execute(t, srv, "status")

	require.NoError(t, err)
	assert.Empty(t, got.header.Get("Authorization"))
}
