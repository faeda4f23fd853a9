package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/govcore/internal/deployment"
	"github.com/fyrsmithlabs/govcore/internal/drift"
)

func TestNewStatusClient(t *testing.T) {
	client := NewStatusClient("http://127.0.0.1:9470/")
	assert.Equal(t, "http://127.0.0.1:9470", client.baseURL)
	assert.NotNil(t, client.client)
}

func TestStatusClient_Status_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/status", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		require.NoError(t, json.NewEncoder(w).Encode(sampleStatus()))
	}))
	defer server.Close()

	st, err := NewStatusClient(server.URL).Status(context.Background())

	require.NoError(t, err)
	assert.Equal(t, deployment.PhaseB, st.Phase.Phase)
	assert.Equal(t, drift.Warning, st.Drift.Level)
	assert.Equal(t, drift.Degrading, st.Drift.Trend)
	assert.Equal(t, 85, st.SafetyScore)
	assert.Equal(t, 2*time.Millisecond, st.Orchestrator.P99Latency)
}

func TestStatusClient_Status_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := NewStatusClient(server.URL).Status(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status code 500")
}

func TestStatusClient_Status_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	_, err := NewStatusClient(server.URL).Status(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode response")
}

func TestStatusClient_Status_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewStatusClient(server.URL).Status(ctx)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}
