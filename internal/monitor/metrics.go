package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fyrsmithlabs/govcore/internal/governance"
)

// StatusClient polls the govd status endpoint.
type StatusClient struct {
	baseURL string
	client  *http.Client
}

// NewStatusClient creates a client for the govd server at baseURL.
func NewStatusClient(baseURL string) *StatusClient {
	return &StatusClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// Status fetches GET /api/v1/status.
func (c *StatusClient) Status(ctx context.Context) (governance.Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/status", nil)
	if err != nil {
		return governance.Status{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return governance.Status{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return governance.Status{}, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var st governance.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return governance.Status{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return st, nil
}
