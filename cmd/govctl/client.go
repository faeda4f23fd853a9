package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/user"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// apiError is a non-2xx reply from govd.
type apiError struct {
	Status    int
	Message   string `json:"error"`
	RequestID string `json:"request_id"`
}

func (e *apiError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("server returned %d: %s (request %s)", e.Status, e.Message, e.RequestID)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

type client struct {
	base     string
	token    string
	operator string
	http     *http.Client
}

func newClient(base, token, operator string, timeout time.Duration) *client {
	return &client{
		base:     strings.TrimRight(base, "/"),
		token:    token,
		operator: operator,
		http:     &http.Client{Timeout: timeout},
	}
}

// currentOperator names the local user for the X-Operator header.
func currentOperator() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	return u.Username
}

// do sends body as JSON and returns the raw reply for 2xx statuses.
func (c *client) do(method, path string, body any) ([]byte, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.operator != "" {
		req.Header.Set("X-Operator", c.operator)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		if jerr := json.Unmarshal(data, apiErr); jerr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return data, apiErr
	}
	return data, nil
}

// printJSON writes a JSON reply indented, or nothing for an empty body.
func printJSON(w io.Writer, data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		_, err = w.Write(data)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

// isStatus reports whether err is an apiError with the given status.
func isStatus(err error, status int) bool {
	var apiErr *apiError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
