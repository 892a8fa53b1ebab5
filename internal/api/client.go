package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"loom/internal/integrity"
	"loom/internal/recovery"
)

// HTTPDoer abstracts the HTTP transport for testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the daemon HTTP API.
type Client struct {
	baseURL string
	token   string
	http    HTTPDoer
}

// NewClient builds a client for the daemon listening at baseURL. The token
// may be empty when the daemon runs without authentication.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// NewClientWithDoer builds a client over a caller-supplied transport.
func NewClientWithDoer(baseURL, token string, doer HTTPDoer) *Client {
	client := NewClient(baseURL, token)
	if doer != nil {
		client.http = doer
	}
	return client
}

// Status fetches daemon runtime state.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Queue lists jobs, optionally filtered by status.
func (c *Client) Queue(ctx context.Context, statuses ...string) (*QueueListResponse, error) {
	path := "/api/queue"
	if len(statuses) > 0 {
		values := url.Values{}
		for _, status := range statuses {
			values.Add("status", status)
		}
		path += "?" + values.Encode()
	}
	var out QueueListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RetryJob returns a finished job to the pending state.
func (c *Client) RetryJob(ctx context.Context, id int64) (*JobView, error) {
	var out JobResponse
	path := fmt.Sprintf("/api/queue/%d/retry", id)
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out.Job, nil
}

// Enqueue registers content and schedules its first pipeline job.
func (c *Client) Enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueResponse, error) {
	var out EnqueueResponse
	if err := c.do(ctx, http.MethodPost, "/api/enqueue", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Scan triggers an integrity scan and returns its report.
func (c *Client) Scan(ctx context.Context) (*integrity.Report, error) {
	var out integrity.Report
	if err := c.do(ctx, http.MethodPost, "/api/scan", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Recover triggers a recovery sweep and returns its report.
func (c *Client) Recover(ctx context.Context) (*recovery.Report, error) {
	var out recovery.Report
	if err := c.do(ctx, http.MethodPost, "/api/recover", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Report fetches the latest persisted sweep reports and recent alerts.
func (c *Client) Report(ctx context.Context) (*ReportResponse, error) {
	var out ReportResponse
	if err := c.do(ctx, http.MethodGet, "/api/report", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks whether the daemon answers at all.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("daemon returned %d for %s %s", resp.StatusCode, method, path)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
