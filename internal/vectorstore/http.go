package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPDoer describes the HTTP client used by the Qdrant service.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPClient talks to a Qdrant instance over its REST API.
type HTTPClient struct {
	baseURL string
	client  HTTPDoer
}

// NewHTTPClient constructs a Qdrant REST client.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// NewHTTPClientWithDoer constructs a Qdrant REST client over a caller-owned
// HTTP client, used by tests.
func NewHTTPClientWithDoer(baseURL string, client HTTPDoer) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  client,
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode qdrant request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build qdrant request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode qdrant response: %w", err)
		}
	}
	return nil
}

// StatusError reports a non-success Qdrant response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("qdrant returned %d: %s", e.Status, e.Body)
}

// EnsureCollection creates the collection if it does not already exist.
func (c *HTTPClient) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	err := c.do(ctx, http.MethodPut, "/collections/"+collection, map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}, nil)
	var statusErr *StatusError
	if err != nil && errors.As(err, &statusErr) && statusErr.Status == http.StatusConflict {
		return nil
	}
	return err
}

// Upsert writes points into the collection, waiting for them to be durable.
func (c *HTTPClient) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	return c.do(ctx, http.MethodPut, "/collections/"+collection+"/points?wait=true", map[string]any{
		"points": points,
	}, nil)
}

// DeletePoints removes specific points by ID.
func (c *HTTPClient) DeletePoints(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/delete?wait=true", map[string]any{
		"points": ids,
	}, nil)
}

// DeleteByContent removes every point whose payload references the content
// item.
func (c *HTTPClient) DeleteByContent(ctx context.Context, collection string, contentID int64) error {
	return c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/delete?wait=true", map[string]any{
		"filter": contentFilter(contentID),
	}, nil)
}

// ScrollByContent returns every point belonging to the content item.
func (c *HTTPClient) ScrollByContent(ctx context.Context, collection string, contentID int64) ([]Point, error) {
	return c.scroll(ctx, collection, contentFilter(contentID))
}

// ScrollAll returns every point in the collection.
func (c *HTTPClient) ScrollAll(ctx context.Context, collection string) ([]Point, error) {
	return c.scroll(ctx, collection, nil)
}

func (c *HTTPClient) scroll(ctx context.Context, collection string, filter map[string]any) ([]Point, error) {
	var (
		points []Point
		offset any
	)
	for {
		request := map[string]any{
			"limit":        256,
			"with_payload": true,
			"with_vector":  true,
		}
		if filter != nil {
			request["filter"] = filter
		}
		if offset != nil {
			request["offset"] = offset
		}

		var response struct {
			Result struct {
				Points []struct {
					ID      any            `json:"id"`
					Vector  []float32      `json:"vector"`
					Payload map[string]any `json:"payload"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		if err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/scroll", request, &response); err != nil {
			return nil, err
		}

		for _, raw := range response.Result.Points {
			points = append(points, Point{
				ID:      fmt.Sprintf("%v", raw.ID),
				Vector:  raw.Vector,
				Payload: raw.Payload,
			})
		}
		if response.Result.NextPageOffset == nil {
			return points, nil
		}
		offset = response.Result.NextPageOffset
	}
}

// Ping checks that the Qdrant instance is reachable.
func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/readyz", nil, nil)
}

func contentFilter(contentID int64) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{
				"key":   "content_id",
				"match": map[string]any{"value": contentID},
			},
		},
	}
}
