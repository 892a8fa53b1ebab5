// Package embedder talks to the sentence embedding model server. Texts are
// sent in batches and every response must agree on the vector dimension.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"loom/internal/config"
	"loom/internal/services"
)

const component = "embedder"

// HTTPDoer describes the HTTP client used by the embedder service.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the embedding model server.
type Client struct {
	cfg    config.Embedder
	client HTTPDoer
}

// New constructs an embedder client from configuration.
func New(cfg config.Embedder) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.TimeoutDuration()},
	}
}

// NewWithDoer constructs an embedder client over a caller-owned HTTP client,
// used by tests.
func NewWithDoer(cfg config.Embedder, client HTTPDoer) *Client {
	return &Client{cfg: cfg, client: client}
}

// Embed returns one vector per input text, preserving order, along with the
// vector dimension. Inputs are sent in configured batch sizes.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, int, error) {
	if len(texts) == 0 {
		return nil, 0, nil
	}

	batchSize := c.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = len(texts)
	}

	var (
		vectors   [][]float32
		dimension int
	)
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batchVectors, batchDim, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, 0, err
		}
		if dimension == 0 {
			dimension = batchDim
		} else if batchDim != dimension {
			return nil, 0, services.Wrap(services.ErrExternalService, component, "embed",
				fmt.Sprintf("dimension changed mid-request: %d then %d", dimension, batchDim), nil)
		}
		vectors = append(vectors, batchVectors...)
	}

	if len(vectors) != len(texts) {
		return nil, 0, services.Wrap(services.ErrExternalService, component, "embed",
			fmt.Sprintf("asked for %d vectors, got %d", len(texts), len(vectors)), nil)
	}
	return vectors, dimension, nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, int, error) {
	var (
		vectors   [][]float32
		dimension int
	)
	err := retry.Do(
		func() error {
			batchVectors, batchDim, err := c.embedOnce(ctx, texts)
			if err != nil {
				if !services.Retryable(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			vectors, dimension = batchVectors, batchDim
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, 0, err
	}
	return vectors, dimension, nil
}

func (c *Client) embedOnce(ctx context.Context, texts []string) ([][]float32, int, error) {
	payload, err := json.Marshal(map[string]any{"texts": texts})
	if err != nil {
		return nil, 0, services.Wrap(services.ErrValidation, component, "embed", "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, 0, services.Wrap(services.ErrConfiguration, component, "embed", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, services.Wrap(services.ErrTimeout, component, "embed", "request cancelled", err)
		}
		return nil, 0, services.Wrap(services.ErrExternalService, component, "embed", "model server unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		message := fmt.Sprintf("model server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, 0, services.Wrap(services.ErrQuota, component, "embed", message, nil)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return nil, 0, services.Wrap(services.ErrValidation, component, "embed", message, nil)
		default:
			return nil, 0, services.Wrap(services.ErrExternalService, component, "embed", message, nil)
		}
	}

	var decoded struct {
		Embeddings [][]float32 `json:"embeddings"`
		Dimension  int         `json:"dimension"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, 0, services.Wrap(services.ErrExternalService, component, "embed", "decode response", err)
	}
	if decoded.Dimension == 0 && len(decoded.Embeddings) > 0 {
		decoded.Dimension = len(decoded.Embeddings[0])
	}
	return decoded.Embeddings, decoded.Dimension, nil
}
