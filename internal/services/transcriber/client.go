package transcriber

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

const component = "transcriber"

// Segment is one timed span of recognized speech.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Result is a completed transcription.
type Result struct {
	Segments  []Segment `json:"segments"`
	Language  string    `json:"language"`
	ModelInfo string    `json:"modelInfo"`
}

// Health is the model server's readiness report.
type Health struct {
	Device string `json:"device"`
	Model  string `json:"model"`
}

// OnGPU reports whether the model server is running on GPU hardware.
func (h Health) OnGPU() bool {
	device := strings.ToLower(h.Device)
	return strings.Contains(device, "cuda") ||
		strings.Contains(device, "gpu") ||
		strings.Contains(device, "mps")
}

// HTTPDoer describes the HTTP client used by the transcriber service.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the speech-to-text model server.
type Client struct {
	cfg    config.Transcriber
	client HTTPDoer
}

// New constructs a transcriber client from configuration.
func New(cfg config.Transcriber) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.TranscribeTimeoutDuration()},
	}
}

// NewWithDoer constructs a transcriber client over a caller-owned HTTP
// client, used by tests.
func NewWithDoer(cfg config.Transcriber, client HTTPDoer) *Client {
	return &Client{cfg: cfg, client: client}
}

// Health fetches the model server's readiness report.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	healthCtx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeoutDuration())
	defer cancel()

	req, err := http.NewRequestWithContext(healthCtx, http.MethodGet, c.cfg.URL+"/health", nil)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, component, "health", "build request", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, component, "health", "model server unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, services.Wrap(services.ErrExternalService, component, "health",
			fmt.Sprintf("model server returned %d", resp.StatusCode), nil)
	}

	var health Health
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, services.Wrap(services.ErrExternalService, component, "health", "decode response", err)
	}
	return &health, nil
}

// CheckReady verifies the model server is reachable and, when configured to,
// that it is actually running on a GPU. CPU fallback silently producing
// order-of-magnitude slower transcriptions is treated as a fault.
func (c *Client) CheckReady(ctx context.Context) error {
	health, err := c.Health(ctx)
	if err != nil {
		return err
	}
	if c.cfg.RequireGPU && !health.OnGPU() {
		return services.Wrap(services.ErrExternalService, component, "health",
			fmt.Sprintf("model server on %q, GPU required", health.Device), nil)
	}
	return nil
}

// Transcribe sends the audio reference to the model server and returns the
// timed segments. Transient failures are retried; a rejected request is not.
func (c *Client) Transcribe(ctx context.Context, audioRef, language string) (*Result, error) {
	if strings.TrimSpace(audioRef) == "" {
		return nil, services.Wrap(services.ErrValidation, component, "transcribe", "empty audio reference", nil)
	}
	if language == "" {
		language = c.cfg.Language
	}

	var result *Result
	err := retry.Do(
		func() error {
			transcribed, err := c.transcribeOnce(ctx, audioRef, language)
			if err != nil {
				if !services.Retryable(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			result = transcribed
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(2*time.Second),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) transcribeOnce(ctx context.Context, audioRef, language string) (*Result, error) {
	payload, err := json.Marshal(map[string]string{
		"audioRef": audioRef,
		"language": language,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, component, "transcribe", "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/transcribe", bytes.NewReader(payload))
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, component, "transcribe", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, services.Wrap(services.ErrTimeout, component, "transcribe", "request cancelled", err)
		}
		return nil, services.Wrap(services.ErrExternalService, component, "transcribe", "model server unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp, "transcribe")
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, services.Wrap(services.ErrExternalService, component, "transcribe", "decode response", err)
	}
	return &result, nil
}

func classifyStatus(resp *http.Response, operation string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	message := fmt.Sprintf("model server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return services.Wrap(services.ErrQuota, component, operation, message, nil)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return services.Wrap(services.ErrValidation, component, operation, message, nil)
	default:
		return services.Wrap(services.ErrExternalService, component, operation, message, nil)
	}
}
