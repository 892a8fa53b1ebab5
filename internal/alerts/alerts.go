// Package alerts publishes operational alerts to a capped cache feed so the
// CLI and API can show recent problems without scraping logs.
package alerts

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"loom/internal/cache"
	"loom/internal/logging"
)

// FeedKey is the cache list holding recent alerts, newest first.
const FeedKey = "integrity:alerts"

// FeedCap bounds the alert feed length.
const FeedCap = 100

// Severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert is one published event.
type Alert struct {
	Time      time.Time `json:"timestamp"`
	Severity  string    `json:"severity"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
	ContentID int64     `json:"contentId,omitempty"`
}

// Service fans alerts out to the cache feed and the structured log.
type Service struct {
	cache  cache.Client
	logger *slog.Logger
}

// NewService wires an alert service over the cache.
func NewService(cacheClient cache.Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cache:  cacheClient,
		logger: logger.With(logging.String(logging.FieldComponent, "alerts")),
	}
}

// Publish records an alert. A cache failure is logged but never propagated;
// alerting must not fail the operation that raised it.
func (s *Service) Publish(ctx context.Context, alert Alert) {
	if alert.Time.IsZero() {
		alert.Time = time.Now().UTC()
	}
	if alert.Severity == "" {
		alert.Severity = SeverityWarning
	}

	attrs := []any{
		logging.String("severity", alert.Severity),
		logging.String("source", alert.Component),
	}
	if alert.ContentID != 0 {
		attrs = append(attrs, logging.Int64(logging.FieldContentID, alert.ContentID))
	}
	switch alert.Severity {
	case SeverityCritical:
		s.logger.Error(alert.Message, attrs...)
	case SeverityInfo:
		s.logger.Info(alert.Message, attrs...)
	default:
		s.logger.Warn(alert.Message, attrs...)
	}

	encoded, err := json.Marshal(alert)
	if err != nil {
		s.logger.Error("encode alert", logging.Error(err))
		return
	}
	if err := s.cache.PushCapped(ctx, FeedKey, string(encoded), FeedCap); err != nil {
		s.logger.Error("publish alert to feed", logging.Error(err))
	}
}

// Recent returns up to limit recent alerts, newest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]Alert, error) {
	raw, err := s.cache.List(ctx, FeedKey)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(raw) > limit {
		raw = raw[:limit]
	}
	alerts := make([]Alert, 0, len(raw))
	for _, encoded := range raw {
		var alert Alert
		if err := json.Unmarshal([]byte(encoded), &alert); err != nil {
			continue
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}
