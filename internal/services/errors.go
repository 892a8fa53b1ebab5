package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers classify failures at the point they originate. Transport
// layers tag ErrTransient/ErrTimeout/ErrExternalService; input validation
// tags ErrValidation; lookups tag ErrNotFound. The recovery sweep uses the
// classification to decide whether a failed job may be retried.
var (
	ErrTransient       = errors.New("transient failure")
	ErrTimeout         = errors.New("timeout")
	ErrExternalService = errors.New("external service error")
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("not found")
	ErrConfiguration   = errors.New("configuration error")
	ErrQuota           = errors.New("quota exceeded")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether a failure may be retried. Errors are retryable
// unless tagged with a permanent-input marker. Untagged errors default to
// retryable, matching the recovery policy for unknown failures.
func Retryable(err error) bool {
	if err == nil {
		return true
	}
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrQuota):
		return false
	default:
		return true
	}
}

// nonRetryablePatterns are the legacy message fragments that mark a job
// failure as permanent. They exist only for job rows persisted without a
// structured classification.
var nonRetryablePatterns = []string{
	"file not found",
	"invalid format",
	"unsupported",
	"permission denied",
	"quota exceeded",
}

// RetryableMessage classifies a persisted error message when no structured
// classification was recorded with it.
func RetryableMessage(message string) bool {
	if strings.TrimSpace(message) == "" {
		return true
	}
	lowered := strings.ToLower(message)
	for _, pattern := range nonRetryablePatterns {
		if strings.Contains(lowered, pattern) {
			return false
		}
	}
	return true
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
