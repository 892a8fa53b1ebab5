// Package api defines the JSON surface shared by the daemon HTTP server and
// the CLI client, plus the client itself.
package api

import (
	"time"

	"loom/internal/alerts"
	"loom/internal/integrity"
	"loom/internal/recovery"
)

// StatusResponse describes daemon runtime state.
type StatusResponse struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	DatabasePath string         `json:"databasePath"`
	LockFilePath string         `json:"lockFilePath"`
	Workers      int            `json:"workers"`
	Queue        map[string]int `json:"queue"`
}

// JobView is the wire shape of a processing job.
type JobView struct {
	ID             int64      `json:"id"`
	ContentID      int64      `json:"contentId"`
	Type           string     `json:"type"`
	Status         string     `json:"status"`
	Priority       int        `json:"priority"`
	RetryCount     int        `json:"retryCount"`
	MaxRetries     int        `json:"maxRetries"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	ErrorRetryable *bool      `json:"errorRetryable,omitempty"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// ContentView is the wire shape of a content item.
type ContentView struct {
	ID                  int64      `json:"id"`
	ExternalID          string     `json:"externalId"`
	Title               string     `json:"title"`
	SourceURL           string     `json:"sourceUrl"`
	Language            string     `json:"language,omitempty"`
	TranscriptAvailable bool       `json:"transcriptAvailable"`
	TranscriptType      string     `json:"transcriptType,omitempty"`
	VectorStored        bool       `json:"vectorStored"`
	IsActive            bool       `json:"isActive"`
	ProcessedAt         *time.Time `json:"processedAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
}

// QueueListResponse carries the jobs matching a queue query.
type QueueListResponse struct {
	Jobs []JobView `json:"jobs"`
}

// JobResponse carries a single job.
type JobResponse struct {
	Job JobView `json:"job"`
}

// EnqueueRequest registers a content item and schedules its first job.
type EnqueueRequest struct {
	ExternalID string `json:"externalId"`
	SourceURL  string `json:"sourceUrl"`
	Title      string `json:"title,omitempty"`
	Language   string `json:"language,omitempty"`
	Priority   *int   `json:"priority,omitempty"`
}

// EnqueueResponse returns the registered content and the scheduled job.
type EnqueueResponse struct {
	Content ContentView `json:"content"`
	Job     JobView     `json:"job"`
}

// ReportResponse bundles the latest background sweep reports.
type ReportResponse struct {
	Integrity *integrity.Report `json:"integrity,omitempty"`
	Recovery  *recovery.Report  `json:"recovery,omitempty"`
	Alerts    []alerts.Alert    `json:"alerts,omitempty"`
}

// ErrorResponse is the body returned for any non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}
