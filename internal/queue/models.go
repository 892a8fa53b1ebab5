package queue

import "time"

// JobType identifies the pipeline stage a job drives.
type JobType string

const (
	JobExtractTranscript JobType = "extract_transcript"
	JobProcessAudio      JobType = "process_audio"
	JobVectorize         JobType = "vectorize"
)

// Status is the lifecycle state of a processing job.
type Status string

const (
	StatusPending          Status = "pending"
	StatusProcessing       Status = "processing"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
	StatusPermanentFailure Status = "permanent_failure"
)

// AllStatuses lists every job status in lifecycle order.
func AllStatuses() []Status {
	return []Status{
		StatusPending,
		StatusProcessing,
		StatusCompleted,
		StatusFailed,
		StatusCancelled,
		StatusPermanentFailure,
	}
}

// Terminal reports whether a status can no longer transition.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusPermanentFailure:
		return true
	default:
		return false
	}
}

// Job is one unit of pipeline work bound to a content item.
type Job struct {
	ID           int64
	ContentID    int64
	Type         JobType
	Status       Status
	Priority     int
	RetryCount   int
	MaxRetries   int
	ErrorMessage string
	// ErrorRetryable carries the structured classification recorded when the
	// job failed. Nil means the failure predates classification and message
	// matching decides.
	ErrorRetryable *bool
	Payload        string
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
