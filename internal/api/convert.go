package api

import (
	"loom/internal/catalog"
	"loom/internal/queue"
)

// FromJob converts a queue job to its wire shape.
func FromJob(job *queue.Job) JobView {
	return JobView{
		ID:             job.ID,
		ContentID:      job.ContentID,
		Type:           string(job.Type),
		Status:         string(job.Status),
		Priority:       job.Priority,
		RetryCount:     job.RetryCount,
		MaxRetries:     job.MaxRetries,
		ErrorMessage:   job.ErrorMessage,
		ErrorRetryable: job.ErrorRetryable,
		StartedAt:      job.StartedAt,
		CompletedAt:    job.CompletedAt,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}
}

// FromJobs converts a slice of queue jobs.
func FromJobs(jobs []*queue.Job) []JobView {
	views := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, FromJob(job))
	}
	return views
}

// FromContent converts a catalog content row to its wire shape.
func FromContent(item *catalog.Content) ContentView {
	return ContentView{
		ID:                  item.ID,
		ExternalID:          item.ExternalID,
		Title:               item.Title,
		SourceURL:           item.SourceURL,
		Language:            item.Language,
		TranscriptAvailable: item.TranscriptAvailable,
		TranscriptType:      item.TranscriptType,
		VectorStored:        item.VectorStored,
		IsActive:            item.IsActive,
		ProcessedAt:         item.ProcessedAt,
		CreatedAt:           item.CreatedAt,
	}
}
