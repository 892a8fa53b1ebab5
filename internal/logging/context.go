package logging

import (
	"context"
	"log/slog"

	"loom/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldContentID is the standardized structured logging key for content identifiers.
	FieldContentID = "content_id"
	// FieldJobID is the standardized structured logging key for processing job identifiers.
	FieldJobID = "job_id"
	// FieldJobType is the standardized structured logging key for job type names.
	FieldJobType = "job_type"
	// FieldTransactionID is the standardized structured logging key for atomic operation identifiers.
	FieldTransactionID = "transaction_id"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := services.ContentIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldContentID, id))
	}
	if id, ok := services.JobIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldJobID, id))
	}
	if jobType, ok := services.JobTypeFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldJobType, jobType))
	}
	return fields
}

// WithContentID stores a content identifier in the context for log annotation.
func WithContentID(ctx context.Context, id int64) context.Context {
	return services.WithContentID(ctx, id)
}

// WithJob stores job identifiers in the context for log annotation.
func WithJob(ctx context.Context, jobID int64, jobType string) context.Context {
	return services.WithJobType(services.WithJobID(ctx, jobID), jobType)
}
