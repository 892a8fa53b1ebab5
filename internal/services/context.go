package services

import "context"

type contextKey string

const (
	contentIDKey contextKey = "content_id"
	jobIDKey     contextKey = "job_id"
	jobTypeKey   contextKey = "job_type"
)

// WithContentID stores a content identifier in the context.
func WithContentID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, contentIDKey, id)
}

// ContentIDFromContext retrieves a content identifier from the context.
func ContentIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(contentIDKey).(int64)
	return id, ok
}

// WithJobID stores a job identifier in the context.
func WithJobID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext retrieves a job identifier from the context.
func JobIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(jobIDKey).(int64)
	return id, ok
}

// WithJobType stores a job type name in the context.
func WithJobType(ctx context.Context, jobType string) context.Context {
	return context.WithValue(ctx, jobTypeKey, jobType)
}

// JobTypeFromContext retrieves a job type name from the context.
func JobTypeFromContext(ctx context.Context) (string, bool) {
	jobType, ok := ctx.Value(jobTypeKey).(string)
	return jobType, ok
}
