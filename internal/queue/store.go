package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Store manages the durable processing job queue. It layers on the catalog
// database so job state and content state share one SQLite file.
type Store struct {
	db *sql.DB
}

// NewStore wraps an already-opened catalog database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobColumns = `id, content_id, job_type, status, priority, retry_count, max_retries,
error_message, error_retryable, payload, started_at, completed_at, created_at, updated_at`

// Enqueue inserts a pending job unless an uncompleted job of the same type
// already exists for the content item, in which case ErrDuplicateJob is
// returned.
func (s *Store) Enqueue(ctx context.Context, contentID int64, jobType JobType, priority, maxRetries int, payload string) (*Job, error) {
	now := formatTime(time.Now())
	res, err := s.execWithRetry(ctx, `
INSERT INTO processing_jobs (content_id, job_type, status, priority, retry_count, max_retries, payload, created_at, updated_at)
SELECT ?, ?, 'pending', ?, 0, ?, ?, ?, ?
WHERE NOT EXISTS (
	SELECT 1 FROM processing_jobs
	WHERE content_id = ? AND job_type = ?
	  AND status IN ('pending', 'processing', 'failed')
)`,
		contentID, string(jobType), priority, maxRetries, nullableString(payload), now, now,
		contentID, string(jobType))
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("enqueue rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrDuplicateJob
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("enqueue insert id: %w", err)
	}
	return s.GetJob(ctx, id)
}

// ClaimNext atomically moves the highest-priority claimable pending job to
// processing and returns it. At most one job per content item runs at a time;
// pending jobs for content with an in-flight job are skipped. Returns
// ErrNoJob when nothing is claimable. Claims from contending workers retry
// through SQLITE_BUSY so the loser sees ErrNoJob or another job, never a
// driver error.
func (s *Store) ClaimNext(ctx context.Context) (*Job, error) {
	now := formatTime(time.Now())
	var job *Job
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx, `
UPDATE processing_jobs
SET status = 'processing', started_at = ?, updated_at = ?
WHERE id = (
	SELECT p.id FROM processing_jobs p
	WHERE p.status = 'pending'
	  AND NOT EXISTS (
		SELECT 1 FROM processing_jobs q
		WHERE q.content_id = p.content_id AND q.status = 'processing'
	  )
	ORDER BY p.priority DESC, p.created_at ASC, p.id ASC
	LIMIT 1
) AND status = 'pending'
RETURNING `+jobColumns, now, now)

		claimed, scanErr := scanJob(row)
		if scanErr != nil {
			return scanErr
		}
		job = claimed
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Complete marks a job finished.
func (s *Store) Complete(ctx context.Context, id int64) error {
	return s.finish(ctx, id, StatusCompleted, "", nil)
}

// Fail marks a job failed with the message and the structured retryable
// classification carried by the error that caused it.
func (s *Store) Fail(ctx context.Context, id int64, message string, retryable bool) error {
	return s.finish(ctx, id, StatusFailed, message, &retryable)
}

// Cancel marks a job cancelled.
func (s *Store) Cancel(ctx context.Context, id int64) error {
	return s.finish(ctx, id, StatusCancelled, "", nil)
}

// MarkPermanentFailure moves a job to its terminal failure state.
func (s *Store) MarkPermanentFailure(ctx context.Context, id int64, message string) error {
	return s.finish(ctx, id, StatusPermanentFailure, message, nil)
}

func (s *Store) finish(ctx context.Context, id int64, status Status, message string, retryable *bool) error {
	now := formatTime(time.Now())
	var retryableVal any
	if retryable != nil {
		retryableVal = boolToInt(*retryable)
	}
	res, err := s.execWithRetry(ctx, `
UPDATE processing_jobs
SET status = ?, error_message = ?, error_retryable = ?, completed_at = ?, updated_at = ?
WHERE id = ?`,
		string(status), nullableString(message), retryableVal, now, now, id)
	if err != nil {
		return fmt.Errorf("finish job %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkPending returns a job to the pending state, optionally counting the
// transition as a retry.
func (s *Store) MarkPending(ctx context.Context, id int64, countRetry bool) error {
	now := formatTime(time.Now())
	retryExpr := "retry_count"
	if countRetry {
		retryExpr = "retry_count + 1"
	}
	res, err := s.execWithRetry(ctx, `
UPDATE processing_jobs
SET status = 'pending', retry_count = `+retryExpr+`, started_at = NULL, completed_at = NULL, updated_at = ?
WHERE id = ?`, now, id)
	if err != nil {
		return fmt.Errorf("mark pending job %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark pending rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetJob loads one job by ID.
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM processing_jobs WHERE id = ?`, id)
	return scanJob(row)
}

// List returns jobs, newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM processing_jobs`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += ` ORDER BY id DESC`
	return s.queryJobs(ctx, query, args...)
}

// ListByStatus returns jobs with the given status, oldest first. A limit of
// zero returns all matching jobs.
func (s *Store) ListByStatus(ctx context.Context, status Status, limit int) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM processing_jobs WHERE status = ? ORDER BY id`
	args := []any{string(status)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryJobs(ctx, query, args...)
}

// JobsByContent returns all jobs for a content item, oldest first.
func (s *Store) JobsByContent(ctx context.Context, contentID int64) ([]*Job, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM processing_jobs WHERE content_id = ? ORDER BY id`, contentID)
}

// Stats counts jobs by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM processing_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan queue stats: %w", err)
		}
		stats[Status(status)] = count
	}
	return stats, rows.Err()
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	var (
		job                      Job
		jobType, status          string
		errorMessage, payload    sql.NullString
		errorRetryable           sql.NullInt64
		startedRaw, completedRaw sql.NullString
		createdRaw, updatedRaw   string
	)
	err := row.Scan(&job.ID, &job.ContentID, &jobType, &status, &job.Priority,
		&job.RetryCount, &job.MaxRetries, &errorMessage, &errorRetryable,
		&payload, &startedRaw, &completedRaw, &createdRaw, &updatedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.Type = JobType(jobType)
	job.Status = Status(status)
	job.ErrorMessage = errorMessage.String
	job.Payload = payload.String
	if errorRetryable.Valid {
		retryable := errorRetryable.Int64 != 0
		job.ErrorRetryable = &retryable
	}
	if startedRaw.Valid {
		if t, parseErr := parseTimeString(startedRaw.String); parseErr == nil {
			job.StartedAt = &t
		}
	}
	if completedRaw.Valid {
		if t, parseErr := parseTimeString(completedRaw.String); parseErr == nil {
			job.CompletedAt = &t
		}
	}
	if t, parseErr := parseTimeString(createdRaw); parseErr == nil {
		job.CreatedAt = t
	}
	if t, parseErr := parseTimeString(updatedRaw); parseErr == nil {
		job.UpdatedAt = t
	}
	return &job, nil
}

func makePlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
