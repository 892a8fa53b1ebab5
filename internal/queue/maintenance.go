package queue

import (
	"context"
	"fmt"
	"time"
)

// StuckProcessing returns jobs that have been in the processing state since
// before the cutoff, usually because a worker died mid-job.
func (s *Store) StuckProcessing(ctx context.Context, before time.Time) ([]*Job, error) {
	return s.queryJobs(ctx, `
SELECT `+jobColumns+` FROM processing_jobs
WHERE status = 'processing'
  AND COALESCE(started_at, updated_at) < ?
ORDER BY id`, formatTime(before))
}

// FailedBefore returns failed jobs whose failure is older than the cutoff,
// the candidates for an automatic retry after the grace period.
func (s *Store) FailedBefore(ctx context.Context, before time.Time) ([]*Job, error) {
	return s.queryJobs(ctx, `
SELECT `+jobColumns+` FROM processing_jobs
WHERE status = 'failed'
  AND COALESCE(completed_at, updated_at) < ?
ORDER BY id`, formatTime(before))
}

// CancelOrphaned cancels non-terminal jobs whose content row no longer
// exists and returns how many were cancelled.
func (s *Store) CancelOrphaned(ctx context.Context) (int64, error) {
	now := formatTime(time.Now())
	res, err := s.execWithRetry(ctx, `
UPDATE processing_jobs
SET status = 'cancelled', error_message = 'content no longer exists', completed_at = ?, updated_at = ?
WHERE status IN ('pending', 'processing', 'failed')
  AND content_id NOT IN (SELECT id FROM content)`, now, now)
	if err != nil {
		return 0, fmt.Errorf("cancel orphaned jobs: %w", err)
	}
	return res.RowsAffected()
}

// DedupePending removes redundant pending jobs, keeping the oldest pending
// row per (content, type) pair, and returns how many were removed.
func (s *Store) DedupePending(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `
DELETE FROM processing_jobs
WHERE status = 'pending'
  AND id NOT IN (
	SELECT MIN(id) FROM processing_jobs
	WHERE status = 'pending'
	GROUP BY content_id, job_type
  )`)
	if err != nil {
		return 0, fmt.Errorf("dedupe pending jobs: %w", err)
	}
	return res.RowsAffected()
}

// PruneTerminal deletes terminal jobs last touched before the cutoff and
// returns how many were deleted.
func (s *Store) PruneTerminal(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx, `
DELETE FROM processing_jobs
WHERE status IN ('completed', 'cancelled', 'permanent_failure')
  AND updated_at < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("prune terminal jobs: %w", err)
	}
	return res.RowsAffected()
}
