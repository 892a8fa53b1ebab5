package recovery_test

import (
	"context"
	"testing"
	"time"

	"loom/internal/alerts"
	"loom/internal/cache"
	"loom/internal/catalog"
	"loom/internal/logging"
	"loom/internal/queue"
	"loom/internal/recovery"
	"loom/internal/testsupport"
)

type fixture struct {
	store   *catalog.Store
	jobs    *queue.Store
	cache   *cache.Memory
	sweeper *recovery.Sweeper
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenCatalog(t, cfg)
	jobs := testsupport.NewQueue(t, store)
	cacheClient := cache.NewMemory()
	alertSvc := alerts.NewService(cacheClient, logging.NewNop())
	return &fixture{
		store:   store,
		jobs:    jobs,
		cache:   cacheClient,
		sweeper: recovery.New(cfg, jobs, cacheClient, alertSvc, logging.NewNop()),
	}
}

func backdateStarted(t *testing.T, f *fixture, jobID int64, age time.Duration) {
	t.Helper()
	old := time.Now().Add(-age).UTC().Format(time.RFC3339Nano)
	testsupport.Exec(t, f.store,
		`UPDATE processing_jobs SET started_at = ? WHERE id = ?`, old, jobID)
}

func backdateCompleted(t *testing.T, f *fixture, jobID int64, age time.Duration) {
	t.Helper()
	old := time.Now().Add(-age).UTC().Format(time.RFC3339Nano)
	testsupport.Exec(t, f.store,
		`UPDATE processing_jobs SET completed_at = ? WHERE id = ?`, old, jobID)
}

func TestStuckJobReturnsToPendingWithRetryCounted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := testsupport.NewContent(t, f.store, "yt-stuck", "Stuck")

	job, err := f.jobs.Enqueue(ctx, item.ID, queue.JobExtractTranscript, 5, 3, "")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := f.jobs.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	backdateStarted(t, f, job.ID, time.Hour)

	report, err := f.sweeper.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.StuckRetried != 1 {
		t.Fatalf("stuck retried = %d, want 1", report.StuckRetried)
	}

	recovered, err := f.jobs.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if recovered.Status != queue.StatusPending {
		t.Fatalf("status = %q, want pending", recovered.Status)
	}
	if recovered.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", recovered.RetryCount)
	}
}

func TestStuckJobPastBudgetFailsPermanently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := testsupport.NewContent(t, f.store, "yt-stuck-max", "StuckMax")

	job, err := f.jobs.Enqueue(ctx, item.ID, queue.JobProcessAudio, 5, 3, "")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := f.jobs.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	backdateStarted(t, f, job.ID, time.Hour)
	testsupport.Exec(t, f.store,
		`UPDATE processing_jobs SET retry_count = max_retries WHERE id = ?`, job.ID)

	report, err := f.sweeper.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.StuckExhausted != 1 {
		t.Fatalf("stuck exhausted = %d, want 1", report.StuckExhausted)
	}

	terminal, err := f.jobs.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if terminal.Status != queue.StatusPermanentFailure {
		t.Fatalf("status = %q, want permanent_failure", terminal.Status)
	}
}

func TestFailedJobRetriesAfterGrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := testsupport.NewContent(t, f.store, "yt-grace", "Grace")

	job, err := f.jobs.Enqueue(ctx, item.ID, queue.JobVectorize, 4, 3, "")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := f.jobs.Fail(ctx, job.ID, "embedder timed out", true); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	// Inside the grace period nothing happens.
	report, err := f.sweeper.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.FailedRetried != 0 {
		t.Fatalf("retried %d jobs inside grace period", report.FailedRetried)
	}

	backdateCompleted(t, f, job.ID, 10*time.Minute)
	report, err = f.sweeper.Run(ctx)
	if err != nil {
		t.Fatalf("Run after grace: %v", err)
	}
	if report.FailedRetried != 1 {
		t.Fatalf("failed retried = %d, want 1", report.FailedRetried)
	}

	recovered, err := f.jobs.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if recovered.Status != queue.StatusPending || recovered.RetryCount != 1 {
		t.Fatalf("unexpected recovered job %+v", recovered)
	}
}

func TestNonRetryableFailureNeverReturnsToPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Structured classification says no.
	classified := testsupport.NewContent(t, f.store, "yt-classified", "Classified")
	classifiedJob, err := f.jobs.Enqueue(ctx, classified.ID, queue.JobProcessAudio, 5, 3, "")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := f.jobs.Fail(ctx, classifiedJob.ID, "permission denied reading media", false); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	backdateCompleted(t, f, classifiedJob.ID, 10*time.Minute)

	// Legacy row without classification falls back to message matching.
	legacy := testsupport.NewContent(t, f.store, "yt-legacy", "Legacy")
	legacyJob, err := f.jobs.Enqueue(ctx, legacy.ID, queue.JobProcessAudio, 5, 3, "")
	if err != nil {
		t.Fatalf("Enqueue legacy: %v", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	testsupport.Exec(t, f.store, `
UPDATE processing_jobs SET status = 'failed', error_message = 'audio has unsupported codec',
	error_retryable = NULL, completed_at = ?, updated_at = ? WHERE id = ?`,
		time.Now().Add(-10*time.Minute).UTC().Format(time.RFC3339Nano), now, legacyJob.ID)

	report, err := f.sweeper.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.NonRetryable != 2 {
		t.Fatalf("non-retryable = %d, want 2", report.NonRetryable)
	}

	for _, id := range []int64{classifiedJob.ID, legacyJob.ID} {
		job, getErr := f.jobs.GetJob(ctx, id)
		if getErr != nil {
			t.Fatalf("GetJob %d: %v", id, getErr)
		}
		if job.Status != queue.StatusPermanentFailure {
			t.Fatalf("job %d status = %q, want permanent_failure", id, job.Status)
		}
	}
}

func TestExhaustedRetriesFailPermanently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := testsupport.NewContent(t, f.store, "yt-exhausted", "Exhausted")

	job, err := f.jobs.Enqueue(ctx, item.ID, queue.JobVectorize, 4, 2, "")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := f.jobs.Fail(ctx, job.ID, "embedder down", true); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	testsupport.Exec(t, f.store,
		`UPDATE processing_jobs SET retry_count = max_retries WHERE id = ?`, job.ID)
	backdateCompleted(t, f, job.ID, 10*time.Minute)

	report, err := f.sweeper.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.FailedExhausted != 1 {
		t.Fatalf("failed exhausted = %d, want 1", report.FailedExhausted)
	}

	terminal, _ := f.jobs.GetJob(ctx, job.ID)
	if terminal.Status != queue.StatusPermanentFailure {
		t.Fatalf("status = %q, want permanent_failure", terminal.Status)
	}

	// Exhaustion raises an alert on the feed.
	alertSvc := alerts.NewService(f.cache, logging.NewNop())
	recent, err := alertSvc.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) == 0 {
		t.Fatal("expected an alert for exhausted job")
	}
}

func TestSweepPersistsReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.sweeper.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	report, err := recovery.LastReport(ctx, f.cache)
	if err != nil {
		t.Fatalf("LastReport: %v", err)
	}
	if report == nil {
		t.Fatal("sweep report not persisted")
	}
	if report.FinishedAt.IsZero() {
		t.Fatal("report missing finish time")
	}
}
