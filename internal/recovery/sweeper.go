package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"loom/internal/alerts"
	"loom/internal/cache"
	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/queue"
	"loom/internal/services"
)

// LastReportKey is the cache key holding the most recent sweep report.
const LastReportKey = "recovery:last_report"

// Report summarizes one recovery sweep.
type Report struct {
	StartedAt         time.Time `json:"startedAt"`
	FinishedAt        time.Time `json:"finishedAt"`
	StuckRetried      int       `json:"stuckRetried"`
	StuckExhausted    int       `json:"stuckExhausted"`
	FailedRetried     int       `json:"failedRetried"`
	FailedExhausted   int       `json:"failedExhausted"`
	NonRetryable      int       `json:"nonRetryable"`
	OrphansCancelled  int64     `json:"orphansCancelled"`
	DuplicatesRemoved int64     `json:"duplicatesRemoved"`
	TerminalPruned    int64     `json:"terminalPruned"`
}

// Actions reports how many state transitions the sweep performed.
func (r *Report) Actions() int64 {
	return int64(r.StuckRetried+r.StuckExhausted+r.FailedRetried+r.FailedExhausted+r.NonRetryable) +
		r.OrphansCancelled + r.DuplicatesRemoved + r.TerminalPruned
}

// Sweeper returns abandoned and failed jobs to a runnable state, within the
// retry budget, and keeps the queue free of orphans and stale rows.
type Sweeper struct {
	cfg    *config.Config
	jobs   *queue.Store
	cache  cache.Client
	alerts *alerts.Service
	logger *slog.Logger
}

// New wires a recovery sweeper over the queue.
func New(cfg *config.Config, jobs *queue.Store, cacheClient cache.Client, alertSvc *alerts.Service, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		cfg:    cfg,
		jobs:   jobs,
		cache:  cacheClient,
		alerts: alertSvc,
		logger: logger.With(logging.String(logging.FieldComponent, "recovery")),
	}
}

// Run performs one full sweep: stuck jobs, failed-job retries, orphan
// cancellation, duplicate cleanup, and terminal pruning. The report is
// persisted to the cache.
func (s *Sweeper) Run(ctx context.Context) (*Report, error) {
	report := &Report{StartedAt: time.Now().UTC()}

	if err := s.recoverStuck(ctx, report); err != nil {
		return nil, err
	}
	if err := s.retryFailed(ctx, report); err != nil {
		return nil, err
	}

	var err error
	if report.OrphansCancelled, err = s.jobs.CancelOrphaned(ctx); err != nil {
		return nil, fmt.Errorf("cancel orphaned: %w", err)
	}
	if report.DuplicatesRemoved, err = s.jobs.DedupePending(ctx); err != nil {
		return nil, fmt.Errorf("dedupe pending: %w", err)
	}
	retention := s.cfg.Recovery.TerminalRetentionDuration()
	if report.TerminalPruned, err = s.jobs.PruneTerminal(ctx, time.Now().Add(-retention)); err != nil {
		return nil, fmt.Errorf("prune terminal: %w", err)
	}

	report.FinishedAt = time.Now().UTC()
	s.persistReport(ctx, report)
	if report.Actions() > 0 {
		s.logger.Info("recovery sweep finished",
			logging.Int("stuck_retried", report.StuckRetried),
			logging.Int("stuck_exhausted", report.StuckExhausted),
			logging.Int("failed_retried", report.FailedRetried),
			logging.Int("failed_exhausted", report.FailedExhausted),
			logging.Int("non_retryable", report.NonRetryable),
			logging.Int64("orphans_cancelled", report.OrphansCancelled),
			logging.Int64("duplicates_removed", report.DuplicatesRemoved),
			logging.Int64("terminal_pruned", report.TerminalPruned))
	}
	return report, nil
}

// recoverStuck handles jobs abandoned in the processing state, usually after
// a crash. Within budget they go back to pending and the transition counts
// as a retry; past budget they fail permanently.
func (s *Sweeper) recoverStuck(ctx context.Context, report *Report) error {
	cutoff := time.Now().Add(-s.cfg.Recovery.StuckTimeoutDuration())
	stuck, err := s.jobs.StuckProcessing(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list stuck jobs: %w", err)
	}
	for _, job := range stuck {
		if job.RetryCount < job.MaxRetries {
			if err := s.jobs.MarkPending(ctx, job.ID, true); err != nil {
				return err
			}
			report.StuckRetried++
			s.logger.Warn("requeued stuck job",
				logging.Int64(logging.FieldJobID, job.ID),
				logging.String(logging.FieldJobType, string(job.Type)),
				logging.Int("retry", job.RetryCount+1))
			continue
		}
		message := "stuck in processing past retry budget"
		if err := s.jobs.MarkPermanentFailure(ctx, job.ID, message); err != nil {
			return err
		}
		report.StuckExhausted++
		s.alerts.Publish(ctx, alerts.Alert{
			Severity:  alerts.SeverityCritical,
			Component: "recovery",
			ContentID: job.ContentID,
			Message:   fmt.Sprintf("job %d (%s) %s", job.ID, job.Type, message),
		})
	}
	return nil
}

// retryFailed revisits failed jobs after the grace period. Non-retryable
// failures and exhausted budgets become permanent; everything else goes back
// to pending with its retry counted.
func (s *Sweeper) retryFailed(ctx context.Context, report *Report) error {
	cutoff := time.Now().Add(-s.cfg.Recovery.RetryGraceDuration())
	failed, err := s.jobs.FailedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list failed jobs: %w", err)
	}
	for _, job := range failed {
		if !jobRetryable(job) {
			if err := s.jobs.MarkPermanentFailure(ctx, job.ID, job.ErrorMessage); err != nil {
				return err
			}
			report.NonRetryable++
			s.alerts.Publish(ctx, alerts.Alert{
				Severity:  alerts.SeverityWarning,
				Component: "recovery",
				ContentID: job.ContentID,
				Message:   fmt.Sprintf("job %d (%s) failed permanently: %s", job.ID, job.Type, job.ErrorMessage),
			})
			continue
		}
		if job.RetryCount >= job.MaxRetries {
			if err := s.jobs.MarkPermanentFailure(ctx, job.ID, job.ErrorMessage); err != nil {
				return err
			}
			report.FailedExhausted++
			s.alerts.Publish(ctx, alerts.Alert{
				Severity:  alerts.SeverityCritical,
				Component: "recovery",
				ContentID: job.ContentID,
				Message:   fmt.Sprintf("job %d (%s) exhausted %d retries: %s", job.ID, job.Type, job.MaxRetries, job.ErrorMessage),
			})
			continue
		}
		if err := s.jobs.MarkPending(ctx, job.ID, true); err != nil {
			return err
		}
		report.FailedRetried++
		s.logger.Info("retrying failed job",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String(logging.FieldJobType, string(job.Type)),
			logging.Int("retry", job.RetryCount+1))
	}
	return nil
}

// jobRetryable prefers the structured classification recorded at failure
// time; rows that predate it fall back to message matching.
func jobRetryable(job *queue.Job) bool {
	if job.ErrorRetryable != nil {
		return *job.ErrorRetryable
	}
	return services.RetryableMessage(job.ErrorMessage)
}

func (s *Sweeper) persistReport(ctx context.Context, report *Report) {
	encoded, err := json.Marshal(report)
	if err != nil {
		s.logger.Error("encode sweep report", logging.Error(err))
		return
	}
	if err := s.cache.Set(ctx, LastReportKey, string(encoded), 0); err != nil {
		s.logger.Error("persist sweep report", logging.Error(err))
	}
}

// LastReport loads the most recent persisted sweep report, if any.
func LastReport(ctx context.Context, cacheClient cache.Client) (*Report, error) {
	encoded, ok, err := cacheClient.Get(ctx, LastReportKey)
	if err != nil || !ok {
		return nil, err
	}
	var report Report
	if err := json.Unmarshal([]byte(encoded), &report); err != nil {
		return nil, fmt.Errorf("decode sweep report: %w", err)
	}
	return &report, nil
}
