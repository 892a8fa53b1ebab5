// Package daemon coordinates the background services: the worker pool, the
// recovery sweeper, the integrity reconciler, and the HTTP API. It enforces
// single-instance execution with a lock file.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"loom/internal/alerts"
	"loom/internal/cache"
	"loom/internal/catalog"
	"loom/internal/config"
	"loom/internal/integrity"
	"loom/internal/logging"
	"loom/internal/metrics"
	"loom/internal/queue"
	"loom/internal/recovery"
	"loom/internal/services"
	"loom/internal/worker"
)

// Deps bundles the services the daemon coordinates.
type Deps struct {
	Store      *catalog.Store
	Jobs       *queue.Store
	Cache      cache.Client
	Pool       *worker.Pool
	Sweeper    *recovery.Sweeper
	Reconciler *integrity.Reconciler
	Alerts     *alerts.Service
	Metrics    *metrics.Set
}

// Daemon owns the background processing lifecycle.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	deps   Deps

	lockPath string
	lock     *flock.Flock

	api *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	scanMu  sync.Mutex
	sweepMu sync.Mutex
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || deps.Store == nil || deps.Jobs == nil || deps.Pool == nil {
		return nil, errors.New("daemon requires config, catalog store, queue store, and worker pool")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "loomd.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger.With(logging.String(logging.FieldComponent, "daemon")),
		deps:     deps,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}

	srv, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = srv
	return d, nil
}

// Start acquires the daemon lock and launches the background services.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another loom daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.deps.Pool.Start(runCtx); err != nil {
		cancel()
		d.cancel = nil
		_ = d.lock.Unlock()
		return fmt.Errorf("start worker pool: %w", err)
	}

	if d.deps.Sweeper != nil {
		d.wg.Add(1)
		go d.runRecoveryLoop(runCtx)
	}
	if d.deps.Reconciler != nil {
		d.wg.Add(1)
		go d.runIntegrityLoop(runCtx)
	}

	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			cancel()
			d.cancel = nil
			d.deps.Pool.Stop()
			d.wg.Wait()
			_ = d.lock.Unlock()
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("loom daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop halts background processing and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.deps.Pool.Stop()
	d.wg.Wait()
	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("loom daemon stopped")
}

// Close stops the daemon and releases held resources.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.deps.Cache != nil {
		if err := d.deps.Cache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.deps.Store != nil {
		if err := d.deps.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Status reports the daemon runtime state and current queue depth.
func (d *Daemon) Status(ctx context.Context) (*Status, error) {
	stats, err := d.deps.Jobs.Stats(ctx)
	if err != nil {
		return nil, err
	}
	depth := make(map[string]int, len(stats))
	for status, count := range stats {
		depth[string(status)] = count
	}
	return &Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.deps.Store.Path(),
		LockFilePath: d.lockPath,
		Workers:      d.cfg.Queue.Workers,
		Queue:        depth,
	}, nil
}

// Status is daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	DatabasePath string
	LockFilePath string
	Workers      int
	Queue        map[string]int
}

// Scan runs one integrity scan on demand. Concurrent requests serialize so
// two scans never repair the same drift twice.
func (d *Daemon) Scan(ctx context.Context) (*integrity.Report, error) {
	if d.deps.Reconciler == nil {
		return nil, errors.New("integrity reconciler unavailable")
	}
	d.scanMu.Lock()
	defer d.scanMu.Unlock()
	return d.runScan(ctx)
}

// Recover runs one recovery sweep on demand.
func (d *Daemon) Recover(ctx context.Context) (*recovery.Report, error) {
	if d.deps.Sweeper == nil {
		return nil, errors.New("recovery sweeper unavailable")
	}
	d.sweepMu.Lock()
	defer d.sweepMu.Unlock()
	return d.runSweep(ctx)
}

// Report fetches the latest persisted sweep reports and recent alerts.
func (d *Daemon) Report(ctx context.Context) (*integrity.Report, *recovery.Report, []alerts.Alert, error) {
	integrityReport, err := integrity.LastReport(ctx, d.deps.Cache)
	if err != nil {
		return nil, nil, nil, err
	}
	recoveryReport, err := recovery.LastReport(ctx, d.deps.Cache)
	if err != nil {
		return nil, nil, nil, err
	}
	var recent []alerts.Alert
	if d.deps.Alerts != nil {
		recent, err = d.deps.Alerts.Recent(ctx, 20)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	return integrityReport, recoveryReport, recent, nil
}

// ListQueue returns jobs filtered by optional statuses.
func (d *Daemon) ListQueue(ctx context.Context, statuses []queue.Status) ([]*queue.Job, error) {
	return d.deps.Jobs.List(ctx, statuses...)
}

// RetryJob returns a finished job to pending without charging a retry.
func (d *Daemon) RetryJob(ctx context.Context, id int64) (*queue.Job, error) {
	job, err := d.deps.Jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status == queue.StatusPending || job.Status == queue.StatusProcessing {
		return nil, fmt.Errorf("job %d is %s and cannot be retried", id, job.Status)
	}
	if err := d.deps.Jobs.MarkPending(ctx, id, false); err != nil {
		return nil, err
	}
	return d.deps.Jobs.GetJob(ctx, id)
}

// Ingest registers a content item and schedules transcript extraction. An
// existing item with the same external ID is reused.
func (d *Daemon) Ingest(ctx context.Context, externalID, sourceURL, title, language string, priority int) (*catalog.Content, *queue.Job, error) {
	externalID = strings.TrimSpace(externalID)
	sourceURL = strings.TrimSpace(sourceURL)
	if externalID == "" || sourceURL == "" {
		return nil, nil, services.Wrap(services.ErrValidation, "daemon", "ingest", "external id and source url are required", nil)
	}
	if priority <= 0 {
		priority = d.cfg.Queue.DefaultPriority
	}

	content, err := d.deps.Store.GetContentByExternalID(ctx, externalID)
	if errors.Is(err, catalog.ErrNotFound) {
		content = &catalog.Content{
			ExternalID: externalID,
			SourceURL:  sourceURL,
			Title:      title,
			Language:   language,
			IsActive:   true,
		}
		err = d.deps.Store.CreateContent(ctx, content)
	}
	if err != nil {
		return nil, nil, err
	}

	job, err := d.deps.Jobs.Enqueue(ctx, content.ID, queue.JobExtractTranscript, priority, d.cfg.Queue.MaxRetries, "")
	if errors.Is(err, queue.ErrDuplicateJob) {
		return nil, nil, services.Wrap(services.ErrValidation, "daemon", "ingest",
			fmt.Sprintf("content %s already has an uncompleted extract_transcript job", externalID), nil)
	}
	if err != nil {
		return nil, nil, err
	}

	d.logger.Info("content queued",
		logging.Int64(logging.FieldContentID, content.ID),
		logging.String("external_id", externalID))
	return content, job, nil
}

func (d *Daemon) runRecoveryLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.Recovery.IntervalDuration())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		d.sweepMu.Lock()
		if _, err := d.runSweep(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("recovery sweep failed", logging.Error(err))
		}
		d.sweepMu.Unlock()
	}
}

func (d *Daemon) runIntegrityLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.Integrity.IntervalDuration())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		d.scanMu.Lock()
		if _, err := d.runScan(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("integrity scan failed", logging.Error(err))
		}
		d.scanMu.Unlock()
	}
}

func (d *Daemon) runSweep(ctx context.Context) (*recovery.Report, error) {
	start := time.Now()
	report, err := d.deps.Sweeper.Run(ctx)
	if err != nil {
		return nil, err
	}
	if set := d.deps.Metrics; set != nil {
		set.SweepDuration.WithLabelValues("recovery").Observe(time.Since(start).Seconds())
		set.RecoveryActions.WithLabelValues("stuck_retried").Add(float64(report.StuckRetried))
		set.RecoveryActions.WithLabelValues("stuck_exhausted").Add(float64(report.StuckExhausted))
		set.RecoveryActions.WithLabelValues("failed_retried").Add(float64(report.FailedRetried))
		set.RecoveryActions.WithLabelValues("failed_exhausted").Add(float64(report.FailedExhausted))
		set.RecoveryActions.WithLabelValues("non_retryable").Add(float64(report.NonRetryable))
		set.RecoveryActions.WithLabelValues("orphans_cancelled").Add(float64(report.OrphansCancelled))
		set.RecoveryActions.WithLabelValues("duplicates_removed").Add(float64(report.DuplicatesRemoved))
		set.RecoveryActions.WithLabelValues("terminal_pruned").Add(float64(report.TerminalPruned))
	}
	return report, nil
}

func (d *Daemon) runScan(ctx context.Context) (*integrity.Report, error) {
	start := time.Now()
	report, err := d.deps.Reconciler.ScanAndFix(ctx)
	if err != nil {
		return nil, err
	}
	if set := d.deps.Metrics; set != nil {
		set.SweepDuration.WithLabelValues("integrity").Observe(time.Since(start).Seconds())
		set.IntegrityFound.Add(float64(report.IssuesFound))
		set.IntegrityFixed.Add(float64(report.IssuesFixed))
	}
	return report, nil
}
