// Package worker runs the job claim loop. A pool of goroutines claims
// pending jobs one at a time, dispatches them to the registered handler for
// the job type, and records the outcome with its retryability classification.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/metrics"
	"loom/internal/queue"
	"loom/internal/services"
)

// Handler executes one claimed job.
type Handler func(ctx context.Context, job *queue.Job) error

// Pool claims and executes jobs on a fixed number of goroutines.
type Pool struct {
	cfg      *config.Config
	jobs     *queue.Store
	handlers map[queue.JobType]Handler
	metrics  *metrics.Set
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool builds a pool. The metrics set may be nil.
func NewPool(cfg *config.Config, jobs *queue.Store, handlers map[queue.JobType]Handler, set *metrics.Set, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pool{
		cfg:      cfg,
		jobs:     jobs,
		handlers: handlers,
		metrics:  set,
		logger:   logger.With(logging.String(logging.FieldComponent, "worker")),
	}
}

// Start begins background processing.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("worker pool already running")
	}
	if len(p.handlers) == 0 {
		return errors.New("worker pool has no handlers")
	}
	workers := p.cfg.Queue.Workers
	if workers < 1 {
		workers = 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.run(runCtx, i)
	}
	return nil
}

// Stop terminates background processing and waits for in-flight jobs.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With(logging.Int("worker", id))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.jobs.ClaimNext(ctx)
		if errors.Is(err, queue.ErrNoJob) {
			p.refreshDepth(ctx)
			p.waitForJobOrShutdown(ctx)
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to claim next job", logging.Error(err))
			p.waitForJobOrShutdown(ctx)
			continue
		}

		p.execute(ctx, logger, job)
	}
}

func (p *Pool) execute(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	jobCtx := logging.WithContentID(logging.WithJob(ctx, job.ID, string(job.Type)), job.ContentID)
	jobLogger := logging.WithContext(jobCtx, logger)
	jobLogger.Info("job started", logging.Int("retry_count", job.RetryCount))

	start := time.Now()
	err := p.dispatch(jobCtx, job)
	elapsed := time.Since(start)

	if p.metrics != nil {
		p.metrics.JobDuration.WithLabelValues(string(job.Type)).Observe(elapsed.Seconds())
	}

	switch {
	case err == nil:
		if err := p.jobs.Complete(ctx, job.ID); err != nil {
			jobLogger.Error("failed to mark job completed", logging.Error(err))
			return
		}
		p.countOutcome(job.Type, "completed")
		jobLogger.Info("job completed", logging.Duration("job_duration", elapsed))

	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		// Shutdown interrupted the job. Return it so the next run claims it
		// without burning a retry.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.jobs.MarkPending(releaseCtx, job.ID, false); err != nil {
			jobLogger.Warn("failed to release interrupted job", logging.Error(err))
		}

	default:
		retryable := services.Retryable(err)
		if err := p.jobs.Fail(ctx, job.ID, err.Error(), retryable); err != nil {
			jobLogger.Error("failed to record job failure", logging.Error(err))
			return
		}
		p.countOutcome(job.Type, "failed")
		jobLogger.Error("job failed",
			logging.Error(err),
			logging.Bool("retryable", retryable),
			logging.Duration("job_duration", elapsed))
	}
}

// dispatch runs the handler for the job type, converting panics into errors
// so one bad job cannot take a worker goroutine down.
func (p *Pool) dispatch(ctx context.Context, job *queue.Job) (err error) {
	handler, ok := p.handlers[job.Type]
	if !ok {
		return services.Wrap(services.ErrConfiguration, "worker", "dispatch",
			fmt.Sprintf("no handler registered for job type %q", job.Type), nil)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (p *Pool) countOutcome(jobType queue.JobType, outcome string) {
	if p.metrics == nil {
		return
	}
	p.metrics.JobsProcessed.WithLabelValues(string(jobType), outcome).Inc()
}

func (p *Pool) refreshDepth(ctx context.Context) {
	if p.metrics == nil {
		return
	}
	stats, err := p.jobs.Stats(ctx)
	if err != nil {
		return
	}
	for _, status := range queue.AllStatuses() {
		p.metrics.QueueDepth.WithLabelValues(string(status)).Set(float64(stats[status]))
	}
}

func (p *Pool) waitForJobOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.cfg.Queue.PollIntervalDuration()):
	}
}
