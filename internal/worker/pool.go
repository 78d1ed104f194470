package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/iconidentify/vidyodl/internal/domain"
)

// ErrShutdownTimeout is returned when workers don't stop within timeout.
var ErrShutdownTimeout = errors.New("worker pool shutdown timed out")

// Queue hands out pending jobs.
type Queue interface {
	Dequeue(ctx context.Context) (*domain.Job, error)
}

// Processor runs one job to a terminal state. *service.DownloadService
// satisfies it.
type Processor interface {
	Process(ctx context.Context, job *domain.Job) error
}

// Pool manages a pool of workers for processing download jobs.
type Pool struct {
	workers      int
	pollInterval time.Duration
	queue        Queue
	processor    Processor
	logger       *slog.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// Config holds worker pool configuration.
type Config struct {
	Workers      int
	PollInterval time.Duration
}

// NewPool creates a new worker pool.
func NewPool(
	cfg Config,
	queue Queue,
	processor Processor,
	logger *slog.Logger,
) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		workers:      cfg.Workers,
		pollInterval: cfg.PollInterval,
		queue:        queue,
		processor:    processor,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start launches all workers.
func (p *Pool) Start() {
	p.logger.Info("starting worker pool", "workers", p.workers)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop cancels running jobs and waits for workers to exit.
func (p *Pool) Stop(timeout time.Duration) error {
	p.logger.Info("stopping worker pool")
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
		return nil
	case <-time.After(timeout):
		return ErrShutdownTimeout
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	logger := p.logger.With("worker_id", id)
	logger.Info("worker started")

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			logger.Info("worker stopping")
			return
		case <-ticker.C:
			// Drain the queue before sleeping again.
			for p.processNextJob(logger) {
				if p.ctx.Err() != nil {
					break
				}
			}
		}
	}
}

// processNextJob runs one job and reports whether there was one.
func (p *Pool) processNextJob(logger *slog.Logger) bool {
	job, err := p.queue.Dequeue(p.ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNoJobs) && p.ctx.Err() == nil {
			logger.Error("failed to dequeue job", "error", err)
		}
		return false
	}

	logger = logger.With("job_id", job.ID, "content_id", job.ContentID)
	logger.Info("processing job", "kind", job.Kind)

	if err := p.processor.Process(p.ctx, job); err != nil {
		switch {
		case errors.Is(err, domain.ErrJobCancelled), errors.Is(err, domain.ErrTerminalState):
			logger.Info("job cancelled", "attempts", job.Attempt)
		default:
			logger.Error("job failed permanently",
				"error", err,
				"attempts", job.Attempt,
			)
		}
		return true
	}

	logger.Info("job completed successfully", "output", job.OutputPath, "attempts", job.Attempt)
	return true
}
