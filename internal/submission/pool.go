package submission

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned by Submit when every queue slot is taken.
	ErrQueueFull = errors.New("submission queue is full")
	// ErrPoolClosed is returned by Submit after Close.
	ErrPoolClosed = errors.New("submission pool is closed")
)

// Runner executes one submission. *Workflow is the production Runner.
type Runner interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// Job is a queued submission. Cleanup, if set, runs after the workflow
// finishes regardless of outcome (e.g. removing uploaded photos).
type Job struct {
	Request Request
	Cleanup func()
}

// Outcome is what a worker reports for each job.
type Outcome struct {
	Request Request
	Result  Result
	Err     error
}

// WorkerPool runs detached submissions on a fixed number of workers.
//
// Architecture:
//   - Each worker runs in its own goroutine
//   - Workers pull jobs from a shared buffered channel
//   - Every finished job is handed to the outcome callback
//   - Errors are reported but don't stop the worker
//
// Backpressure:
//   - Submit never blocks: a full queue is reported as ErrQueueFull so the
//     HTTP handler can answer immediately
//
// Configuration:
//   - Worker count: each worker drives one browser session at a time
//   - Queue size: accepted-but-not-started submissions
type WorkerPool struct {
	jobs      chan Job
	runner    Runner
	onOutcome func(Outcome)
	ctx       context.Context
	logger    *zap.Logger
	wg        sync.WaitGroup

	mu     sync.RWMutex // guards closed and sends on jobs
	closed bool
}

// NewWorkerPool creates a pool and starts its workers.
//
// Parameters:
//   - ctx: lifetime of the workers' submissions; cancelling it aborts in-flight runs
//   - runner: the workflow to run for each job
//   - workerCount: number of concurrent submissions
//   - queueSize: number of jobs that may wait for a worker
//   - onOutcome: called from the worker goroutine after every job, may be nil
func NewWorkerPool(ctx context.Context, runner Runner, workerCount, queueSize int, onOutcome func(Outcome), logger *zap.Logger) *WorkerPool {
	logger.Info("→ Creating worker pool", zap.Int("workers", workerCount), zap.Int("queue_size", queueSize))

	if onOutcome == nil {
		onOutcome = func(Outcome) {}
	}
	p := &WorkerPool{
		jobs:      make(chan Job, queueSize),
		runner:    runner,
		onOutcome: onOutcome,
		ctx:       ctx,
		logger:    logger,
	}

	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.work(i + 1)
	}

	logger.Info("✓ Worker pool started", zap.Int("workers", workerCount))
	return p
}

// Submit queues a job without blocking.
func (p *WorkerPool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting jobs and waits for queued and running jobs to finish,
// or for ctx to expire. Jobs still running at the deadline are abandoned.
func (p *WorkerPool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("✓ Worker pool stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("⚠️  Worker pool shutdown timed out, abandoning in-flight submissions")
		return ctx.Err()
	}
}

func (p *WorkerPool) work(id int) {
	defer p.wg.Done()

	logger := p.logger.With(zap.Int("worker", id))
	logger.Debug("worker started")

	for job := range p.jobs {
		logger.Info("→ Processing submission", zap.String("request_id", job.Request.ID))
		outcome := p.process(job)

		if outcome.Err != nil {
			logger.Warn("✗ Submission failed", zap.String("request_id", job.Request.ID), zap.Error(outcome.Err))
		} else {
			logger.Info("✓ Submission processed", zap.String("request_id", job.Request.ID),
				zap.String("service_request_number", outcome.Result.ServiceRequestNumber))
		}
		p.onOutcome(outcome)
	}

	logger.Debug("worker stopped")
}

func (p *WorkerPool) process(job Job) (outcome Outcome) {
	outcome.Request = job.Request
	if job.Cleanup != nil {
		defer job.Cleanup()
	}
	outcome.Result, outcome.Err = p.runner.Run(p.ctx, job.Request)
	return outcome
}
