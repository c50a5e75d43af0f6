// Package jobs runs side work that must not hold up an HTTP response, such
// as notification fan-out after a mutation.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/stratus/internal/metrics"
)

// Func is one unit of background work.
type Func func(ctx context.Context) error

// Runner starts background jobs. Go never blocks on the job itself and never
// reports the job's error to the caller.
type Runner interface {
	Go(ctx context.Context, name string, fn Func)
}

// Config tunes a Pool.
type Config struct {
	// MaxConcurrent caps running jobs. Further jobs wait for a slot.
	MaxConcurrent int
	// Timeout bounds a single job.
	Timeout time.Duration
}

// Pool runs each job on its own goroutine with a context detached from the
// caller's cancellation, a timeout, panic recovery and error logging.
type Pool struct {
	sem     chan struct{}
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool creates a pool.
func NewPool(cfg Config, logger *zap.Logger) *Pool {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 32
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Pool{
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// Go schedules fn. The job keeps the values of ctx (request id, logger
// fields) but not its deadline or cancellation. Jobs submitted after
// Shutdown are dropped.
func (p *Pool) Go(ctx context.Context, name string, fn Func) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.Warn("job dropped, pool shut down", zap.String("job", name))
		metrics.RecordJob(name, "dropped")
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	go func() {
		defer p.wg.Done()

		p.sem <- struct{}{}
		defer func() { <-p.sem }()

		jobCtx, cancel := context.WithTimeout(detached, p.timeout)
		defer cancel()

		run(jobCtx, name, fn, p.logger)
	}()
}

// Shutdown stops accepting jobs and waits for running ones until ctx ends.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for background jobs: %w", ctx.Err())
	}
}

// Inline runs jobs synchronously on the caller's goroutine. Tests and CLI
// commands use it so side effects are visible when the call returns.
type Inline struct {
	Logger *zap.Logger
}

// Go runs fn immediately with the same containment as Pool.
func (i Inline) Go(ctx context.Context, name string, fn Func) {
	logger := i.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	run(context.WithoutCancel(ctx), name, fn, logger)
}

func run(ctx context.Context, name string, fn Func, logger *zap.Logger) {
	metrics.JobStarted()
	defer metrics.JobFinished()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("background job panicked",
				zap.String("job", name),
				zap.Any("panic", r),
			)
			metrics.RecordJob(name, "panic")
		}
	}()

	if err := fn(ctx); err != nil {
		logger.Error("background job failed",
			zap.String("job", name),
			zap.Duration("took", time.Since(start)),
			zap.Error(err),
		)
		metrics.RecordJob(name, "error")
		return
	}
	metrics.RecordJob(name, "ok")
}
