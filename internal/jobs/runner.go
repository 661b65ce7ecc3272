// Package jobs runs detached, best-effort background work.
//
// A submitted job never reports back to its submitter. Failures and panics are
// logged and swallowed. Shutdown waits for in-flight jobs so a process exit does
// not cut an analytics write in half.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

const DefaultConcurrency = 4

// ErrClosed is returned by Submit after Shutdown has started.
var ErrClosed = errors.New("jobs: runner is shut down")

// Job is one unit of detached work.
type Job = func(ctx context.Context) error

type Runner struct {
	logger  zerolog.Logger
	sem     *semaphore.Weighted
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

type Config struct {
	Concurrency int
	// Timeout bounds each job. Zero means no per-job deadline.
	Timeout time.Duration
	Logger  zerolog.Logger
}

func NewRunner(cfg Config) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		logger:  cfg.Logger,
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		timeout: cfg.Timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Submit schedules job and returns immediately. The job runs on the runner's
// own context, not the caller's, so it outlives the request that spawned it.
func (r *Runner) Submit(name string, job Job) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(name, job)
	return nil
}

func (r *Runner) run(name string, job Job) {
	defer r.wg.Done()

	if err := r.sem.Acquire(r.ctx, 1); err != nil {
		r.logger.Warn().Str("job", name).Err(err).Msg("Background job dropped before start")
		return
	}
	defer r.sem.Release(1)

	ctx := r.ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	err := r.invoke(ctx, job)
	if err != nil {
		r.logger.Warn().
			Str("job", name).
			Dur("duration", time.Since(start)).
			Err(err).
			Msg("Background job failed")
		return
	}
	r.logger.Debug().Str("job", name).Dur("duration", time.Since(start)).Msg("Background job finished")
}

func (r *Runner) invoke(ctx context.Context, job Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().
				Str("stack", string(debug.Stack())).
				Msg("Recovered panic in background job")
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return job(ctx)
}

// Shutdown stops accepting jobs and waits for running ones. If ctx ends first,
// remaining jobs are cancelled and ctx.Err() is returned.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}
