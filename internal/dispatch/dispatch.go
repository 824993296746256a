// Package dispatch hands queued jobs to an executor, either on a bounded pool
// of goroutines in this process or by notifying a remote worker.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/presswork/internal/config"
	"github.com/zulandar/presswork/internal/metrics"
)

// DefaultJobTimeout bounds a single in-process job when none is configured.
const DefaultJobTimeout = 15 * time.Minute

var ErrShuttingDown = errors.New("dispatch: shutting down")

// Dispatcher starts execution of a queued job without blocking the caller.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
	Shutdown(ctx context.Context) error
}

// Processor runs one job to completion.
type Processor interface {
	ProcessJob(ctx context.Context, jobID string) error
}

// New returns the dispatcher selected by cfg.Mode.
func New(cfg config.DispatchConfig, secret string, proc Processor, logger zerolog.Logger) (Dispatcher, error) {
	switch cfg.Mode {
	case "", config.DispatchInProcess:
		if proc == nil {
			return nil, fmt.Errorf("dispatch: processor is required for %s mode", config.DispatchInProcess)
		}
		return NewInProcess(proc, InProcessOpts{
			MaxInFlight: cfg.MaxInFlight,
			JobTimeout:  cfg.JobTimeout,
			Logger:      logger,
		}), nil
	case config.DispatchRemote:
		return NewRemote(RemoteOpts{
			WorkerURL:  cfg.WorkerURL,
			Secret:     secret,
			JobTimeout: cfg.JobTimeout,
			Logger:     logger,
		})
	default:
		return nil, fmt.Errorf("dispatch: unknown mode %q", cfg.Mode)
	}
}

// InProcessOpts configures an InProcess dispatcher.
type InProcessOpts struct {
	MaxInFlight int
	JobTimeout  time.Duration
	Logger      zerolog.Logger
}

// InProcess runs jobs on supervised goroutines. At most MaxInFlight jobs
// execute at once; the rest wait for a slot.
type InProcess struct {
	proc    Processor
	sem     chan struct{}
	timeout time.Duration
	log     zerolog.Logger

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewInProcess creates an in-process dispatcher around proc.
func NewInProcess(proc Processor, opts InProcessOpts) *InProcess {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 4
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = DefaultJobTimeout
	}
	base, cancel := context.WithCancel(context.Background())
	return &InProcess{
		proc:    proc,
		sem:     make(chan struct{}, opts.MaxInFlight),
		timeout: opts.JobTimeout,
		log:     opts.Logger.With().Str("component", "dispatch").Logger(),
		base:    base,
		cancel:  cancel,
	}
}

// Dispatch schedules jobID and returns immediately. The job runs detached
// from ctx: an HTTP request finishing does not cancel the job it started.
func (d *InProcess) Dispatch(_ context.Context, jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrShuttingDown
	}

	d.wg.Add(1)
	go d.run(jobID)
	return nil
}

func (d *InProcess) run(jobID string) {
	defer d.wg.Done()

	select {
	case d.sem <- struct{}{}:
	case <-d.base.Done():
		return
	}
	defer func() { <-d.sem }()

	metrics.DispatchStarted()
	defer metrics.DispatchDone()

	ctx, cancel := context.WithTimeout(d.base, d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Str("job_id", jobID).Interface("panic", r).Msg("job goroutine panicked")
		}
	}()

	if err := d.proc.ProcessJob(ctx, jobID); err != nil {
		d.log.Error().Err(err).Str("job_id", jobID).Msg("process job")
	}
}

// Shutdown stops accepting jobs and waits for running ones. If ctx expires
// first, running jobs are cancelled and ctx's error is returned; their
// executors record them as failed.
func (d *InProcess) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
