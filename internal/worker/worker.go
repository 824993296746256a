package worker

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/presswork/internal/recovery"
	"gorm.io/gorm"
)

const defaultPollInterval = 30 * time.Second

// Runner claims and runs jobs.
type Runner interface {
	RunJob(ctx context.Context, jobID string) (bool, error)
	RunNext(ctx context.Context) (string, error)
}

// PullerOpts configures a Puller.
type PullerOpts struct {
	DB           *gorm.DB
	Runner       Runner
	StuckTimeout time.Duration
	WorkerID     string // optional; tracks the current job on the worker row
	Logger       zerolog.Logger
}

// Puller performs worker pulls.
type Puller struct {
	db           *gorm.DB
	runner       Runner
	stuckTimeout time.Duration
	workerID     string
	log          zerolog.Logger
}

// PullResult is the outcome of one pull.
type PullResult struct {
	Processed bool   `json:"processed"`
	JobID     string `json:"jobId,omitempty"`
}

// NewPuller validates opts and returns a Puller.
func NewPuller(opts PullerOpts) (*Puller, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("worker: db is required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("worker: runner is required")
	}
	return &Puller{
		db:           opts.DB,
		runner:       opts.Runner,
		stuckTimeout: opts.StuckTimeout,
		workerID:     opts.WorkerID,
		log:          opts.Logger.With().Str("component", "worker").Logger(),
	}, nil
}

// Pull recovers stuck jobs, then runs jobID if given or the oldest QUEUED job
// otherwise. Processed is false when there was nothing this worker could
// claim.
func (p *Puller) Pull(ctx context.Context, jobID string) (PullResult, error) {
	if n, err := recovery.RecoverStuckJobs(p.db, p.stuckTimeout); err != nil {
		p.log.Error().Err(err).Msg("recover stuck jobs")
	} else if n > 0 {
		p.log.Info().Int("recovered", n).Msg("recovered stuck jobs")
	}

	p.markBusy(jobID)
	defer p.markBusy("")

	if jobID != "" {
		ran, err := p.runner.RunJob(ctx, jobID)
		if err != nil {
			return PullResult{JobID: jobID}, err
		}
		if !ran {
			return PullResult{}, nil
		}
		p.countProcessed()
		return PullResult{Processed: true, JobID: jobID}, nil
	}

	id, err := p.runner.RunNext(ctx)
	if err != nil {
		return PullResult{JobID: id}, err
	}
	if id == "" {
		return PullResult{}, nil
	}
	p.countProcessed()
	return PullResult{Processed: true, JobID: id}, nil
}

func (p *Puller) markBusy(jobID string) {
	if p.workerID == "" {
		return
	}
	if err := setBusy(p.db, p.workerID, jobID); err != nil {
		p.log.Warn().Err(err).Msg("update worker status")
	}
}

func (p *Puller) countProcessed() {
	if p.workerID == "" {
		return
	}
	if err := countProcessed(p.db, p.workerID); err != nil {
		p.log.Warn().Err(err).Msg("count processed job")
	}
}

// RunOpts configures the worker daemon loop.
type RunOpts struct {
	DB                *gorm.DB
	Runner            Runner
	StuckTimeout      time.Duration
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	Logger            zerolog.Logger
	Out               io.Writer

	// Ready, if set, receives the puller once the worker is registered so
	// the caller can serve pull requests with the same identity.
	Ready func(*Puller)
}

// Run registers a worker, starts its heartbeat and pulls queued jobs until
// ctx is cancelled. The worker row is marked dead on exit.
func Run(ctx context.Context, opts RunOpts) error {
	if opts.DB == nil {
		return fmt.Errorf("worker: db is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}

	w, err := Register(opts.DB, "pull")
	if err != nil {
		return err
	}
	log := opts.Logger.With().Str("worker_id", w.ID).Logger()
	fmt.Fprintf(opts.Out, "Worker registered (id=%s)\n", w.ID)

	defer func() {
		fmt.Fprintf(opts.Out, "Worker deregistering...\n")
		if err := Deregister(opts.DB, w.ID); err != nil {
			log.Error().Err(err).Msg("deregister")
		}
		fmt.Fprintf(opts.Out, "Worker stopped.\n")
	}()

	puller, err := NewPuller(PullerOpts{
		DB:           opts.DB,
		Runner:       opts.Runner,
		StuckTimeout: opts.StuckTimeout,
		WorkerID:     w.ID,
		Logger:       log,
	})
	if err != nil {
		return err
	}
	if opts.Ready != nil {
		opts.Ready(puller)
	}

	hbErrCh := StartHeartbeat(ctx, opts.DB, w.ID, opts.HeartbeatInterval)
	fmt.Fprintf(opts.Out, "Worker polling every %s...\n", opts.PollInterval)

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		// Drain the queue before waiting for the next tick.
		for {
			if ctx.Err() != nil {
				return nil
			}
			res, err := puller.Pull(ctx, "")
			if err != nil {
				log.Error().Err(err).Str("job_id", res.JobID).Msg("pull")
				break
			}
			if !res.Processed {
				break
			}
			fmt.Fprintf(opts.Out, "Processed job %s\n", res.JobID)
		}

		select {
		case <-ctx.Done():
			return nil
		case err := <-hbErrCh:
			return fmt.Errorf("worker: heartbeat: %w", err)
		case <-ticker.C:
		}
	}
}
