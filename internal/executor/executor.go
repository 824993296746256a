// Package executor runs a single generation job end to end: claim, pipeline,
// persist, publish. Every path that leaves a claimed job unfinished ends with
// the job FAILED.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"github.com/zulandar/presswork/internal/job"
	"github.com/zulandar/presswork/internal/metrics"
	"github.com/zulandar/presswork/internal/models"
	"github.com/zulandar/presswork/internal/pipeline"
	"github.com/zulandar/presswork/internal/publish"
	"github.com/zulandar/presswork/internal/quota"
	"gorm.io/gorm"
)

// Runner executes the generation steps for a request.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request, onProgress pipeline.ProgressFunc) (*pipeline.Artifacts, error)
}

// Publisher distributes a published post.
type Publisher interface {
	RunPublishHook(ctx context.Context, h publish.Hook) publish.Report
}

// Opts configures an Executor.
type Opts struct {
	DB        *gorm.DB
	Pipeline  Runner
	Publisher Publisher // optional
	Sanitizer *bluemonday.Policy
	Logger    zerolog.Logger
}

// Executor processes generation jobs.
type Executor struct {
	db        *gorm.DB
	pipeline  Runner
	publisher Publisher
	policy    *bluemonday.Policy
	log       zerolog.Logger
	now       func() time.Time
}

// New validates opts and returns an Executor.
func New(opts Opts) (*Executor, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("executor: db is required")
	}
	if opts.Pipeline == nil {
		return nil, fmt.Errorf("executor: pipeline is required")
	}
	policy := opts.Sanitizer
	if policy == nil {
		policy = NewSanitizer()
	}
	return &Executor{
		db:        opts.DB,
		pipeline:  opts.Pipeline,
		publisher: opts.Publisher,
		policy:    policy,
		log:       opts.Logger,
		now:       time.Now,
	}, nil
}

// ProcessJob claims and runs one job. A job that is not QUEUED is left alone
// and nil is returned, so duplicate dispatch is harmless. Step failures are
// recorded on the job and also return nil; only infrastructure failures are
// returned.
func (e *Executor) ProcessJob(ctx context.Context, jobID string) error {
	_, err := e.RunJob(ctx, jobID)
	return err
}

// RunJob is ProcessJob that also reports whether this call claimed the job.
func (e *Executor) RunJob(ctx context.Context, jobID string) (bool, error) {
	j, err := job.Claim(e.db.WithContext(ctx), jobID)
	if err != nil {
		if errors.Is(err, job.ErrNotQueued) || errors.Is(err, job.ErrNotFound) {
			e.log.Debug().Err(err).Str("job_id", jobID).Msg("job not claimable, skipping")
			return false, nil
		}
		return false, fmt.Errorf("executor: %w", err)
	}
	return true, e.run(ctx, j)
}

// RunNext claims the oldest QUEUED job and runs it. It returns the ID of the
// job it ran, or "" when the queue was empty.
func (e *Executor) RunNext(ctx context.Context) (string, error) {
	j, err := job.ClaimNext(e.db.WithContext(ctx))
	if errors.Is(err, job.ErrNoQueuedJobs) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("executor: %w", err)
	}
	return j.ID, e.run(ctx, j)
}

// run drives a claimed job to a terminal state.
func (e *Executor) run(ctx context.Context, j *models.GenerationJob) (err error) {
	jobID := j.ID
	log := e.log.With().Str("job_id", jobID).Str("website_id", j.WebsiteID).Logger()
	store := e.db.WithContext(ctx)
	// Writes that settle the job must land even when ctx is done.
	settle := e.db.WithContext(context.WithoutCancel(ctx))
	log.Info().Str("keyword", j.Keyword).Int("attempt", j.Attempts).Msg("job claimed")

	started := e.now()
	settled := false
	defer func() {
		r := recover()
		if r != nil {
			log.Error().Interface("panic", r).Bool("settled", settled).Msg("job panicked")
		}
		// A panic after the job settled (publish hooks) leaves the job as is.
		if settled {
			return
		}
		reason := "job ended without completing"
		if r != nil {
			reason = fmt.Sprintf("internal error: %v", r)
			err = fmt.Errorf("executor: job %s panicked: %v", jobID, r)
		} else if ctxErr := ctx.Err(); ctxErr != nil {
			reason = "job cancelled: " + ctxErr.Error()
		} else if err != nil {
			reason = err.Error()
		}
		e.fail(settle, j, reason, started, log)
	}()

	var site models.Website
	if err := store.Where("id = ?", j.WebsiteID).First(&site).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			e.fail(settle, j, "website not found", started, log)
			settled = true
			return nil
		}
		return fmt.Errorf("executor: load website %s: %w", j.WebsiteID, err)
	}

	if j.KeywordID != nil {
		if err := job.MarkKeyword(store, *j.KeywordID, job.KeywordResearching); err != nil {
			log.Warn().Err(err).Msg("mark keyword researching")
		}
	}

	req := pipeline.Request{
		JobID:         j.ID,
		WebsiteID:     j.WebsiteID,
		WebsiteName:   site.Name,
		Domain:        site.Domain,
		Keyword:       j.Keyword,
		ContentLength: j.ContentLength,
		IncludeImages: j.IncludeImages,
		IncludeFAQ:    j.IncludeFAQ,
	}
	onProgress := func(step pipeline.Step, progress int) error {
		if step == pipeline.StepOutline && j.KeywordID != nil {
			if err := job.MarkKeyword(store, *j.KeywordID, job.KeywordWriting); err != nil {
				log.Warn().Err(err).Msg("mark keyword writing")
			}
		}
		return job.UpdateProgress(store, j.ID, j.Attempts, string(step), progress)
	}

	art, runErr := e.pipeline.Run(ctx, req, onProgress)
	if runErr != nil {
		var stepErr *pipeline.StepError
		switch {
		case errors.Is(runErr, job.ErrNotProcessing):
			log.Warn().Msg("job left PROCESSING during the run, stopping")
			settled = true
			return nil
		case errors.As(runErr, &stepErr):
			log.Warn().Str("step", string(stepErr.Step)).Err(stepErr.Err).Msg("step failed")
			e.fail(settle, j, stepErr.Error(), started, log)
			settled = true
			return nil
		default:
			return fmt.Errorf("executor: run %s: %w", jobID, runErr)
		}
	}

	post, err := e.complete(settle, j, &site, art)
	if err != nil {
		if errors.Is(err, job.ErrNotProcessing) {
			log.Warn().Msg("job was reclaimed before completion, generated post discarded")
			settled = true
			return nil
		}
		return fmt.Errorf("executor: complete %s: %w", jobID, err)
	}
	settled = true
	metrics.JobFinished(job.StatusCompleted, e.now().Sub(started))
	log.Info().Str("post_id", post.ID).Str("post_status", post.Status).Msg("job completed")

	if post.Status == publish.PostPublished && e.publisher != nil {
		e.publisher.RunPublishHook(context.WithoutCancel(ctx), publish.Hook{
			PostID:      post.ID,
			WebsiteID:   site.ID,
			TriggeredBy: publish.TriggerAuto,
		})
	}
	return nil
}

// complete persists the post and finishes the job in one transaction.
func (e *Executor) complete(db *gorm.DB, j *models.GenerationJob, site *models.Website, art *pipeline.Artifacts) (*models.BlogPost, error) {
	post, err := buildPost(j, art, e.policy, e.now())
	if err != nil {
		return nil, err
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(post).Error; err != nil {
			return fmt.Errorf("create post: %w", err)
		}
		if err := job.Complete(tx, j.ID, job.CompleteOpts{
			BlogPostID: post.ID,
			Output:     buildOutput(art, post),
			Attempt:    j.Attempts,
		}); err != nil {
			return err
		}
		if j.KeywordID != nil {
			if err := job.MarkKeyword(tx, *j.KeywordID, job.KeywordCompleted); err != nil {
				return err
			}
		}
		if _, err := quota.RecordUsage(tx, site.OrganizationID, j.ID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return post, nil
}

func (e *Executor) fail(db *gorm.DB, j *models.GenerationJob, reason string, started time.Time, log zerolog.Logger) {
	if err := job.FailAttempt(db, j.ID, j.Attempts, reason); err != nil {
		if errors.Is(err, job.ErrNotProcessing) {
			log.Warn().Str("reason", reason).Msg("job already settled elsewhere")
			return
		}
		log.Error().Err(err).Str("reason", reason).Msg("failed to mark job FAILED")
		return
	}
	metrics.JobFinished(job.StatusFailed, e.now().Sub(started))
	log.Warn().Str("reason", reason).Msg("job failed")
}
