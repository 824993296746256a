// Package scheduler runs the periodic trigger: recover stuck jobs, publish
// scheduled posts that are due, and enqueue one automatic job for every
// website that is inside its publish window.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/presswork/internal/dispatch"
	"github.com/zulandar/presswork/internal/job"
	"github.com/zulandar/presswork/internal/metrics"
	"github.com/zulandar/presswork/internal/models"
	"github.com/zulandar/presswork/internal/publish"
	"github.com/zulandar/presswork/internal/quota"
	"github.com/zulandar/presswork/internal/recovery"
	"gorm.io/gorm"
)

// Publisher runs the publish fan-out for a post.
type Publisher interface {
	RunPublishHook(ctx context.Context, h publish.Hook) publish.Report
}

// TriggerOpts configures a Trigger.
type TriggerOpts struct {
	DB           *gorm.DB
	Dispatcher   dispatch.Dispatcher
	Publisher    Publisher
	StuckTimeout time.Duration
	Logger       zerolog.Logger
}

// Trigger is one pass of the scheduler.
type Trigger struct {
	db           *gorm.DB
	dispatcher   dispatch.Dispatcher
	publisher    Publisher
	stuckTimeout time.Duration
	log          zerolog.Logger
}

// Report summarizes a trigger run.
type Report struct {
	Recovered       int               `json:"recovered"`
	PostsPublished  []string          `json:"postsPublished"`
	WebsitesChecked int               `json:"websitesChecked"`
	JobsEnqueued    []string          `json:"jobsEnqueued"`
	Skipped         map[string]string `json:"skipped,omitempty"`
	Errors          int               `json:"errors"`
}

// NewTrigger validates opts and returns a Trigger.
func NewTrigger(opts TriggerOpts) (*Trigger, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("scheduler: db is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("scheduler: dispatcher is required")
	}
	return &Trigger{
		db:           opts.DB,
		dispatcher:   opts.Dispatcher,
		publisher:    opts.Publisher,
		stuckTimeout: opts.StuckTimeout,
		log:          opts.Logger.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Run executes one trigger pass at now. Failures for one post or website are
// logged and counted; only a failure to list the work returns an error.
func (t *Trigger) Run(ctx context.Context, now time.Time) (*Report, error) {
	now = now.UTC()
	rep := &Report{
		PostsPublished: []string{},
		JobsEnqueued:   []string{},
		Skipped:        map[string]string{},
	}

	n, err := recovery.RecoverStuckJobs(t.db, t.stuckTimeout)
	rep.Recovered = n
	if err != nil {
		t.log.Error().Err(err).Msg("recover stuck jobs")
		rep.Errors++
	}

	if err := t.publishDue(ctx, now, rep); err != nil {
		return rep, err
	}

	var sites []models.Website
	if err := t.db.Where("active = ? AND auto_publish = ?", true, true).
		Order("id ASC").
		Find(&sites).Error; err != nil {
		return rep, fmt.Errorf("scheduler: list websites: %w", err)
	}

	for i := range sites {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		site := &sites[i]
		rep.WebsitesChecked++

		jobID, skip, err := t.enqueueFor(site, now)
		switch {
		case err != nil:
			t.log.Error().Err(err).Str("website_id", site.ID).Msg("scheduled enqueue")
			rep.Errors++
			continue
		case skip != "":
			rep.Skipped[site.ID] = skip
			continue
		}

		rep.JobsEnqueued = append(rep.JobsEnqueued, jobID)
		if err := t.dispatcher.Dispatch(ctx, jobID); err != nil {
			t.log.Error().Err(err).Str("job_id", jobID).Msg("dispatch scheduled job")
			rep.Errors++
		}
	}

	t.log.Info().
		Int("recovered", rep.Recovered).
		Int("published", len(rep.PostsPublished)).
		Int("enqueued", len(rep.JobsEnqueued)).
		Int("errors", rep.Errors).
		Msg("trigger complete")
	return rep, nil
}

func (t *Trigger) publishDue(ctx context.Context, now time.Time, rep *Report) error {
	posts, err := publish.DueScheduled(t.db, now)
	if err != nil {
		return err
	}
	for _, p := range posts {
		ok, err := publish.PublishDue(t.db, p.ID, now)
		if err != nil {
			t.log.Error().Err(err).Str("post_id", p.ID).Msg("publish scheduled post")
			rep.Errors++
			continue
		}
		if !ok {
			continue
		}
		rep.PostsPublished = append(rep.PostsPublished, p.ID)
		if t.publisher != nil {
			t.publisher.RunPublishHook(ctx, publish.Hook{
				PostID:      p.ID,
				WebsiteID:   p.WebsiteID,
				TriggeredBy: publish.TriggerSchedule,
			})
		}
	}
	return nil
}

// enqueueFor checks one website and enqueues its next automatic job. It
// returns either the new job ID or the reason the website was skipped.
func (t *Trigger) enqueueFor(site *models.Website, now time.Time) (string, string, error) {
	open, err := InWindow(site, now)
	if err != nil {
		return "", "", err
	}
	if !open {
		return "", "outside publish window", nil
	}

	active, err := job.CountActive(t.db, site.ID)
	if err != nil {
		return "", "", err
	}
	if active > 0 {
		return "", "job already active", nil
	}

	today, err := t.postsToday(site, now)
	if err != nil {
		return "", "", err
	}
	if today >= int64(site.MaxAutoPostsPerDay) {
		return "", "daily limit reached", nil
	}

	limit, err := quota.CheckGenerationLimit(t.db, site.ID)
	if err != nil {
		return "", "", err
	}
	if !limit.Allowed {
		return "", limit.Reason, nil
	}

	kw, err := job.NextPendingKeyword(t.db, site.ID)
	if errors.Is(err, job.ErrNoPendingKeywords) {
		return "", "no pending keywords", nil
	}
	if err != nil {
		return "", "", err
	}

	j, err := job.Enqueue(t.db, job.EnqueueOpts{
		WebsiteID:     site.ID,
		KeywordID:     kw.ID,
		Keyword:       kw.Text,
		ContentLength: site.DefaultContentLength,
		IncludeImages: site.IncludeImages,
		IncludeFAQ:    site.IncludeFAQ,
		AutoPublish:   true,
		Source:        job.SourceSchedule,
		Exclusive:     true,
	})
	if errors.Is(err, job.ErrActiveJobExists) {
		return "", "job already active", nil
	}
	if err != nil {
		return "", "", err
	}
	metrics.JobEnqueued(job.SourceSchedule)
	return j.ID, "", nil
}

// postsToday counts scheduled jobs created since local midnight that have not
// failed.
func (t *Trigger) postsToday(site *models.Website, now time.Time) (int64, error) {
	since, err := startOfDay(site, now)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := t.db.Model(&models.GenerationJob{}).
		Where("website_id = ? AND source = ? AND status <> ? AND created_at >= ?",
			site.ID, job.SourceSchedule, job.StatusFailed, since).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("scheduler: count today's jobs for %s: %w", site.ID, err)
	}
	return n, nil
}
