// Package service implements the job API independently of HTTP: admission
// checked creation, polling with lazy reconciliation, retry, bulk enqueue and
// manual publishing. Every error it returns is an *Error.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
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

// DefaultBulkMax caps a bulk request when no limit is configured.
const DefaultBulkMax = 10

var contentLengths = map[string]bool{"short": true, "medium": true, "long": true}

// Publisher runs the publish fan-out for a post.
type Publisher interface {
	RunPublishHook(ctx context.Context, h publish.Hook) publish.Report
}

// Opts configures a Service.
type Opts struct {
	DB           *gorm.DB
	Dispatcher   dispatch.Dispatcher
	Publisher    Publisher
	StuckTimeout time.Duration
	BulkMax      int
	Logger       zerolog.Logger
}

// Service is the API's business layer.
type Service struct {
	db           *gorm.DB
	dispatcher   dispatch.Dispatcher
	publisher    Publisher
	stuckTimeout time.Duration
	bulkMax      int
	log          zerolog.Logger
	now          func() time.Time
}

// New validates opts and returns a Service.
func New(opts Opts) (*Service, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("service: db is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("service: dispatcher is required")
	}
	if opts.BulkMax <= 0 {
		opts.BulkMax = DefaultBulkMax
	}
	return &Service{
		db:           opts.DB,
		dispatcher:   opts.Dispatcher,
		publisher:    opts.Publisher,
		stuckTimeout: opts.StuckTimeout,
		bulkMax:      opts.BulkMax,
		log:          opts.Logger.With().Str("component", "service").Logger(),
		now:          time.Now,
	}, nil
}

// HashAPIKey returns the stored form of an API key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Authenticate resolves an API key to its organization.
func (s *Service) Authenticate(ctx context.Context, apiKey string) (*models.Organization, error) {
	if apiKey == "" {
		return nil, newError(KindNotFound, "invalid API key")
	}
	var org models.Organization
	err := s.db.WithContext(ctx).Where("api_key_hash = ?", HashAPIKey(apiKey)).First(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(KindNotFound, "invalid API key")
	}
	if err != nil {
		return nil, internal(err)
	}
	return &org, nil
}

// NewAPIKey returns a fresh random API key.
func NewAPIKey() string {
	return "pw_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// RotateAPIKey replaces the organization's API key and returns the new one.
// Only its hash is stored.
func (s *Service) RotateAPIKey(ctx context.Context, orgID string) (string, error) {
	key := NewAPIKey()
	result := s.db.WithContext(ctx).Model(&models.Organization{}).
		Where("id = ?", orgID).
		Update("api_key_hash", HashAPIKey(key))
	if result.Error != nil {
		return "", internal(result.Error)
	}
	if result.RowsAffected == 0 {
		return "", newError(KindNotFound, "organization not found")
	}
	s.log.Info().Str("org_id", orgID).Msg("api key rotated")
	return key, nil
}

// CreateJobRequest is the input to CreateJob. Unset options fall back to the
// website's defaults.
type CreateJobRequest struct {
	WebsiteID     string     `json:"websiteId"`
	KeywordID     string     `json:"keywordId"`
	Keyword       string     `json:"keyword"`
	ContentLength string     `json:"contentLength"`
	IncludeImages *bool      `json:"includeImages"`
	IncludeFAQ    *bool      `json:"includeFAQ"`
	AutoPublish   *bool      `json:"autoPublish"`
	ScheduleAt    *time.Time `json:"scheduleAt"`
}

// JobRef identifies a job.
type JobRef struct {
	JobID string `json:"jobId"`
}

// CreateJob checks admission, enqueues an exclusive job and dispatches it.
func (s *Service) CreateJob(ctx context.Context, orgID string, req CreateJobRequest) (*JobRef, error) {
	req.Keyword = strings.TrimSpace(req.Keyword)
	if req.WebsiteID == "" {
		return nil, newError(KindBadRequest, "websiteId is required")
	}
	if req.Keyword == "" && req.KeywordID == "" {
		return nil, newError(KindBadRequest, "keyword or keywordId is required")
	}
	if req.ContentLength != "" && !contentLengths[req.ContentLength] {
		return nil, newError(KindBadRequest, "contentLength must be short, medium or long")
	}

	db := s.db.WithContext(ctx)
	site, err := s.ownedWebsite(db, orgID, req.WebsiteID)
	if err != nil {
		return nil, err
	}

	opts := job.EnqueueOpts{
		WebsiteID:     site.ID,
		Keyword:       req.Keyword,
		ContentLength: firstNonEmpty(req.ContentLength, site.DefaultContentLength),
		IncludeImages: boolOr(req.IncludeImages, site.IncludeImages),
		IncludeFAQ:    boolOr(req.IncludeFAQ, site.IncludeFAQ),
		AutoPublish:   boolOr(req.AutoPublish, site.AutoPublish),
		Source:        job.SourceAPI,
		Exclusive:     true,
	}
	if req.ScheduleAt != nil {
		at := req.ScheduleAt.UTC()
		opts.ScheduleAt = &at
	}
	if req.KeywordID != "" {
		kw, err := job.GetKeyword(db, site.ID, req.KeywordID)
		if errors.Is(err, job.ErrKeywordNotFound) {
			return nil, newError(KindNotFound, "keyword not found")
		}
		if err != nil {
			return nil, internal(err)
		}
		opts.KeywordID = kw.ID
		if opts.Keyword == "" {
			opts.Keyword = kw.Text
		}
	}

	limit, err := s.admit(db, site)
	if err != nil {
		return nil, err
	}
	// Bulk jobs do not hold the exclusive slot, so count them here.
	if limit.ActiveJobs > 0 {
		return nil, newError(KindConflict, "website already has an active job")
	}

	j, err := job.Enqueue(db, opts)
	if err != nil {
		if job.IsConflict(err) {
			return nil, newError(KindConflict, "website already has an active job")
		}
		return nil, internal(err)
	}
	metrics.JobEnqueued(job.SourceAPI)
	s.dispatch(ctx, j.ID)
	return &JobRef{JobID: j.ID}, nil
}

// PostView is the blog post summary embedded in a job poll.
type PostView struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Slug        string     `json:"slug"`
	Status      string     `json:"status"`
	URL         string     `json:"url,omitempty"`
	WordCount   int        `json:"wordCount"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
}

// JobView is the poll response for a job.
type JobView struct {
	JobID       string     `json:"jobId"`
	Status      string     `json:"status"`
	CurrentStep string     `json:"currentStep"`
	Progress    int        `json:"progress"`
	Error       *string    `json:"error"`
	BlogPost    *PostView  `json:"blogPost,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// GetJob returns a job's state. A job stuck in PROCESSING past the timeout is
// failed first, so the caller never sees the stale state.
func (s *Service) GetJob(ctx context.Context, orgID, jobID string) (*JobView, error) {
	db := s.db.WithContext(ctx)
	j, site, err := s.ownedJob(db, orgID, jobID)
	if err != nil {
		return nil, err
	}
	if _, err := recovery.ReconcileJob(db, j, s.stuckTimeout); err != nil {
		return nil, internal(err)
	}

	view := &JobView{
		JobID:       j.ID,
		Status:      j.Status,
		CurrentStep: j.CurrentStep,
		Progress:    j.Progress,
		Error:       j.Error,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
	if j.BlogPostID != nil {
		post, err := publish.GetPost(db, *j.BlogPostID)
		switch {
		case err == nil:
			view.BlogPost = &PostView{
				ID:          post.ID,
				Title:       post.Title,
				Slug:        post.Slug,
				Status:      post.Status,
				WordCount:   post.WordCount,
				ScheduledAt: post.ScheduledAt,
				PublishedAt: post.PublishedAt,
			}
			if post.Status == publish.PostPublished {
				view.BlogPost.URL = publish.PostURL(site, post.Slug)
			}
		case errors.Is(err, publish.ErrPostNotFound):
		default:
			return nil, internal(err)
		}
	}
	return view, nil
}

// RetryJob resets a FAILED job to QUEUED and dispatches it. Active jobs are a
// conflict and are left untouched.
func (s *Service) RetryJob(ctx context.Context, orgID, jobID string) (*JobRef, error) {
	db := s.db.WithContext(ctx)
	j, site, err := s.ownedJob(db, orgID, jobID)
	if err != nil {
		return nil, err
	}
	if _, err := recovery.ReconcileJob(db, j, s.stuckTimeout); err != nil {
		return nil, internal(err)
	}

	switch j.Status {
	case job.StatusQueued, job.StatusProcessing:
		return nil, newError(KindConflict, "job is already %s", strings.ToLower(j.Status))
	case job.StatusCompleted:
		return nil, newError(KindConflict, "job already completed")
	}

	limit, err := s.admit(db, site)
	if err != nil {
		return nil, err
	}
	if limit.ActiveJobs > 0 {
		return nil, newError(KindConflict, "website already has an active job")
	}

	if _, err := job.Retry(db, j.ID); err != nil {
		switch {
		case errors.Is(err, job.ErrJobActive):
			return nil, newError(KindConflict, "job is already queued or processing")
		case errors.Is(err, job.ErrActiveJobExists):
			return nil, newError(KindConflict, "website already has an active job")
		case errors.Is(err, job.ErrInvalidTransition):
			return nil, newError(KindConflict, "job cannot be retried from its current status")
		default:
			return nil, internal(err)
		}
	}
	s.dispatch(ctx, j.ID)
	return &JobRef{JobID: j.ID}, nil
}

// BulkRequest asks for up to Count jobs on one website. Keywords, when given,
// are written about in order; otherwise the website's PENDING keywords are
// used.
type BulkRequest struct {
	WebsiteID     string   `json:"websiteId"`
	Count         int      `json:"count"`
	Keywords      []string `json:"keywords"`
	ContentLength string   `json:"contentLength"`
	IncludeImages *bool    `json:"includeImages"`
	IncludeFAQ    *bool    `json:"includeFAQ"`
	AutoPublish   *bool    `json:"autoPublish"`
}

// BulkResult reports what a bulk request created.
type BulkResult struct {
	JobIDs    []string `json:"jobIds"`
	Requested int      `json:"requested"`
	Created   int      `json:"created"`
}

// BulkEnqueue creates min(count, cap, remaining quota - active jobs) jobs and
// dispatches each independently. Bulk jobs do not take the exclusive slot.
func (s *Service) BulkEnqueue(ctx context.Context, orgID string, req BulkRequest) (*BulkResult, error) {
	if req.WebsiteID == "" {
		return nil, newError(KindBadRequest, "websiteId is required")
	}
	if req.Count < 1 || req.Count > s.bulkMax {
		return nil, newError(KindBadRequest, "count must be between 1 and %d", s.bulkMax)
	}
	if req.ContentLength != "" && !contentLengths[req.ContentLength] {
		return nil, newError(KindBadRequest, "contentLength must be short, medium or long")
	}

	db := s.db.WithContext(ctx)
	site, err := s.ownedWebsite(db, orgID, req.WebsiteID)
	if err != nil {
		return nil, err
	}
	limit, err := s.admit(db, site)
	if err != nil {
		return nil, err
	}

	n := min(req.Count, s.bulkMax, limit.Remaining-limit.ActiveJobs)
	if n <= 0 {
		return nil, newError(KindQuotaExceeded, "no quota left: %d remaining with %d jobs already active", limit.Remaining, limit.ActiveJobs)
	}

	var kws []models.Keyword
	if len(req.Keywords) > 0 {
		kws, err = job.UpsertKeywords(db, site.ID, req.Keywords)
		if len(kws) > n {
			kws = kws[:n]
		}
	} else {
		kws, err = job.PendingKeywords(db, site.ID, n)
	}
	if err != nil {
		return nil, internal(err)
	}

	res := &BulkResult{JobIDs: []string{}, Requested: req.Count}
	for _, kw := range kws {
		j, err := job.Enqueue(db, job.EnqueueOpts{
			WebsiteID:     site.ID,
			KeywordID:     kw.ID,
			Keyword:       kw.Text,
			ContentLength: firstNonEmpty(req.ContentLength, site.DefaultContentLength),
			IncludeImages: boolOr(req.IncludeImages, site.IncludeImages),
			IncludeFAQ:    boolOr(req.IncludeFAQ, site.IncludeFAQ),
			AutoPublish:   boolOr(req.AutoPublish, site.AutoPublish),
			Source:        job.SourceBulk,
		})
		if err != nil {
			s.log.Error().Err(err).Str("website_id", site.ID).Str("keyword_id", kw.ID).Msg("bulk enqueue")
			continue
		}
		metrics.JobEnqueued(job.SourceBulk)
		res.JobIDs = append(res.JobIDs, j.ID)
	}
	res.Created = len(res.JobIDs)

	for _, id := range res.JobIDs {
		s.dispatch(ctx, id)
	}
	return res, nil
}

// PublishPost publishes a DRAFT or SCHEDULED post now and runs the fan-out
// with the manual trigger.
func (s *Service) PublishPost(ctx context.Context, orgID, postID string) (*publish.Report, error) {
	db := s.db.WithContext(ctx)
	post, err := publish.GetPost(db, postID)
	if err != nil {
		if errors.Is(err, publish.ErrPostNotFound) {
			return nil, newError(KindNotFound, "post not found")
		}
		return nil, internal(err)
	}
	if _, err := s.ownedWebsite(db, orgID, post.WebsiteID); err != nil {
		if KindOf(err) == KindNotFound {
			return nil, newError(KindNotFound, "post not found")
		}
		return nil, err
	}

	ok, err := publish.MarkPublished(db, post.ID, s.now())
	if err != nil {
		return nil, internal(err)
	}
	if !ok {
		return nil, newError(KindConflict, "post is already published")
	}

	rep := publish.Report{Results: []publish.Result{}}
	if s.publisher != nil {
		rep = s.publisher.RunPublishHook(ctx, publish.Hook{
			PostID:      post.ID,
			WebsiteID:   post.WebsiteID,
			TriggeredBy: publish.TriggerManual,
		})
	}
	return &rep, nil
}

// ownedWebsite loads a website that belongs to orgID. Other organizations'
// websites are reported as missing.
func (s *Service) ownedWebsite(db *gorm.DB, orgID, websiteID string) (*models.Website, error) {
	var site models.Website
	err := db.Where("id = ? AND organization_id = ?", websiteID, orgID).First(&site).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(KindNotFound, "website not found")
	}
	if err != nil {
		return nil, internal(err)
	}
	return &site, nil
}

func (s *Service) ownedJob(db *gorm.DB, orgID, jobID string) (*models.GenerationJob, *models.Website, error) {
	j, err := job.Get(db, jobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			return nil, nil, newError(KindNotFound, "job not found")
		}
		return nil, nil, internal(err)
	}
	site, err := s.ownedWebsite(db, orgID, j.WebsiteID)
	if err != nil {
		if KindOf(err) == KindNotFound {
			return nil, nil, newError(KindNotFound, "job not found")
		}
		return nil, nil, err
	}
	return j, site, nil
}

// admit runs the admission check and maps a refusal to an error kind.
func (s *Service) admit(db *gorm.DB, site *models.Website) (*quota.Limit, error) {
	if !site.Active {
		return nil, newError(KindForbidden, "website is not active")
	}
	limit, err := quota.CheckGenerationLimit(db, site.ID)
	if err != nil {
		if errors.Is(err, quota.ErrWebsiteNotFound) {
			return nil, newError(KindNotFound, "website not found")
		}
		return nil, internal(err)
	}
	if !limit.Allowed {
		return nil, newError(KindQuotaExceeded, "%s", limit.Reason)
	}
	return limit, nil
}

// dispatch starts a queued job. A failed dispatch is logged; the job stays
// QUEUED for the next worker pull or trigger.
func (s *Service) dispatch(ctx context.Context, jobID string) {
	if err := s.dispatcher.Dispatch(ctx, jobID); err != nil {
		s.log.Warn().Err(err).Str("job_id", jobID).Msg("dispatch failed; job left queued")
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
