// Package job implements the generation job store: a relational table used as
// a work queue, with every state change expressed as a conditional update.
package job

import (
	"errors"
	"fmt"

	"github.com/zulandar/presswork/internal/models"
	"gorm.io/gorm"
)

// Job status constants.
const (
	StatusQueued     = "QUEUED"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Enqueue sources, recorded on the job for reporting.
const (
	SourceAPI      = "api"
	SourceBulk     = "bulk"
	SourceSchedule = "schedule"
	SourceCLI      = "cli"
)

var (
	ErrNotFound          = errors.New("job: not found")
	ErrNotQueued         = errors.New("job: not queued")
	ErrNotProcessing     = errors.New("job: not processing")
	ErrJobActive         = errors.New("job: job is already queued or processing")
	ErrInvalidTransition = errors.New("job: invalid status transition")
	ErrActiveJobExists   = errors.New("job: website already has an active job")
	ErrNoQueuedJobs      = errors.New("job: no queued jobs")
)

// ValidTransitions maps each status to the statuses it may move to.
var ValidTransitions = map[string][]string{
	StatusQueued:     {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusQueued},
}

// IsValidTransition reports whether a job may move from one status to another.
func IsValidTransition(from, to string) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsActive reports whether status holds a job slot (QUEUED or PROCESSING).
func IsActive(status string) bool {
	return status == StatusQueued || status == StatusProcessing
}

// Get retrieves a job by ID.
func Get(db *gorm.DB, jobID string) (*models.GenerationJob, error) {
	if db == nil {
		return nil, fmt.Errorf("job: db is required")
	}
	var j models.GenerationJob
	if err := db.Where("id = ?", jobID).First(&j).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
		}
		return nil, fmt.Errorf("job: get %s: %w", jobID, err)
	}
	return &j, nil
}

// CountActive returns the number of QUEUED or PROCESSING jobs for a website.
func CountActive(db *gorm.DB, websiteID string) (int64, error) {
	var n int64
	if err := db.Model(&models.GenerationJob{}).
		Where("website_id = ? AND status IN ?", websiteID, []string{StatusQueued, StatusProcessing}).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("job: count active for %s: %w", websiteID, err)
	}
	return n, nil
}

// ListOpts filters List.
type ListOpts struct {
	WebsiteID string
	Status    string
	Limit     int
}

// List returns jobs, newest first.
func List(db *gorm.DB, opts ListOpts) ([]models.GenerationJob, error) {
	q := db.Model(&models.GenerationJob{})
	if opts.WebsiteID != "" {
		q = q.Where("website_id = ?", opts.WebsiteID)
	}
	if opts.Status != "" {
		q = q.Where("status = ?", opts.Status)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	var jobs []models.GenerationJob
	if err := q.Order("created_at DESC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("job: list: %w", err)
	}
	return jobs, nil
}

// CountByStatus returns the number of jobs in each status.
func CountByStatus(db *gorm.DB) (map[string]int64, error) {
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	if err := db.Model(&models.GenerationJob{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("job: count by status: %w", err)
	}
	out := map[string]int64{
		StatusQueued:     0,
		StatusProcessing: 0,
		StatusCompleted:  0,
		StatusFailed:     0,
	}
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

// notFoundOr distinguishes a missing job from one whose status precondition
// failed after a conditional update matched no rows.
func notFoundOr(db *gorm.DB, jobID string, err error) error {
	var n int64
	if cerr := db.Model(&models.GenerationJob{}).Where("id = ?", jobID).Count(&n).Error; cerr != nil {
		return fmt.Errorf("job: check %s: %w", jobID, cerr)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return fmt.Errorf("%w: %s", err, jobID)
}
