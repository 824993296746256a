package job

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	pwdb "github.com/zulandar/presswork/internal/db"
	"github.com/zulandar/presswork/internal/models"
	"gorm.io/gorm"
)

// DefaultContentLength is used when an enqueue does not specify one.
const DefaultContentLength = "medium"

// EnqueueOpts holds the input for a new generation job.
type EnqueueOpts struct {
	WebsiteID     string
	KeywordID     string
	Keyword       string
	ContentLength string
	IncludeImages bool
	IncludeFAQ    bool
	AutoPublish   bool
	ScheduleAt    *time.Time
	Source        string

	// Exclusive jobs claim the website's active slot; a second exclusive
	// enqueue for the same website fails with ErrActiveJobExists until this
	// job reaches a terminal status.
	Exclusive bool
}

// Enqueue creates a QUEUED job with progress 0. It does not check quota and
// does not start execution.
func Enqueue(db *gorm.DB, opts EnqueueOpts) (*models.GenerationJob, error) {
	if db == nil {
		return nil, fmt.Errorf("job: db is required")
	}
	if opts.WebsiteID == "" {
		return nil, fmt.Errorf("job: websiteID is required")
	}
	if opts.ContentLength == "" {
		opts.ContentLength = DefaultContentLength
	}

	j := models.GenerationJob{
		ID:            uuid.NewString(),
		WebsiteID:     opts.WebsiteID,
		Status:        StatusQueued,
		Progress:      0,
		Source:        opts.Source,
		Keyword:       opts.Keyword,
		ContentLength: opts.ContentLength,
		IncludeImages: opts.IncludeImages,
		IncludeFAQ:    opts.IncludeFAQ,
		AutoPublish:   opts.AutoPublish,
		ScheduleAt:    opts.ScheduleAt,
		Exclusive:     opts.Exclusive,
	}
	if opts.KeywordID != "" {
		kid := opts.KeywordID
		j.KeywordID = &kid
	}
	if opts.Exclusive {
		slot := opts.WebsiteID
		j.ActiveSlot = &slot
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&j).Error; err != nil {
			if pwdb.IsDuplicateKey(err) {
				return fmt.Errorf("%w: %s", ErrActiveJobExists, opts.WebsiteID)
			}
			return fmt.Errorf("job: enqueue for %s: %w", opts.WebsiteID, err)
		}
		if j.KeywordID != nil {
			return markKeyword(tx, *j.KeywordID, KeywordQueued, j.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// IsConflict reports whether err means the website already has an active
// job or the job itself is active.
func IsConflict(err error) bool {
	return errors.Is(err, ErrActiveJobExists) || errors.Is(err, ErrJobActive)
}
