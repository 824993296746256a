package models

import (
	"time"

	"gorm.io/datatypes"
)

// GenerationJob is one attempt to generate a blog post for a website. The
// table doubles as the work queue: workers claim rows by flipping status from
// QUEUED to PROCESSING with a conditional update.
type GenerationJob struct {
	ID          string  `gorm:"primaryKey;size:36"`
	WebsiteID   string  `gorm:"size:36;not null;index:idx_jobs_website_status"`
	KeywordID   *string `gorm:"size:36;index"`
	Status      string  `gorm:"size:16;default:QUEUED;index:idx_jobs_website_status;index:idx_jobs_status_created"`
	CurrentStep string  `gorm:"size:32"`
	Progress    int     `gorm:"default:0"`
	Source      string  `gorm:"size:16"`

	Keyword       string `gorm:"size:255"`
	ContentLength string `gorm:"size:16"`
	IncludeImages bool
	IncludeFAQ    bool
	AutoPublish   bool
	ScheduleAt    *time.Time

	// Exclusive jobs hold ActiveSlot = WebsiteID while QUEUED or PROCESSING.
	// The unique index turns "one active job per website" into a constraint.
	Exclusive  bool
	ActiveSlot *string `gorm:"size:36;uniqueIndex"`

	BlogPostID *string        `gorm:"size:36"`
	Error      *string        `gorm:"type:text"`
	Output     datatypes.JSON `gorm:"type:json"`
	Attempts   int            `gorm:"default:0"`

	CreatedAt   time.Time `gorm:"index:idx_jobs_status_created"`
	UpdatedAt   time.Time
	StartedAt   *time.Time `gorm:"index"`
	CompletedAt *time.Time
}
