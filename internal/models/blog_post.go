package models

import "time"

// BlogPost is the content record produced by a completed job.
type BlogPost struct {
	ID               string  `gorm:"primaryKey;size:36"`
	WebsiteID        string  `gorm:"size:36;not null;index"`
	JobID            string  `gorm:"size:36;index"`
	KeywordID        *string `gorm:"size:36"`
	Title            string  `gorm:"size:255;not null"`
	Slug             string  `gorm:"size:255;index"`
	Markdown         string  `gorm:"type:text"`
	HTML             string  `gorm:"type:text"`
	Excerpt          string  `gorm:"type:text"`
	MetaDescription  string  `gorm:"size:320"`
	SchemaJSON       string  `gorm:"type:text"`
	Tags             string  `gorm:"size:512"`
	FeaturedImageURL string  `gorm:"size:512"`
	WordCount        int
	SEOScore         int
	Status           string     `gorm:"size:16;default:DRAFT;index"`
	ScheduledAt      *time.Time `gorm:"index"`
	PublishedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PublishAttempt is the audit row for one channel push of one post.
type PublishAttempt struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	PostID      string `gorm:"size:36;not null;index"`
	WebsiteID   string `gorm:"size:36;index"`
	Channel     string `gorm:"size:32"`
	Target      string `gorm:"size:128"`
	TriggeredBy string `gorm:"size:16"`
	Success     bool
	Error       string `gorm:"type:text"`
	DurationMS  int64
	CreatedAt   time.Time
}
