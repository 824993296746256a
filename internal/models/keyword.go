package models

import "time"

// Keyword is a search phrase queued for content generation on a website.
// Status mirrors the most recent job for the keyword; the job stays
// authoritative.
type Keyword struct {
	ID        string  `gorm:"primaryKey;size:36"`
	WebsiteID string  `gorm:"size:36;not null;index"`
	Text      string  `gorm:"size:255;not null"`
	Priority  int     `gorm:"default:0"`
	Status    string  `gorm:"size:16;default:PENDING;index"`
	LastJobID *string `gorm:"size:36"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
