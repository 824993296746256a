package models

import "time"

// Organization is a tenant. It carries the subscription quota and the hash of
// its API key.
type Organization struct {
	ID                      string `gorm:"primaryKey;size:36"`
	Name                    string `gorm:"size:128;not null"`
	Plan                    string `gorm:"size:32;default:starter"`
	APIKeyHash              string `gorm:"size:64;uniqueIndex"`
	MaxPostsPerMonth        int    `gorm:"default:0"`
	PostsGeneratedThisMonth int    `gorm:"default:0"`
	PeriodStart             time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time

	Websites []Website `gorm:"foreignKey:OrganizationID"`
}

// QuotaUsage records that a completed job consumed one unit of its
// organization's monthly quota. JobID is the primary key so a job is never
// counted twice, however many times its completion is replayed.
type QuotaUsage struct {
	JobID          string `gorm:"primaryKey;size:36"`
	OrganizationID string `gorm:"size:36;not null;index"`
	CreatedAt      time.Time
}
