package models

import "time"

// Worker is a registered worker process. LastActivity is refreshed by a
// heartbeat while the process is alive.
type Worker struct {
	ID           string `gorm:"primaryKey;size:64"`
	Hostname     string `gorm:"size:128"`
	Mode         string `gorm:"size:16"`
	Status       string `gorm:"size:16;index"`
	CurrentJob   string `gorm:"size:36"`
	Processed    int    `gorm:"default:0"`
	StartedAt    time.Time
	LastActivity time.Time `gorm:"index"`
}
