// Package worker implements the pull-based worker process: it registers
// itself, heartbeats, and claims queued jobs on request or on a poll timer.
package worker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/zulandar/presswork/internal/models"
	"gorm.io/gorm"
)

// Worker status constants.
const (
	StatusIdle    = "idle"
	StatusWorking = "working"
	StatusDead    = "dead"
)

// DefaultHeartbeatInterval is the default interval between heartbeat updates.
const DefaultHeartbeatInterval = 10 * time.Second

// GenerateID creates a unique worker ID in wkr-xxxxxxxx format (8-char hex).
func GenerateID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("worker: generate ID: %w", err)
	}
	return "wkr-" + hex.EncodeToString(b), nil
}

// Register creates a worker row with status idle.
func Register(db *gorm.DB, mode string) (*models.Worker, error) {
	if db == nil {
		return nil, fmt.Errorf("worker: db is required")
	}
	host, _ := os.Hostname()

	for range 2 {
		id, err := GenerateID()
		if err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		w := models.Worker{
			ID:           id,
			Hostname:     host,
			Mode:         mode,
			Status:       StatusIdle,
			StartedAt:    now,
			LastActivity: now,
		}
		err = db.Create(&w).Error
		if err == nil {
			return &w, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("worker: register: %w", err)
		}
	}
	return nil, fmt.Errorf("worker: failed to generate unique ID after retries")
}

// Deregister marks a worker dead.
func Deregister(db *gorm.DB, workerID string) error {
	result := db.Model(&models.Worker{}).Where("id = ?", workerID).
		Updates(map[string]interface{}{"status": StatusDead, "current_job": ""})
	if result.Error != nil {
		return fmt.Errorf("worker: deregister %s: %w", workerID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("worker: not found: %s", workerID)
	}
	return nil
}

// setBusy records the job a worker is running, or clears it when jobID is "".
func setBusy(db *gorm.DB, workerID, jobID string) error {
	updates := map[string]interface{}{
		"status":        StatusIdle,
		"current_job":   "",
		"last_activity": time.Now().UTC(),
	}
	if jobID != "" {
		updates["status"] = StatusWorking
		updates["current_job"] = jobID
	}
	return db.Model(&models.Worker{}).Where("id = ?", workerID).Updates(updates).Error
}

func countProcessed(db *gorm.DB, workerID string) error {
	return db.Model(&models.Worker{}).Where("id = ?", workerID).
		Update("processed", gorm.Expr("processed + 1")).Error
}

// List returns workers that are not dead, most recently active first.
func List(db *gorm.DB) ([]models.Worker, error) {
	var ws []models.Worker
	if err := db.Where("status <> ?", StatusDead).Order("last_activity DESC").Find(&ws).Error; err != nil {
		return nil, fmt.Errorf("worker: list: %w", err)
	}
	return ws, nil
}

// StartHeartbeat launches a goroutine that periodically updates the worker's
// last_activity timestamp. It returns a channel that receives an error if the
// worker row disappears (0 rows affected) or the update fails.
func StartHeartbeat(ctx context.Context, db *gorm.DB, workerID string, interval time.Duration) <-chan error {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}

	errCh := make(chan error, 1)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				result := db.Model(&models.Worker{}).
					Where("id = ?", workerID).
					Update("last_activity", time.Now().UTC())

				if result.Error != nil {
					errCh <- fmt.Errorf("worker: heartbeat %s: %w", workerID, result.Error)
					return
				}
				if result.RowsAffected == 0 {
					errCh <- fmt.Errorf("worker: heartbeat %s: worker not found", workerID)
					return
				}
			}
		}
	}()

	return errCh
}
