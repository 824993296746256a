// Package publish distributes finished blog posts to the external channels a
// website has configured. A publish hook fans out to every channel target
// concurrently and always settles; channel failures are recorded, never
// propagated.
package publish

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/presswork/internal/models"
	"gorm.io/gorm"
)

// Post status constants.
const (
	PostDraft     = "DRAFT"
	PostScheduled = "SCHEDULED"
	PostPublished = "PUBLISHED"
)

// Publish triggers, recorded on every attempt.
const (
	TriggerAuto     = "auto"
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
)

var ErrPostNotFound = errors.New("publish: post not found")

// PostStatusFor picks the initial status of a freshly generated post. A
// schedule in the future wins over auto-publish.
func PostStatusFor(autoPublish bool, scheduleAt *time.Time, now time.Time) string {
	switch {
	case scheduleAt != nil && scheduleAt.After(now):
		return PostScheduled
	case autoPublish:
		return PostPublished
	default:
		return PostDraft
	}
}

// GetPost retrieves a post by ID.
func GetPost(db *gorm.DB, postID string) (*models.BlogPost, error) {
	if db == nil {
		return nil, fmt.Errorf("publish: db is required")
	}
	var p models.BlogPost
	if err := db.Where("id = ?", postID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPostNotFound, postID)
		}
		return nil, fmt.Errorf("publish: get post %s: %w", postID, err)
	}
	return &p, nil
}

// DueScheduled returns SCHEDULED posts whose publish time has passed, oldest
// first.
func DueScheduled(db *gorm.DB, now time.Time) ([]models.BlogPost, error) {
	if db == nil {
		return nil, fmt.Errorf("publish: db is required")
	}
	var posts []models.BlogPost
	err := db.Where("status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?", PostScheduled, now.UTC()).
		Order("scheduled_at ASC").
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("publish: due scheduled: %w", err)
	}
	return posts, nil
}

// PublishDue moves a due SCHEDULED post to PUBLISHED. It reports false when
// another sweep got there first.
func PublishDue(db *gorm.DB, postID string, now time.Time) (bool, error) {
	now = now.UTC()
	result := db.Model(&models.BlogPost{}).
		Where("id = ? AND status = ? AND scheduled_at <= ?", postID, PostScheduled, now).
		Updates(map[string]interface{}{
			"status":       PostPublished,
			"published_at": now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("publish: publish due %s: %w", postID, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// MarkPublished sets a DRAFT or SCHEDULED post to PUBLISHED. It reports false
// when the post was already published.
func MarkPublished(db *gorm.DB, postID string, now time.Time) (bool, error) {
	now = now.UTC()
	result := db.Model(&models.BlogPost{}).
		Where("id = ? AND status IN ?", postID, []string{PostDraft, PostScheduled}).
		Updates(map[string]interface{}{
			"status":       PostPublished,
			"published_at": now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("publish: mark published %s: %w", postID, result.Error)
	}
	return result.RowsAffected == 1, nil
}
