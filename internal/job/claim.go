package job

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/presswork/internal/models"
	"gorm.io/gorm"
)

// claimCandidates is how many of the oldest queued jobs ClaimNext tries per
// lookup.
const claimCandidates = 5

// Claim atomically moves a job from QUEUED to PROCESSING and stamps
// started_at. Exactly one of any number of concurrent callers succeeds; the
// rest get ErrNotQueued.
func Claim(db *gorm.DB, jobID string) (*models.GenerationJob, error) {
	if db == nil {
		return nil, fmt.Errorf("job: db is required")
	}
	if jobID == "" {
		return nil, fmt.Errorf("job: jobID is required")
	}

	now := time.Now().UTC()
	result := db.Model(&models.GenerationJob{}).
		Where("id = ? AND status = ?", jobID, StatusQueued).
		Updates(map[string]interface{}{
			"status":       StatusProcessing,
			"started_at":   now,
			"current_step": "",
			"progress":     0,
			"attempts":     gorm.Expr("attempts + 1"),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("job: claim %s: %w", jobID, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, notFoundOr(db, jobID, ErrNotQueued)
	}
	return Get(db, jobID)
}

// ClaimNext claims the oldest QUEUED job. When other workers win every
// candidate it looks again, so it only returns ErrNoQueuedJobs once the queue
// is empty.
func ClaimNext(db *gorm.DB) (*models.GenerationJob, error) {
	if db == nil {
		return nil, fmt.Errorf("job: db is required")
	}

	for {
		var ids []string
		if err := db.Model(&models.GenerationJob{}).
			Where("status = ?", StatusQueued).
			Order("created_at ASC").
			Limit(claimCandidates).
			Pluck("id", &ids).Error; err != nil {
			return nil, fmt.Errorf("job: find queued: %w", err)
		}
		if len(ids) == 0 {
			return nil, ErrNoQueuedJobs
		}

		for _, id := range ids {
			j, err := Claim(db, id)
			if err == nil {
				return j, nil
			}
			if errors.Is(err, ErrNotQueued) || errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
	}
}
