package job

import (
	"fmt"
	"time"

	pwdb "github.com/zulandar/presswork/internal/db"
	"github.com/zulandar/presswork/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UpdateProgress records the current step and progress of a PROCESSING job.
// Progress never moves backwards: an update with a lower value than the one
// stored is ignored. A non-zero attempt fences the write to that claim. It
// returns ErrNotProcessing if the job has left PROCESSING or was claimed
// again, which tells the executor to stop.
func UpdateProgress(db *gorm.DB, jobID string, attempt int, step string, progress int) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("job: progress %d out of range", progress)
	}

	q := db.Model(&models.GenerationJob{}).
		Where("id = ? AND status = ? AND progress <= ?", jobID, StatusProcessing, progress)
	if attempt > 0 {
		q = q.Where("attempts = ?", attempt)
	}
	result := q.Updates(map[string]interface{}{
		"current_step": step,
		"progress":     progress,
	})
	if result.Error != nil {
		return fmt.Errorf("job: update progress %s: %w", jobID, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	j, err := Get(db, jobID)
	if err != nil {
		return err
	}
	if j.Status != StatusProcessing {
		return fmt.Errorf("%w: %s is %s", ErrNotProcessing, jobID, j.Status)
	}
	if attempt > 0 && j.Attempts != attempt {
		return fmt.Errorf("%w: %s attempt %d superseded by %d", ErrNotProcessing, jobID, attempt, j.Attempts)
	}
	return nil
}

// CompleteOpts holds the result of a successful run.
type CompleteOpts struct {
	BlogPostID string
	Output     datatypes.JSON
	// Attempt, when non-zero, restricts completion to that claim.
	Attempt int
}

// Complete moves a PROCESSING job to COMPLETED and releases its slot. It is
// meant to run inside the transaction that persists the blog post, so a job
// that was reclaimed meanwhile (ErrNotProcessing) rolls the post back too.
func Complete(tx *gorm.DB, jobID string, opts CompleteOpts) error {
	if opts.BlogPostID == "" {
		return fmt.Errorf("job: blogPostID is required")
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":       StatusCompleted,
		"current_step": "completed",
		"progress":     100,
		"blog_post_id": opts.BlogPostID,
		"completed_at": now,
		"active_slot":  nil,
		"error":        nil,
	}
	if len(opts.Output) > 0 {
		updates["output"] = opts.Output
	}

	q := tx.Model(&models.GenerationJob{}).Where("id = ? AND status = ?", jobID, StatusProcessing)
	if opts.Attempt > 0 {
		q = q.Where("attempts = ?", opts.Attempt)
	}
	result := q.Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("job: complete %s: %w", jobID, result.Error)
	}
	if result.RowsAffected == 0 {
		return notFoundOr(tx, jobID, ErrNotProcessing)
	}
	return nil
}

// Fail moves a PROCESSING job to FAILED with a human-readable reason, releases
// its slot and mirrors the failure onto its keyword.
func Fail(db *gorm.DB, jobID, reason string) error {
	return failWhere(db, jobID, reason, 0, nil)
}

// FailAttempt is Fail restricted to one claim of the job. A stale executor
// cannot fail a job that has since been retried and claimed again.
func FailAttempt(db *gorm.DB, jobID string, attempt int, reason string) error {
	return failWhere(db, jobID, reason, attempt, nil)
}

// FailStale is Fail restricted to jobs that started before cutoff. Two sweeps
// racing over the same job both see it, but only one converts it.
func FailStale(db *gorm.DB, jobID, reason string, cutoff time.Time) error {
	return failWhere(db, jobID, reason, 0, &cutoff)
}

func failWhere(db *gorm.DB, jobID, reason string, attempt int, startedBefore *time.Time) error {
	if db == nil {
		return fmt.Errorf("job: db is required")
	}
	if reason == "" {
		reason = "job failed"
	}

	return db.Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&models.GenerationJob{}).Where("id = ? AND status = ?", jobID, StatusProcessing)
		if attempt > 0 {
			q = q.Where("attempts = ?", attempt)
		}
		if startedBefore != nil {
			q = q.Where("started_at < ?", *startedBefore)
		}
		result := q.Updates(map[string]interface{}{
			"status":       StatusFailed,
			"error":        reason,
			"completed_at": time.Now().UTC(),
			"active_slot":  nil,
		})
		if result.Error != nil {
			return fmt.Errorf("job: fail %s: %w", jobID, result.Error)
		}
		if result.RowsAffected == 0 {
			return notFoundOr(tx, jobID, ErrNotProcessing)
		}

		var j models.GenerationJob
		if err := tx.Select("id", "keyword_id").Where("id = ?", jobID).First(&j).Error; err != nil {
			return fmt.Errorf("job: reload %s: %w", jobID, err)
		}
		if j.KeywordID != nil {
			return markKeyword(tx, *j.KeywordID, KeywordFailed, jobID)
		}
		return nil
	})
}

// Retry resets a FAILED job to QUEUED so it can run again. Output from the
// failed attempt is discarded. Exclusive jobs take the website slot back, so
// a retry fails with ErrActiveJobExists if another exclusive job got there
// first. Retrying an active job returns ErrJobActive and changes nothing.
func Retry(db *gorm.DB, jobID string) (*models.GenerationJob, error) {
	j, err := Get(db, jobID)
	if err != nil {
		return nil, err
	}
	if IsActive(j.Status) {
		return nil, fmt.Errorf("%w: %s is %s", ErrJobActive, jobID, j.Status)
	}
	if !IsValidTransition(j.Status, StatusQueued) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, StatusQueued)
	}

	updates := map[string]interface{}{
		"status":       StatusQueued,
		"error":        nil,
		"progress":     0,
		"current_step": "",
		"started_at":   nil,
		"completed_at": nil,
		"blog_post_id": nil,
		"output":       nil,
	}
	if j.Exclusive {
		updates["active_slot"] = j.WebsiteID
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.GenerationJob{}).
			Where("id = ? AND status = ?", jobID, StatusFailed).
			Updates(updates)
		if result.Error != nil {
			if pwdb.IsDuplicateKey(result.Error) {
				return fmt.Errorf("%w: %s", ErrActiveJobExists, j.WebsiteID)
			}
			return fmt.Errorf("job: retry %s: %w", jobID, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s changed status concurrently", ErrJobActive, jobID)
		}
		if j.KeywordID != nil {
			return markKeyword(tx, *j.KeywordID, KeywordQueued, jobID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return Get(db, jobID)
}
