// Package recovery fails jobs that have been PROCESSING for longer than the
// stuck timeout, releasing their website slot so work can resume.
package recovery

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/presswork/internal/job"
	"github.com/zulandar/presswork/internal/metrics"
	"github.com/zulandar/presswork/internal/models"
	"gorm.io/gorm"
)

// DefaultStuckTimeout is used when a caller passes a zero timeout.
const DefaultStuckTimeout = 20 * time.Minute

// TimeoutMessage is the error recorded on a job failed by recovery.
func TimeoutMessage(timeout time.Duration) string {
	return fmt.Sprintf("job timed out after %v without completing", timeout)
}

// RecoverStuckJobs fails every PROCESSING job that started before
// now - timeout. It returns the number of jobs it actually converted: a job
// that finished or was recovered by a concurrent sweep is not counted.
func RecoverStuckJobs(db *gorm.DB, timeout time.Duration) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("recovery: db is required")
	}
	if timeout <= 0 {
		timeout = DefaultStuckTimeout
	}
	cutoff := time.Now().UTC().Add(-timeout)

	var ids []string
	if err := db.Model(&models.GenerationJob{}).
		Where("status = ? AND started_at < ?", job.StatusProcessing, cutoff).
		Order("started_at ASC").
		Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("recovery: find stuck jobs: %w", err)
	}

	recovered := 0
	var errs []error
	for _, id := range ids {
		err := job.FailStale(db, id, TimeoutMessage(timeout), cutoff)
		switch {
		case err == nil:
			recovered++
		case errors.Is(err, job.ErrNotProcessing), errors.Is(err, job.ErrNotFound):
		default:
			errs = append(errs, err)
		}
	}
	metrics.JobsRecovered(recovered)

	if len(errs) > 0 {
		return recovered, fmt.Errorf("recovery: %d of %d stuck jobs not recovered: %w", len(errs), len(ids), errors.Join(errs...))
	}
	return recovered, nil
}

// ReconcileJob fails j if it is a stuck PROCESSING job and reports whether it
// did. On conversion j is reloaded in place so callers see the FAILED state.
func ReconcileJob(db *gorm.DB, j *models.GenerationJob, timeout time.Duration) (bool, error) {
	if db == nil {
		return false, fmt.Errorf("recovery: db is required")
	}
	if j == nil || j.Status != job.StatusProcessing || j.StartedAt == nil {
		return false, nil
	}
	if timeout <= 0 {
		timeout = DefaultStuckTimeout
	}
	cutoff := time.Now().UTC().Add(-timeout)
	if !j.StartedAt.Before(cutoff) {
		return false, nil
	}

	converted := true
	if err := job.FailStale(db, j.ID, TimeoutMessage(timeout), cutoff); err != nil {
		if !errors.Is(err, job.ErrNotProcessing) {
			return false, fmt.Errorf("recovery: reconcile %s: %w", j.ID, err)
		}
		converted = false
	}

	fresh, err := job.Get(db, j.ID)
	if err != nil {
		return converted, err
	}
	*j = *fresh
	if converted {
		metrics.JobsRecovered(1)
	}
	return converted, nil
}
