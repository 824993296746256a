// Package quota implements admission control against each organization's
// monthly post allowance, and the idempotent usage record that consumes it.
package quota

import (
	"errors"
	"fmt"
	"time"

	pwdb "github.com/zulandar/presswork/internal/db"
	"github.com/zulandar/presswork/internal/job"
	"github.com/zulandar/presswork/internal/models"
	"gorm.io/gorm"
)

var ErrWebsiteNotFound = errors.New("quota: website not found")

// Limit is the outcome of an admission check.
type Limit struct {
	Allowed    bool
	Remaining  int
	ActiveJobs int
	Reason     string
}

// CheckGenerationLimit reports whether a website may start another generation
// job. It reads the owning organization's quota and the website's active job
// count and has no side effects. The check is advisory: nothing is reserved
// between the check and the enqueue that follows it.
func CheckGenerationLimit(db *gorm.DB, websiteID string) (*Limit, error) {
	if db == nil {
		return nil, fmt.Errorf("quota: db is required")
	}

	var site models.Website
	if err := db.Preload("Organization").Where("id = ?", websiteID).First(&site).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrWebsiteNotFound, websiteID)
		}
		return nil, fmt.Errorf("quota: load website %s: %w", websiteID, err)
	}

	active, err := job.CountActive(db, websiteID)
	if err != nil {
		return nil, err
	}

	return evaluate(&site, int(active)), nil
}

func evaluate(site *models.Website, active int) *Limit {
	org := site.Organization
	remaining := org.MaxPostsPerMonth - org.PostsGeneratedThisMonth
	if remaining < 0 {
		remaining = 0
	}
	l := &Limit{Remaining: remaining, ActiveJobs: active}

	switch {
	case !site.Active:
		l.Reason = "website is not active"
	case remaining == 0:
		l.Reason = fmt.Sprintf("monthly limit of %d posts reached for the %s plan", org.MaxPostsPerMonth, org.Plan)
	default:
		l.Allowed = true
	}
	return l
}

// RecordUsage consumes one unit of quota for a completed job. It is keyed by
// job ID: the first call inserts the usage row and increments the counter,
// later calls for the same job are no-ops and return false. Run it inside the
// completion transaction.
func RecordUsage(tx *gorm.DB, organizationID, jobID string) (bool, error) {
	if organizationID == "" || jobID == "" {
		return false, fmt.Errorf("quota: organizationID and jobID are required")
	}

	var existing int64
	if err := tx.Model(&models.QuotaUsage{}).Where("job_id = ?", jobID).Count(&existing).Error; err != nil {
		return false, fmt.Errorf("quota: check usage for %s: %w", jobID, err)
	}
	if existing > 0 {
		return false, nil
	}

	usage := models.QuotaUsage{JobID: jobID, OrganizationID: organizationID}
	if err := tx.Create(&usage).Error; err != nil {
		if pwdb.IsDuplicateKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("quota: record usage for %s: %w", jobID, err)
	}

	if err := tx.Model(&models.Organization{}).
		Where("id = ?", organizationID).
		Update("posts_generated_this_month", gorm.Expr("posts_generated_this_month + 1")).Error; err != nil {
		return false, fmt.Errorf("quota: increment %s: %w", organizationID, err)
	}
	return true, nil
}

// ResetMonthly zeroes the counters of organizations whose period started
// before the current calendar month (UTC) and moves their period start
// forward. It returns the number of organizations reset.
func ResetMonthly(db *gorm.DB, now time.Time) (int64, error) {
	now = now.UTC()
	periodStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	result := db.Model(&models.Organization{}).
		Where("period_start < ?", periodStart).
		Updates(map[string]interface{}{
			"posts_generated_this_month": 0,
			"period_start":               periodStart,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("quota: monthly reset: %w", result.Error)
	}
	return result.RowsAffected, nil
}
