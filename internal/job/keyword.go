package job

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/zulandar/presswork/internal/models"
	"gorm.io/gorm"
)

// Keyword status constants. A keyword's status mirrors its latest job.
const (
	KeywordPending     = "PENDING"
	KeywordQueued      = "QUEUED"
	KeywordResearching = "RESEARCHING"
	KeywordWriting     = "WRITING"
	KeywordCompleted   = "COMPLETED"
	KeywordFailed      = "FAILED"
)

var (
	ErrNoPendingKeywords = errors.New("job: no pending keywords")
	ErrKeywordNotFound   = errors.New("job: keyword not found")
)

// MarkKeyword sets a keyword's status mirror.
func MarkKeyword(db *gorm.DB, keywordID, status string) error {
	result := db.Model(&models.Keyword{}).Where("id = ?", keywordID).Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("job: mark keyword %s %s: %w", keywordID, status, result.Error)
	}
	return nil
}

func markKeyword(tx *gorm.DB, keywordID, status, jobID string) error {
	result := tx.Model(&models.Keyword{}).Where("id = ?", keywordID).Updates(map[string]interface{}{
		"status":      status,
		"last_job_id": jobID,
	})
	if result.Error != nil {
		return fmt.Errorf("job: mark keyword %s %s: %w", keywordID, status, result.Error)
	}
	return nil
}

// GetKeyword retrieves a keyword scoped to a website.
func GetKeyword(db *gorm.DB, websiteID, keywordID string) (*models.Keyword, error) {
	var k models.Keyword
	if err := db.Where("id = ? AND website_id = ?", keywordID, websiteID).First(&k).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrKeywordNotFound, keywordID)
		}
		return nil, fmt.Errorf("job: get keyword %s: %w", keywordID, err)
	}
	return &k, nil
}

// PendingKeywords returns up to limit PENDING keywords for a website, highest
// priority first, then oldest.
func PendingKeywords(db *gorm.DB, websiteID string, limit int) ([]models.Keyword, error) {
	var kws []models.Keyword
	q := db.Where("website_id = ? AND status = ?", websiteID, KeywordPending).
		Order("priority DESC, created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&kws).Error; err != nil {
		return nil, fmt.Errorf("job: pending keywords for %s: %w", websiteID, err)
	}
	return kws, nil
}

// NextPendingKeyword returns the keyword the scheduler should write about next.
func NextPendingKeyword(db *gorm.DB, websiteID string) (*models.Keyword, error) {
	kws, err := PendingKeywords(db, websiteID, 1)
	if err != nil {
		return nil, err
	}
	if len(kws) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPendingKeywords, websiteID)
	}
	return &kws[0], nil
}

// UpsertKeywords resolves keyword texts for a website into keyword rows,
// creating PENDING rows for new texts. Texts are trimmed and deduplicated
// case-insensitively. Keywords with a job in flight are skipped; finished ones
// are reset to PENDING so they can be generated again.
func UpsertKeywords(db *gorm.DB, websiteID string, texts []string) ([]models.Keyword, error) {
	seen := map[string]bool{}
	var out []models.Keyword

	err := db.Transaction(func(tx *gorm.DB) error {
		for _, raw := range texts {
			text := strings.TrimSpace(raw)
			key := strings.ToLower(text)
			if text == "" || seen[key] {
				continue
			}
			seen[key] = true

			var existing models.Keyword
			err := tx.Where("website_id = ? AND LOWER(text) = ?", websiteID, key).First(&existing).Error
			switch {
			case err == nil:
				switch existing.Status {
				case KeywordQueued, KeywordResearching, KeywordWriting:
					continue
				case KeywordPending:
				default:
					if err := tx.Model(&existing).Update("status", KeywordPending).Error; err != nil {
						return fmt.Errorf("job: reset keyword %s: %w", existing.ID, err)
					}
					existing.Status = KeywordPending
				}
				out = append(out, existing)
			case errors.Is(err, gorm.ErrRecordNotFound):
				kw := models.Keyword{
					ID:        uuid.NewString(),
					WebsiteID: websiteID,
					Text:      text,
					Status:    KeywordPending,
				}
				if err := tx.Create(&kw).Error; err != nil {
					return fmt.Errorf("job: create keyword %q: %w", text, err)
				}
				out = append(out, kw)
			default:
				return fmt.Errorf("job: find keyword %q: %w", text, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
