package quota

import (
	"errors"
	"strings"
	"testing"
	"time"

	pwdb "github.com/zulandar/presswork/internal/db"
	"github.com/zulandar/presswork/internal/job"
	"github.com/zulandar/presswork/internal/models"
	"gorm.io/gorm"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := pwdb.ConnectSQLite(":memory:")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := pwdb.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seed(t *testing.T, db *gorm.DB, max, generated int, active bool) {
	t.Helper()
	org := models.Organization{ID: "org-1", Name: "Acme", Plan: "growth", MaxPostsPerMonth: max, PostsGeneratedThisMonth: generated}
	if err := db.Create(&org).Error; err != nil {
		t.Fatalf("seed org: %v", err)
	}
	site := models.Website{ID: "site-1", OrganizationID: "org-1", Name: "Acme Blog", Active: active}
	if err := db.Create(&site).Error; err != nil {
		t.Fatalf("seed website: %v", err)
	}
}

func TestCheckGenerationLimit(t *testing.T) {
	tests := []struct {
		name       string
		max        int
		generated  int
		active     bool
		wantOK     bool
		wantRemain int
		wantReason string
	}{
		{"plenty left", 10, 3, true, true, 7, ""},
		{"last one", 10, 9, true, true, 1, ""},
		{"exhausted", 10, 10, true, false, 0, "monthly limit of 10 posts reached"},
		{"over limit", 10, 12, true, false, 0, "monthly limit"},
		{"inactive website", 10, 0, false, false, 10, "website is not active"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testDB(t)
			seed(t, db, tt.max, tt.generated, tt.active)

			l, err := CheckGenerationLimit(db, "site-1")
			if err != nil {
				t.Fatalf("CheckGenerationLimit: %v", err)
			}
			if l.Allowed != tt.wantOK {
				t.Errorf("Allowed = %v, want %v", l.Allowed, tt.wantOK)
			}
			if l.Remaining != tt.wantRemain {
				t.Errorf("Remaining = %d, want %d", l.Remaining, tt.wantRemain)
			}
			if tt.wantReason == "" && l.Reason != "" {
				t.Errorf("Reason = %q, want empty", l.Reason)
			}
			if !strings.Contains(l.Reason, tt.wantReason) {
				t.Errorf("Reason = %q, want to contain %q", l.Reason, tt.wantReason)
			}
		})
	}
}

func TestCheckGenerationLimit_CountsActiveJobs(t *testing.T) {
	db := testDB(t)
	seed(t, db, 10, 0, true)
	job.Enqueue(db, job.EnqueueOpts{WebsiteID: "site-1"})
	job.Enqueue(db, job.EnqueueOpts{WebsiteID: "site-1"})

	l, err := CheckGenerationLimit(db, "site-1")
	if err != nil {
		t.Fatalf("CheckGenerationLimit: %v", err)
	}
	if l.ActiveJobs != 2 {
		t.Errorf("ActiveJobs = %d, want 2", l.ActiveJobs)
	}
}

func TestCheckGenerationLimit_UnknownWebsite(t *testing.T) {
	db := testDB(t)
	_, err := CheckGenerationLimit(db, "nope")
	if !errors.Is(err, ErrWebsiteNotFound) {
		t.Errorf("error = %v, want ErrWebsiteNotFound", err)
	}
	if _, err := CheckGenerationLimit(nil, "x"); err == nil {
		t.Error("expected error for nil db")
	}
}

func TestRecordUsage_Idempotent(t *testing.T) {
	db := testDB(t)
	seed(t, db, 10, 4, true)

	for i, want := range []bool{true, false, false} {
		got, err := RecordUsage(db, "org-1", "job-1")
		if err != nil {
			t.Fatalf("RecordUsage #%d: %v", i, err)
		}
		if got != want {
			t.Errorf("RecordUsage #%d = %v, want %v", i, got, want)
		}
	}

	var org models.Organization
	db.First(&org, "id = ?", "org-1")
	if org.PostsGeneratedThisMonth != 5 {
		t.Errorf("PostsGeneratedThisMonth = %d, want 5 (counted once)", org.PostsGeneratedThisMonth)
	}

	RecordUsage(db, "org-1", "job-2")
	db.First(&org, "id = ?", "org-1")
	if org.PostsGeneratedThisMonth != 6 {
		t.Errorf("PostsGeneratedThisMonth = %d, want 6", org.PostsGeneratedThisMonth)
	}
}

func TestRecordUsage_RollsBackWithTransaction(t *testing.T) {
	db := testDB(t)
	seed(t, db, 10, 0, true)

	rollback := errors.New("rollback")
	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := RecordUsage(tx, "org-1", "job-1"); err != nil {
			return err
		}
		return rollback
	})
	if !errors.Is(err, rollback) {
		t.Fatalf("transaction error = %v", err)
	}

	var org models.Organization
	db.First(&org, "id = ?", "org-1")
	if org.PostsGeneratedThisMonth != 0 {
		t.Errorf("PostsGeneratedThisMonth = %d, want 0 after rollback", org.PostsGeneratedThisMonth)
	}
	if ok, _ := RecordUsage(db, "org-1", "job-1"); !ok {
		t.Error("RecordUsage after rollback = false, want true")
	}
}

func TestRecordUsage_Validation(t *testing.T) {
	db := testDB(t)
	if _, err := RecordUsage(db, "", "job-1"); err == nil {
		t.Error("expected error for empty organizationID")
	}
}

func TestResetMonthly(t *testing.T) {
	db := testDB(t)
	now := time.Date(2026, 3, 1, 0, 5, 0, 0, time.UTC)
	db.Create(&models.Organization{ID: "stale", Name: "a", PostsGeneratedThisMonth: 9, PeriodStart: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)})
	db.Create(&models.Organization{ID: "fresh", Name: "b", PostsGeneratedThisMonth: 2, PeriodStart: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)})

	n, err := ResetMonthly(db, now)
	if err != nil {
		t.Fatalf("ResetMonthly: %v", err)
	}
	if n != 1 {
		t.Errorf("reset = %d, want 1", n)
	}

	var stale, fresh models.Organization
	db.First(&stale, "id = ?", "stale")
	db.First(&fresh, "id = ?", "fresh")
	if stale.PostsGeneratedThisMonth != 0 {
		t.Errorf("stale counter = %d, want 0", stale.PostsGeneratedThisMonth)
	}
	if fresh.PostsGeneratedThisMonth != 2 {
		t.Errorf("fresh counter = %d, want 2 (untouched)", fresh.PostsGeneratedThisMonth)
	}

	if n, _ := ResetMonthly(db, now); n != 0 {
		t.Errorf("second reset = %d, want 0", n)
	}
}
