package db

import (
	"fmt"

	"github.com/zulandar/presswork/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model in the schema, in migration order.
func AllModels() []interface{} {
	return []interface{}{
		&models.Organization{},
		&models.Website{},
		&models.Keyword{},
		&models.GenerationJob{},
		&models.BlogPost{},
		&models.QuotaUsage{},
		&models.PublishAttempt{},
		&models.Worker{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
