package db

import (
	"fmt"

	"go_relay/internal/model"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Migrate runs database migrations for all models
func Migrate(db *gorm.DB) error {
	logrus.Info("Starting database migration...")

	models := []interface{}{
		&model.Identity{},
		&model.AgentEnrollment{},
	}

	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	logrus.Infof("Database migration completed successfully (%d tables)", len(models))
	return nil
}
