package db

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/jsenecal/netbox-notices/internal/config"
	"github.com/jsenecal/netbox-notices/pkg/database"
	"github.com/jsenecal/netbox-notices/pkg/models"
)

// NewDB returns a new migrated database connection.
func NewDB(cfg config.Postgres, log hclog.Logger) (*gorm.DB, error) {
	db, err := database.Connect(database.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		DBName:   cfg.DBName,
		SSLMode:  cfg.SSLMode,
	}, log)
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates or updates the schema for all models.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.NotificationTemplate{},
		&models.TemplateScope{},
		&models.PreparedNotification{},
		&models.JournalEntry{},
	); err != nil {
		return fmt.Errorf("error migrating database: %w", err)
	}
	return nil
}
