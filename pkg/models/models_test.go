package models

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB returns a migrated in-memory database.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&NotificationTemplate{},
		&TemplateScope{},
		&PreparedNotification{},
		&JournalEntry{},
	))
	return db
}

// validTemplate returns a minimal template that passes validation.
func validTemplate(slug string) *NotificationTemplate {
	return &NotificationTemplate{
		Name:            "Test " + slug,
		Slug:            slug,
		EventType:       "maintenance",
		Granularity:     "per_party",
		SubjectTemplate: "Maintenance {{.event.Name}}",
		BodyTemplate:    "Details: {{.event.Summary}}",
		BodyFormat:      "markdown",
		Weight:          1000,
	}
}
