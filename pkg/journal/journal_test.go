package journal

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jsenecal/netbox-notices/pkg/models"
)

func TestDBSink(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.JournalEntry{}))

	sink := NewDBSink(db)
	entry := Entry{
		SubjectRef: "notification:42",
		Severity:   SeveritySuccess,
		Text:       "Notification delivery confirmed",
		Actor:      "mailer",
		Timestamp:  time.Now(),
	}
	require.NoError(t, sink.Append(context.Background(), entry))

	entries, err := models.ListJournalForSubject(db, "notification:42")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "success", entries[0].Severity)
	assert.Equal(t, "Notification delivery confirmed", entries[0].Text)
	assert.Equal(t, "mailer", entries[0].Actor)
}

func TestLogSink(t *testing.T) {
	sink := NewLogSink(hclog.NewNullLogger())
	assert.NoError(t, sink.Append(context.Background(), Entry{
		SubjectRef: "notification:1",
		Severity:   SeverityInfo,
		Text:       "Notification approved",
	}))
}

func TestNopSink(t *testing.T) {
	assert.NoError(t, NopSink{}.Append(context.Background(), Entry{}))
}
