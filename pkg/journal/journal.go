// Package journal delivers audit annotations produced by lifecycle
// transitions to an external sink: the database journal table, the process
// log, or a Kafka/Redpanda topic.
package journal

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/jsenecal/netbox-notices/pkg/models"
)

// Severity tags a journal entry by the transition that produced it.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
)

// Entry is one audit annotation.
type Entry struct {
	SubjectRef string    `json:"subject_ref"`
	Severity   Severity  `json:"severity"`
	Text       string    `json:"text"`
	Actor      string    `json:"actor,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sink accepts journal entries. Append failures are reported to the caller
// but must not corrupt the transition that produced the entry; the state
// machine commits the transition before journaling.
type Sink interface {
	Append(ctx context.Context, entry Entry) error
}

// DBSink persists entries to the journal_entries table.
type DBSink struct {
	db *gorm.DB
}

func NewDBSink(db *gorm.DB) *DBSink {
	return &DBSink{db: db}
}

func (s *DBSink) Append(ctx context.Context, entry Entry) error {
	row := models.JournalEntry{
		SubjectRef: entry.SubjectRef,
		Severity:   string(entry.Severity),
		Text:       entry.Text,
		Actor:      entry.Actor,
	}
	return row.Create(s.db.WithContext(ctx))
}

// LogSink writes entries to an hclog logger, useful for development and as
// a compliance trail when no database or broker is wired.
type LogSink struct {
	log hclog.Logger
}

func NewLogSink(log hclog.Logger) *LogSink {
	return &LogSink{log: log.Named("journal")}
}

func (s *LogSink) Append(_ context.Context, entry Entry) error {
	s.log.Info("journal entry",
		"subject", entry.SubjectRef,
		"severity", string(entry.Severity),
		"actor", entry.Actor,
		"text", entry.Text,
	)
	return nil
}

// NopSink discards entries.
type NopSink struct{}

func (NopSink) Append(context.Context, Entry) error { return nil }
