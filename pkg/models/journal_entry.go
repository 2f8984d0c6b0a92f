package models

import (
	"time"

	"gorm.io/gorm"
)

// JournalEntry is one audit annotation attached to a lifecycle transition.
type JournalEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`

	// SubjectRef is the "type:id" reference of the annotated object,
	// normally a prepared notification.
	SubjectRef string `gorm:"type:varchar(100);not null;index:idx_journal_subject" json:"subjectRef"`

	// Severity: info, success or warning.
	Severity string `gorm:"type:varchar(20);not null" json:"severity"`

	Text  string `gorm:"type:text;not null" json:"text"`
	Actor string `gorm:"type:varchar(150)" json:"actor,omitempty"`
}

func (JournalEntry) TableName() string {
	return "journal_entries"
}

// Create persists a journal entry.
func (e *JournalEntry) Create(db *gorm.DB) error {
	return db.Create(e).Error
}

// ListJournalForSubject returns a subject's entries, newest first.
func ListJournalForSubject(db *gorm.DB, subjectRef string) ([]JournalEntry, error) {
	var entries []JournalEntry
	err := db.Where("subject_ref = ?", subjectRef).
		Order("id DESC").Find(&entries).Error
	return entries, err
}
