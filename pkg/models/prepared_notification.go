package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jsenecal/netbox-notices/pkg/reference"
)

// PreparedNotification statuses. A message is created in draft, approved to
// ready, picked up by the delivery system to sent, and finishes delivered or
// failed; failed messages may be retried back to ready.
const (
	StatusDraft     = "draft"
	StatusReady     = "ready"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// AllowedTransitions maps each status to its legal successors.
var AllowedTransitions = map[string][]string{
	StatusDraft:     {StatusReady},
	StatusReady:     {StatusSent},
	StatusSent:      {StatusDelivered, StatusFailed},
	StatusDelivered: {},
	StatusFailed:    {StatusReady},
}

// PreparedNotification is a rendered notification tracked through the
// delivery lifecycle. Content and the recipient snapshot are immutable once
// the message leaves draft; only status, timestamps and audit fields change
// after that.
type PreparedNotification struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UUID      uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"uuid"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	TemplateID uint                 `gorm:"not null;index;uniqueIndex:uq_composition" json:"templateId"`
	Template   NotificationTemplate `gorm:"foreignKey:TemplateID" json:"-"`

	// Source event reference; empty for standalone messages.
	EventType string `gorm:"type:varchar(50);uniqueIndex:uq_composition" json:"eventType,omitempty"`
	EventID   *int64 `gorm:"uniqueIndex:uq_composition" json:"eventId,omitempty"`

	// GroupKey identifies the recipient group within the event
	// ("event", "party:<id>", "impact:<id>"). Together with the template
	// and event it forms the idempotency key for composition.
	GroupKey string `gorm:"type:varchar(64);not null;uniqueIndex:uq_composition" json:"groupKey"`

	Status string `gorm:"type:varchar(20);not null;default:'draft';index:idx_prepared_status" json:"status"`

	// ContactSelection is editable while the message is draft; Recipients
	// is the immutable snapshot taken at approval.
	ContactSelection Int64List     `gorm:"type:jsonb" json:"contactSelection,omitempty"`
	Recipients       RecipientList `gorm:"type:jsonb" json:"recipients,omitempty"`

	// Rendered content snapshot.
	Subject     string    `gorm:"type:varchar(255)" json:"subject"`
	BodyText    string    `gorm:"type:text" json:"bodyText"`
	BodyHTML    string    `gorm:"type:text" json:"bodyHtml,omitempty"`
	Headers     StringMap `gorm:"type:jsonb" json:"headers,omitempty"`
	CSS         string    `gorm:"type:text" json:"css,omitempty"`
	ICalContent string    `gorm:"type:text" json:"icalContent,omitempty"`

	// Approval and delivery tracking.
	ApprovedBy  string     `gorm:"type:varchar(150)" json:"approvedBy,omitempty"`
	ApprovedAt  *time.Time `json:"approvedAt,omitempty"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	ViewedAt    *time.Time `json:"viewedAt,omitempty"`
}

func (PreparedNotification) TableName() string {
	return "prepared_notifications"
}

func (n *PreparedNotification) BeforeCreate(tx *gorm.DB) error {
	if n.UUID == uuid.Nil {
		n.UUID = uuid.New()
	}
	if n.Status == "" {
		n.Status = StatusDraft
	}
	return nil
}

// EventRef returns the source event reference, or a zero Ref for
// standalone messages.
func (n *PreparedNotification) EventRef() reference.Ref {
	if n.EventType == "" || n.EventID == nil {
		return reference.Ref{}
	}
	return reference.To(reference.Type(n.EventType), *n.EventID)
}

// DuplicateCompositionError reports an insert that lost the composition
// idempotency race: another writer already holds this (template, event,
// group) combination.
type DuplicateCompositionError struct {
	TemplateID uint
	Event      reference.Ref
	GroupKey   string
}

func (e *DuplicateCompositionError) Error() string {
	return fmt.Sprintf("notification for template %d, event %s, group %q already exists",
		e.TemplateID, e.Event, e.GroupKey)
}

// Create persists a new message. A unique-constraint violation on the
// composition key is returned as a DuplicateCompositionError.
func (n *PreparedNotification) Create(db *gorm.DB) error {
	if err := db.Create(n).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return &DuplicateCompositionError{
				TemplateID: n.TemplateID,
				Event:      n.EventRef(),
				GroupKey:   n.GroupKey,
			}
		}
		return err
	}
	return nil
}

// Get retrieves a message by ID.
func (n *PreparedNotification) Get(db *gorm.DB, id uint) error {
	return db.First(n, id).Error
}

// GetByUUID retrieves a message by its UUID.
func (n *PreparedNotification) GetByUUID(db *gorm.DB, id uuid.UUID) error {
	return db.Where("uuid = ?", id).First(n).Error
}

// FindByCompositionKey looks up the message for one (template, event, group)
// combination. Returns (nil, nil) when none exists.
func FindByCompositionKey(db *gorm.DB, templateID uint, event reference.Ref, groupKey string) (*PreparedNotification, error) {
	query := db.Where("template_id = ? AND group_key = ?", templateID, groupKey)
	if event.IsZero() {
		query = query.Where("event_type = '' AND event_id IS NULL")
	} else {
		query = query.Where("event_type = ? AND event_id = ?", string(event.Type), *event.ID)
	}

	var msg PreparedNotification
	if err := query.First(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

// ListByStatus returns messages in the given status, oldest first. The
// delivery system polls this with StatusReady.
func ListByStatus(db *gorm.DB, status string) ([]PreparedNotification, error) {
	var messages []PreparedNotification
	err := db.Where("status = ?", status).Order("id").Find(&messages).Error
	return messages, err
}

// ListForEvent returns every message composed from one event.
func ListForEvent(db *gorm.DB, event reference.Ref) ([]PreparedNotification, error) {
	if event.IsZero() || event.IsWildcard() {
		return nil, errors.New("event reference required")
	}
	var messages []PreparedNotification
	err := db.Where("event_type = ? AND event_id = ?", string(event.Type), *event.ID).
		Order("id").Find(&messages).Error
	return messages, err
}

// UpdateStatusCAS applies a status transition as a single conditional
// update: the row changes only if its status still equals expected. Returns
// false when a concurrent writer got there first, in which case the caller
// must re-read and re-validate.
func (n *PreparedNotification) UpdateStatusCAS(db *gorm.DB, expected, next string, updates map[string]any) (bool, error) {
	values := map[string]any{"status": next}
	for column, value := range updates {
		values[column] = value
	}
	result := db.Model(&PreparedNotification{}).
		Where("id = ? AND status = ?", n.ID, expected).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	n.Status = next
	return true, nil
}
