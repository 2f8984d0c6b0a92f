package models

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gorm.io/gorm"

	"github.com/jsenecal/netbox-notices/pkg/messaging"
	"github.com/jsenecal/netbox-notices/pkg/reference"
)

// TemplateScope binds a NotificationTemplate to a matching context: a target
// reference (type plus optional ID, nil meaning all objects of that type) and
// optional event filters. Matching scopes add their weight to the template's
// match score.
type TemplateScope struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	TemplateID uint `gorm:"not null;index;uniqueIndex:uq_template_scope" json:"templateId"`

	TargetType string `gorm:"type:varchar(50);not null;uniqueIndex:uq_template_scope" json:"targetType"`
	// TargetID nil matches every object of TargetType.
	TargetID *int64 `gorm:"uniqueIndex:uq_template_scope" json:"targetId,omitempty"`

	// Optional event filters; empty matches any.
	EventType   string `gorm:"type:varchar(20);uniqueIndex:uq_template_scope" json:"eventType,omitempty"`
	EventStatus string `gorm:"type:varchar(50);uniqueIndex:uq_template_scope" json:"eventStatus,omitempty"`

	Weight int `gorm:"not null;default:1000" json:"weight"`
}

func (TemplateScope) TableName() string {
	return "template_scopes"
}

func (s *TemplateScope) BeforeSave(tx *gorm.DB) error {
	if err := validation.ValidateStruct(s,
		validation.Field(&s.TemplateID, validation.Required),
		validation.Field(&s.TargetType, validation.Required),
		validation.Field(&s.EventType, validation.In(
			string(messaging.EventTypeMaintenance),
			string(messaging.EventTypeOutage),
			string(messaging.EventTypeBoth),
		)),
	); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	return nil
}

// Create persists a new scope. The composite unique index rejects a
// duplicate (template, target, event filters) rule.
func (s *TemplateScope) Create(db *gorm.DB) error {
	return db.Create(s).Error
}

// Target returns the scope's target as a reference.
func (s *TemplateScope) Target() reference.Ref {
	if s.TargetID == nil {
		return reference.Wildcard(reference.Type(s.TargetType))
	}
	return reference.To(reference.Type(s.TargetType), *s.TargetID)
}

// Rule converts the stored scope into the value form used for matching.
func (s *TemplateScope) Rule() messaging.ScopeRule {
	return messaging.ScopeRule{
		Target:      s.Target(),
		EventType:   messaging.EventType(s.EventType),
		EventStatus: s.EventStatus,
		Weight:      s.Weight,
	}
}
