package models

import (
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gorm.io/gorm"
	"gopkg.in/yaml.v3"

	"github.com/jsenecal/netbox-notices/pkg/messaging"
)

// NotificationTemplate is a reusable content unit for outgoing
// notifications. Templates are scoped to objects via TemplateScope rows and
// merged by weight at composition time; body content supports named-block
// inheritance through ExtendsID.
type NotificationTemplate struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Name        string `gorm:"type:varchar(100);not null" json:"name"`
	Slug        string `gorm:"type:varchar(100);uniqueIndex;not null" json:"slug"`
	Description string `gorm:"type:text" json:"description,omitempty"`

	// EventType filters which events this template applies to:
	// maintenance, outage, both, or none for standalone messages.
	EventType string `gorm:"type:varchar(20);not null;index:idx_templates_event_type" json:"eventType"`

	// Granularity controls how many messages one event produces.
	Granularity string `gorm:"type:varchar(20);not null;default:'per_party'" json:"granularity"`

	SubjectTemplate string    `gorm:"type:text" json:"subjectTemplate"`
	BodyTemplate    string    `gorm:"type:text" json:"bodyTemplate"`
	BodyFormat      string    `gorm:"type:varchar(20);not null;default:'markdown'" json:"bodyFormat"`
	CSSTemplate     string    `gorm:"type:text" json:"cssTemplate,omitempty"`
	HeadersTemplate StringMap `gorm:"type:jsonb" json:"headersTemplate,omitempty"`

	// Calendar attachment (maintenance events only).
	IncludeICal  bool   `json:"includeIcal"`
	ICalTemplate string `gorm:"type:text" json:"icalTemplate,omitempty"`

	// Recipient discovery criteria.
	ContactRoles      StringList `gorm:"type:jsonb" json:"contactRoles,omitempty"`
	ContactPriorities StringList `gorm:"type:jsonb" json:"contactPriorities,omitempty"`

	// Block inheritance.
	IsBaseTemplate bool  `json:"isBaseTemplate"`
	ExtendsID      *uint `gorm:"index:idx_templates_extends" json:"extendsId,omitempty"`

	// Base weight for match scoring; higher wins merge conflicts.
	Weight int `gorm:"not null;default:1000" json:"weight"`

	Scopes []TemplateScope `gorm:"foreignKey:TemplateID" json:"scopes,omitempty"`
}

func (NotificationTemplate) TableName() string {
	return "notification_templates"
}

var templateSyntaxChecker = messaging.NewRenderer()

// BeforeSave validates the template: required fields, enum values, syntax of
// every content field, and acyclicity of the extends chain. Catching these at
// save time keeps render-time failures out of composition.
func (t *NotificationTemplate) BeforeSave(tx *gorm.DB) error {
	if err := validation.ValidateStruct(t,
		validation.Field(&t.Name, validation.Required),
		validation.Field(&t.Slug, validation.Required),
		validation.Field(&t.EventType, validation.Required, validation.In(
			string(messaging.EventTypeMaintenance),
			string(messaging.EventTypeOutage),
			string(messaging.EventTypeBoth),
			string(messaging.EventTypeNone),
		)),
		validation.Field(&t.Granularity, validation.Required, validation.In(
			string(messaging.GranularityPerEvent),
			string(messaging.GranularityPerParty),
			string(messaging.GranularityPerImpact),
		)),
		validation.Field(&t.BodyFormat, validation.Required, validation.In(
			string(messaging.BodyFormatMarkdown),
			string(messaging.BodyFormatHTML),
			string(messaging.BodyFormatText),
		)),
	); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	id := int64(t.ID)
	for field, src := range map[string]string{
		"subject":  t.SubjectTemplate,
		"body":     t.BodyTemplate,
		"css":      t.CSSTemplate,
		"calendar": t.ICalTemplate,
	} {
		if err := templateSyntaxChecker.ValidateSyntax(id, field, src); err != nil {
			return err
		}
	}
	for key, src := range t.HeadersTemplate {
		if err := templateSyntaxChecker.ValidateSyntax(id, "header "+key, src); err != nil {
			return err
		}
	}

	return t.checkExtendsCycle(tx)
}

// checkExtendsCycle walks the extends chain and rejects the save if it would
// introduce a cycle (including self-reference).
func (t *NotificationTemplate) checkExtendsCycle(tx *gorm.DB) error {
	visited := map[uint]bool{}
	if t.ID != 0 {
		visited[t.ID] = true
	}
	next := t.ExtendsID
	for next != nil {
		if visited[*next] {
			return &messaging.InheritanceCycleError{TemplateID: int64(t.ID)}
		}
		visited[*next] = true

		var parent NotificationTemplate
		if err := tx.Select("id", "extends_id").First(&parent, *next).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("parent template %d does not exist", *next)
			}
			return err
		}
		next = parent.ExtendsID
	}
	return nil
}

// BeforeDelete blocks deletion while the template is referenced by messages
// that are still in flight. Delivered messages are terminal and do not pin
// their template.
func (t *NotificationTemplate) BeforeDelete(tx *gorm.DB) error {
	var count int64
	err := tx.Model(&PreparedNotification{}).
		Where("template_id = ? AND status <> ?", t.ID, StatusDelivered).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("template %d is referenced by %d undelivered notification(s)", t.ID, count)
	}
	return nil
}

// Create persists a new template.
func (t *NotificationTemplate) Create(db *gorm.DB) error {
	return db.Create(t).Error
}

// Get retrieves a template by ID with its scopes.
func (t *NotificationTemplate) Get(db *gorm.DB, id uint) error {
	return db.Preload("Scopes").First(t, id).Error
}

// GetBySlug retrieves a template by slug with its scopes.
func (t *NotificationTemplate) GetBySlug(db *gorm.DB, slug string) error {
	return db.Preload("Scopes").Where("slug = ?", slug).First(t).Error
}

// ListCandidateTemplates returns the templates whose event-type filter could
// admit the given context event type, with scopes preloaded. Standalone
// contexts (type none) see only standalone templates.
func ListCandidateTemplates(db *gorm.DB, eventType messaging.EventType) ([]NotificationTemplate, error) {
	var templates []NotificationTemplate
	query := db.Preload("Scopes").Order("id")
	switch eventType {
	case messaging.EventTypeMaintenance, messaging.EventTypeOutage:
		query = query.Where("event_type IN ?", []string{string(eventType), string(messaging.EventTypeBoth)})
	default:
		query = query.Where("event_type = ?", string(messaging.EventTypeNone))
	}
	if err := query.Find(&templates).Error; err != nil {
		return nil, err
	}
	return templates, nil
}

// SetHeadersFromYAML parses YAML authoring input into the headers template
// map, e.g.:
//
//	X-Maintenance-Id: "{{.event.Name}}"
//	Reply-To: noc@example.com
func (t *NotificationTemplate) SetHeadersFromYAML(input string) error {
	if input == "" {
		t.HeadersTemplate = StringMap{}
		return nil
	}
	headers := map[string]string{}
	if err := yaml.Unmarshal([]byte(input), &headers); err != nil {
		return fmt.Errorf("parsing headers YAML: %w", err)
	}
	t.HeadersTemplate = headers
	return nil
}

// Spec converts the stored template into the value form the composition
// core operates on.
func (t *NotificationTemplate) Spec() messaging.Template {
	spec := messaging.Template{
		ID:          int64(t.ID),
		Name:        t.Name,
		EventType:   messaging.EventType(t.EventType),
		Granularity: messaging.Granularity(t.Granularity),
		Subject:     t.SubjectTemplate,
		Body:        t.BodyTemplate,
		BodyFormat:  messaging.BodyFormat(t.BodyFormat),
		Headers:     map[string]string(t.HeadersTemplate),
		CSS:         t.CSSTemplate,
		ICal:        t.ICalTemplate,
		IncludeICal: t.IncludeICal,
		Roles:       []string(t.ContactRoles),
		Priorities:  []string(t.ContactPriorities),
		Weight:      t.Weight,
		IsBase:      t.IsBaseTemplate,
	}
	if t.ExtendsID != nil {
		extends := int64(*t.ExtendsID)
		spec.Extends = &extends
	}
	for _, scope := range t.Scopes {
		spec.Scopes = append(spec.Scopes, scope.Rule())
	}
	return spec
}
