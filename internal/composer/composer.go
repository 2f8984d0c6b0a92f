// Package composer turns a maintenance or outage event into draft
// notifications: it matches and merges templates, resolves recipients per
// the effective granularity, renders each group and persists one prepared
// notification per group.
package composer

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"gorm.io/gorm"

	"github.com/jsenecal/netbox-notices/pkg/messaging"
	"github.com/jsenecal/netbox-notices/pkg/models"
	"github.com/jsenecal/netbox-notices/pkg/reference"
)

// EventStore provides the events and impact records composition runs
// against. Implementations wrap whatever system of record holds the
// maintenance and outage data.
type EventStore interface {
	// Event resolves an event by reference. Returns (nil, nil) when the
	// event does not exist.
	Event(ctx context.Context, ref reference.Ref) (*messaging.Event, error)

	// ImpactsForEvent lists the event's impact records.
	ImpactsForEvent(ctx context.Context, ref reference.Ref) ([]messaging.Impact, error)
}

// NotFoundError is returned when the referenced event does not exist.
type NotFoundError struct {
	Ref reference.Ref
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("event %s not found", e.Ref)
}

// DisallowedTargetError is returned when a standalone composition names a
// target whose type the reference registry does not permit.
type DisallowedTargetError struct {
	Ref reference.Ref
}

func (e *DisallowedTargetError) Error() string {
	return fmt.Sprintf("target %s: type %q is not allowed", e.Ref, e.Ref.Type)
}

// CompositionResult reports the outcome of one composition run. Group
// failures are isolated: a render error in one group does not stop the
// others, and Errors aggregates whatever went wrong.
type CompositionResult struct {
	// TemplateID is the effective (highest-scored) template, zero when
	// nothing matched.
	TemplateID int64 `json:"templateId"`

	// Created holds newly persisted drafts.
	Created []models.PreparedNotification `json:"created"`

	// Reused holds pre-existing drafts returned as-is (force not set).
	Reused []models.PreparedNotification `json:"reused"`

	// Skipped lists group keys whose message already left draft.
	Skipped []string `json:"skipped,omitempty"`

	// Errors aggregates per-group failures.
	Errors *multierror.Error `json:"-"`
}

// Config carries the composition settings from the server configuration.
type Config struct {
	// BaseURL is exposed to templates as the base_url context value.
	BaseURL string

	// DefaultTemplateWeight substitutes for candidate templates that carry
	// no weight of their own. Zero means 1000.
	DefaultTemplateWeight int

	// Registry gates the reference types standalone targets may use. Nil
	// permits every type.
	Registry *reference.Registry
}

// Composer orchestrates matching, merging, recipient resolution and
// rendering for one event at a time.
type Composer struct {
	db            *gorm.DB
	events        EventStore
	dir           messaging.Directory
	resolver      *messaging.RecipientResolver
	renderer      *messaging.Renderer
	baseURL       string
	defaultWeight int
	registry      *reference.Registry
	log           hclog.Logger

	now func() time.Time
}

func NewComposer(
	db *gorm.DB,
	events EventStore,
	dir messaging.Directory,
	cfg Config,
	log hclog.Logger,
) *Composer {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	if cfg.DefaultTemplateWeight == 0 {
		cfg.DefaultTemplateWeight = 1000
	}
	return &Composer{
		db:            db,
		events:        events,
		dir:           dir,
		resolver:      messaging.NewRecipientResolver(dir),
		renderer:      messaging.NewRenderer(),
		baseURL:       cfg.BaseURL,
		defaultWeight: cfg.DefaultTemplateWeight,
		registry:      cfg.Registry,
		log:           log.Named("composer"),
		now:           time.Now,
	}
}

// ComposeForEvent generates draft notifications for the referenced event.
// Re-running is idempotent per (template, event, group key): groups whose
// message already left draft are skipped, existing drafts are returned
// untouched unless force is set, in which case their content is
// regenerated in place.
func (c *Composer) ComposeForEvent(
	ctx context.Context, ref reference.Ref, force bool,
) (*CompositionResult, error) {
	ev, err := c.events.Event(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("error loading event %s: %w", ref, err)
	}
	if ev == nil {
		return nil, &NotFoundError{Ref: ref}
	}
	impacts, err := c.events.ImpactsForEvent(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("error loading impacts for %s: %w", ref, err)
	}

	matchCtx, err := c.buildMatchContext(ctx, ev, impacts)
	if err != nil {
		return nil, err
	}

	eff, err := c.effectiveTemplate(ctx, matchCtx, ev.Type)
	if err != nil {
		return nil, err
	}
	if eff == nil {
		c.log.Info("no templates match event",
			"event", ref.String(), "status", ev.Status)
		return &CompositionResult{}, nil
	}

	groups, err := c.resolver.Resolve(
		ctx, eff.Granularity, impacts, eff.Roles, eff.Priorities)
	if err != nil {
		return nil, fmt.Errorf("error resolving recipients for %s: %w", ref, err)
	}

	result := &CompositionResult{TemplateID: eff.SourceID}
	for _, group := range groups {
		if err := c.composeGroup(ctx, ev, impacts, eff, group, force, result); err != nil {
			result.Errors = multierror.Append(result.Errors,
				fmt.Errorf("group %s: %w", group.Key, err))
		}
	}

	c.log.Info("composition finished",
		"event", ref.String(),
		"template", eff.SourceID,
		"created", len(result.Created),
		"reused", len(result.Reused),
		"skipped", len(result.Skipped),
		"errors", result.Errors.ErrorOrNil() != nil,
	)
	return result, nil
}

// ComposeStandalone generates one draft not tied to any event, from
// templates whose event-type filter is "none". The draft's contact
// selection starts empty; operators pick contacts before approval.
func (c *Composer) ComposeStandalone(
	ctx context.Context, targets []reference.Ref, force bool,
) (*CompositionResult, error) {
	if c.registry != nil {
		for _, target := range targets {
			if !c.registry.Allowed(target.Type) {
				return nil, &DisallowedTargetError{Ref: target}
			}
		}
	}
	matchCtx := messaging.MatchContext{
		EventType: messaging.EventTypeNone,
		Targets:   targets,
	}
	eff, err := c.effectiveTemplate(ctx, matchCtx, messaging.EventTypeNone)
	if err != nil {
		return nil, err
	}
	if eff == nil {
		c.log.Info("no standalone templates match")
		return &CompositionResult{}, nil
	}

	result := &CompositionResult{TemplateID: eff.SourceID}
	group := messaging.RecipientGroup{Key: messaging.GroupKeyEvent}
	if err := c.composeGroup(ctx, nil, nil, eff, group, force, result); err != nil {
		result.Errors = multierror.Append(result.Errors,
			fmt.Errorf("group %s: %w", group.Key, err))
	}
	return result, nil
}

// effectiveTemplate matches and merges candidates for the context, with the
// body already block-resolved. Returns nil when nothing matches.
func (c *Composer) effectiveTemplate(
	ctx context.Context, matchCtx messaging.MatchContext, eventType messaging.EventType,
) (*messaging.EffectiveTemplate, error) {
	candidates, err := models.ListCandidateTemplates(c.db.WithContext(ctx), eventType)
	if err != nil {
		return nil, fmt.Errorf("error listing candidate templates: %w", err)
	}
	specs := make([]messaging.Template, len(candidates))
	for i, t := range candidates {
		specs[i] = t.Spec()
		if specs[i].Weight == 0 {
			specs[i].Weight = c.defaultWeight
		}
	}

	matched := messaging.MatchTemplates(matchCtx, specs)
	eff := messaging.MergeTemplates(matched)
	if eff == nil {
		return nil, nil
	}

	body, err := messaging.ResolveInheritance(
		eff.SourceID, eff.Body, eff.Extends, c.loadParent(ctx))
	if err != nil {
		return nil, fmt.Errorf("error resolving template inheritance: %w", err)
	}
	eff.Body = body
	return eff, nil
}

// loadParent returns a block-inheritance loader backed by the template
// store. Parents are loaded whether or not they matched the context.
func (c *Composer) loadParent(ctx context.Context) messaging.ParentLoader {
	return func(id int64) (string, *int64, error) {
		var t models.NotificationTemplate
		if err := t.Get(c.db.WithContext(ctx), uint(id)); err != nil {
			return "", nil, err
		}
		var extends *int64
		if t.ExtendsID != nil {
			v := int64(*t.ExtendsID)
			extends = &v
		}
		return t.BodyTemplate, extends, nil
	}
}

// buildMatchContext collects every reference scope rules could match: the
// event itself, its provider, each impacted target and that target's owning
// party.
func (c *Composer) buildMatchContext(
	ctx context.Context, ev *messaging.Event, impacts []messaging.Impact,
) (messaging.MatchContext, error) {
	targets := []reference.Ref{ev.Ref}
	if ev.Provider.ID != 0 {
		targets = append(targets, reference.To(reference.TypeProvider, ev.Provider.ID))
	}

	seenParties := make(map[int64]bool)
	for _, impact := range impacts {
		targets = append(targets, impact.Target)

		party, err := c.dir.PartyForTarget(ctx, impact.Target)
		if err != nil {
			return messaging.MatchContext{}, fmt.Errorf(
				"error resolving party for %s: %w", impact.Target, err)
		}
		if party != nil && !seenParties[party.ID] {
			seenParties[party.ID] = true
			targets = append(targets, reference.To(reference.TypeParty, party.ID))
		}
	}

	return messaging.MatchContext{
		EventType:   ev.Type,
		EventStatus: ev.Status,
		Targets:     targets,
	}, nil
}

// composeGroup renders one recipient group and persists or refreshes its
// draft, honoring the composition idempotency key.
func (c *Composer) composeGroup(
	ctx context.Context,
	ev *messaging.Event,
	impacts []messaging.Impact,
	eff *messaging.EffectiveTemplate,
	group messaging.RecipientGroup,
	force bool,
	result *CompositionResult,
) error {
	eventRef := reference.Ref{}
	if ev != nil {
		eventRef = ev.Ref
	}

	existing, err := models.FindByCompositionKey(
		c.db.WithContext(ctx), uint(eff.SourceID), eventRef, group.Key)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.Status != models.StatusDraft {
			c.log.Debug("group already composed",
				"group", group.Key, "notification", existing.ID,
				"status", existing.Status)
			result.Skipped = append(result.Skipped, group.Key)
			return nil
		}
		if !force {
			result.Reused = append(result.Reused, *existing)
			return nil
		}
	}

	rendered, err := c.renderGroup(ev, impacts, eff, group)
	if err != nil {
		return err
	}

	selection := make(models.Int64List, 0, len(group.Contacts))
	for _, contact := range group.Contacts {
		selection = append(selection, contact.ContactID)
	}

	if existing != nil {
		// Forced regeneration replaces the draft's content in place,
		// guarded on it still being a draft.
		updates := map[string]any{
			"contact_selection": selection,
			"subject":           rendered.Subject,
			"body_text":         rendered.BodyText,
			"body_html":         rendered.BodyHTML,
			"headers":           models.StringMap(rendered.Headers),
			"css":               rendered.CSS,
			"i_cal_content":     rendered.ICal,
		}
		tx := c.db.WithContext(ctx).
			Model(&models.PreparedNotification{}).
			Where("id = ? AND status = ?", existing.ID, models.StatusDraft).
			Updates(updates)
		if tx.Error != nil {
			return tx.Error
		}
		if tx.RowsAffected == 0 {
			result.Skipped = append(result.Skipped, group.Key)
			return nil
		}
		if err := existing.Get(c.db.WithContext(ctx), existing.ID); err != nil {
			return err
		}
		result.Created = append(result.Created, *existing)
		return nil
	}

	n := models.PreparedNotification{
		TemplateID:       uint(eff.SourceID),
		GroupKey:         group.Key,
		Status:           models.StatusDraft,
		ContactSelection: selection,
		Subject:          rendered.Subject,
		BodyText:         rendered.BodyText,
		BodyHTML:         rendered.BodyHTML,
		Headers:          models.StringMap(rendered.Headers),
		CSS:              rendered.CSS,
		ICalContent:      rendered.ICal,
	}
	if ev != nil {
		n.EventType = string(ev.Type)
		n.EventID = ev.Ref.ID
	}
	if err := n.Create(c.db.WithContext(ctx)); err != nil {
		return err
	}
	result.Created = append(result.Created, n)
	return nil
}

// renderGroup evaluates the effective template against the group's context.
// Calendar content is produced only for maintenance events whose effective
// template asks for it.
func (c *Composer) renderGroup(
	ev *messaging.Event,
	impacts []messaging.Impact,
	eff *messaging.EffectiveTemplate,
	group messaging.RecipientGroup,
) (*messaging.RenderedMessage, error) {
	renderCtx := messaging.RenderContext{
		"now":              c.now(),
		"base_url":         c.baseURL,
		"impacts":          impacts,
		"party":            group.Party,
		"party_impacts":    group.Impacts,
		"recipients":       group.Contacts,
		"highest_impact":   messaging.HighestImpact(group.Impacts),
		"message_sequence": 1,
	}

	eventType := messaging.EventTypeNone
	if ev != nil {
		eventType = ev.Type
		renderCtx["event"] = ev
		// Alias so maintenance templates read .maintenance and outage
		// templates .outage, matching their authoring vocabulary.
		renderCtx[string(ev.Type)] = ev
	}

	effective := *eff
	if !messaging.ShouldGenerateICal(eventType, eff) {
		effective.IncludeICal = false
		effective.ICal = ""
	}
	return c.renderer.Render(&effective, renderCtx)
}
