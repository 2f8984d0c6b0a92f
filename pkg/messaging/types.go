// Package messaging implements the notification composition core: scope-based
// template matching, weighted merging with block inheritance, pure template
// rendering, and recipient resolution across the impact→party→contact graph.
//
// Everything in this package operates on plain value types so the pipeline can
// be unit-tested with literal inputs. Persistence lives in pkg/models and the
// orchestration in internal/composer.
package messaging

import (
	"time"

	"github.com/jsenecal/netbox-notices/pkg/reference"
)

// EventType restricts which events a template or scope rule applies to.
type EventType string

const (
	EventTypeMaintenance EventType = "maintenance"
	EventTypeOutage      EventType = "outage"
	EventTypeBoth        EventType = "both"
	EventTypeNone        EventType = "none"
)

// Granularity controls how many messages one event produces.
type Granularity string

const (
	GranularityPerEvent  Granularity = "per_event"
	GranularityPerParty  Granularity = "per_party"
	GranularityPerImpact Granularity = "per_impact"
)

// BodyFormat identifies the markup of a template body.
type BodyFormat string

const (
	BodyFormatMarkdown BodyFormat = "markdown"
	BodyFormatHTML     BodyFormat = "html"
	BodyFormatText     BodyFormat = "text"
)

// Impact severity levels, worst first.
const (
	ImpactOutage            = "OUTAGE"
	ImpactDegraded          = "DEGRADED"
	ImpactReducedRedundancy = "REDUCED-REDUNDANCY"
	ImpactNoImpact          = "NO-IMPACT"
)

// PriorityInactive is the contact priority sentinel that recipient
// resolution always excludes.
const PriorityInactive = "inactive"

// Event is the read-only view of an external maintenance or outage record.
type Event struct {
	Ref      reference.Ref
	Type     EventType
	Status   string
	Name     string
	Summary  string
	Start    time.Time
	End      time.Time
	Provider Provider
}

// Provider is the organization performing a maintenance or owning an outage.
type Provider struct {
	ID   int64
	Name string
	Slug string
}

// Impact links an event to an affected object.
type Impact struct {
	ID            int64
	Event         reference.Ref
	Target        reference.Ref
	TargetDisplay string
	Severity      string
}

// Party is the owning organizational entity behind an impacted target.
type Party struct {
	ID   int64
	Name string
	Slug string
}

// ContactAssignment binds a contact to a party with a role and priority.
type ContactAssignment struct {
	ContactID int64
	Email     string
	Name      string
	Role      string
	Priority  string
}

// Recipient is one entry of the immutable recipient snapshot taken when a
// message is approved.
type Recipient struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	ContactID int64  `json:"contact_id"`
}

// ScopeRule binds a template to a matching context.
type ScopeRule struct {
	Target      reference.Ref
	EventType   EventType // empty = any
	EventStatus string    // empty = any
	Weight      int
}

// Template is the content unit the matcher and merger operate on. It mirrors
// the persisted NotificationTemplate but carries no storage concerns.
type Template struct {
	ID          int64
	Name        string
	EventType   EventType
	Granularity Granularity

	Subject     string
	Body        string
	BodyFormat  BodyFormat
	Headers     map[string]string
	CSS         string
	ICal        string
	IncludeICal bool

	Roles      []string
	Priorities []string

	Weight  int
	IsBase  bool
	Extends *int64

	Scopes []ScopeRule
}

// HighestImpact returns the worst severity among the given impacts,
// or "NO-IMPACT" when there are none.
func HighestImpact(impacts []Impact) string {
	order := []string{ImpactOutage, ImpactDegraded, ImpactReducedRedundancy, ImpactNoImpact}
	rank := func(s string) int {
		for i, v := range order {
			if v == s {
				return i
			}
		}
		return len(order)
	}
	highest := ImpactNoImpact
	for _, impact := range impacts {
		severity := impact.Severity
		if severity == "" {
			severity = ImpactNoImpact
		}
		if rank(severity) < rank(highest) {
			highest = severity
		}
	}
	return highest
}
