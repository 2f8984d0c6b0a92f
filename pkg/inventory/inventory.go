// Package inventory loads the event, impact, party and contact records the
// composer runs against from a YAML file. It stands in for a live source of
// record and backs development and single-node deployments.
package inventory

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jsenecal/netbox-notices/pkg/messaging"
	"github.com/jsenecal/netbox-notices/pkg/reference"
)

// file is the YAML schema of an inventory file.
type file struct {
	Events      []eventRecord      `yaml:"events"`
	Impacts     []impactRecord     `yaml:"impacts"`
	Parties     []partyRecord      `yaml:"parties"`
	Ownerships  []ownershipRecord  `yaml:"ownerships"`
	Contacts    []contactRecord    `yaml:"contacts"`
	Assignments []assignmentRecord `yaml:"assignments"`
}

type eventRecord struct {
	Type     string    `yaml:"type"`
	ID       int64     `yaml:"id"`
	Name     string    `yaml:"name"`
	Status   string    `yaml:"status"`
	Summary  string    `yaml:"summary"`
	Start    time.Time `yaml:"start"`
	End      time.Time `yaml:"end"`
	Provider struct {
		ID   int64  `yaml:"id"`
		Name string `yaml:"name"`
		Slug string `yaml:"slug"`
	} `yaml:"provider"`
}

type impactRecord struct {
	ID       int64  `yaml:"id"`
	Event    string `yaml:"event"`
	Target   string `yaml:"target"`
	Display  string `yaml:"display"`
	Severity string `yaml:"severity"`
}

type partyRecord struct {
	ID   int64  `yaml:"id"`
	Name string `yaml:"name"`
	Slug string `yaml:"slug"`
}

type ownershipRecord struct {
	Target string `yaml:"target"`
	Party  int64  `yaml:"party"`
}

type contactRecord struct {
	ID    int64  `yaml:"id"`
	Email string `yaml:"email"`
	Name  string `yaml:"name"`
}

type assignmentRecord struct {
	Party    int64  `yaml:"party"`
	Contact  int64  `yaml:"contact"`
	Role     string `yaml:"role"`
	Priority string `yaml:"priority"`
}

// Inventory is an in-memory snapshot of the records in one inventory file.
// It implements both the composer's event store and the recipient
// resolver's directory. Lookups are read-only and safe for concurrent use.
type Inventory struct {
	// Reference-keyed maps use the "type:id" string form; Ref itself holds
	// a pointer and is not comparable by value.
	events      map[string]messaging.Event
	impacts     map[string][]messaging.Impact
	parties     map[int64]messaging.Party
	ownerships  map[string]int64
	contacts    map[int64]contactRecord
	assignments map[int64][]assignmentRecord

	// contactAssignments indexes each contact's first assignment in file
	// order, so Contact lookups are deterministic.
	contactAssignments map[int64]assignmentRecord
}

// Load reads and indexes an inventory file.
func Load(path string) (*Inventory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading inventory file: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("error parsing inventory file: %w", err)
	}
	return build(&f)
}

func build(f *file) (*Inventory, error) {
	inv := &Inventory{
		events:      make(map[string]messaging.Event),
		impacts:     make(map[string][]messaging.Impact),
		parties:     make(map[int64]messaging.Party),
		ownerships:  make(map[string]int64),
		contacts:    make(map[int64]contactRecord),
		assignments: make(map[int64][]assignmentRecord),

		contactAssignments: make(map[int64]assignmentRecord),
	}

	for _, e := range f.Events {
		eventType := messaging.EventType(e.Type)
		var refType reference.Type
		switch eventType {
		case messaging.EventTypeMaintenance:
			refType = reference.TypeMaintenance
		case messaging.EventTypeOutage:
			refType = reference.TypeOutage
		default:
			return nil, fmt.Errorf("event %d: unknown type %q", e.ID, e.Type)
		}
		ref := reference.To(refType, e.ID)
		inv.events[ref.String()] = messaging.Event{
			Ref:     ref,
			Type:    eventType,
			Status:  e.Status,
			Name:    e.Name,
			Summary: e.Summary,
			Start:   e.Start,
			End:     e.End,
			Provider: messaging.Provider{
				ID:   e.Provider.ID,
				Name: e.Provider.Name,
				Slug: e.Provider.Slug,
			},
		}
	}

	for _, i := range f.Impacts {
		eventRef, err := reference.Parse(i.Event)
		if err != nil {
			return nil, fmt.Errorf("impact %d: %w", i.ID, err)
		}
		if _, ok := inv.events[eventRef.String()]; !ok {
			return nil, fmt.Errorf("impact %d: unknown event %s", i.ID, eventRef)
		}
		target, err := reference.Parse(i.Target)
		if err != nil {
			return nil, fmt.Errorf("impact %d: %w", i.ID, err)
		}
		inv.impacts[eventRef.String()] = append(inv.impacts[eventRef.String()], messaging.Impact{
			ID:            i.ID,
			Event:         eventRef,
			Target:        target,
			TargetDisplay: i.Display,
			Severity:      i.Severity,
		})
	}

	for _, p := range f.Parties {
		inv.parties[p.ID] = messaging.Party{ID: p.ID, Name: p.Name, Slug: p.Slug}
	}

	for _, o := range f.Ownerships {
		target, err := reference.Parse(o.Target)
		if err != nil {
			return nil, fmt.Errorf("ownership of %q: %w", o.Target, err)
		}
		if _, ok := inv.parties[o.Party]; !ok {
			return nil, fmt.Errorf("ownership of %s: unknown party %d", target, o.Party)
		}
		inv.ownerships[target.String()] = o.Party
	}

	for _, c := range f.Contacts {
		inv.contacts[c.ID] = c
	}

	for _, a := range f.Assignments {
		if _, ok := inv.contacts[a.Contact]; !ok {
			return nil, fmt.Errorf("assignment to party %d: unknown contact %d", a.Party, a.Contact)
		}
		inv.assignments[a.Party] = append(inv.assignments[a.Party], a)
		if _, ok := inv.contactAssignments[a.Contact]; !ok {
			inv.contactAssignments[a.Contact] = a
		}
	}

	return inv, nil
}

// RegisterFetchers installs typed lookups for the object kinds the
// inventory holds: maintenance and outage events by ID, and parties.
func (inv *Inventory) RegisterFetchers(reg *reference.Registry) {
	reg.Register(reference.TypeMaintenance, inv.eventFetcher(reference.TypeMaintenance))
	reg.Register(reference.TypeOutage, inv.eventFetcher(reference.TypeOutage))
	reg.Register(reference.TypeParty, func(_ context.Context, id int64) (any, error) {
		party, ok := inv.parties[id]
		if !ok {
			return nil, fmt.Errorf("unknown party %d", id)
		}
		return &party, nil
	})
}

func (inv *Inventory) eventFetcher(t reference.Type) reference.FetchFunc {
	return func(_ context.Context, id int64) (any, error) {
		ref := reference.To(t, id)
		ev, ok := inv.events[ref.String()]
		if !ok {
			return nil, fmt.Errorf("unknown event %s", ref)
		}
		return &ev, nil
	}
}

// Event implements the composer's event store.
func (inv *Inventory) Event(_ context.Context, ref reference.Ref) (*messaging.Event, error) {
	ev, ok := inv.events[ref.String()]
	if !ok {
		return nil, nil
	}
	return &ev, nil
}

// ImpactsForEvent implements the composer's event store.
func (inv *Inventory) ImpactsForEvent(_ context.Context, ref reference.Ref) ([]messaging.Impact, error) {
	return inv.impacts[ref.String()], nil
}

// PartyForTarget implements messaging.Directory.
func (inv *Inventory) PartyForTarget(_ context.Context, target reference.Ref) (*messaging.Party, error) {
	partyID, ok := inv.ownerships[target.String()]
	if !ok {
		return nil, nil
	}
	party := inv.parties[partyID]
	return &party, nil
}

// AssignmentsForParty implements messaging.Directory.
func (inv *Inventory) AssignmentsForParty(_ context.Context, partyID int64) ([]messaging.ContactAssignment, error) {
	records := inv.assignments[partyID]
	out := make([]messaging.ContactAssignment, 0, len(records))
	for _, a := range records {
		c := inv.contacts[a.Contact]
		out = append(out, messaging.ContactAssignment{
			ContactID: c.ID,
			Email:     c.Email,
			Name:      c.Name,
			Role:      a.Role,
			Priority:  a.Priority,
		})
	}
	return out, nil
}

// Contact implements messaging.Directory. Priority and role come from the
// contact's first assignment in file order, if any.
func (inv *Inventory) Contact(_ context.Context, contactID int64) (*messaging.ContactAssignment, error) {
	c, ok := inv.contacts[contactID]
	if !ok {
		return nil, nil
	}
	out := messaging.ContactAssignment{
		ContactID: c.ID,
		Email:     c.Email,
		Name:      c.Name,
	}
	if a, ok := inv.contactAssignments[contactID]; ok {
		out.Role = a.Role
		out.Priority = a.Priority
	}
	return &out, nil
}
