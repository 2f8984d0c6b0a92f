package messaging

import (
	"context"
	"fmt"
	"sort"

	"github.com/jsenecal/netbox-notices/pkg/reference"
)

// Directory is the read-only party/contact lookup the resolver walks.
// Implementations are external to the engine.
type Directory interface {
	// PartyForTarget resolves the owning party of an impacted object.
	// Returns (nil, nil) when the target has no owning party.
	PartyForTarget(ctx context.Context, target reference.Ref) (*Party, error)

	// AssignmentsForParty lists every contact assignment of a party.
	AssignmentsForParty(ctx context.Context, partyID int64) ([]ContactAssignment, error)

	// Contact resolves one contact by ID, used when snapshotting
	// recipients at approval time.
	Contact(ctx context.Context, contactID int64) (*ContactAssignment, error)
}

// RecipientGroup is one unit of message generation: the impacts in scope,
// the owning party (nil for per-event groups spanning parties), and the
// discovered contact candidates.
type RecipientGroup struct {
	// Key identifies the group within its event for idempotent
	// composition: "event", "party:<id>" or "impact:<id>".
	Key      string
	Party    *Party
	Impacts  []Impact
	Contacts []ContactAssignment
}

// GroupKeyEvent is the group key of a whole-event group.
const GroupKeyEvent = "event"

// PartyGroupKey returns the group key for per-party granularity.
func PartyGroupKey(partyID int64) string { return fmt.Sprintf("party:%d", partyID) }

// ImpactGroupKey returns the group key for per-impact granularity.
func ImpactGroupKey(impactID int64) string { return fmt.Sprintf("impact:%d", impactID) }

// RecipientResolver walks impacts to owning parties and filters each party's
// contact assignments by the effective template's roles and priorities.
type RecipientResolver struct {
	dir Directory
}

// NewRecipientResolver returns a resolver backed by the given directory.
func NewRecipientResolver(dir Directory) *RecipientResolver {
	return &RecipientResolver{dir: dir}
}

// Resolve groups the impacts per the granularity and discovers each group's
// contact candidates. Group order is deterministic: party groups by party ID,
// impact groups by impact ID.
func (r *RecipientResolver) Resolve(
	ctx context.Context,
	granularity Granularity,
	impacts []Impact,
	roles, priorities []string,
) ([]RecipientGroup, error) {
	switch granularity {
	case GranularityPerParty:
		return r.resolvePerParty(ctx, impacts, roles, priorities)
	case GranularityPerImpact:
		return r.resolvePerImpact(ctx, impacts, roles, priorities)
	default:
		return r.resolvePerEvent(ctx, impacts, roles, priorities)
	}
}

func (r *RecipientResolver) resolvePerEvent(
	ctx context.Context, impacts []Impact, roles, priorities []string,
) ([]RecipientGroup, error) {
	group := RecipientGroup{Key: GroupKeyEvent, Impacts: impacts}

	seenParties := make(map[int64]bool)
	seenContacts := make(map[int64]bool)
	for _, impact := range impacts {
		party, err := r.dir.PartyForTarget(ctx, impact.Target)
		if err != nil {
			return nil, fmt.Errorf("resolving party for %s: %w", impact.Target, err)
		}
		if party == nil || seenParties[party.ID] {
			continue
		}
		seenParties[party.ID] = true

		contacts, err := r.contactsForParty(ctx, party.ID, roles, priorities)
		if err != nil {
			return nil, err
		}
		for _, contact := range contacts {
			if !seenContacts[contact.ContactID] {
				seenContacts[contact.ContactID] = true
				group.Contacts = append(group.Contacts, contact)
			}
		}
	}
	return []RecipientGroup{group}, nil
}

func (r *RecipientResolver) resolvePerParty(
	ctx context.Context, impacts []Impact, roles, priorities []string,
) ([]RecipientGroup, error) {
	byParty := make(map[int64]*RecipientGroup)
	for _, impact := range impacts {
		party, err := r.dir.PartyForTarget(ctx, impact.Target)
		if err != nil {
			return nil, fmt.Errorf("resolving party for %s: %w", impact.Target, err)
		}
		if party == nil {
			// Impacts with no owning party produce no per-party message.
			continue
		}
		group, ok := byParty[party.ID]
		if !ok {
			contacts, err := r.contactsForParty(ctx, party.ID, roles, priorities)
			if err != nil {
				return nil, err
			}
			group = &RecipientGroup{
				Key:      PartyGroupKey(party.ID),
				Party:    party,
				Contacts: contacts,
			}
			byParty[party.ID] = group
		}
		group.Impacts = append(group.Impacts, impact)
	}

	partyIDs := make([]int64, 0, len(byParty))
	for id := range byParty {
		partyIDs = append(partyIDs, id)
	}
	sort.Slice(partyIDs, func(i, j int) bool { return partyIDs[i] < partyIDs[j] })

	groups := make([]RecipientGroup, 0, len(partyIDs))
	for _, id := range partyIDs {
		groups = append(groups, *byParty[id])
	}
	return groups, nil
}

func (r *RecipientResolver) resolvePerImpact(
	ctx context.Context, impacts []Impact, roles, priorities []string,
) ([]RecipientGroup, error) {
	ordered := make([]Impact, len(impacts))
	copy(ordered, impacts)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	groups := make([]RecipientGroup, 0, len(ordered))
	for _, impact := range ordered {
		party, err := r.dir.PartyForTarget(ctx, impact.Target)
		if err != nil {
			return nil, fmt.Errorf("resolving party for %s: %w", impact.Target, err)
		}
		group := RecipientGroup{
			Key:     ImpactGroupKey(impact.ID),
			Party:   party,
			Impacts: []Impact{impact},
		}
		if party != nil {
			contacts, err := r.contactsForParty(ctx, party.ID, roles, priorities)
			if err != nil {
				return nil, err
			}
			group.Contacts = contacts
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// contactsForParty filters a party's assignments by role and priority.
// Empty filter slices mean no filtering on that axis; the inactive priority
// is always excluded. Duplicate contacts keep their first assignment.
func (r *RecipientResolver) contactsForParty(
	ctx context.Context, partyID int64, roles, priorities []string,
) ([]ContactAssignment, error) {
	assignments, err := r.dir.AssignmentsForParty(ctx, partyID)
	if err != nil {
		return nil, fmt.Errorf("listing assignments for party %d: %w", partyID, err)
	}

	roleSet := toSet(roles)
	prioritySet := toSet(priorities)

	var contacts []ContactAssignment
	seen := make(map[int64]bool)
	for _, assignment := range assignments {
		if assignment.Priority == PriorityInactive {
			continue
		}
		if len(roleSet) > 0 && !roleSet[assignment.Role] {
			continue
		}
		if len(prioritySet) > 0 && !prioritySet[assignment.Priority] {
			continue
		}
		if seen[assignment.ContactID] {
			continue
		}
		seen[assignment.ContactID] = true
		contacts = append(contacts, assignment)
	}
	return contacts, nil
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
