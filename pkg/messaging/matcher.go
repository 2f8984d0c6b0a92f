package messaging

import (
	"sort"

	"github.com/jsenecal/netbox-notices/pkg/reference"
)

// MatchContext describes the event being composed for. Targets carry every
// reference a scope rule could match against: the owning provider, the
// impacted parties, sites, circuits and so on. A standalone composition
// (no event) uses EventTypeNone.
type MatchContext struct {
	EventType   EventType
	EventStatus string
	Targets     []reference.Ref
}

// ScoredTemplate pairs a matched template with its total match score.
type ScoredTemplate struct {
	Template Template
	Score    int
}

// MatchTemplates selects every candidate whose event-type filter and scope
// rules apply to the context and computes its total score: the template's
// base weight plus the weight of each matching scope rule.
//
// A template with no scope rules is a global default and always matches with
// its base weight alone. A template whose rules all miss is excluded. The
// result is ordered by score descending, ties broken by template ID so the
// merge downstream is reproducible.
func MatchTemplates(ctx MatchContext, candidates []Template) []ScoredTemplate {
	var matched []ScoredTemplate
	for _, tmpl := range candidates {
		if !eventTypeCompatible(tmpl.EventType, ctx.EventType) {
			continue
		}
		score, ok := scoreTemplate(ctx, tmpl)
		if !ok {
			continue
		}
		matched = append(matched, ScoredTemplate{Template: tmpl, Score: score})
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Score != matched[j].Score {
			return matched[i].Score > matched[j].Score
		}
		return matched[i].Template.ID < matched[j].Template.ID
	})
	return matched
}

// eventTypeCompatible reports whether a template's filter admits the
// context's event type. "both" admits either real event type; "none"
// admits only standalone contexts, and vice versa.
func eventTypeCompatible(filter, contextType EventType) bool {
	switch filter {
	case EventTypeBoth:
		return contextType == EventTypeMaintenance || contextType == EventTypeOutage
	case EventTypeNone:
		return contextType == EventTypeNone || contextType == ""
	default:
		return filter == contextType
	}
}

func scoreTemplate(ctx MatchContext, tmpl Template) (int, bool) {
	score := tmpl.Weight

	// No scopes: global default, base weight only.
	if len(tmpl.Scopes) == 0 {
		return score, true
	}

	matchedAny := false
	for _, rule := range tmpl.Scopes {
		if scopeMatches(ctx, rule) {
			score += rule.Weight
			matchedAny = true
		}
	}
	return score, matchedAny
}

func scopeMatches(ctx MatchContext, rule ScopeRule) bool {
	if rule.EventType != "" && !eventTypeCompatible(rule.EventType, ctx.EventType) {
		return false
	}
	if rule.EventStatus != "" && ctx.EventStatus != "" && rule.EventStatus != ctx.EventStatus {
		return false
	}

	// Match against every context target of the rule's type.
	foundType := false
	for _, target := range ctx.Targets {
		if target.Type != rule.Target.Type {
			continue
		}
		foundType = true
		if rule.Target.Matches(target) {
			return true
		}
	}
	// No context object of this type: only a wildcard rule matches.
	return !foundType && rule.Target.IsWildcard()
}
