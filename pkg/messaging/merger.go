package messaging

import "sort"

// EffectiveTemplate is the result of merging every matched template into one
// content unit, ready for block resolution and rendering.
type EffectiveTemplate struct {
	// SourceID is the highest-scored template, recorded on composed
	// messages as their source.
	SourceID    int64
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

	Extends *int64
}

// MergeTemplates combines matched templates in score order into one effective
// template. Content fields take the first non-empty value from highest score
// down; header maps merge per key with higher scores winning; IncludeICal is
// the OR across all matches; roles and priorities are the union. The returned
// granularity and source are the highest-scored template's.
//
// Returns nil for an empty match set.
func MergeTemplates(matches []ScoredTemplate) *EffectiveTemplate {
	if len(matches) == 0 {
		return nil
	}

	best := matches[0].Template
	eff := &EffectiveTemplate{
		SourceID:    best.ID,
		Granularity: best.Granularity,
		Headers:     make(map[string]string),
	}

	roles := make(map[string]bool)
	priorities := make(map[string]bool)

	for _, match := range matches {
		tmpl := match.Template

		if eff.Subject == "" && tmpl.Subject != "" {
			eff.Subject = tmpl.Subject
		}
		// Body format travels with the body that won.
		if eff.Body == "" && tmpl.Body != "" {
			eff.Body = tmpl.Body
			eff.BodyFormat = tmpl.BodyFormat
		}
		for key, value := range tmpl.Headers {
			if _, ok := eff.Headers[key]; !ok {
				eff.Headers[key] = value
			}
		}
		if eff.CSS == "" && tmpl.CSS != "" {
			eff.CSS = tmpl.CSS
		}
		if eff.ICal == "" && tmpl.ICal != "" {
			eff.ICal = tmpl.ICal
		}
		if tmpl.IncludeICal {
			eff.IncludeICal = true
		}
		for _, role := range tmpl.Roles {
			roles[role] = true
		}
		for _, priority := range tmpl.Priorities {
			priorities[priority] = true
		}
		if eff.Extends == nil && tmpl.Extends != nil {
			eff.Extends = tmpl.Extends
		}
	}

	eff.Roles = sortedKeys(roles)
	eff.Priorities = sortedKeys(priorities)
	if eff.BodyFormat == "" {
		eff.BodyFormat = BodyFormatMarkdown
	}
	return eff
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
