package messaging

import "strings"

// DefaultICalTemplate is a BCOP Maintnote-compliant calendar template usable
// as-is or as a starting point for custom templates.
const DefaultICalTemplate = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//NetBox//netbox-notices//EN
METHOD:PUBLISH
BEGIN:VEVENT
DTSTAMP:{{icalDatetime .now}}
DTSTART:{{icalDatetime .event.Start}}
DTEND:{{icalDatetime .event.End}}
UID:{{.event.Ref}}{{if .party}}-{{.party.ID}}{{end}}@netbox
SUMMARY:{{if .event.Summary}}{{.event.Summary}}{{else}}{{.event.Name}}{{end}}
DESCRIPTION:Provider: {{.event.Provider.Name}}\nStatus: {{.event.Status}}
SEQUENCE:{{.message_sequence}}
STATUS:{{.event.Status}}
X-MAINTNOTE-PROVIDER:{{.event.Provider.Slug}}
{{if .party}}X-MAINTNOTE-ACCOUNT:{{.party.Name}}
{{end}}X-MAINTNOTE-MAINTENANCE-ID;X-MAINTNOTE-PRECEDENCE=PRIMARY:{{.event.Name}}
{{range .party_impacts}}X-MAINTNOTE-OBJECT-ID:{{.TargetDisplay}}
{{end}}X-MAINTNOTE-IMPACT:{{.highest_impact}}
X-MAINTNOTE-STATUS:{{.event.Status}}
END:VEVENT
END:VCALENDAR`

// ShouldGenerateICal reports whether a calendar attachment applies: only
// maintenance events get one, and only when the effective template opts in
// with a non-blank calendar template.
func ShouldGenerateICal(eventType EventType, eff *EffectiveTemplate) bool {
	if eventType != EventTypeMaintenance {
		return false
	}
	if eff == nil || !eff.IncludeICal {
		return false
	}
	return strings.TrimSpace(eff.ICal) != ""
}
