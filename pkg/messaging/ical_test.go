package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsenecal/netbox-notices/pkg/reference"
)

func TestDefaultICalTemplate(t *testing.T) {
	r := NewRenderer()
	require.NoError(t, r.ValidateSyntax(0, "calendar", DefaultICalTemplate))

	eff := &EffectiveTemplate{
		SourceID:    1,
		BodyFormat:  BodyFormatText,
		IncludeICal: true,
		ICal:        DefaultICalTemplate,
	}
	event := &Event{
		Ref:      reference.To(reference.TypeMaintenance, 9),
		Type:     EventTypeMaintenance,
		Status:   "CONFIRMED",
		Name:     "Core upgrade",
		Summary:  "Planned line card replacement",
		Start:    time.Date(2026, 9, 1, 2, 0, 0, 0, time.UTC),
		End:      time.Date(2026, 9, 1, 6, 0, 0, 0, time.UTC),
		Provider: Provider{ID: 7, Name: "FiberCo", Slug: "fiberco"},
	}
	impacts := []Impact{{
		ID: 1, Event: event.Ref,
		Target:        reference.To(reference.TypeCircuit, 100),
		TargetDisplay: "CKT-100",
		Severity:      ImpactOutage,
	}}

	msg, err := r.Render(eff, RenderContext{
		"now":              time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
		"event":            event,
		"party":            &Party{ID: 10, Name: "Acme"},
		"party_impacts":    impacts,
		"highest_impact":   HighestImpact(impacts),
		"message_sequence": 1,
	})
	require.NoError(t, err)

	assert.Contains(t, msg.ICal, "DTSTAMP:20260820T120000Z")
	assert.Contains(t, msg.ICal, "DTSTART:20260901T020000Z")
	assert.Contains(t, msg.ICal, "DTEND:20260901T060000Z")
	assert.Contains(t, msg.ICal, "UID:maintenance:9-10@netbox")
	assert.Contains(t, msg.ICal, "SUMMARY:Planned line card replacement")
	assert.Contains(t, msg.ICal, "SEQUENCE:1")
	assert.Contains(t, msg.ICal, "X-MAINTNOTE-PROVIDER:fiberco")
	assert.Contains(t, msg.ICal, "X-MAINTNOTE-ACCOUNT:Acme")
	assert.Contains(t, msg.ICal, "X-MAINTNOTE-OBJECT-ID:CKT-100")
	assert.Contains(t, msg.ICal, "X-MAINTNOTE-IMPACT:OUTAGE")
}

func TestShouldGenerateICal(t *testing.T) {
	eff := &EffectiveTemplate{IncludeICal: true, ICal: DefaultICalTemplate}

	assert.True(t, ShouldGenerateICal(EventTypeMaintenance, eff))
	assert.False(t, ShouldGenerateICal(EventTypeOutage, eff))
	assert.False(t, ShouldGenerateICal(EventTypeMaintenance, nil))
	assert.False(t, ShouldGenerateICal(EventTypeMaintenance,
		&EffectiveTemplate{ICal: DefaultICalTemplate}))
	assert.False(t, ShouldGenerateICal(EventTypeMaintenance,
		&EffectiveTemplate{IncludeICal: true, ICal: "   \n"}))
}
