package messaging

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsenecal/netbox-notices/pkg/reference"
)

func TestRenderer_Render(t *testing.T) {
	r := NewRenderer()
	eff := &EffectiveTemplate{
		SourceID:   1,
		Subject:    "Maintenance on {{.circuit}}",
		Body:       "Work starts at {{.start}}.",
		BodyFormat: BodyFormatText,
		Headers: map[string]string{
			"X-Priority": "{{.priority}}",
			"Reply-To":   "noc@example.net",
		},
		CSS: "body { color: black }",
	}
	ctx := RenderContext{
		"circuit":  "CKT-7",
		"start":    "2026-09-01 02:00 UTC",
		"priority": "1",
	}

	msg, err := r.Render(eff, ctx)
	require.NoError(t, err)
	assert.Equal(t, "Maintenance on CKT-7", msg.Subject)
	assert.Equal(t, "Work starts at 2026-09-01 02:00 UTC.", msg.BodyText)
	assert.Empty(t, msg.BodyHTML)
	assert.Equal(t, map[string]string{
		"X-Priority": "1",
		"Reply-To":   "noc@example.net",
	}, msg.Headers)
	assert.Equal(t, "body { color: black }", msg.CSS)
	assert.Empty(t, msg.ICal)
}

func TestRenderer_MarkdownBody(t *testing.T) {
	r := NewRenderer()
	eff := &EffectiveTemplate{
		SourceID:   1,
		Body:       "# {{.title}}\n\n**bold** text",
		BodyFormat: BodyFormatMarkdown,
	}

	msg, err := r.Render(eff, RenderContext{"title": "Outage notice"})
	require.NoError(t, err)
	assert.Equal(t, "# Outage notice\n\n**bold** text", msg.BodyText)
	assert.Contains(t, msg.BodyHTML, "<h1>Outage notice</h1>")
	assert.Contains(t, msg.BodyHTML, "<strong>bold</strong>")
}

func TestRenderer_HTMLBodyPassthrough(t *testing.T) {
	r := NewRenderer()
	eff := &EffectiveTemplate{
		SourceID:   1,
		Body:       "<p>{{.text}}</p>",
		BodyFormat: BodyFormatHTML,
	}

	msg, err := r.Render(eff, RenderContext{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "<p>hello</p>", msg.BodyText)
	assert.Equal(t, "<p>hello</p>", msg.BodyHTML)
}

func TestRenderer_Deterministic(t *testing.T) {
	r := NewRenderer()
	eff := &EffectiveTemplate{
		SourceID:   1,
		Subject:    "{{.event.Name}} notice",
		Body:       "# {{.event.Name}}\n\nStarts {{icalDatetime .event.Start}}.",
		BodyFormat: BodyFormatMarkdown,
		Headers: map[string]string{
			"X-Priority": "1",
			"Reply-To":   "noc@example.net",
			"X-Event":    "{{.event.Ref}}",
		},
		CSS:         "body { color: black }",
		IncludeICal: true,
		ICal:        "BEGIN:VCALENDAR\nDTSTART:{{icalDatetime .event.Start}}\nEND:VCALENDAR",
	}
	ctx := RenderContext{
		"now": time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
		"event": &Event{
			Ref:   reference.To(reference.TypeMaintenance, 9),
			Name:  "Core upgrade",
			Start: time.Date(2026, 9, 1, 2, 0, 0, 0, time.UTC),
		},
	}

	first, err := r.Render(eff, ctx)
	require.NoError(t, err)
	second, err := r.Render(eff, ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRenderer_UndefinedVariable(t *testing.T) {
	r := NewRenderer()
	eff := &EffectiveTemplate{
		SourceID:   3,
		Subject:    "Notice for {{.missing}}",
		BodyFormat: BodyFormatText,
	}

	_, err := r.Render(eff, RenderContext{"present": "x"})
	var undefErr *UndefinedVariableError
	require.ErrorAs(t, err, &undefErr)
	assert.Equal(t, int64(3), undefErr.TemplateID)
	assert.Equal(t, "subject", undefErr.Field)
	assert.Equal(t, "missing", undefErr.Variable)
}

func TestRenderer_RuntimeFailure(t *testing.T) {
	r := NewRenderer()
	eff := &EffectiveTemplate{
		SourceID:   5,
		Subject:    "Notice for {{.party.Name}}",
		BodyFormat: BodyFormatText,
	}

	// The template parses; evaluation fails on the nil party.
	_, err := r.Render(eff, RenderContext{"party": (*Party)(nil)})
	var renderErr *RenderError
	require.ErrorAs(t, err, &renderErr)
	assert.Equal(t, int64(5), renderErr.TemplateID)
	assert.Equal(t, "subject", renderErr.Field)

	var syntaxErr *SyntaxError
	assert.False(t, errors.As(err, &syntaxErr))
}

func TestRenderer_SyntaxError(t *testing.T) {
	r := NewRenderer()
	eff := &EffectiveTemplate{
		SourceID:   4,
		Subject:    "{{if .x}}unclosed",
		BodyFormat: BodyFormatText,
	}

	_, err := r.Render(eff, RenderContext{})
	var syntaxErr *SyntaxError
	require.ErrorAs(t, err, &syntaxErr)
	assert.Equal(t, int64(4), syntaxErr.TemplateID)
	assert.Equal(t, "subject", syntaxErr.Field)
}

func TestRenderer_ValidateSyntax(t *testing.T) {
	r := NewRenderer()

	assert.NoError(t, r.ValidateSyntax(1, "subject", "ok {{.x}}"))
	assert.NoError(t, r.ValidateSyntax(1, "subject", ""))

	err := r.ValidateSyntax(1, "body", "{{range}}")
	var syntaxErr *SyntaxError
	assert.ErrorAs(t, err, &syntaxErr)
}

func TestRenderer_ICalOnlyWhenIncluded(t *testing.T) {
	r := NewRenderer()

	t.Run("rendered when included", func(t *testing.T) {
		eff := &EffectiveTemplate{
			SourceID:    1,
			BodyFormat:  BodyFormatText,
			IncludeICal: true,
			ICal:        "BEGIN:VCALENDAR\nDTSTART:{{icalDatetime .start}}\nEND:VCALENDAR",
		}
		start := time.Date(2026, 9, 1, 2, 0, 0, 0, time.UTC)
		msg, err := r.Render(eff, RenderContext{"start": start})
		require.NoError(t, err)
		assert.Contains(t, msg.ICal, "DTSTART:20260901T020000Z")
	})

	t.Run("skipped when not included", func(t *testing.T) {
		eff := &EffectiveTemplate{
			SourceID:   1,
			BodyFormat: BodyFormatText,
			ICal:       "BEGIN:VCALENDAR\nEND:VCALENDAR",
		}
		msg, err := r.Render(eff, RenderContext{})
		require.NoError(t, err)
		assert.Empty(t, msg.ICal)
	})

	t.Run("skipped when blank", func(t *testing.T) {
		eff := &EffectiveTemplate{
			SourceID:    1,
			BodyFormat:  BodyFormatText,
			IncludeICal: true,
			ICal:        "   \n",
		}
		msg, err := r.Render(eff, RenderContext{})
		require.NoError(t, err)
		assert.Empty(t, msg.ICal)
	})
}

func TestIcalDatetime(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	ts := time.Date(2026, 3, 15, 19, 30, 0, 0, est)

	assert.Equal(t, "20260316T003000Z", icalDatetime(ts))
	assert.Equal(t, "20260316T003000Z", icalDatetime(&ts))
	assert.Equal(t, "", icalDatetime(time.Time{}))
	assert.Equal(t, "", icalDatetime((*time.Time)(nil)))
	assert.Equal(t, "", icalDatetime("not a time"))
}

func TestHighestImpact(t *testing.T) {
	assert.Equal(t, ImpactNoImpact, HighestImpact(nil))

	impacts := []Impact{
		{Severity: ImpactReducedRedundancy},
		{Severity: ImpactOutage},
		{Severity: ImpactDegraded},
	}
	assert.Equal(t, ImpactOutage, HighestImpact(impacts))

	assert.Equal(t, ImpactDegraded, HighestImpact([]Impact{
		{Severity: ImpactDegraded},
		{Severity: ""},
	}))
}
