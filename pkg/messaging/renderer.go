package messaging

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// RenderContext holds the named variables a template is evaluated against.
// The composer injects now, base_url, event, impacts, party, party_impacts,
// recipients, highest_impact and message_sequence; rendering depends on
// nothing outside this map, so the same inputs always produce the same
// outputs.
type RenderContext map[string]any

// RenderedMessage is the output of one rendering pass.
type RenderedMessage struct {
	Subject  string
	BodyText string
	BodyHTML string
	Headers  map[string]string
	CSS      string
	ICal     string
}

// Renderer evaluates effective templates. It is stateless and safe for
// concurrent use; a failed render returns an error and touches nothing.
type Renderer struct {
	markdown goldmark.Markdown
	funcs    template.FuncMap
}

// NewRenderer returns a renderer with the icalDatetime and markdown
// output transforms registered.
func NewRenderer() *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(extension.Table, extension.Strikethrough),
		goldmark.WithRendererOptions(html.WithHardWraps(), html.WithUnsafe()),
	)
	r := &Renderer{markdown: md}
	r.funcs = template.FuncMap{
		"icalDatetime": icalDatetime,
		"markdown":     r.renderMarkdown,
	}
	return r
}

// Render evaluates every content field of an effective template against the
// context. The body must already be block-resolved (see ResolveInheritance).
func (r *Renderer) Render(eff *EffectiveTemplate, ctx RenderContext) (*RenderedMessage, error) {
	subject, err := r.renderField(eff.SourceID, "subject", eff.Subject, ctx)
	if err != nil {
		return nil, err
	}

	bodyText, err := r.renderField(eff.SourceID, "body", eff.Body, ctx)
	if err != nil {
		return nil, err
	}

	var bodyHTML string
	switch eff.BodyFormat {
	case BodyFormatMarkdown:
		bodyHTML, err = r.renderMarkdown(bodyText)
		if err != nil {
			return nil, &RenderError{TemplateID: eff.SourceID, Field: "body", Err: err}
		}
	case BodyFormatHTML:
		bodyHTML = bodyText
	}

	headers := make(map[string]string, len(eff.Headers))
	for _, key := range sortedHeaderKeys(eff.Headers) {
		value, err := r.renderField(eff.SourceID, "header "+key, eff.Headers[key], ctx)
		if err != nil {
			return nil, err
		}
		headers[key] = value
	}

	css, err := r.renderField(eff.SourceID, "css", eff.CSS, ctx)
	if err != nil {
		return nil, err
	}

	var ical string
	if eff.IncludeICal && strings.TrimSpace(eff.ICal) != "" {
		ical, err = r.renderField(eff.SourceID, "calendar", eff.ICal, ctx)
		if err != nil {
			return nil, err
		}
	}

	return &RenderedMessage{
		Subject:  subject,
		BodyText: bodyText,
		BodyHTML: bodyHTML,
		Headers:  headers,
		CSS:      css,
		ICal:     ical,
	}, nil
}

// ValidateSyntax parse-checks template source without rendering it. The
// authoring surface calls this at save time so syntax errors do not survive
// until render time.
func (r *Renderer) ValidateSyntax(templateID int64, field, src string) error {
	if src == "" {
		return nil
	}
	_, err := template.New(field).Funcs(r.funcs).Option("missingkey=error").Parse(src)
	if err != nil {
		return &SyntaxError{TemplateID: templateID, Field: field, Err: err}
	}
	return nil
}

var missingKeyRe = regexp.MustCompile(`map has no entry for key "([^"]+)"`)

func (r *Renderer) renderField(templateID int64, field, src string, ctx RenderContext) (string, error) {
	if src == "" {
		return "", nil
	}

	tmpl, err := template.New(field).Funcs(r.funcs).Option("missingkey=error").Parse(src)
	if err != nil {
		return "", &SyntaxError{TemplateID: templateID, Field: field, Err: err}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any(ctx)); err != nil {
		if m := missingKeyRe.FindStringSubmatch(err.Error()); m != nil {
			return "", &UndefinedVariableError{TemplateID: templateID, Field: field, Variable: m[1]}
		}
		return "", &RenderError{TemplateID: templateID, Field: field, Err: err}
	}
	out := buf.String()

	if err := checkUnexpanded(templateID, field, out); err != nil {
		return "", err
	}
	return out, nil
}

// checkUnexpanded rejects output that still contains template remnants,
// which would otherwise leak into delivered messages.
func checkUnexpanded(templateID int64, field, content string) error {
	if strings.Contains(content, "<no value>") {
		return &UndefinedVariableError{TemplateID: templateID, Field: field, Variable: "<no value>"}
	}
	return nil
}

func (r *Renderer) renderMarkdown(src string) (string, error) {
	if src == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := r.markdown.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("markdown conversion: %w", err)
	}
	return buf.String(), nil
}

// icalDatetime formats a timestamp in the calendar interchange form
// YYYYMMDDTHHMMSSZ, always in UTC. Nil and zero values render empty.
func icalDatetime(v any) string {
	var t time.Time
	switch ts := v.(type) {
	case time.Time:
		t = ts
	case *time.Time:
		if ts == nil {
			return ""
		}
		t = *ts
	default:
		return ""
	}
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("20060102T150405Z")
}

func sortedHeaderKeys(headers map[string]string) []string {
	keys := make([]string, 0, len(headers))
	for key := range headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
