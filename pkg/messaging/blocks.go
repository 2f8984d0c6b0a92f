package messaging

import (
	"fmt"
	"strings"
)

// Block inheritance over template source text.
//
// A parent body declares replaceable regions with
//
//	{{block "name" .}}default content{{end}}
//
// and a child that extends the parent overrides a region with a top-level
//
//	{{define "name"}}replacement{{end}}
//
// ResolveInheritance walks the extends chain from the child up and splices
// the effective block contents into the root layout, producing one composite
// template string with no block or define actions remaining. Resolution is a
// pure recursive merge: childmost definitions win per block name; blocks the
// child does not redefine keep the parent's content.

// blockSegment is one piece of a parsed template body: either literal source
// text or a named block region with its default content.
type blockSegment struct {
	text string
	name string
	def  string
}

// blockDoc is the parsed form of one template body.
type blockDoc struct {
	layout  []blockSegment
	defines map[string]string
}

// ParentLoader fetches a template body and its own extends reference by
// template ID. The loader is independent of matching: a parent that did not
// itself match the context is still loaded for inheritance purposes.
type ParentLoader func(id int64) (body string, extends *int64, err error)

// ResolveInheritance produces the composite body for a template, following
// its extends chain through load. templateID identifies the child for error
// reporting and cycle detection.
func ResolveInheritance(templateID int64, body string, extends *int64, load ParentLoader) (string, error) {
	overrides := make(map[string]string)

	doc, err := parseBlockDoc(body)
	if err != nil {
		return "", &SyntaxError{TemplateID: templateID, Field: "body", Err: err}
	}
	for name, content := range doc.defines {
		overrides[name] = content
	}

	visited := map[int64]bool{templateID: true}
	root := doc
	for extends != nil {
		parentID := *extends
		if visited[parentID] {
			return "", &InheritanceCycleError{TemplateID: templateID}
		}
		visited[parentID] = true

		parentBody, parentExtends, err := load(parentID)
		if err != nil {
			return "", fmt.Errorf("loading parent template %d: %w", parentID, err)
		}
		parentDoc, err := parseBlockDoc(parentBody)
		if err != nil {
			return "", &SyntaxError{TemplateID: parentID, Field: "body", Err: err}
		}
		// Definitions closer to the child win.
		for name, content := range parentDoc.defines {
			if _, ok := overrides[name]; !ok {
				overrides[name] = content
			}
		}
		root = parentDoc
		extends = parentExtends
	}

	return composeLayout(root.layout, overrides, 0)
}

// composeLayout substitutes effective block contents into a layout. Block
// contents may themselves declare nested blocks, so substitution recurses
// with the same override set. depth bounds pathological nesting.
func composeLayout(layout []blockSegment, overrides map[string]string, depth int) (string, error) {
	const maxBlockDepth = 16
	if depth > maxBlockDepth {
		return "", fmt.Errorf("block nesting exceeds %d levels", maxBlockDepth)
	}

	var out strings.Builder
	for _, seg := range layout {
		if seg.name == "" {
			out.WriteString(seg.text)
			continue
		}
		content := seg.def
		if override, ok := overrides[seg.name]; ok {
			content = override
		}
		nested, err := parseBlockDoc(content)
		if err != nil {
			return "", err
		}
		resolved, err := composeLayout(nested.layout, overrides, depth+1)
		if err != nil {
			return "", err
		}
		out.WriteString(resolved)
	}
	return out.String(), nil
}

// parseBlockDoc splits template source into literal segments, block regions
// and define regions. The scan is flat: a block or define action is captured
// wherever it appears, including inside if, range and with bodies, matching
// how text/template hoists defines out of the surrounding text.
func parseBlockDoc(src string) (*blockDoc, error) {
	doc := &blockDoc{defines: make(map[string]string)}
	var literal strings.Builder

	pos := 0
	for pos < len(src) {
		open := strings.Index(src[pos:], "{{")
		if open < 0 {
			literal.WriteString(src[pos:])
			break
		}
		open += pos
		action, next, err := scanAction(src, open)
		if err != nil {
			return nil, err
		}

		keyword, name := actionKeyword(action)
		if keyword != "block" && keyword != "define" {
			literal.WriteString(src[pos:next])
			pos = next
			continue
		}
		if name == "" {
			return nil, fmt.Errorf("%s action missing quoted name near offset %d", keyword, open)
		}

		// Capture everything up to the matching {{end}}.
		literal.WriteString(src[pos:open])
		content, endClose, err := scanRegion(src, next)
		if err != nil {
			return nil, fmt.Errorf("unterminated %s %q: %w", keyword, name, err)
		}

		if literal.Len() > 0 {
			doc.layout = append(doc.layout, blockSegment{text: literal.String()})
			literal.Reset()
		}
		switch keyword {
		case "block":
			doc.layout = append(doc.layout, blockSegment{name: name, def: content})
		case "define":
			doc.defines[name] = content
		}
		pos = endClose
	}

	if literal.Len() > 0 {
		doc.layout = append(doc.layout, blockSegment{text: literal.String()})
	}
	return doc, nil
}

// scanRegion consumes template source until the {{end}} matching the action
// that opened at the current position, tracking block-structured actions
// (if, range, with, block, define) in between. It returns the raw content
// and the offset just past the closing action.
func scanRegion(src string, start int) (content string, after int, err error) {
	depth := 1
	pos := start
	for pos < len(src) {
		open := strings.Index(src[pos:], "{{")
		if open < 0 {
			break
		}
		open += pos
		action, next, err := scanAction(src, open)
		if err != nil {
			return "", 0, err
		}
		keyword, _ := actionKeyword(action)
		switch keyword {
		case "if", "range", "with", "block", "define":
			depth++
		case "end":
			depth--
			if depth == 0 {
				return src[start:open], next, nil
			}
		}
		pos = next
	}
	return "", 0, fmt.Errorf("missing {{end}}")
}

// scanAction reads one {{...}} action starting at open, honoring quoted
// strings so a "}}" inside a string literal does not terminate the action.
// It returns the action's inner text and the offset just past the closing
// braces.
func scanAction(src string, open int) (action string, after int, err error) {
	pos := open + 2
	var quote byte
	for pos < len(src) {
		c := src[pos]
		switch {
		case quote != 0:
			if c == '\\' && quote == '"' {
				pos++ // skip escaped character
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '`' || c == '\'':
			quote = c
		case c == '}' && pos+1 < len(src) && src[pos+1] == '}':
			return src[open+2 : pos], pos + 2, nil
		}
		pos++
	}
	return "", 0, fmt.Errorf("unterminated action near offset %d", open)
}

// actionKeyword extracts the leading keyword of an action and, for block and
// define actions, the quoted name that follows it.
func actionKeyword(action string) (keyword, name string) {
	trimmed := strings.TrimSpace(action)
	trimmed = strings.TrimPrefix(trimmed, "-")
	trimmed = strings.TrimSpace(trimmed)
	trimmed = strings.TrimSuffix(trimmed, "-")
	trimmed = strings.TrimSpace(trimmed)

	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", ""
	}
	keyword = fields[0]
	if keyword != "block" && keyword != "define" {
		return keyword, ""
	}

	// The name is the first quoted string after the keyword.
	rest := strings.TrimSpace(trimmed[len(keyword):])
	if len(rest) < 2 || (rest[0] != '"' && rest[0] != '`') {
		return keyword, ""
	}
	closing := strings.IndexByte(rest[1:], rest[0])
	if closing < 0 {
		return keyword, ""
	}
	return keyword, rest[1 : closing+1]
}
