package compiler

import (
	"fmt"
	"strings"
)

// Template is a compiled {{ Field }} interpolation pattern.
type Template struct {
	raw   string
	parts []templatePart
}

type templatePart struct {
	text  string
	field string // set for placeholders
}

// ParseTemplate compiles s. Placeholders are {{ Field }} with optional
// surrounding whitespace; an unclosed, empty or nested placeholder and a
// stray "}}" are errors.
func ParseTemplate(s string) (*Template, error) {
	t := &Template{raw: s}
	rest := s
	for rest != "" {
		open := strings.Index(rest, "{{")
		closeIx := strings.Index(rest, "}}")
		if open < 0 {
			if closeIx >= 0 {
				return nil, fmt.Errorf("unmatched \"}}\" in template %q", s)
			}
			t.parts = append(t.parts, templatePart{text: rest})
			break
		}
		if closeIx >= 0 && closeIx < open {
			return nil, fmt.Errorf("unmatched \"}}\" in template %q", s)
		}
		if open > 0 {
			t.parts = append(t.parts, templatePart{text: rest[:open]})
		}
		rest = rest[open+2:]
		end := strings.Index(rest, "}}")
		if end < 0 {
			return nil, fmt.Errorf("unclosed placeholder in template %q", s)
		}
		field := strings.TrimSpace(rest[:end])
		if field == "" {
			return nil, fmt.Errorf("empty placeholder in template %q", s)
		}
		if strings.Contains(field, "{{") {
			return nil, fmt.Errorf("nested placeholder in template %q", s)
		}
		t.parts = append(t.parts, templatePart{field: field})
		rest = rest[end+2:]
	}
	return t, nil
}

// String returns the template source.
func (t *Template) String() string { return t.raw }

// Fields returns the referenced fields in order of first use.
func (t *Template) Fields() []string {
	var fields []string
	seen := make(map[string]bool)
	for _, p := range t.parts {
		if p.field != "" && !seen[p.field] {
			seen[p.field] = true
			fields = append(fields, p.field)
		}
	}
	return fields
}

// Render interpolates the template. It reports false when any referenced
// field has no value, in which case the template yields nothing.
func (t *Template) Render(lookup func(field string) (string, bool)) (string, bool) {
	var b strings.Builder
	for _, p := range t.parts {
		if p.field == "" {
			b.WriteString(p.text)
			continue
		}
		v, ok := lookup(p.field)
		if !ok || v == "" {
			return "", false
		}
		b.WriteString(v)
	}
	return b.String(), true
}
