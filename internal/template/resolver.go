// Package template renders per-row prompts from {field} placeholders.
package template

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// ExpandedLookup gives access to long-text fields whose full content lives
// outside the row (the row only carries a preview).
type ExpandedLookup interface {
	IsExpandedField(name string) bool
	ExpandedContent(name string, rowIndex int) (string, bool)
}

type Reason int

const (
	FieldNotFound Reason = iota
	FieldEmpty
	ExpandedUnavailable
)

func (r Reason) String() string {
	switch r {
	case FieldNotFound:
		return "field-not-found"
	case FieldEmpty:
		return "field-empty"
	case ExpandedUnavailable:
		return "expanded-field-unavailable"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// Sentinel is the text left in the prompt in place of an unresolved placeholder.
func Sentinel(reason Reason, name string) string {
	return "{" + reason.String() + ": " + name + "}"
}

type Unresolved struct {
	Name   string
	Reason Reason
}

// ResolutionError lists every placeholder that could not be filled.
type ResolutionError struct {
	Fields []Unresolved
}

func (e *ResolutionError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Reason.String()+": "+f.Name)
	}
	return "unresolved template fields (" + strings.Join(parts, ", ") + ")"
}

// Render substitutes placeholders from row. The rendered text is always
// returned; err is a *ResolutionError when any placeholder produced a
// sentinel. Substituted values are not scanned again.
func Render(tmpl string, row map[string]string, rowIndex int, lookup ExpandedLookup) (string, error) {
	var unresolved []Unresolved

	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := match[1 : len(match)-1]

		if lookup != nil && lookup.IsExpandedField(name) {
			content, ok := lookup.ExpandedContent(name, rowIndex)
			if !ok {
				unresolved = append(unresolved, Unresolved{Name: name, Reason: ExpandedUnavailable})
				return Sentinel(ExpandedUnavailable, name)
			}
			return content
		}

		value, ok := row[name]
		if !ok {
			unresolved = append(unresolved, Unresolved{Name: name, Reason: FieldNotFound})
			return Sentinel(FieldNotFound, name)
		}
		if strings.TrimSpace(value) == "" {
			unresolved = append(unresolved, Unresolved{Name: name, Reason: FieldEmpty})
			return Sentinel(FieldEmpty, name)
		}
		return value
	})

	if len(unresolved) > 0 {
		return out, &ResolutionError{Fields: unresolved}
	}
	return out, nil
}

// Placeholders returns the distinct placeholder names in order of first use.
func Placeholders(tmpl string) []string {
	matches := placeholderRe.FindAllStringSubmatch(tmpl, -1)
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		out = append(out, m[1])
	}
	return out
}

// Validate returns the placeholders that name neither a known column nor an
// expanded field, sorted.
func Validate(tmpl string, columns []string, lookup ExpandedLookup) []string {
	known := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		known[c] = struct{}{}
	}
	var missing []string
	for _, name := range Placeholders(tmpl) {
		if _, ok := known[name]; ok {
			continue
		}
		if lookup != nil && lookup.IsExpandedField(name) {
			continue
		}
		missing = append(missing, name)
	}
	sort.Strings(missing)
	return missing
}
