// Package parser pulls structured fields out of free-form model answers.
package parser

import (
	"regexp"
	"strings"
)

// One level of nesting at most; deeper objects fall through to the line scan.
var balancedObjectRe = regexp.MustCompile(`\{[^{}]*(?:\{[^{}]*\}[^{}]*)*\}`)

// ExtractJSON finds the JSON object embedded in a model answer. It tries, in
// order: the first balanced object (one nesting level), a block of lines
// starting at a line that begins with '{' and ending once closing braces
// catch up with opening ones, and finally the raw text unchanged.
func ExtractJSON(raw string) string {
	if m := balancedObjectRe.FindString(raw); m != "" {
		return m
	}
	if block, ok := scanJSONLines(raw); ok {
		return block
	}
	return raw
}

func scanJSONLines(raw string) (string, bool) {
	var (
		block      []string
		inBlock    bool
		open, shut int
	)
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if !inBlock {
			if !strings.HasPrefix(trimmed, "{") {
				continue
			}
			inBlock = true
		}
		block = append(block, line)
		open += strings.Count(line, "{")
		shut += strings.Count(line, "}")
		if shut >= open {
			return strings.Join(block, "\n"), true
		}
	}
	return "", false
}

const annotationPrefix = "\n\n[parse error: "

// Annotate keeps the raw answer and appends a readable parse failure.
func Annotate(raw string, err error) string {
	if err == nil {
		return raw
	}
	return raw + annotationPrefix + err.Error() + "]"
}

// StripAnnotation undoes Annotate so a stored answer can be parsed again.
func StripAnnotation(cell string) string {
	idx := strings.LastIndex(cell, annotationPrefix)
	if idx < 0 || !strings.HasSuffix(cell, "]") {
		return cell
	}
	return cell[:idx]
}
