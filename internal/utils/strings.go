// Package utils holds small text helpers shared by the backends, the table
// previews and the CLI output.
package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const ellipsis = "..."

// Truncate keeps at most maxLen bytes of s, backing off to a rune boundary,
// and appends "..." when it cut anything.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 0 {
		return ""
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + ellipsis
}

// RunePreview keeps the first n runes of s and appends "..." when anything
// was cut. The marker is not counted against n.
func RunePreview(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + ellipsis
}

// SafeTruncate fits s into maxLen runes including the "..." marker.
func SafeTruncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if maxLen <= len(ellipsis) {
		return string(runes[:1])
	}
	return string(runes[:maxLen-len(ellipsis)]) + ellipsis
}

// SanitizeOutput drops ANSI CSI sequences and control characters other than
// newline and tab, so model output is safe to echo to a terminal.
func SanitizeOutput(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inCSI := false
	prevEsc := false
	for _, r := range s {
		switch {
		case inCSI:
			// parameters and intermediates until the final byte @..~
			if r >= 0x40 && r <= 0x7e {
				inCSI = false
			}
		case prevEsc && r == '[':
			inCSI = true
			prevEsc = false
		case r == 0x1b:
			prevEsc = true
		case r == '\n' || r == '\t':
			prevEsc = false
			b.WriteRune(r)
		case unicode.IsControl(r):
			prevEsc = false
		default:
			prevEsc = false
			b.WriteRune(r)
		}
	}
	return b.String()
}
