package utils

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestTruncators(t *testing.T) {
	tests := []struct {
		name string
		fn   func(string, int) string
		in   string
		n    int
		want string
	}{
		{"Truncate short", Truncate, "hello", 10, "hello"},
		{"Truncate exact", Truncate, "hello", 5, "hello"},
		{"Truncate cut", Truncate, "hello world", 5, "hello..."},
		{"Truncate zero", Truncate, "hello", 0, "..."},
		{"Truncate negative", Truncate, "hello", -1, ""},
		{"Truncate rune boundary", Truncate, "你好世界", 10, "你好世..."},
		{"Truncate mid first rune", Truncate, "你好", 2, "..."},

		{"RunePreview empty", RunePreview, "", 5, ""},
		{"RunePreview zero n", RunePreview, "hello", 0, ""},
		{"RunePreview fits", RunePreview, "hello", 5, "hello"},
		{"RunePreview cjk", RunePreview, "第一段长文本内容", 3, "第一段..."},
		{"RunePreview marker not counted", RunePreview, "abcd", 3, "abc..."},

		{"SafeTruncate empty", SafeTruncate, "", 5, ""},
		{"SafeTruncate zero", SafeTruncate, "hello", 0, ""},
		{"SafeTruncate fits", SafeTruncate, "hello", 5, "hello"},
		{"SafeTruncate cut", SafeTruncate, "hello world", 8, "hello..."},
		{"SafeTruncate tiny limit", SafeTruncate, "hello", 3, "h"},
		{"SafeTruncate cjk", SafeTruncate, "你好世界你好", 5, "你好..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.fn(tt.in, tt.n)
			require.Equal(t, tt.want, got)
			require.True(t, utf8.ValidString(got))
		})
	}
}

func TestSanitizeOutput(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello world", "hello world"},
		{"colors", "\x1b[31mred\x1b[0m text", "red text"},
		{"cursor movement", "a\x1b[2Kb\x1b[1;5Hc", "abc"},
		{"keeps newline and tab", "a\n\tb", "a\n\tb"},
		{"drops other controls", "a\x00b\x07c\rd\x7f", "abcd"},
		{"lone escape", "a\x1bb", "ab"},
		{"unicode", "中文\x1b[1m粗体\x1b[0m", "中文粗体"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, SanitizeOutput(tt.in))
		})
	}
}

func BenchmarkSanitizeOutput(b *testing.B) {
	in := strings.Repeat("\x1b[32mok\x1b[0m line\n", 200)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = SanitizeOutput(in)
	}
}
