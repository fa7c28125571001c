package embedder

import "strings"

const (
	minTokenLen = 2
	maxTokenLen = 49
)

// Tokenize lowercases text, replaces non-alphanumeric runs with whitespace,
// splits on whitespace, and drops tokens of length <= 1 or >= 50 (spec
// §4.6 "Tokenization").
func Tokenize(text string) []string {
	lower := strings.ToLower(text)
	b := make([]rune, 0, len(lower))
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b = append(b, r)
		} else {
			b = append(b, ' ')
		}
	}
	fields := strings.Fields(string(b))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) >= minTokenLen && len(f) <= maxTokenLen {
			out = append(out, f)
		}
	}
	return out
}
