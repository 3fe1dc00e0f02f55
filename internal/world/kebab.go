package world

import (
	"strings"
	"unicode"
)

// ToKebabCase derives a stable identifier from a human-readable name:
// lower-cased, runs of non-alphanumerics collapsed to single dashes, leading
// and trailing dashes trimmed. Idempotent: applying it to its own output is
// a no-op. Distinct names can still collapse to the same id ("My World" and
// "my-world"); creation paths treat that as a conflict rather than guessing.
func ToKebabCase(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	dash := true // suppress a leading dash
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			dash = false
		default:
			if !dash {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
