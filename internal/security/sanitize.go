// Package security cleans user-supplied text before it is stored and
// broadcast to other users' clients.
package security

import (
	"strings"
	"unicode"
)

// invisible reports runes that render as nothing or reorder surrounding
// text, which lets one user show others something other than what was saved.
func invisible(r rune) bool {
	switch {
	case r >= 0xE0000 && r <= 0xE007F: // tag characters
		return true
	case r >= 0xFE00 && r <= 0xFE0F, r >= 0xE0100 && r <= 0xE01EF: // variation selectors
		return true
	case r >= 0x202A && r <= 0x202E, r >= 0x2066 && r <= 0x2069, r == 0x200E, r == 0x200F: // bidi controls
		return true
	case r >= 0x200B && r <= 0x200D, r == 0x2060, r == 0xFEFF: // zero width
		return true
	}
	return false
}

// CleanText strips invisible and control characters from multi-line text
// such as descriptions. Newlines and tabs are kept.
func CleanText(s string) string {
	s = strings.Map(func(r rune) rune {
		if invisible(r) || (unicode.IsControl(r) && r != '\n' && r != '\t') {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// CleanLine is CleanText for single-line values such as names and titles:
// any run of whitespace becomes one space.
func CleanLine(s string) string {
	return strings.Join(strings.Fields(CleanText(s)), " ")
}

// Suspicious reports whether s carries characters CleanText would remove,
// other than surrounding whitespace.
func Suspicious(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return invisible(r) || (unicode.IsControl(r) && !unicode.IsSpace(r))
	}) >= 0
}
