package recognizer

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var wsRe = regexp.MustCompile(`\s+`)

// CleanText normalizes recognizer output: NFC, no zero-width or control
// characters, single spaces, trimmed.
func CleanText(s string) string {
	if s == "" {
		return s
	}
	s = norm.NFC.String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\u200B', '\u200C', '\u200D', '\uFEFF':
			continue
		case '\t', '\n', '\r', '\u00A0', '\u2009':
			b.WriteRune(' ')
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(wsRe.ReplaceAllString(b.String(), " "))
}
