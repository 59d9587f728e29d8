package util

import (
	"strings"

	"golang.org/x/text/cases"
)

// ColorEscape introduces a two-byte color code in player names and chat.
const ColorEscape = '^'

// StripColors removes "^x" color codes. A doubled escape is kept as one literal caret.
func StripColors(s string) string {
	if strings.IndexByte(s, ColorEscape) < 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ColorEscape && i+1 < len(s) {
			if s[i+1] == ColorEscape {
				b.WriteByte(ColorEscape)
			}
			i++
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Fold returns the case-folded form of s. A new Caser is built per call
// because Casers carry state and are not safe for concurrent use.
func Fold(s string) string {
	return cases.Fold().String(s)
}

// NormalizeName strips color codes, folds case and trims surrounding space.
func NormalizeName(name string) string {
	return strings.TrimSpace(Fold(StripColors(name)))
}
