package processor

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeText lowercases and strips accents so pattern matching treats
// "¿Quieres agendar?" and "quieres agendar" the same.
func normalizeText(s string) string {
	stripped, _, err := transform.String(accentStripper, s)
	if err != nil {
		stripped = s
	}
	return strings.ToLower(stripped)
}

// matchesAny reports whether the normalized text contains any of the
// (already normalized) patterns.
func matchesAny(text string, patterns []string) bool {
	n := normalizeText(text)
	for _, p := range patterns {
		if strings.Contains(n, p) {
			return true
		}
	}
	return false
}
