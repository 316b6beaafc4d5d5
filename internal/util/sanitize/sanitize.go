// Package sanitize cleans user-typed text before it reaches a query key or a
// local filename:
//   - invisible Unicode characters (zero-width spaces, BOM, soft hyphen)
//   - control characters and line breaks
//   - runs of whitespace
package sanitize

import (
	"regexp"
	"strings"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	unsafeInName  = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
)

// SearchText normalizes search input so that visually identical text yields
// the same query key.
func SearchText(s string) string {
	if s == "" {
		return s
	}

	s = removeInvisibleChars(s)
	s = normalizeWhitespace(s)
	return strings.TrimSpace(s)
}

// Filename makes a server-provided filename safe to create locally.
func Filename(name string) string {
	if name == "" {
		return name
	}

	name = removeInvisibleChars(name)
	name = unsafeInName.ReplaceAllString(name, "_")
	name = strings.TrimSpace(name)

	// Windows refuses trailing dots and spaces
	return strings.TrimRight(name, ". ")
}

// removeInvisibleChars removes zero-width and other invisible Unicode characters
func removeInvisibleChars(s string) string {
	invisibleChars := []string{
		"\u200B", // Zero-width space
		"\u200C", // Zero-width non-joiner
		"\u200D", // Zero-width joiner
		"\uFEFF", // Zero-width no-break space (BOM)
		"\u00AD", // Soft hyphen
		"\u2060", // Word joiner
		"\u180E", // Mongolian vowel separator
	}

	for _, char := range invisibleChars {
		s = strings.ReplaceAll(s, char, "")
	}

	return s
}

// normalizeWhitespace replaces sequences of whitespace, newlines included,
// with single spaces
func normalizeWhitespace(s string) string {
	return whitespaceRun.ReplaceAllString(s, " ")
}
