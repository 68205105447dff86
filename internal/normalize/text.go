// Package normalize turns raw free-text metadata fields into canonical,
// comparable forms. Everything here is pure: no state and no I/O.
package normalize

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var multiSpaceRegex = regexp.MustCompile(`\s+`)

// Canonical returns display-quality text: HTML entities decoded, Unicode
// composed (NFC), whitespace collapsed and trimmed.
func Canonical(s string) string {
	if s == "" {
		return ""
	}
	s = html.UnescapeString(s)
	s = norm.NFC.String(s)
	s = multiSpaceRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Fold returns the search key form of s. It decodes HTML entities,
// compatibility-decomposes (NFKD), strips combining marks, collapses
// whitespace and lowercases, so "Córdoba" and "CORDOBA" fold to the same key.
func Fold(s string) string {
	if s == "" {
		return ""
	}
	s = html.UnescapeString(s)
	stripped, _, err := transform.String(foldTransformer(), s)
	if err == nil {
		s = stripped
	}
	s = multiSpaceRegex.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

// foldTransformer is rebuilt per call; transform chains keep internal state
// and are not safe for concurrent reuse.
func foldTransformer() transform.Transformer {
	return transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
}

// JoinCanonical joins the non-empty parts with "; " and canonicalizes the
// result. Crossref returns titles and container titles as lists.
func JoinCanonical(parts []string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return Canonical(strings.Join(kept, "; "))
}

// AuthorDisplayName builds the display name for an author entry. Given and
// family parts are joined with a space when present; otherwise the single
// full-name field is used.
func AuthorDisplayName(given, family, name string) string {
	var parts []string
	for _, p := range []string{given, family} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	full := strings.TrimSpace(strings.Join(parts, " "))
	if full == "" {
		full = strings.TrimSpace(name)
	}
	return Canonical(full)
}
