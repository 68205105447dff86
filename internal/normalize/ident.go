package normalize

import (
	"html"
	"regexp"
	"strings"
)

// DOIPrefix is the directory indicator every well-formed DOI starts with.
const DOIPrefix = "10."

// doiSchemePattern matches resolver URLs and the "doi:" scheme.
var doiSchemePattern = regexp.MustCompile(`(?i)^(https?://(dx\.)?doi\.org/|doi:\s*)`)

var orcidPrefixPattern = regexp.MustCompile(`(?i)^https?://(www\.)?orcid\.org/`)

// StandardizeDOI strips known resolver prefixes, decodes entities, trims and
// lowercases a DOI. Malformed identifiers are returned in their cleaned form
// rather than rejected; use IsWellFormedDOI to decide.
//
// The cleanup is repeated until nothing changes, so StandardizeDOI is
// idempotent even for inputs like "doi:https://doi.org/10.1/X" or deeply
// nested entities. Every pass other than the first lowercasing only removes
// text, so the loop terminates.
func StandardizeDOI(raw string) string {
	s := raw
	for {
		next := standardizeOnce(s)
		if next == s {
			return s
		}
		s = next
	}
}

func standardizeOnce(s string) string {
	s = strings.TrimSpace(s)
	s = html.UnescapeString(s)
	s = doiSchemePattern.ReplaceAllString(s, "")
	return strings.ToLower(strings.TrimSpace(s))
}

// IsWellFormedDOI reports whether a standardized DOI has the 10.<registrant>/<suffix> shape.
func IsWellFormedDOI(doi string) bool {
	if !strings.HasPrefix(doi, DOIPrefix) {
		return false
	}
	slashIdx := strings.Index(doi, "/")
	return slashIdx > len(DOIPrefix) && slashIdx < len(doi)-1
}

// StandardizeORCID strips the orcid.org URL prefix from a researcher identifier.
func StandardizeORCID(raw string) string {
	s := strings.TrimSpace(raw)
	s = orcidPrefixPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
