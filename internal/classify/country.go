// Package classify decides whether an affiliation belongs to the target
// institution, which site of that institution it names, and which country it
// is located in. All matching runs on folded (search key) text.
package classify

import (
	"fmt"
	"regexp"
)

// CountryRule maps an alternation pattern to a country.
type CountryRule struct {
	Pattern string // regexp alternation, matched on word boundaries
	Code    string // ISO 3166-1 alpha-2
	Name    string
}

// DefaultCountryRules is checked in order; the first match wins, so broader
// patterns must come after the ones they overlap with.
var DefaultCountryRules = []CountryRule{
	{`ecuador`, "EC", "Ecuador"},
	{`spain|espana`, "ES", "Spain"},
	{`peru`, "PE", "Peru"},
	{`colombia`, "CO", "Colombia"},
	{`chile`, "CL", "Chile"},
	{`argentina`, "AR", "Argentina"},
	{`mexico`, "MX", "Mexico"},
	{`brazil|brasil`, "BR", "Brazil"},
	{`united states|usa|u\.s\.a\.|u\.s\.|estados unidos`, "US", "United States"},
	{`canada`, "CA", "Canada"},
	{`united kingdom|uk|u\.k\.|inglaterra|reino unido`, "GB", "United Kingdom"},
	{`france|francia`, "FR", "France"},
	{`germany|alemania`, "DE", "Germany"},
	{`italy|italia`, "IT", "Italy"},
	{`china`, "CN", "China"},
	{`japan|japon`, "JP", "Japan"},
}

type compiledCountry struct {
	re   *regexp.Regexp
	code string
	name string
}

// CountryMatcher resolves folded affiliation text to a country.
type CountryMatcher struct {
	rules []compiledCountry
}

// NewCountryMatcher compiles rules, preserving their order.
func NewCountryMatcher(rules []CountryRule) (*CountryMatcher, error) {
	m := &CountryMatcher{rules: make([]compiledCountry, 0, len(rules))}
	for _, r := range rules {
		re, err := regexp.Compile(`\b(` + r.Pattern + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("compiling country pattern %q: %w", r.Pattern, err)
		}
		m.rules = append(m.rules, compiledCountry{re: re, code: r.Code, name: r.Name})
	}
	return m, nil
}

// Match returns the first country whose pattern occurs in folded.
func (m *CountryMatcher) Match(folded string) (code, name string, ok bool) {
	if folded == "" {
		return "", "", false
	}
	for _, r := range m.rules {
		if r.re.MatchString(folded) {
			return r.code, r.name, true
		}
	}
	return "", "", false
}
