package classify

import (
	"strings"

	"github.com/crossharvest/crossharvest/internal/normalize"
)

// Options configures a Classifier.
type Options struct {
	Target          string   // target institution name, any casing/accents
	UseVariants     bool     // also accept Variants as target matches
	Variants        []string // alternate spellings of the target
	HomeCountryCode string   // assumed for target affiliations with no country match
	HomeCountryName string
	Sites           []Site
	Countries       []CountryRule
}

// Facets is the classification of one affiliation string.
type Facets struct {
	Display     string // canonical display text
	Key         string // folded search key
	IsTarget    bool
	SiteID      int
	CountryCode string // empty when unknown
	CountryName string
}

// Classifier applies the target, site and country rules.
type Classifier struct {
	target      string
	useVariants bool
	variants    []string
	homeCode    string
	homeName    string
	sites       []Site
	countries   *CountryMatcher
}

// New builds a Classifier. Nil Sites or Countries fall back to the defaults.
func New(opts Options) (*Classifier, error) {
	rules := opts.Countries
	if rules == nil {
		rules = DefaultCountryRules
	}
	countries, err := NewCountryMatcher(rules)
	if err != nil {
		return nil, err
	}

	sites := opts.Sites
	if sites == nil {
		sites = DefaultSites
	}
	foldedSites := make([]Site, len(sites))
	for i, s := range sites {
		foldedSites[i] = s
		foldedSites[i].Keywords = foldAll(s.Keywords)
	}

	return &Classifier{
		target:      normalize.Fold(opts.Target),
		useVariants: opts.UseVariants,
		variants:    foldAll(opts.Variants),
		homeCode:    opts.HomeCountryCode,
		homeName:    opts.HomeCountryName,
		sites:       foldedSites,
		countries:   countries,
	}, nil
}

func foldAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if f := normalize.Fold(s); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// IsTarget reports whether folded affiliation text names the target institution.
func (c *Classifier) IsTarget(folded string) bool {
	if c.target != "" && strings.Contains(folded, c.target) {
		return true
	}
	if !c.useVariants {
		return false
	}
	for _, v := range c.variants {
		if strings.Contains(folded, v) {
			return true
		}
	}
	return false
}

// AssignSite returns the site for an affiliation. Non-target affiliations are
// always unassigned.
func (c *Classifier) AssignSite(folded string, isTarget bool) int {
	if !isTarget {
		return SiteUnassigned
	}
	if id, ok := MatchSite(c.sites, folded); ok {
		return id
	}
	return SiteUnassigned
}

// Country returns the first matching country for folded text.
func (c *Classifier) Country(folded string) (code, name string, ok bool) {
	return c.countries.Match(folded)
}

// Classify normalizes a raw affiliation string and computes all facets.
// Target affiliations with no country match get the home country.
func (c *Classifier) Classify(raw string) Facets {
	f := Facets{
		Display: normalize.Canonical(raw),
		Key:     normalize.Fold(raw),
	}
	f.IsTarget = c.IsTarget(f.Key)
	f.SiteID = c.AssignSite(f.Key, f.IsTarget)
	if code, name, ok := c.Country(f.Key); ok {
		f.CountryCode, f.CountryName = code, name
	} else if f.IsTarget {
		f.CountryCode, f.CountryName = c.homeCode, c.homeName
	}
	return f
}

// Sites returns the catalog the classifier assigns from, keywords folded.
func (c *Classifier) Sites() []Site {
	return c.sites
}
