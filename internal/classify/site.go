package classify

import "strings"

// SiteUnassigned is the catalog entry for affiliations without a known site.
// It is the default for every affiliation and is only ever upgraded.
const SiteUnassigned = 4

// Site is one sub-unit of the target institution.
type Site struct {
	ID       int      `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Area     string   `yaml:"area" json:"area"`
	Keywords []string `yaml:"keywords" json:"keywords"` // folded substrings
}

// DefaultSites is the built-in site catalog.
var DefaultSites = []Site{
	{ID: 1, Name: "Sede Cuenca", Area: "Ciencias de la Vida", Keywords: []string{"cuenca", "azuay"}},
	{ID: 2, Name: "Sede Quito", Area: "Ingenierías y Arquitectura", Keywords: []string{"quito", "pichincha"}},
	{ID: 3, Name: "Sede Guayaquil", Area: "Ciencias Sociales y Humanas", Keywords: []string{"guayaquil", "guayas"}},
	{ID: SiteUnassigned, Name: "Otra", Area: "No definida"},
}

// MatchSite scans sites in order, and each site's keywords in order, and
// returns the first site whose keyword is contained in folded.
func MatchSite(sites []Site, folded string) (int, bool) {
	for _, s := range sites {
		if s.ID == SiteUnassigned {
			continue
		}
		for _, kw := range s.Keywords {
			kw = strings.TrimSpace(kw)
			if kw != "" && strings.Contains(folded, kw) {
				return s.ID, true
			}
		}
	}
	return 0, false
}
