package reconcile

import (
	"github.com/crossharvest/crossharvest/internal/classify"
	"github.com/crossharvest/crossharvest/internal/crossref"
	"github.com/crossharvest/crossharvest/internal/normalize"
	"github.com/crossharvest/crossharvest/internal/storage"
)

// PlannedAuthor is an author with at least one affiliation.
type PlannedAuthor struct {
	Name            string
	Key             string
	ORCID           string
	Sequence        string
	AffiliationKeys []string
}

// Plan is the normalized, classified form of one record. Building it has no
// side effects.
type Plan struct {
	DOI          string
	Work         storage.Work
	Topics       []string
	Affiliations []classify.Facets // distinct by search key, first-seen order
	Authors      []PlannedAuthor
	HasTarget    bool
}

// Plan normalizes and classifies w under the standardized doi.
// Authors without a usable name are ignored together with their
// affiliations, and authors left without affiliations are dropped.
func (r *Reconciler) Plan(doi string, w crossref.Work) *Plan {
	p := &Plan{DOI: doi}

	p.Work = storage.Work{
		DOI:             doi,
		Title:           normalize.JoinCanonical(w.Title),
		Venue:           normalize.JoinCanonical(w.ContainerTitle),
		Publisher:       normalize.Canonical(w.Publisher),
		Type:            normalize.Canonical(w.Type),
		Citations:       w.IsReferencedByCount,
		ReferencesCount: w.ReferenceCount,
	}
	facets := w.DateFacets()
	if year, ok := normalize.ResolveYear(facets); ok {
		p.Work.Year = &year
	}
	if date, prec, ok := normalize.ResolveDatePrecision(facets); ok {
		p.Work.PublishedDate = date
		p.Work.DatePrecision = int(prec)
	}

	if r.insertTopics {
		seen := make(map[string]bool)
		for _, s := range w.Subject {
			topic := normalize.Canonical(s)
			if topic == "" || seen[topic] {
				continue
			}
			seen[topic] = true
			p.Topics = append(p.Topics, topic)
		}
	}

	affIndex := make(map[string]bool)
	for _, au := range w.Author {
		name := normalize.AuthorDisplayName(au.Given, au.Family, au.Name)
		if name == "" {
			continue
		}

		var keys []string
		for _, aff := range au.Affiliation {
			f := r.classifier.Classify(aff.Name)
			if f.Key == "" {
				continue
			}
			if f.IsTarget {
				p.HasTarget = true
			}
			if !affIndex[f.Key] {
				affIndex[f.Key] = true
				p.Affiliations = append(p.Affiliations, f)
			}
			keys = append(keys, f.Key)
		}
		if len(keys) == 0 {
			continue
		}

		p.Authors = append(p.Authors, PlannedAuthor{
			Name:            name,
			Key:             normalize.Fold(name),
			ORCID:           normalize.StandardizeORCID(au.ORCID),
			Sequence:        au.Sequence,
			AffiliationKeys: keys,
		})
	}

	return p
}
