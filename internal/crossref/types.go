// Package crossref provides a typed client for the Crossref REST API works
// endpoint, with cursor pagination, backoff retry and request degradation.
package crossref

import "github.com/crossharvest/crossharvest/internal/normalize"

// Response is the envelope returned by /works.
type Response struct {
	Status  string  `json:"status"`
	Message Message `json:"message"`
}

// Message holds one page of results.
type Message struct {
	TotalResults int    `json:"total-results"`
	NextCursor   string `json:"next-cursor,omitempty"`
	Items        []Work `json:"items"`
}

// Work is one bibliographic record.
type Work struct {
	DOI                 string     `json:"DOI"`
	Title               []string   `json:"title,omitempty"`
	ContainerTitle      []string   `json:"container-title,omitempty"`
	Publisher           string     `json:"publisher,omitempty"`
	Type                string     `json:"type,omitempty"`
	IsReferencedByCount *int       `json:"is-referenced-by-count,omitempty"`
	ReferenceCount      *int       `json:"reference-count,omitempty"`
	Author              []Author   `json:"author,omitempty"`
	Subject             []string   `json:"subject,omitempty"`
	PublishedOnline     *DateFacet `json:"published-online,omitempty"`
	PublishedPrint      *DateFacet `json:"published-print,omitempty"`
	Issued              *DateFacet `json:"issued,omitempty"`
	Created             *DateFacet `json:"created,omitempty"`
}

// Author is one contributor entry on a work.
type Author struct {
	Given       string        `json:"given,omitempty"`
	Family      string        `json:"family,omitempty"`
	Name        string        `json:"name,omitempty"`
	ORCID       string        `json:"ORCID,omitempty"`
	Sequence    string        `json:"sequence,omitempty"` // "first" or "additional"
	Affiliation []Affiliation `json:"affiliation,omitempty"`
}

// Affiliation is a free-text affiliation attached to an author.
type Affiliation struct {
	Name string `json:"name"`
}

// DateFacet is a Crossref partial date. Elements of date-parts may be null.
type DateFacet struct {
	DateParts [][]*int `json:"date-parts"`
}

// first returns the first date-parts entry, or nil.
func (d *DateFacet) first() normalize.DateParts {
	if d == nil || len(d.DateParts) == 0 {
		return nil
	}
	return normalize.DateParts(d.DateParts[0])
}

// DateFacets returns the work's dates in precedence order: online
// publication, print publication, issued, created.
func (w *Work) DateFacets() []normalize.DateParts {
	return []normalize.DateParts{
		w.PublishedOnline.first(),
		w.PublishedPrint.first(),
		w.Issued.first(),
		w.Created.first(),
	}
}

// Page is one fetched page together with the query that produced it.
type Page struct {
	Items      []Work
	NextCursor string
	Total      int

	// Effective is the query that succeeded, after any degradation.
	Effective    Query
	// Degradations lists the narrowing steps applied for this page.
	Degradations []Degradation
}
