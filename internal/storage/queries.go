package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned by the lookup helpers when no row matches.
var ErrNotFound = errors.New("not found")

// Author is a stored author row.
type Author struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	SearchKey string `json:"search_key"`
	ORCID     string `json:"orcid,omitempty"`
}

// Affiliation is a stored affiliation row.
type Affiliation struct {
	ID          int64  `json:"id"`
	Display     string `json:"display"`
	SearchKey   string `json:"search_key"`
	SiteID      int    `json:"site_id"`
	CountryCode string `json:"country_code,omitempty"`
	CountryName string `json:"country_name,omitempty"`
	IsTarget    bool   `json:"is_target"`
}

// Link is one work-author-affiliation edge.
type Link struct {
	DOI           string `json:"doi"`
	AuthorID      int64  `json:"author_id"`
	AffiliationID int64  `json:"affiliation_id"`
	Sequence      string `json:"sequence,omitempty"`
}

// Counts summarizes table sizes.
type Counts struct {
	Works        int `json:"works"`
	Authors      int `json:"authors"`
	Affiliations int `json:"affiliations"`
	Links        int `json:"links"`
	Topics       int `json:"topics"`
	Runs         int `json:"runs"`
}

// GetAuthorByKey returns the author with the given search key.
func (d *DB) GetAuthorByKey(ctx context.Context, searchKey string) (*Author, error) {
	var a Author
	var orcid sql.NullString
	err := d.db.QueryRowContext(ctx,
		`SELECT author_id, name, search_key, orcid FROM authors WHERE search_key = ?`, searchKey,
	).Scan(&a.ID, &a.Name, &a.SearchKey, &orcid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("author %q: %w", searchKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying author: %w", err)
	}
	a.ORCID = orcid.String
	return &a, nil
}

// GetAffiliationByKey returns the affiliation with the given search key.
func (d *DB) GetAffiliationByKey(ctx context.Context, searchKey string) (*Affiliation, error) {
	var a Affiliation
	var code, name sql.NullString
	err := d.db.QueryRowContext(ctx, `
		SELECT affiliation_id, display, search_key, site_id, country_code, country_name, is_target
		FROM affiliations WHERE search_key = ?`, searchKey,
	).Scan(&a.ID, &a.Display, &a.SearchKey, &a.SiteID, &code, &name, &a.IsTarget)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("affiliation %q: %w", searchKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying affiliation: %w", err)
	}
	a.CountryCode, a.CountryName = code.String, name.String
	return &a, nil
}

const selectWorkFields = `doi, COALESCE(title, ''), year, COALESCE(venue, ''),
	COALESCE(publisher, ''), COALESCE(type, ''), citations, references_count,
	COALESCE(published_date, ''), COALESCE(date_precision, 0), COALESCE(run_id, 0)`

func scanWork(s scanner) (*Work, error) {
	var w Work
	var year, citations, refs sql.NullInt64
	if err := s.Scan(&w.DOI, &w.Title, &year, &w.Venue, &w.Publisher, &w.Type,
		&citations, &refs, &w.PublishedDate, &w.DatePrecision, &w.RunID); err != nil {
		return nil, err
	}
	w.Year, w.Citations, w.ReferencesCount = intPtr(year), intPtr(citations), intPtr(refs)
	return &w, nil
}

// GetWork returns the work with the given DOI.
func (d *DB) GetWork(ctx context.Context, doi string) (*Work, error) {
	w, err := scanWork(d.db.QueryRowContext(ctx,
		`SELECT `+selectWorkFields+` FROM works WHERE doi = ?`, doi))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("work %s: %w", doi, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying work: %w", err)
	}
	return w, nil
}

// ListWorks returns every stored work ordered by DOI.
func (d *DB) ListWorks(ctx context.Context) ([]Work, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+selectWorkFields+` FROM works ORDER BY doi`)
	if err != nil {
		return nil, fmt.Errorf("querying works: %w", err)
	}
	defer rows.Close()

	var works []Work
	for rows.Next() {
		w, err := scanWork(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning work: %w", err)
		}
		works = append(works, *w)
	}
	return works, rows.Err()
}

// LinksForWork returns the edges of one work.
func (d *DB) LinksForWork(ctx context.Context, doi string) ([]Link, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT doi, author_id, affiliation_id, COALESCE(sequence, '')
		FROM work_author_affiliations WHERE doi = ?
		ORDER BY author_id, affiliation_id`, doi)
	if err != nil {
		return nil, fmt.Errorf("querying links: %w", err)
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.DOI, &l.AuthorID, &l.AffiliationID, &l.Sequence); err != nil {
			return nil, fmt.Errorf("scanning link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// TopicsForWork returns the topics of one work, sorted.
func (d *DB) TopicsForWork(ctx context.Context, doi string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT topic FROM work_topics WHERE doi = ? ORDER BY topic`, doi)
	if err != nil {
		return nil, fmt.Errorf("querying topics: %w", err)
	}
	defer rows.Close()

	var topics []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scanning topic: %w", err)
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// Counts returns the number of rows in each entity table.
func (d *DB) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	for _, q := range []struct {
		table string
		dst   *int
	}{
		{"works", &c.Works},
		{"authors", &c.Authors},
		{"affiliations", &c.Affiliations},
		{"work_author_affiliations", &c.Links},
		{"work_topics", &c.Topics},
		{"runs", &c.Runs},
	} {
		if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+q.table).Scan(q.dst); err != nil {
			return c, fmt.Errorf("counting %s: %w", q.table, err)
		}
	}
	return c, nil
}
