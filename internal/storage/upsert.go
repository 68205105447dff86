package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Author sequence tags.
const (
	SequenceFirst      = "first"
	SequenceAdditional = "additional"
)

// getOrCreate is the insert-if-absent-else-enrich primitive shared by every
// keyed entity. match looks the entity up; on a hit enrich is applied to the
// existing key, on a miss create inserts it. It reports whether a row was
// created.
func getOrCreate[K any](
	ctx context.Context,
	match func(context.Context) (K, bool, error),
	create func(context.Context) (K, error),
	enrich func(context.Context, K) error,
) (K, bool, error) {
	key, found, err := match(ctx)
	if err != nil {
		return key, false, err
	}
	if found {
		if enrich != nil {
			if err := enrich(ctx, key); err != nil {
				return key, false, err
			}
		}
		return key, false, nil
	}
	key, err = create(ctx)
	return key, err == nil, err
}

// queryID scans a single int64 column, reporting false on no rows.
func (t *Tx) queryID(ctx context.Context, query string, args ...any) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// GetOrCreateAuthor returns the author for name/searchKey. A row holding the
// same ORCID wins over a name match; a name-matched row lacking an ORCID is
// backfilled with it.
func (t *Tx) GetOrCreateAuthor(ctx context.Context, name, searchKey, orcid string) (int64, error) {
	match := func(ctx context.Context) (int64, bool, error) {
		if orcid != "" {
			id, ok, err := t.queryID(ctx, `SELECT author_id FROM authors WHERE orcid = ?`, orcid)
			if err != nil || ok {
				return id, ok, err
			}
		}
		return t.queryID(ctx, `SELECT author_id FROM authors WHERE search_key = ?`, searchKey)
	}
	create := func(ctx context.Context) (int64, error) {
		res, err := t.tx.ExecContext(ctx,
			`INSERT INTO authors (name, search_key, orcid) VALUES (?, ?, ?)`,
			name, searchKey, nullString(orcid))
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}
	enrich := func(ctx context.Context, id int64) error {
		if orcid == "" {
			return nil
		}
		_, err := t.tx.ExecContext(ctx,
			`UPDATE authors SET orcid = ? WHERE author_id = ? AND orcid IS NULL`, orcid, id)
		return err
	}

	id, _, err := getOrCreate(ctx, match, create, enrich)
	if err != nil {
		return 0, fmt.Errorf("upserting author %q: %w", searchKey, err)
	}
	return id, nil
}

// GetOrCreateAffiliation returns the affiliation for searchKey. An existing
// row still at the unassigned site is upgraded to siteID; an assigned site is
// never changed.
func (t *Tx) GetOrCreateAffiliation(ctx context.Context, display, searchKey string, siteID int) (int64, error) {
	match := func(ctx context.Context) (int64, bool, error) {
		return t.queryID(ctx, `SELECT affiliation_id FROM affiliations WHERE search_key = ?`, searchKey)
	}
	create := func(ctx context.Context) (int64, error) {
		res, err := t.tx.ExecContext(ctx,
			`INSERT INTO affiliations (display, search_key, site_id) VALUES (?, ?, ?)`,
			display, searchKey, siteID)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}
	enrich := func(ctx context.Context, id int64) error {
		_, err := t.tx.ExecContext(ctx, `
			UPDATE affiliations SET site_id = ?
			WHERE affiliation_id = ? AND site_id = ? AND ? != ?`,
			siteID, id, siteUnassigned, siteID, siteUnassigned)
		return err
	}

	id, _, err := getOrCreate(ctx, match, create, enrich)
	if err != nil {
		return 0, fmt.Errorf("upserting affiliation %q: %w", searchKey, err)
	}
	return id, nil
}

// UpdateAffiliationFacets merges classification facets into an affiliation.
// The target flag only goes from false to true. Country fields are written
// only while empty.
func (t *Tx) UpdateAffiliationFacets(ctx context.Context, id int64, isTarget bool, countryCode, countryName string) error {
	target := 0
	if isTarget {
		target = 1
	}
	_, err := t.tx.ExecContext(ctx, `
		UPDATE affiliations SET
			is_target = MAX(is_target, ?),
			country_name = CASE WHEN country_code IS NULL THEN ? ELSE country_name END,
			country_code = COALESCE(country_code, ?)
		WHERE affiliation_id = ?`,
		target, nullString(countryName), nullString(countryCode), id)
	if err != nil {
		return fmt.Errorf("updating affiliation %d facets: %w", id, err)
	}
	return nil
}

// Work is a persisted bibliographic record.
type Work struct {
	DOI             string `json:"doi"`
	Title           string `json:"title,omitempty"`
	Year            *int   `json:"year,omitempty"`
	Venue           string `json:"venue,omitempty"`
	Publisher       string `json:"publisher,omitempty"`
	Type            string `json:"type,omitempty"`
	Citations       *int   `json:"citations,omitempty"`
	ReferencesCount *int   `json:"references_count,omitempty"`
	PublishedDate   string `json:"published_date,omitempty"`
	DatePrecision   int    `json:"date_precision,omitempty"` // date parts known: 1 year, 2 month, 3 day
	RunID           int64  `json:"run_id,omitempty"`
}

// RecordWork inserts w unless its DOI is already stored. Existing rows are
// never updated. It reports whether a row was inserted.
func (t *Tx) RecordWork(ctx context.Context, w Work) (bool, error) {
	runID := sql.NullInt64{Int64: w.RunID, Valid: w.RunID != 0}
	res, err := t.tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO works (
			doi, title, year, venue, publisher, type,
			citations, references_count, published_date, date_precision, run_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.DOI, nullString(w.Title), nullInt(w.Year), nullString(w.Venue),
		nullString(w.Publisher), nullString(w.Type), nullInt(w.Citations),
		nullInt(w.ReferencesCount), nullString(w.PublishedDate), nullPositive(w.DatePrecision), runID)
	if err != nil {
		return false, fmt.Errorf("recording work %s: %w", w.DOI, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// WorkExists reports whether a work with doi is stored.
func (t *Tx) WorkExists(ctx context.Context, doi string) (bool, error) {
	_, ok, err := t.queryID(ctx, `SELECT 1 FROM works WHERE doi = ?`, doi)
	if err != nil {
		return false, fmt.Errorf("checking work %s: %w", doi, err)
	}
	return ok, nil
}

// LinkWorkAuthorAffiliation inserts the (work, author, affiliation) edge if
// absent. On an existing edge the sequence becomes "first" when "first" is
// requested, is filled when empty, and is otherwise kept.
func (t *Tx) LinkWorkAuthorAffiliation(ctx context.Context, doi string, authorID, affiliationID int64, sequence string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO work_author_affiliations (doi, author_id, affiliation_id, sequence)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (doi, author_id, affiliation_id) DO UPDATE SET
			sequence = CASE
				WHEN excluded.sequence = 'first' THEN 'first'
				WHEN sequence IS NULL THEN excluded.sequence
				ELSE sequence
			END`,
		doi, authorID, affiliationID, nullString(sequence))
	if err != nil {
		return fmt.Errorf("linking %s/%d/%d: %w", doi, authorID, affiliationID, err)
	}
	return nil
}

// RecordTopic inserts the (work, topic) pair if absent and reports whether it
// was new.
func (t *Tx) RecordTopic(ctx context.Context, doi, topic string) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO work_topics (doi, topic) VALUES (?, ?)`, doi, topic)
	if err != nil {
		return false, fmt.Errorf("recording topic for %s: %w", doi, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
