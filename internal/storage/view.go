package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// ViewRow is one row of the analysis view. Column names are a contract with
// downstream reporting.
type ViewRow struct {
	DOI             string `json:"doi"`
	Title           string `json:"title"`
	Year            *int   `json:"year"`
	Venue           string `json:"venue"`
	Publisher       string `json:"publisher"`
	Type            string `json:"type"`
	Citations       *int   `json:"citations"`
	ReferencesCount *int   `json:"references_count"`
	PublishedDate   string `json:"published_date"`
	DatePrecision   int    `json:"date_precision,omitempty"`
	Authors         string `json:"authors"`
	Affiliations    string `json:"affiliations"`
	Sites           string `json:"sites"`
	Areas           string `json:"areas"`
	Countries       string `json:"countries"`
	CountryCodes    string `json:"country_codes"`
	TargetFlag      bool   `json:"target_flag"`
	Topics          string `json:"topics"`
}

// listSeparator joins aggregated list columns.
const listSeparator = "; "

type stringSet map[string]struct{}

func (s stringSet) add(v string) {
	if v = strings.TrimSpace(v); v != "" {
		s[v] = struct{}{}
	}
}

func (s stringSet) join() string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return strings.Join(out, listSeparator)
}

type viewAgg struct {
	authors, affiliations, sites, areas, countries, codes, topics stringSet
	target                                                        bool
}

func newViewAgg() *viewAgg {
	return &viewAgg{
		authors:      stringSet{},
		affiliations: stringSet{},
		sites:        stringSet{},
		areas:        stringSet{},
		countries:    stringSet{},
		codes:        stringSet{},
		topics:       stringSet{},
	}
}

// RebuildAnalysisView replaces the analysis view with one row per stored
// work. List columns are deduplicated, sorted and joined with "; ".
// It returns the number of rows written.
func (d *DB) RebuildAnalysisView(ctx context.Context) (int, error) {
	works, err := d.ListWorks(ctx)
	if err != nil {
		return 0, err
	}

	aggs := make(map[string]*viewAgg, len(works))
	agg := func(doi string) *viewAgg {
		a, ok := aggs[doi]
		if !ok {
			a = newViewAgg()
			aggs[doi] = a
		}
		return a
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT l.doi, au.name, af.display,
			COALESCE(s.name, ''), COALESCE(s.area, ''),
			COALESCE(af.country_name, ''), COALESCE(af.country_code, ''),
			af.is_target
		FROM work_author_affiliations l
		JOIN authors au ON au.author_id = l.author_id
		JOIN affiliations af ON af.affiliation_id = l.affiliation_id
		LEFT JOIN sites s ON s.site_id = af.site_id`)
	if err != nil {
		return 0, fmt.Errorf("querying links: %w", err)
	}
	for rows.Next() {
		var doi, author, aff, site, area, country, code string
		var target bool
		if err := rows.Scan(&doi, &author, &aff, &site, &area, &country, &code, &target); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning link: %w", err)
		}
		a := agg(doi)
		a.authors.add(author)
		a.affiliations.add(aff)
		a.sites.add(site)
		a.areas.add(area)
		a.countries.add(country)
		a.codes.add(code)
		a.target = a.target || target
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	topics, err := d.db.QueryContext(ctx, `SELECT doi, topic FROM work_topics`)
	if err != nil {
		return 0, fmt.Errorf("querying topics: %w", err)
	}
	for topics.Next() {
		var doi, topic string
		if err := topics.Scan(&doi, &topic); err != nil {
			topics.Close()
			return 0, fmt.Errorf("scanning topic: %w", err)
		}
		agg(doi).topics.add(topic)
	}
	topics.Close()
	if err := topics.Err(); err != nil {
		return 0, err
	}

	err = d.InTx(ctx, func(tx *Tx) error {
		if _, err := tx.tx.ExecContext(ctx, `DELETE FROM analysis_view`); err != nil {
			return fmt.Errorf("clearing analysis view: %w", err)
		}
		stmt, err := tx.tx.PrepareContext(ctx, `
			INSERT INTO analysis_view (
				doi, title, year, venue, publisher, type, citations, references_count,
				published_date, date_precision, authors, affiliations, sites, areas,
				countries, country_codes, target_flag, topics
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing view insert: %w", err)
		}
		defer stmt.Close()

		for _, w := range works {
			a := agg(w.DOI)
			flag := 0
			if a.target {
				flag = 1
			}
			if _, err := stmt.ExecContext(ctx,
				w.DOI, nullString(w.Title), nullInt(w.Year), nullString(w.Venue),
				nullString(w.Publisher), nullString(w.Type), nullInt(w.Citations),
				nullInt(w.ReferencesCount), nullString(w.PublishedDate), nullPositive(w.DatePrecision),
				nullString(a.authors.join()), nullString(a.affiliations.join()),
				nullString(a.sites.join()), nullString(a.areas.join()),
				nullString(a.countries.join()), nullString(a.codes.join()),
				flag, nullString(a.topics.join())); err != nil {
				return fmt.Errorf("writing view row %s: %w", w.DOI, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(works), nil
}

// ListViewRows returns the analysis view ordered by DOI.
func (d *DB) ListViewRows(ctx context.Context) ([]ViewRow, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT doi, COALESCE(title, ''), year, COALESCE(venue, ''), COALESCE(publisher, ''),
			COALESCE(type, ''), citations, references_count, COALESCE(published_date, ''),
			COALESCE(date_precision, 0),
			COALESCE(authors, ''), COALESCE(affiliations, ''), COALESCE(sites, ''),
			COALESCE(areas, ''), COALESCE(countries, ''), COALESCE(country_codes, ''),
			target_flag, COALESCE(topics, '')
		FROM analysis_view ORDER BY doi`)
	if err != nil {
		return nil, fmt.Errorf("querying analysis view: %w", err)
	}
	defer rows.Close()

	var out []ViewRow
	for rows.Next() {
		var r ViewRow
		var year, citations, refs sql.NullInt64
		if err := rows.Scan(&r.DOI, &r.Title, &year, &r.Venue, &r.Publisher, &r.Type,
			&citations, &refs, &r.PublishedDate, &r.DatePrecision, &r.Authors, &r.Affiliations, &r.Sites,
			&r.Areas, &r.Countries, &r.CountryCodes, &r.TargetFlag, &r.Topics); err != nil {
			return nil, fmt.Errorf("scanning view row: %w", err)
		}
		r.Year, r.Citations, r.ReferencesCount = intPtr(year), intPtr(citations), intPtr(refs)
		out = append(out, r)
	}
	return out, rows.Err()
}
