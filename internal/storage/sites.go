package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/crossharvest/crossharvest/internal/classify"
)

const siteUnassigned = classify.SiteUnassigned

// SeedSites inserts any missing catalog entries. Existing rows are left as is.
func (d *DB) SeedSites(ctx context.Context, sites []classify.Site) error {
	return d.InTx(ctx, func(tx *Tx) error {
		for _, s := range sites {
			if _, err := tx.tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO sites (site_id, name, area, keywords) VALUES (?, ?, ?, ?)`,
				s.ID, s.Name, nullString(s.Area), strings.Join(s.Keywords, ";")); err != nil {
				return fmt.Errorf("seeding site %d: %w", s.ID, err)
			}
		}
		return nil
	})
}

// UpsertSites inserts new catalog entries and updates the name, area and
// keywords of existing ones.
func (d *DB) UpsertSites(ctx context.Context, sites []classify.Site) error {
	return d.InTx(ctx, func(tx *Tx) error {
		for _, s := range sites {
			if _, err := tx.tx.ExecContext(ctx, `
				INSERT INTO sites (site_id, name, area, keywords) VALUES (?, ?, ?, ?)
				ON CONFLICT (site_id) DO UPDATE SET
					name = excluded.name,
					area = excluded.area,
					keywords = excluded.keywords`,
				s.ID, s.Name, nullString(s.Area), strings.Join(s.Keywords, ";")); err != nil {
				return fmt.Errorf("upserting site %d: %w", s.ID, err)
			}
		}
		return nil
	})
}

// ListSites returns the catalog ordered by site id.
func (d *DB) ListSites(ctx context.Context) ([]classify.Site, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT site_id, name, COALESCE(area, ''), keywords FROM sites ORDER BY site_id`)
	if err != nil {
		return nil, fmt.Errorf("querying sites: %w", err)
	}
	defer rows.Close()

	var sites []classify.Site
	for rows.Next() {
		var s classify.Site
		var keywords string
		if err := rows.Scan(&s.ID, &s.Name, &s.Area, &keywords); err != nil {
			return nil, fmt.Errorf("scanning site: %w", err)
		}
		for _, kw := range strings.Split(keywords, ";") {
			if kw = strings.TrimSpace(kw); kw != "" {
				s.Keywords = append(s.Keywords, kw)
			}
		}
		sites = append(sites, s)
	}
	return sites, rows.Err()
}

// RelabelAffiliations re-runs site assignment over target affiliations still
// at the unassigned site. assign maps a search key to a site id; results
// equal to the unassigned site are ignored, so labels are only upgraded.
// It returns the number of affiliations relabeled.
func (d *DB) RelabelAffiliations(ctx context.Context, assign func(searchKey string) int) (int, error) {
	type pending struct {
		id  int64
		key string
	}

	var todo []pending
	rows, err := d.db.QueryContext(ctx,
		`SELECT affiliation_id, search_key FROM affiliations WHERE is_target = 1 AND site_id = ?`,
		siteUnassigned)
	if err != nil {
		return 0, fmt.Errorf("querying unassigned affiliations: %w", err)
	}
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.key); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning affiliation: %w", err)
		}
		todo = append(todo, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	relabeled := 0
	err = d.InTx(ctx, func(tx *Tx) error {
		for _, p := range todo {
			site := assign(p.key)
			if site == siteUnassigned || site == 0 {
				continue
			}
			res, err := tx.tx.ExecContext(ctx,
				`UPDATE affiliations SET site_id = ? WHERE affiliation_id = ? AND site_id = ?`,
				site, p.id, siteUnassigned)
			if err != nil {
				return fmt.Errorf("relabeling affiliation %d: %w", p.id, err)
			}
			n, _ := res.RowsAffected()
			relabeled += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return relabeled, nil
}
