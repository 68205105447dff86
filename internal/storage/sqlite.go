// Package storage is the relational store for harvested works.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/crossharvest/crossharvest/internal/classify"
)

// DB wraps a SQLite database connection.
type DB struct {
	db *sql.DB
}

// OpenDB opens or creates a SQLite database at the given path, creates the
// schema if needed, and seeds the built-in site catalog.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	d := &DB{db: db}
	if err := d.SeedSites(context.Background(), classify.DefaultSites); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

func applyPragmas(db *sql.DB) error {
	for _, p := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// createSchema creates the database schema if it doesn't exist.
func createSchema(db *sql.DB) error {
	schema := `
		-- Sub-units of the target institution
		CREATE TABLE IF NOT EXISTS sites (
			site_id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			area TEXT,
			keywords TEXT NOT NULL DEFAULT ''
		);

		-- Run provenance, append-only
		CREATE TABLE IF NOT EXISTS runs (
			run_id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_key TEXT NOT NULL UNIQUE,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			query TEXT NOT NULL,
			query_hash TEXT NOT NULL,
			cursor_start TEXT,
			cursor_end TEXT,
			rows_ingested INTEGER NOT NULL DEFAULT 0,
			outcome TEXT,
			notes TEXT,
			error TEXT
		);

		CREATE TABLE IF NOT EXISTS works (
			doi TEXT PRIMARY KEY,
			title TEXT,
			year INTEGER,
			venue TEXT,
			publisher TEXT,
			type TEXT,
			citations INTEGER,
			references_count INTEGER,
			published_date TEXT,
			date_precision INTEGER,
			run_id INTEGER REFERENCES runs(run_id)
		);

		CREATE TABLE IF NOT EXISTS work_topics (
			doi TEXT NOT NULL REFERENCES works(doi),
			topic TEXT NOT NULL,
			PRIMARY KEY (doi, topic)
		);

		CREATE TABLE IF NOT EXISTS authors (
			author_id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			search_key TEXT NOT NULL UNIQUE,
			orcid TEXT
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_authors_orcid ON authors(orcid) WHERE orcid IS NOT NULL;

		CREATE TABLE IF NOT EXISTS affiliations (
			affiliation_id INTEGER PRIMARY KEY AUTOINCREMENT,
			display TEXT NOT NULL,
			search_key TEXT NOT NULL UNIQUE,
			site_id INTEGER NOT NULL DEFAULT 4 REFERENCES sites(site_id),
			country_code TEXT,
			country_name TEXT,
			is_target INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS work_author_affiliations (
			doi TEXT NOT NULL REFERENCES works(doi),
			author_id INTEGER NOT NULL REFERENCES authors(author_id),
			affiliation_id INTEGER NOT NULL REFERENCES affiliations(affiliation_id),
			sequence TEXT,
			PRIMARY KEY (doi, author_id, affiliation_id)
		);

		CREATE INDEX IF NOT EXISTS idx_works_year ON works(year);
		CREATE INDEX IF NOT EXISTS idx_works_published ON works(published_date);
		CREATE INDEX IF NOT EXISTS idx_waa_author ON work_author_affiliations(author_id);
		CREATE INDEX IF NOT EXISTS idx_waa_affiliation ON work_author_affiliations(affiliation_id);
		CREATE INDEX IF NOT EXISTS idx_affiliations_site ON affiliations(site_id);
		CREATE INDEX IF NOT EXISTS idx_affiliations_country ON affiliations(country_code);
		CREATE INDEX IF NOT EXISTS idx_affiliations_target ON affiliations(is_target);

		-- Denormalized view for reporting, rebuilt wholesale
		CREATE TABLE IF NOT EXISTS analysis_view (
			doi TEXT PRIMARY KEY,
			title TEXT,
			year INTEGER,
			venue TEXT,
			publisher TEXT,
			type TEXT,
			citations INTEGER,
			references_count INTEGER,
			published_date TEXT,
			date_precision INTEGER,
			authors TEXT,
			affiliations TEXT,
			sites TEXT,
			areas TEXT,
			countries TEXT,
			country_codes TEXT,
			target_flag INTEGER NOT NULL DEFAULT 0,
			topics TEXT
		);
	`

	_, err := db.Exec(schema)
	return err
}

// Tx is one store transaction. All reconciliation writes go through a Tx.
type Tx struct {
	tx *sql.Tx
}

// InTx runs fn in a transaction, committing if fn returns nil and rolling
// back otherwise.
func (d *DB) InTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// nullString maps "" to NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullInt maps nil to NULL.
func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

// nullPositive maps values <= 0 to NULL.
func nullPositive(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n > 0}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
