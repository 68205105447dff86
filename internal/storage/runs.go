package storage

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// ErrRunNotFound is returned by GetRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

// Run is one harvest execution's provenance record.
type Run struct {
	ID           int64      `json:"id"`
	Key          string     `json:"key"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Query        string     `json:"query"`
	QueryHash    string     `json:"query_hash"`
	CursorStart  string     `json:"cursor_start,omitempty"`
	CursorEnd    string     `json:"cursor_end,omitempty"`
	RowsIngested int        `json:"rows_ingested"`
	Outcome      string     `json:"outcome,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// RunEnd is the final state written when a run terminates.
type RunEnd struct {
	CursorEnd    string
	RowsIngested int
	Outcome      string
	Notes        string
	Error        string
}

// QueryHash returns the hex BLAKE2b-256 digest of a query signature. Runs
// with the same parameters share a hash.
func QueryHash(query string) string {
	sum := blake2b.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])
}

// StartRun appends a provenance record for a run beginning now.
func (d *DB) StartRun(ctx context.Context, query, cursorStart, notes string) (*Run, error) {
	run := &Run{
		Key:         uuid.NewString(),
		StartedAt:   time.Now().UTC(),
		Query:       query,
		QueryHash:   QueryHash(query),
		CursorStart: cursorStart,
		Notes:       notes,
	}

	res, err := d.db.ExecContext(ctx, `
		INSERT INTO runs (run_key, started_at, query, query_hash, cursor_start, rows_ingested, notes)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		run.Key, run.StartedAt.Format(time.RFC3339Nano), run.Query, run.QueryHash,
		nullString(cursorStart), nullString(notes))
	if err != nil {
		return nil, fmt.Errorf("starting run: %w", err)
	}
	if run.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("starting run: %w", err)
	}
	return run, nil
}

// FinishRun records the end state of run id.
func (d *DB) FinishRun(ctx context.Context, id int64, end RunEnd) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE runs SET
			ended_at = ?, cursor_end = ?, rows_ingested = ?,
			outcome = ?, notes = COALESCE(?, notes), error = ?
		WHERE run_id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), nullString(end.CursorEnd), end.RowsIngested,
		nullString(end.Outcome), nullString(end.Notes), nullString(end.Error), id)
	if err != nil {
		return fmt.Errorf("finishing run %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finishing run %d: %w", id, ErrRunNotFound)
	}
	return nil
}

const selectRunFields = `run_id, run_key, started_at, ended_at, query, query_hash,
	cursor_start, cursor_end, rows_ingested, outcome, notes, error`

// GetRun returns run id.
func (d *DB) GetRun(ctx context.Context, id int64) (*Run, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+selectRunFields+` FROM runs WHERE run_id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %d: %w", id, ErrRunNotFound)
	}
	return run, err
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (d *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + selectRunFields + ` FROM runs ORDER BY run_id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		run                           Run
		started                       string
		ended, cursorStart, cursorEnd sql.NullString
		outcome, notes, errText       sql.NullString
	)
	if err := s.Scan(&run.ID, &run.Key, &started, &ended, &run.Query, &run.QueryHash,
		&cursorStart, &cursorEnd, &run.RowsIngested, &outcome, &notes, &errText); err != nil {
		return nil, err
	}

	t, err := time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at %q: %w", started, err)
	}
	run.StartedAt = t
	if ended.Valid {
		t, err := time.Parse(time.RFC3339Nano, ended.String)
		if err != nil {
			return nil, fmt.Errorf("parsing ended_at %q: %w", ended.String, err)
		}
		run.EndedAt = &t
	}
	run.CursorStart = cursorStart.String
	run.CursorEnd = cursorEnd.String
	run.Outcome = outcome.String
	run.Notes = notes.String
	run.Error = errText.String
	return &run, nil
}
