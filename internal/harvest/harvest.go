// Package harvest drives a paginated Crossref harvest from the first cursor
// to a terminal outcome, recording run provenance.
package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/crossharvest/crossharvest/internal/config"
	"github.com/crossharvest/crossharvest/internal/crossref"
	"github.com/crossharvest/crossharvest/internal/logger"
	"github.com/crossharvest/crossharvest/internal/reconcile"
	"github.com/crossharvest/crossharvest/internal/storage"
)

// Outcome is the terminal state of a run.
type Outcome string

const (
	Exhausted      Outcome = "exhausted"
	LimitReached   Outcome = "limit-reached"
	StalledCursor  Outcome = "stalled-cursor"
	NoHitsStreak   Outcome = "no-hits-streak"
	TransportError Outcome = "transport-error"
	StoreError     Outcome = "store-error"
	Canceled       Outcome = "canceled"
)

// PageFetcher retrieves one page of results.
type PageFetcher interface {
	FetchPage(ctx context.Context, q crossref.Query) (*crossref.Page, error)
}

// RecordReconciler persists one fetched record.
type RecordReconciler interface {
	Reconcile(ctx context.Context, runID int64, w crossref.Work) (reconcile.Result, error)
}

// RunStore owns the run provenance records.
type RunStore interface {
	StartRun(ctx context.Context, query, cursorStart, notes string) (*storage.Run, error)
	FinishRun(ctx context.Context, id int64, end storage.RunEnd) error
}

// Options are the stopping rules and first request of a harvest.
type Options struct {
	Query             crossref.Query
	MaxWorks          int
	NoHitsLimit       int
	MaxMalformedPages int
	MalformedPause    time.Duration
	Notes             string
}

// OptionsFromConfig derives harvest options from the configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Query:             cfg.Query(),
		MaxWorks:          cfg.MaxWorks,
		NoHitsLimit:       cfg.NoHitsLimit,
		MaxMalformedPages: cfg.MaxMalformedPages,
		MalformedPause:    cfg.MalformedPause,
		Notes: fmt.Sprintf("max_works=%d; no_hits_limit=%d; use_variants=%t; insert_topics=%t",
			cfg.MaxWorks, cfg.NoHitsLimit, cfg.UseVariants, cfg.InsertTopics),
	}
}

// Result summarizes a finished run.
type Result struct {
	RunID          int64    `json:"run_id"`
	RunKey         string   `json:"run_key"`
	Outcome        Outcome  `json:"outcome"`
	Pages          int      `json:"pages"`
	Accepted       int      `json:"accepted"`
	Discarded      int      `json:"discarded"`
	SkippedSeen    int      `json:"skipped_seen"`
	SkippedStored  int      `json:"skipped_existing"`
	SkippedInvalid int      `json:"skipped_invalid"`
	Links          int      `json:"links"`
	Topics         int      `json:"topics"`
	MalformedPages int      `json:"malformed_pages"`
	NoHitsStreak   int      `json:"no_hits_streak"`
	Degradations   []string `json:"degradations,omitempty"`
	CursorStart    string   `json:"cursor_start"`
	CursorEnd      string   `json:"cursor_end"`
	Error          string   `json:"error,omitempty"`
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Harvester runs one harvest. It is single-threaded: one page in flight and
// one record reconciled at a time.
type Harvester struct {
	fetcher    PageFetcher
	reconciler RecordReconciler
	runs       RunStore
	opts       Options
	log        *logger.Logger
	sleep      SleepFunc
}

// Option configures a Harvester.
type Option func(*Harvester)

// WithLogger sets the progress logger.
func WithLogger(l *logger.Logger) Option {
	return func(h *Harvester) {
		h.log = l
	}
}

// WithSleep replaces the pause used after malformed pages (for testing).
func WithSleep(fn SleepFunc) Option {
	return func(h *Harvester) {
		h.sleep = fn
	}
}

// New creates a Harvester.
func New(fetcher PageFetcher, reconciler RecordReconciler, runs RunStore, opts Options, options ...Option) *Harvester {
	h := &Harvester{
		fetcher:    fetcher,
		reconciler: reconciler,
		runs:       runs,
		opts:       opts,
		log:        logger.Nop(),
		sleep:      crossref.SleepContext,
	}
	for _, o := range options {
		o(h)
	}
	if h.opts.MaxMalformedPages <= 0 {
		h.opts.MaxMalformedPages = 1
	}
	return h
}

// Signature renders the query parameters that identify a harvest, without
// the cursor.
func Signature(q crossref.Query) string {
	values := q.Values()
	values.Del("cursor")
	flat := make(map[string]string, len(values))
	for k := range values {
		flat[k] = values.Get(k)
	}
	data, _ := json.Marshal(flat) // map keys are sorted
	return string(data)
}

// Run executes the harvest. The returned Result is non-nil whenever the run
// record was created, including when an error ends the run; the run record
// is always finalized.
func (h *Harvester) Run(ctx context.Context) (*Result, error) {
	query := h.opts.Query
	if query.Cursor == "" {
		query.Cursor = crossref.InitialCursor
	}

	run, err := h.runs.StartRun(ctx, Signature(query), query.Cursor, h.opts.Notes)
	if err != nil {
		return nil, fmt.Errorf("starting run: %w", err)
	}

	res := &Result{RunID: run.ID, RunKey: run.Key, CursorStart: query.Cursor}
	log := h.log.With("run", run.ID)
	log.Info("harvest started", "query", run.Query, "max_works", h.opts.MaxWorks, "no_hits_limit", h.opts.NoHitsLimit)

	outcome, runErr := h.loop(ctx, run.ID, &query, res, log)
	res.Outcome = outcome
	res.CursorEnd = query.Cursor
	if runErr != nil {
		res.Error = runErr.Error()
	}

	// Provenance is written even when ctx was canceled.
	end := storage.RunEnd{
		CursorEnd:    res.CursorEnd,
		RowsIngested: res.Accepted,
		Outcome:      string(outcome),
		Error:        res.Error,
	}
	if err := h.runs.FinishRun(context.WithoutCancel(ctx), run.ID, end); err != nil {
		log.Error("finalizing run failed", "error", err)
		runErr = errors.Join(runErr, fmt.Errorf("finalizing run: %w", err))
	}

	log.Info("harvest finished", "outcome", outcome, "pages", res.Pages, "accepted", res.Accepted, "cursor", res.CursorEnd)
	return res, runErr
}

// loop is the PAGING state. It returns the terminal outcome and, for
// transport, store and cancellation outcomes, the cause.
func (h *Harvester) loop(ctx context.Context, runID int64, query *crossref.Query, res *Result, log *logger.Logger) (Outcome, error) {
	malformed := 0
	streak := 0

	for {
		if res.Accepted >= h.opts.MaxWorks {
			return LimitReached, nil
		}
		if err := ctx.Err(); err != nil {
			return Canceled, err
		}

		page, err := h.fetcher.FetchPage(ctx, *query)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return Canceled, ctx.Err()
			case crossref.IsTransient(err):
				malformed++
				res.MalformedPages++
				if malformed >= h.opts.MaxMalformedPages {
					return TransportError, fmt.Errorf("%d consecutive malformed pages: %w", malformed, err)
				}
				log.Warn("malformed page, retrying same cursor", "cursor", query.Cursor, "error", err, "pause", h.opts.MalformedPause)
				if err := h.sleep(ctx, h.opts.MalformedPause); err != nil {
					return Canceled, err
				}
				continue
			case crossref.IsFatal(err):
				return TransportError, err
			default:
				return TransportError, fmt.Errorf("fetching page: %w", err)
			}
		}
		malformed = 0
		res.Pages++

		if len(page.Degradations) > 0 {
			for _, d := range page.Degradations {
				res.Degradations = append(res.Degradations, string(d))
			}
			// Keep the narrowed shape for later pages.
			cursor := query.Cursor
			*query = page.Effective
			query.Cursor = cursor
		}

		if len(page.Items) == 0 {
			log.Info("no more results", "page", res.Pages)
			return Exhausted, nil
		}

		accepted := 0
		for _, item := range page.Items {
			if res.Accepted >= h.opts.MaxWorks {
				break
			}
			r, err := h.reconciler.Reconcile(ctx, runID, item)
			if err != nil {
				if ctx.Err() != nil {
					return Canceled, ctx.Err()
				}
				return StoreError, err
			}
			h.tally(res, r)
			if r.Outcome == reconcile.Accepted {
				accepted++
			}
		}

		if accepted == 0 {
			streak++
		} else {
			streak = 0
		}
		res.NoHitsStreak = streak
		log.Info("page processed", "page", res.Pages, "items", len(page.Items), "accepted", accepted, "total", res.Accepted, "streak", streak)

		if res.Accepted >= h.opts.MaxWorks {
			return LimitReached, nil
		}
		if streak >= h.opts.NoHitsLimit {
			return NoHitsStreak, nil
		}
		if page.NextCursor == "" || page.NextCursor == query.Cursor {
			return StalledCursor, nil
		}
		query.Cursor = page.NextCursor
	}
}

func (h *Harvester) tally(res *Result, r reconcile.Result) {
	switch r.Outcome {
	case reconcile.Accepted:
		res.Accepted++
		res.Links += r.Links
		res.Topics += r.Topics
	case reconcile.Discarded:
		res.Discarded++
	case reconcile.SkippedSeen:
		res.SkippedSeen++
	case reconcile.SkippedExisting:
		res.SkippedStored++
	case reconcile.SkippedInvalid:
		res.SkippedInvalid++
	}
}
