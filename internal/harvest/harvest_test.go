package harvest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/crossharvest/crossharvest/internal/crossref"
	"github.com/crossharvest/crossharvest/internal/reconcile"
	"github.com/crossharvest/crossharvest/internal/storage"
)

type step struct {
	page *crossref.Page
	err  error
}

// fakeFetcher replays steps in order, then repeats the last one.
type fakeFetcher struct {
	steps   []step
	queries []crossref.Query
}

func (f *fakeFetcher) FetchPage(_ context.Context, q crossref.Query) (*crossref.Page, error) {
	f.queries = append(f.queries, q)
	i := len(f.queries) - 1
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	s := f.steps[i]
	if s.err != nil {
		return nil, s.err
	}
	p := *s.page
	if p.Effective.Rows == 0 {
		p.Effective = q
	}
	return &p, nil
}

// fakeReconciler accepts DOIs containing "ups" and discards the rest.
type fakeReconciler struct {
	calls int
	err   error
	seen  map[string]bool
}

func (r *fakeReconciler) Reconcile(_ context.Context, _ int64, w crossref.Work) (reconcile.Result, error) {
	r.calls++
	if r.err != nil {
		return reconcile.Result{}, r.err
	}
	if r.seen == nil {
		r.seen = map[string]bool{}
	}
	if r.seen[w.DOI] {
		return reconcile.Result{DOI: w.DOI, Outcome: reconcile.SkippedSeen}, nil
	}
	if strings.Contains(w.DOI, "ups") {
		r.seen[w.DOI] = true
		return reconcile.Result{DOI: w.DOI, Outcome: reconcile.Accepted, Links: 1}, nil
	}
	return reconcile.Result{DOI: w.DOI, Outcome: reconcile.Discarded}, nil
}

type fakeRuns struct {
	started  int
	finished []storage.RunEnd
	query    string
	notes    string
}

func (f *fakeRuns) StartRun(_ context.Context, query, cursorStart, notes string) (*storage.Run, error) {
	f.started++
	f.query, f.notes = query, notes
	return &storage.Run{ID: 7, Key: "key", Query: query, CursorStart: cursorStart}, nil
}

func (f *fakeRuns) FinishRun(_ context.Context, id int64, end storage.RunEnd) error {
	f.finished = append(f.finished, end)
	return nil
}

func works(dois ...string) []crossref.Work {
	out := make([]crossref.Work, len(dois))
	for i, d := range dois {
		out[i] = crossref.Work{DOI: d}
	}
	return out
}

func page(next string, dois ...string) step {
	return step{page: &crossref.Page{Items: works(dois...), NextCursor: next}}
}

func testOptions() Options {
	return Options{
		Query: crossref.Query{
			AffiliationQuery: "Universidad Politécnica Salesiana",
			Filter:           crossref.Filter{HasAffiliation: true, FromPubDate: "2022-01-01"},
			Rows:             2,
			Select:           []string{"DOI"},
		},
		MaxWorks:          100,
		NoHitsLimit:       3,
		MaxMalformedPages: 3,
		MalformedPause:    1500 * time.Millisecond,
	}
}

func run(t *testing.T, f *fakeFetcher, r RecordReconciler, opts Options) (*Result, *fakeRuns, []time.Duration, error) {
	t.Helper()
	runs := &fakeRuns{}
	var sleeps []time.Duration
	h := New(f, r, runs, opts, WithSleep(func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}))
	res, err := h.Run(context.Background())
	if res == nil {
		t.Fatalf("Run() returned nil result, err = %v", err)
	}
	if len(runs.finished) != 1 {
		t.Fatalf("FinishRun called %d times, want 1", len(runs.finished))
	}
	end := runs.finished[0]
	if end.Outcome != string(res.Outcome) || end.RowsIngested != res.Accepted || end.CursorEnd != res.CursorEnd {
		t.Errorf("provenance %+v does not match result %+v", end, res)
	}
	return res, runs, sleeps, err
}

func TestRun_ExhaustedOnEmptyPage(t *testing.T) {
	f := &fakeFetcher{steps: []step{
		page("c1", "10.1/ups-a", "10.1/mit"),
		page("c2", "10.1/ups-b"),
		page("c3"),
	}}
	res, _, _, err := run(t, f, &fakeReconciler{}, testOptions())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != Exhausted {
		t.Errorf("Outcome = %s, want exhausted", res.Outcome)
	}
	if res.Pages != 3 || res.Accepted != 2 || res.Discarded != 1 || res.Links != 2 {
		t.Errorf("result = %+v", res)
	}
	wantCursors := []string{"*", "c1", "c2"}
	for i, q := range f.queries {
		if q.Cursor != wantCursors[i] {
			t.Errorf("request %d cursor = %q, want %q", i, q.Cursor, wantCursors[i])
		}
	}
	if res.CursorEnd != "c2" {
		t.Errorf("CursorEnd = %q, want c2", res.CursorEnd)
	}
}

func TestRun_StalledCursor(t *testing.T) {
	tests := []struct {
		name  string
		steps []step
		pages int
	}{
		{"unchanging cursor", []step{page("c1", "10.1/ups-a"), page("c1", "10.1/ups-b")}, 2},
		{"missing cursor", []step{page("", "10.1/ups-a")}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeFetcher{steps: tt.steps}
			res, _, _, err := run(t, f, &fakeReconciler{}, testOptions())
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if res.Outcome != StalledCursor {
				t.Errorf("Outcome = %s, want stalled-cursor", res.Outcome)
			}
			if res.Pages != tt.pages {
				t.Errorf("Pages = %d, want %d", res.Pages, tt.pages)
			}
		})
	}
}

func TestRun_NoHitsStreak(t *testing.T) {
	var steps []step
	steps = append(steps, page("c0", "10.1/ups-a"))
	for i := 1; i <= 10; i++ {
		steps = append(steps, page(fmt.Sprintf("c%d", i), fmt.Sprintf("10.1/mit-%d", i)))
	}
	f := &fakeFetcher{steps: steps}

	res, _, _, err := run(t, f, &fakeReconciler{}, testOptions())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != NoHitsStreak {
		t.Errorf("Outcome = %s, want no-hits-streak", res.Outcome)
	}
	// One page with a hit, then NoHitsLimit empty ones.
	if res.Pages != 4 || res.NoHitsStreak != 3 {
		t.Errorf("Pages = %d, NoHitsStreak = %d; want 4, 3", res.Pages, res.NoHitsStreak)
	}
}

func TestRun_StreakResetsOnHit(t *testing.T) {
	f := &fakeFetcher{steps: []step{
		page("c1", "10.1/mit-1"),
		page("c2", "10.1/mit-2"),
		page("c3", "10.1/ups-a"),
		page("c4", "10.1/mit-3"),
		page("c5", "10.1/mit-4"),
		page("c6"),
	}}
	res, _, _, err := run(t, f, &fakeReconciler{}, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Exhausted {
		t.Errorf("Outcome = %s, want exhausted", res.Outcome)
	}
}

func TestRun_LimitReachedWithinPage(t *testing.T) {
	f := &fakeFetcher{steps: []step{
		page("c1", "10.1/ups-a", "10.1/ups-b", "10.1/ups-c"),
	}}
	r := &fakeReconciler{}
	opts := testOptions()
	opts.MaxWorks = 2

	res, _, _, err := run(t, f, r, opts)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != LimitReached || res.Accepted != 2 {
		t.Errorf("Outcome = %s, Accepted = %d; want limit-reached, 2", res.Outcome, res.Accepted)
	}
	if r.calls != 2 {
		t.Errorf("reconciled %d items, want 2", r.calls)
	}
}

func TestRun_LimitCheckedBeforeStreakAndCursor(t *testing.T) {
	f := &fakeFetcher{steps: []step{page("", "10.1/ups-a")}}
	opts := testOptions()
	opts.MaxWorks = 1

	res, _, _, err := run(t, f, &fakeReconciler{}, opts)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != LimitReached {
		t.Errorf("Outcome = %s, want limit-reached", res.Outcome)
	}
}

func TestRun_TransportError(t *testing.T) {
	fatal := &crossref.TransportError{StatusCode: 503, Attempts: 6, Err: crossref.ErrUnavailable}
	f := &fakeFetcher{steps: []step{page("c1", "10.1/ups-a"), {err: fatal}}}

	res, runs, _, err := run(t, f, &fakeReconciler{}, testOptions())
	if !errors.Is(err, crossref.ErrUnavailable) {
		t.Fatalf("Run() error = %v, want ErrUnavailable", err)
	}
	if res.Outcome != TransportError || res.Accepted != 1 {
		t.Errorf("result = %+v", res)
	}
	if runs.finished[0].Error == "" {
		t.Error("run record should carry the error")
	}
	if res.CursorEnd != "c1" {
		t.Errorf("CursorEnd = %q, want c1", res.CursorEnd)
	}
}

func TestRun_TransportErrorKeepsDetail(t *testing.T) {
	fatal := &crossref.TransportError{StatusCode: 400, Attempts: 1, Body: "bad filter", Err: crossref.ErrBadRequest}
	f := &fakeFetcher{steps: []step{{err: fatal}}}

	res, _, _, err := run(t, f, &fakeReconciler{}, testOptions())
	var te *crossref.TransportError
	if !errors.As(err, &te) || te.StatusCode != 400 || te.Body != "bad filter" {
		t.Fatalf("Run() error = %v, want *TransportError with status and body", err)
	}
	if res.Error != fatal.Error() {
		t.Errorf("Error = %q, want %q", res.Error, fatal.Error())
	}
}

func TestRun_OtherFetchErrorEndsRun(t *testing.T) {
	limiter := errors.New("rate: Wait(n=1) exceeds limiter's burst")
	f := &fakeFetcher{steps: []step{{err: limiter}}}

	res, _, _, err := run(t, f, &fakeReconciler{}, testOptions())
	if !errors.Is(err, limiter) || !strings.Contains(err.Error(), "fetching page") {
		t.Fatalf("Run() error = %v, want wrapped fetch error", err)
	}
	if res.Outcome != TransportError || len(f.queries) != 1 {
		t.Errorf("result = %+v, queries = %d", res, len(f.queries))
	}
}

func TestRun_MalformedPagesRetrySameCursor(t *testing.T) {
	bad := fmt.Errorf("%w: unexpected EOF", crossref.ErrInvalidResponse)
	f := &fakeFetcher{steps: []step{
		page("c1", "10.1/ups-a"),
		{err: bad},
		{err: bad},
		page("c2", "10.1/ups-b"),
		page("c3"),
	}}

	res, _, sleeps, err := run(t, f, &fakeReconciler{}, testOptions())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != Exhausted || res.MalformedPages != 2 || res.Accepted != 2 {
		t.Errorf("result = %+v", res)
	}
	for i := 1; i <= 3; i++ {
		if f.queries[i].Cursor != "c1" {
			t.Errorf("request %d cursor = %q, want c1", i, f.queries[i].Cursor)
		}
	}
	if len(sleeps) != 2 || sleeps[0] != 1500*time.Millisecond {
		t.Errorf("sleeps = %v", sleeps)
	}
}

func TestRun_MalformedPagesExhaustBudget(t *testing.T) {
	bad := fmt.Errorf("%w: not json", crossref.ErrInvalidResponse)
	f := &fakeFetcher{steps: []step{{err: bad}}}

	res, _, _, err := run(t, f, &fakeReconciler{}, testOptions())
	if !errors.Is(err, crossref.ErrInvalidResponse) {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != TransportError || len(f.queries) != 3 {
		t.Errorf("Outcome = %s after %d requests; want transport-error after 3", res.Outcome, len(f.queries))
	}
}

func TestRun_StoreError(t *testing.T) {
	f := &fakeFetcher{steps: []step{page("c1", "10.1/ups-a")}}
	boom := errors.New("disk full")

	res, _, _, err := run(t, f, &fakeReconciler{err: boom}, testOptions())
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want disk full", err)
	}
	if res.Outcome != StoreError {
		t.Errorf("Outcome = %s, want store-error", res.Outcome)
	}
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runs := &fakeRuns{}
	h := New(&fakeFetcher{steps: []step{page("c1", "10.1/ups-a")}}, &fakeReconciler{}, runs, testOptions())
	res, err := h.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if res.Outcome != Canceled {
		t.Errorf("Outcome = %s, want canceled", res.Outcome)
	}
	if len(runs.finished) != 1 {
		t.Error("canceled run must still be finalized")
	}
}

func TestRun_DegradationCarriesOver(t *testing.T) {
	narrowed := testOptions().Query
	narrowed.Select = nil
	f := &fakeFetcher{steps: []step{
		{page: &crossref.Page{
			Items:        works("10.1/ups-a"),
			NextCursor:   "c1",
			Effective:    narrowed,
			Degradations: []crossref.Degradation{crossref.DropSelect},
		}},
		page("c2", "10.1/ups-b"),
		page("c3"),
	}}

	res, _, _, err := run(t, f, &fakeReconciler{}, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Degradations) != 1 || res.Degradations[0] != string(crossref.DropSelect) {
		t.Errorf("Degradations = %v", res.Degradations)
	}
	if f.queries[1].Select != nil || f.queries[1].Cursor != "c1" {
		t.Errorf("second request = %+v, want narrowed query at c1", f.queries[1])
	}
}

func TestRun_ProvenanceSignature(t *testing.T) {
	f := &fakeFetcher{steps: []step{page("c1")}}
	opts := testOptions()
	opts.Notes = "max_works=100"

	_, runs, _, err := run(t, f, &fakeReconciler{}, opts)
	if err != nil {
		t.Fatal(err)
	}
	if runs.started != 1 || runs.notes != "max_works=100" {
		t.Errorf("runs = %+v", runs)
	}
	if strings.Contains(runs.query, "cursor") {
		t.Errorf("signature should not include the cursor: %s", runs.query)
	}
	if !strings.Contains(runs.query, `"query.affiliation":"Universidad Politécnica Salesiana"`) {
		t.Errorf("signature = %s", runs.query)
	}
}
