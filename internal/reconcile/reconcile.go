// Package reconcile turns fetched Crossref records into store rows.
//
// Each record is first planned in memory (normalized and classified) and
// only written when at least one author affiliation names the target
// institution, so records that do not qualify never touch the store.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/crossharvest/crossharvest/internal/classify"
	"github.com/crossharvest/crossharvest/internal/crossref"
	"github.com/crossharvest/crossharvest/internal/normalize"
	"github.com/crossharvest/crossharvest/internal/storage"
)

// Outcome is what happened to one record.
type Outcome int

const (
	// Accepted means the work and its relations were persisted.
	Accepted Outcome = iota
	// SkippedInvalid means the DOI was empty or malformed.
	SkippedInvalid
	// SkippedSeen means the DOI was already handled in this run.
	SkippedSeen
	// SkippedExisting means the DOI was already in the store.
	SkippedExisting
	// Discarded means no affiliation named the target institution.
	Discarded
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case SkippedInvalid:
		return "skipped-invalid"
	case SkippedSeen:
		return "skipped-seen"
	case SkippedExisting:
		return "skipped-existing"
	case Discarded:
		return "discarded"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result reports the reconciliation of one record.
type Result struct {
	DOI          string
	Outcome      Outcome
	Authors      int // distinct authors linked
	Affiliations int // distinct affiliations upserted
	Links        int // association edges written
	Topics       int // new topic rows
}

// Store is the transactional store the reconciler writes to.
type Store interface {
	InTx(ctx context.Context, fn func(*storage.Tx) error) error
}

// Reconciler applies the per-record algorithm. It keeps the set of DOIs
// already handled in the current run and is not safe for concurrent use.
type Reconciler struct {
	store        Store
	classifier   *classify.Classifier
	insertTopics bool
	seen         map[string]struct{}
}

// New creates a Reconciler.
func New(store Store, classifier *classify.Classifier, insertTopics bool) *Reconciler {
	return &Reconciler{
		store:        store,
		classifier:   classifier,
		insertTopics: insertTopics,
		seen:         make(map[string]struct{}),
	}
}

// Seen reports whether doi was already handled in this run.
func (r *Reconciler) Seen(doi string) bool {
	_, ok := r.seen[doi]
	return ok
}

var errAlreadyStored = errors.New("work already stored")

// Reconcile processes one record. runID stamps the work row with the run
// that ingested it; zero leaves it unset. An error is returned only for
// store failures, in which case nothing from this record is committed.
func (r *Reconciler) Reconcile(ctx context.Context, runID int64, w crossref.Work) (Result, error) {
	doi := normalize.StandardizeDOI(w.DOI)
	res := Result{DOI: doi}

	if doi == "" || !normalize.IsWellFormedDOI(doi) {
		res.Outcome = SkippedInvalid
		return res, nil
	}
	if r.Seen(doi) {
		res.Outcome = SkippedSeen
		return res, nil
	}

	plan := r.Plan(doi, w)
	plan.Work.RunID = runID

	err := r.store.InTx(ctx, func(tx *storage.Tx) error {
		exists, err := tx.WorkExists(ctx, doi)
		if err != nil {
			return err
		}
		if exists {
			return errAlreadyStored
		}
		if !plan.HasTarget {
			return nil
		}
		return r.apply(ctx, tx, plan, &res)
	})

	switch {
	case errors.Is(err, errAlreadyStored):
		r.seen[doi] = struct{}{}
		return Result{DOI: doi, Outcome: SkippedExisting}, nil
	case err != nil:
		return Result{DOI: doi}, fmt.Errorf("reconciling %s: %w", doi, err)
	case !plan.HasTarget:
		res.Outcome = Discarded
		return res, nil
	}

	r.seen[doi] = struct{}{}
	res.Outcome = Accepted
	return res, nil
}

// apply writes a qualifying plan inside tx.
func (r *Reconciler) apply(ctx context.Context, tx *storage.Tx, plan *Plan, res *Result) error {
	if _, err := tx.RecordWork(ctx, plan.Work); err != nil {
		return err
	}

	for _, topic := range plan.Topics {
		added, err := tx.RecordTopic(ctx, plan.DOI, topic)
		if err != nil {
			return err
		}
		if added {
			res.Topics++
		}
	}

	affIDs := make(map[string]int64, len(plan.Affiliations))
	for _, f := range plan.Affiliations {
		id, err := tx.GetOrCreateAffiliation(ctx, f.Display, f.Key, f.SiteID)
		if err != nil {
			return err
		}
		if err := tx.UpdateAffiliationFacets(ctx, id, f.IsTarget, f.CountryCode, f.CountryName); err != nil {
			return err
		}
		affIDs[f.Key] = id
	}
	res.Affiliations = len(affIDs)

	// Different name spellings can resolve to one author row through a
	// shared ORCID, so edges are grouped by resolved id.
	type edges struct {
		affs     []int64
		sequence string
	}
	var order []int64
	byAuthor := make(map[int64]*edges)
	for _, a := range plan.Authors {
		id, err := tx.GetOrCreateAuthor(ctx, a.Name, a.Key, a.ORCID)
		if err != nil {
			return err
		}
		e, ok := byAuthor[id]
		if !ok {
			e = &edges{sequence: a.Sequence}
			byAuthor[id] = e
			order = append(order, id)
		}
		e.sequence = bestSequence(e.sequence, a.Sequence)
		for _, key := range a.AffiliationKeys {
			e.affs = append(e.affs, affIDs[key])
		}
	}
	res.Authors = len(order)

	for _, authorID := range order {
		e := byAuthor[authorID]
		linked := make(map[int64]bool, len(e.affs))
		for _, affID := range e.affs {
			if linked[affID] {
				continue
			}
			linked[affID] = true
			if err := tx.LinkWorkAuthorAffiliation(ctx, plan.DOI, authorID, affID, e.sequence); err != nil {
				return err
			}
			res.Links++
		}
	}
	return nil
}

// bestSequence prefers "first", then any non-empty tag.
func bestSequence(current, next string) string {
	if current == storage.SequenceFirst || next == storage.SequenceFirst {
		return storage.SequenceFirst
	}
	if current == "" {
		return next
	}
	return current
}
