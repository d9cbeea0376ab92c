package maintenance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"wikimaint/app/internal/wiki"
)

// PageOutcome records what a revert run decided for one page.
type PageOutcome struct {
	PageID   wiki.PageID
	Previous wiki.RevisionID
	Target   wiki.RevisionID
	// Found is false when the page has no revision before the cutoff.
	Found bool
	// Changed means the pointer differs from Target; on a confirmed run it has been updated.
	Changed bool
}

// RevertReport summarises a PageReverter run.
type RevertReport struct {
	Confirmed bool
	Outcomes  []PageOutcome
	Reverted  int
	Unchanged int
	Missing   int
}

// Reverter points each page back at its latest revision from before the cutoff.
type Reverter struct {
	repo   wiki.Repository
	out    Reporter
	cutoff time.Time
	recorder
}

// NewReverter wires a reverter.
func NewReverter(opts Options) (*Reverter, error) {
	if opts.Repository == nil {
		return nil, eris.New("wiki repository is required")
	}

	return &Reverter{
		repo:     opts.Repository,
		out:      opts.reporter(),
		cutoff:   opts.cutoff(),
		recorder: recorder{logger: opts.Logger, sentryHub: opts.SentryHub},
	}, nil
}

// Run resolves the pre-cutoff revision of every page (limited to pageIDs when non-empty) and,
// when confirm is set, updates the pages' current revision inside a single transaction.
// A dry run only reads and opens no transaction.
func (r *Reverter) Run(ctx context.Context, confirm bool, pageIDs []wiki.PageID) (RevertReport, error) {
	fields := logrus.Fields{
		"component": "maintenance.revert",
		"run_id":    uuid.NewString(),
		"confirm":   confirm,
		"page_ids":  len(pageIDs),
	}
	label := r.cutoff.Format(cutoffLabel)

	r.out.Printf("Reverting pages to their state on %s\n\n", label)
	if len(pageIDs) > 0 {
		r.out.Printf("Limiting to page IDs %s\n", joinPageIDs(pageIDs))
	}

	var report RevertReport
	revert := func(store wiki.Store) error {
		report = RevertReport{Confirmed: confirm}

		r.out.Printf("Fetching pages...")
		pages, err := store.ListPages(ctx, pageIDs)
		if err != nil {
			return err
		}
		r.out.Printf("done.\n")

		for _, page := range pages {
			r.out.Printf("Finding latest revision before %s for page_id: %d\n", label, page.ID)

			stamps, err := store.ListPageRevisionStamps(ctx, page.ID)
			if err != nil {
				return err
			}

			outcome := PageOutcome{PageID: page.ID, Previous: page.Latest}
			target, found := latestBefore(stamps, r.cutoff)
			if !found {
				r.out.Printf("No revision before %s found for page_id: %d\n", label, page.ID)
				report.Missing++
				report.Outcomes = append(report.Outcomes, outcome)
				continue
			}

			outcome.Found = true
			outcome.Target = target
			outcome.Changed = page.Latest != target
			r.out.Printf("Latest revision before the date is rev_id: %d\n", target)

			switch {
			case !outcome.Changed:
				report.Unchanged++
			case confirm:
				r.out.Printf("Reverting page %d to revision %d...\n", page.ID, target)
				updated, err := store.SetCurrentRevision(ctx, page.ID, target)
				if err != nil {
					return err
				}
				if updated != 1 {
					return eris.Errorf("updating page %d affected %d rows", page.ID, updated)
				}
				report.Reverted++
			}

			report.Outcomes = append(report.Outcomes, outcome)
		}

		return nil
	}

	var err error
	if confirm {
		err = r.repo.InTransaction(ctx, revert)
	} else {
		err = revert(r.repo)
	}
	if err != nil {
		r.recordError(fields, err, "reverting pages")
		return RevertReport{Confirmed: confirm}, eris.Wrap(err, "reverting pages")
	}

	if confirm {
		r.out.Printf("All pages reverted successfully.\n")
	} else {
		r.out.Printf("No changes made (run with --delete to perform the reversion).\n")
	}

	r.info(logrus.Fields{
		"component": fields["component"],
		"run_id":    fields["run_id"],
		"confirm":   confirm,
		"pages":     len(report.Outcomes),
		"reverted":  report.Reverted,
		"unchanged": report.Unchanged,
		"missing":   report.Missing,
	}, "page revert complete")

	return report, nil
}

// latestBefore picks the revision with the greatest timestamp strictly before cutoff.
// When several share that timestamp, the first one in stamps wins; callers must not rely on which.
func latestBefore(stamps []wiki.RevisionStamp, cutoff time.Time) (wiki.RevisionID, bool) {
	var (
		best  wiki.RevisionStamp
		found bool
	)
	for _, stamp := range stamps {
		if !stamp.Timestamp.Before(cutoff) {
			continue
		}
		if !found || stamp.Timestamp.After(best.Timestamp.Time) {
			best = stamp
			found = true
		}
	}

	return best.ID, found
}
