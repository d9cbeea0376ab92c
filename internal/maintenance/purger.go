package maintenance

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"wikimaint/app/internal/wiki"
)

// PurgeReport summarises a RevisionPurger run.
type PurgeReport struct {
	Confirmed         bool
	Matched           int
	RevisionIDs       []wiki.RevisionID
	RevisionsDeleted  int64
	IPChangesDeleted  int64
	ChangeTagsDeleted int64
	SlotsDeleted      int64
	ContentsReclaimed int64
	TextsReclaimed    int64
}

// Purger deletes revisions created after the cutoff together with the rows that reference them.
type Purger struct {
	repo      wiki.Repository
	reclaimer wiki.ContentReclaimer
	out       Reporter
	cutoff    time.Time
	recorder
}

// NewPurger wires a purger. The reclaimer is invoked after a confirmed run commits.
func NewPurger(opts Options, reclaimer wiki.ContentReclaimer) (*Purger, error) {
	if opts.Repository == nil {
		return nil, eris.New("wiki repository is required")
	}
	if reclaimer == nil {
		return nil, eris.New("content reclaimer is required")
	}

	return &Purger{
		repo:      opts.Repository,
		reclaimer: reclaimer,
		out:       opts.reporter(),
		cutoff:    opts.cutoff(),
		recorder:  recorder{logger: opts.Logger, sentryHub: opts.SentryHub},
	}, nil
}

// Run reports the revisions newer than the cutoff, limited to pageIDs when non-empty, and deletes
// them when confirm is set. Selection and deletion share one transaction; orphaned text is
// reclaimed only once that transaction has committed.
func (p *Purger) Run(ctx context.Context, confirm bool, pageIDs []wiki.PageID) (PurgeReport, error) {
	fields := logrus.Fields{
		"component": "maintenance.purge",
		"run_id":    uuid.NewString(),
		"confirm":   confirm,
		"page_ids":  len(pageIDs),
	}

	p.out.Printf("Delete new revisions (after %s)\n\n", p.cutoff.Format(cutoffLabel))
	if len(pageIDs) > 0 {
		p.out.Printf("Limiting to page IDs %s\n", joinPageIDs(pageIDs))
	}

	var report PurgeReport
	purge := func(store wiki.Store) error {
		report = PurgeReport{Confirmed: confirm}

		p.out.Printf("Searching for new revisions...")
		ids, err := p.selectNewRevisions(ctx, store, pageIDs)
		if err != nil {
			return err
		}
		p.out.Printf("done.\n")

		report.Matched = len(ids)
		report.RevisionIDs = ids
		p.out.Printf("%d new revisions found.\n", len(ids))

		if !confirm || len(ids) == 0 {
			return nil
		}

		p.out.Printf("Deleting...")
		if report.RevisionsDeleted, err = store.DeleteRevisions(ctx, ids); err != nil {
			return err
		}
		if report.IPChangesDeleted, err = store.DeleteIPChanges(ctx, ids); err != nil {
			return err
		}
		if report.ChangeTagsDeleted, err = store.DeleteChangeTags(ctx, ids); err != nil {
			return err
		}
		if report.SlotsDeleted, err = store.DeleteSlots(ctx, ids); err != nil {
			return err
		}
		p.out.Printf("done.\n")

		return nil
	}

	var err error
	if confirm {
		err = p.repo.InTransaction(ctx, purge)
	} else {
		err = purge(p.repo)
	}
	if err != nil {
		p.recordError(fields, err, "purging new revisions")
		return PurgeReport{Confirmed: confirm}, eris.Wrap(err, "purging new revisions")
	}

	if confirm {
		p.out.Printf("Purging redundant text records...")
		reclaimed, err := p.reclaimer.ReclaimOrphanedContent(ctx, true)
		if err != nil {
			p.recordError(fields, err, "reclaiming orphaned text")
			return report, eris.Wrap(err, "reclaiming orphaned text")
		}
		report.ContentsReclaimed = reclaimed.Contents
		report.TextsReclaimed = reclaimed.Texts
		p.out.Printf("done. %d orphaned text records removed.\n", reclaimed.Texts)
	}

	p.info(logrus.Fields{
		"component":           fields["component"],
		"run_id":              fields["run_id"],
		"confirm":             confirm,
		"matched":             report.Matched,
		"revisions_deleted":   report.RevisionsDeleted,
		"ip_changes_deleted":  report.IPChangesDeleted,
		"change_tags_deleted": report.ChangeTagsDeleted,
		"slots_deleted":       report.SlotsDeleted,
		"contents_reclaimed":  report.ContentsReclaimed,
		"texts_reclaimed":     report.TextsReclaimed,
	}, "revision purge complete")

	return report, nil
}

// selectNewRevisions returns the ids of revisions strictly after the cutoff, ascending.
func (p *Purger) selectNewRevisions(ctx context.Context, store wiki.Store, pageIDs []wiki.PageID) ([]wiki.RevisionID, error) {
	stamps, err := store.ListRevisionStamps(ctx, pageIDs)
	if err != nil {
		return nil, err
	}

	var ids []wiki.RevisionID
	for _, stamp := range stamps {
		if stamp.Timestamp.After(p.cutoff) {
			ids = append(ids, stamp.ID)
		}
	}
	slices.Sort(ids)

	return ids, nil
}
