package maintenance

import (
	"context"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/rotisserie/eris"

	"wikimaint/app/internal/wiki"
)

func TestNewPurgerRequiresCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := NewPurger(Options{}, &recordingReclaimer{}); err == nil {
		t.Fatalf("expected error without repository")
	}

	f := newFixture(t)
	if _, err := NewPurger(f.options(f.repo), nil); err == nil {
		t.Fatalf("expected error without reclaimer")
	}
}

func TestPurgerDeletesRevisionsAfterCutoff(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedExample(t)

	reclaimer := &recordingReclaimer{db: f.db, reclaimCount: wiki.ReclaimResult{Contents: 2, Texts: 2}}
	purger, err := NewPurger(f.options(f.repo), reclaimer)
	if err != nil {
		t.Fatalf("NewPurger returned error: %v", err)
	}

	report, err := purger.Run(context.Background(), true, nil)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if !slices.Equal(report.RevisionIDs, []wiki.RevisionID{11, 12}) {
		t.Fatalf("expected revisions 11 and 12 to match, got %v", report.RevisionIDs)
	}
	if report.RevisionsDeleted != 2 || report.IPChangesDeleted != 1 || report.ChangeTagsDeleted != 1 {
		t.Fatalf("unexpected delete counts: %+v", report)
	}
	if report.SlotsDeleted != 2 {
		t.Fatalf("expected slots of both revisions to be deleted, got %d", report.SlotsDeleted)
	}
	if report.TextsReclaimed != 2 || report.ContentsReclaimed != 2 {
		t.Fatalf("expected reclaimed counts from reclaimer, got %+v", report)
	}

	if got := f.revisionIDs(t); !slices.Equal(got, []wiki.RevisionID{10}) {
		t.Fatalf("expected only revision 10 to remain, got %v", got)
	}
	if n := f.count(t, &wiki.IPChange{}); n != 0 {
		t.Fatalf("expected ip_changes rows to be deleted, found %d", n)
	}
	if n := f.count(t, &wiki.ChangeTag{}); n != 0 {
		t.Fatalf("expected change_tag rows to be deleted, found %d", n)
	}
	if n := f.count(t, &wiki.Slot{}); n != 1 {
		t.Fatalf("expected only revision 10's slot to remain, found %d", n)
	}

	if !slices.Equal(reclaimer.calls, []bool{true}) {
		t.Fatalf("expected one forced reclaim, got %v", reclaimer.calls)
	}
	if reclaimer.visibleNew[0] != 0 {
		t.Fatalf("expected reclaim to run after commit, saw %d uncommitted revisions", reclaimer.visibleNew[0])
	}

	output := f.out.String()
	for _, line := range []string{"Delete new revisions (after August 9, 2019)", "2 new revisions found.", "Deleting...done.", "Purging redundant text records"} {
		if !strings.Contains(output, line) {
			t.Errorf("expected output to contain %q, got:\n%s", line, output)
		}
	}
}

func TestPurgerKeepsRevisionAtCutoff(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.page(t, 1, 2)
	f.revision(t, 1, 1, "20190809000000")
	f.revision(t, 2, 1, "20190809000001")

	purger, err := NewPurger(f.options(f.repo), &recordingReclaimer{})
	if err != nil {
		t.Fatalf("NewPurger returned error: %v", err)
	}

	report, err := purger.Run(context.Background(), true, nil)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if !slices.Equal(report.RevisionIDs, []wiki.RevisionID{2}) {
		t.Fatalf("expected only the revision strictly after the cutoff, got %v", report.RevisionIDs)
	}
	if got := f.revisionIDs(t); !slices.Equal(got, []wiki.RevisionID{1}) {
		t.Fatalf("expected revision at the cutoff to remain, got %v", got)
	}
}

func TestPurgerDryRunLeavesDatabaseUntouched(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedExample(t)
	before := f.snapshot(t)

	reclaimer := &recordingReclaimer{}
	purger, err := NewPurger(f.options(f.repo), reclaimer)
	if err != nil {
		t.Fatalf("NewPurger returned error: %v", err)
	}

	report, err := purger.Run(context.Background(), false, nil)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if report.Matched != 2 {
		t.Fatalf("expected dry run to report 2 matches, got %d", report.Matched)
	}
	if report.RevisionsDeleted != 0 {
		t.Fatalf("expected no deletions in dry run, got %d", report.RevisionsDeleted)
	}
	if len(reclaimer.calls) != 0 {
		t.Fatalf("expected no reclaim in dry run, got %v", reclaimer.calls)
	}
	if after := f.snapshot(t); !reflect.DeepEqual(before, after) {
		t.Fatalf("dry run mutated the database")
	}
	if strings.Contains(f.out.String(), "Deleting") {
		t.Fatalf("dry run should not report deleting:\n%s", f.out.String())
	}
}

func TestPurgerScopesToPageIDs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedExample(t)
	f.page(t, 6, 21)
	f.revision(t, 20, 6, "20190701000000")
	f.revision(t, 21, 6, "20191001000000")
	f.ipChange(t, 21)

	purger, err := NewPurger(f.options(f.repo), &recordingReclaimer{})
	if err != nil {
		t.Fatalf("NewPurger returned error: %v", err)
	}

	report, err := purger.Run(context.Background(), true, []wiki.PageID{6})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if !slices.Equal(report.RevisionIDs, []wiki.RevisionID{21}) {
		t.Fatalf("expected only revision 21, got %v", report.RevisionIDs)
	}
	if got := f.revisionIDs(t); !slices.Equal(got, []wiki.RevisionID{10, 11, 12, 20}) {
		t.Fatalf("expected page 5 revisions untouched, got %v", got)
	}
	if n := f.count(t, &wiki.IPChange{}); n != 1 {
		t.Fatalf("expected page 5 ip change to remain, found %d rows", n)
	}
	if !strings.Contains(f.out.String(), "Limiting to page IDs 6\n") {
		t.Fatalf("expected scope line in output:\n%s", f.out.String())
	}
}

func TestPurgerIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedExample(t)

	purger, err := NewPurger(f.options(f.repo), &recordingReclaimer{})
	if err != nil {
		t.Fatalf("NewPurger returned error: %v", err)
	}

	if _, err := purger.Run(context.Background(), true, nil); err != nil {
		t.Fatalf("first Run returned error: %v", err)
	}

	report, err := purger.Run(context.Background(), true, nil)
	if err != nil {
		t.Fatalf("second Run returned error: %v", err)
	}
	if report.Matched != 0 {
		t.Fatalf("expected empty match set on second run, got %d", report.Matched)
	}
	if !strings.Contains(f.out.String(), "0 new revisions found.") {
		t.Fatalf("expected empty result line in output:\n%s", f.out.String())
	}
}

func TestPurgerRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedExample(t)
	before := f.snapshot(t)

	repo := &faultyRepository{GormRepository: f.repo, failDeleteChangeTags: true}
	reclaimer := &recordingReclaimer{}
	purger, err := NewPurger(f.options(repo), reclaimer)
	if err != nil {
		t.Fatalf("NewPurger returned error: %v", err)
	}

	report, err := purger.Run(context.Background(), true, nil)
	if !eris.Is(err, errInjected) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if report.RevisionsDeleted != 0 {
		t.Fatalf("expected empty report on failure, got %+v", report)
	}
	if len(reclaimer.calls) != 0 {
		t.Fatalf("expected no reclaim after failed transaction, got %v", reclaimer.calls)
	}
	if after := f.snapshot(t); !reflect.DeepEqual(before, after) {
		t.Fatalf("failed purge left partial changes behind")
	}
}

func TestPurgerReportsReclaimFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedExample(t)

	purger, err := NewPurger(f.options(f.repo), &recordingReclaimer{err: eris.New("disk full")})
	if err != nil {
		t.Fatalf("NewPurger returned error: %v", err)
	}

	report, err := purger.Run(context.Background(), true, nil)
	if err == nil {
		t.Fatalf("expected reclaim error to be returned")
	}
	if report.RevisionsDeleted != 2 {
		t.Fatalf("expected committed deletions to be reported, got %+v", report)
	}
}

func TestPurgerReclaimsTextOfDeletedRevisionsOnly(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedExample(t)

	// Revision 7 belongs to a deleted page; only its archive row and slot remain.
	archived := &wiki.Archive{RevisionID: 7, Title: "Gone", PageID: 3, Timestamp: wiki.MustParseTimestamp("20190901000000")}
	if err := f.db.Create(archived).Error; err != nil {
		t.Fatalf("seeding archive row failed: %v", err)
	}
	if err := f.db.Create(&wiki.Text{ID: 7, Content: "archived"}).Error; err != nil {
		t.Fatalf("seeding archived text failed: %v", err)
	}
	if err := f.db.Create(&wiki.Content{ID: 7, Address: "tt:7"}).Error; err != nil {
		t.Fatalf("seeding archived content failed: %v", err)
	}
	if err := f.db.Create(&wiki.Slot{RevisionID: 7, RoleID: 1, ContentID: 7, Origin: 7}).Error; err != nil {
		t.Fatalf("seeding archived slot failed: %v", err)
	}

	reclaimer, err := wiki.NewTextReclaimer(f.db, silentLogger(), wiki.Tables{})
	if err != nil {
		t.Fatalf("NewTextReclaimer returned error: %v", err)
	}
	purger, err := NewPurger(f.options(f.repo), reclaimer)
	if err != nil {
		t.Fatalf("NewPurger returned error: %v", err)
	}

	report, err := purger.Run(context.Background(), true, nil)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if report.TextsReclaimed != 2 || report.ContentsReclaimed != 2 {
		t.Fatalf("expected the two purged revisions' blobs to be reclaimed, got %+v", report)
	}

	var remaining []int64
	if err := f.db.Model(&wiki.Text{}).Order("old_id ASC").Pluck("old_id", &remaining).Error; err != nil {
		t.Fatalf("plucking text ids failed: %v", err)
	}
	if !slices.Equal(remaining, []int64{7, 10}) {
		t.Fatalf("expected archived and pre-cutoff text to remain, got %v", remaining)
	}
	if !strings.Contains(f.out.String(), "done. 2 orphaned text records removed.") {
		t.Fatalf("expected reclaim summary in output:\n%s", f.out.String())
	}
}
