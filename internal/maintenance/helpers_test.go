package maintenance

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"wikimaint/app/internal/db"
	"wikimaint/app/internal/wiki"
)

type fixture struct {
	db   *gorm.DB
	repo *wiki.GormRepository
	out  *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	path := filepath.Join(t.TempDir(), "wiki.db")
	gormDB, err := db.Open(db.Options{Path: path})
	if err != nil {
		t.Fatalf("db.Open returned error: %v", err)
	}
	t.Cleanup(func() {
		if closeErr := db.Close(gormDB); closeErr != nil {
			t.Errorf("closing database failed: %v", closeErr)
		}
	})

	if err := wiki.Migrate(context.Background(), gormDB, silentLogger(), wiki.Tables{}); err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}

	repo, err := wiki.NewRepository(gormDB, silentLogger(), wiki.Tables{})
	if err != nil {
		t.Fatalf("NewRepository returned error: %v", err)
	}

	return &fixture{db: gormDB, repo: repo, out: &bytes.Buffer{}}
}

func (f *fixture) options(repo wiki.Repository) Options {
	return Options{
		Repository: repo,
		Reporter:   NewConsoleReporter(f.out),
		Logger:     silentLogger(),
	}
}

func (f *fixture) page(t *testing.T, id wiki.PageID, latest wiki.RevisionID) {
	t.Helper()

	if err := f.db.Create(&wiki.Page{ID: id, Title: "Page", Latest: latest}).Error; err != nil {
		t.Fatalf("seeding page %d failed: %v", id, err)
	}
}

func (f *fixture) revision(t *testing.T, id wiki.RevisionID, page wiki.PageID, ts string) {
	t.Helper()

	rev := &wiki.Revision{ID: id, PageID: page, Timestamp: wiki.MustParseTimestamp(ts)}
	if err := f.db.Create(rev).Error; err != nil {
		t.Fatalf("seeding revision %d failed: %v", id, err)
	}
	if err := f.db.Create(&wiki.Text{ID: int64(id), Content: "content"}).Error; err != nil {
		t.Fatalf("seeding text %d failed: %v", id, err)
	}
	content := &wiki.Content{ID: int64(id), Address: fmt.Sprintf("tt:%d", id)}
	if err := f.db.Create(content).Error; err != nil {
		t.Fatalf("seeding content %d failed: %v", id, err)
	}
	if err := f.db.Create(&wiki.Slot{RevisionID: id, RoleID: 1, ContentID: int64(id), Origin: id}).Error; err != nil {
		t.Fatalf("seeding slot %d failed: %v", id, err)
	}
}

func (f *fixture) ipChange(t *testing.T, rev wiki.RevisionID) {
	t.Helper()

	row := &wiki.IPChange{RevisionID: rev, Timestamp: wiki.MustParseTimestamp("20190901000000"), Hex: "7F000001"}
	if err := f.db.Create(row).Error; err != nil {
		t.Fatalf("seeding ip change %d failed: %v", rev, err)
	}
}

func (f *fixture) changeTag(t *testing.T, rev wiki.RevisionID) {
	t.Helper()

	if err := f.db.Create(&wiki.ChangeTag{RevisionID: rev, TagID: 1}).Error; err != nil {
		t.Fatalf("seeding change tag %d failed: %v", rev, err)
	}
}

// seedExample loads page 5 with revisions 10 (2019-08-01), 11 (2019-08-10) and 12 (2019-09-01).
func (f *fixture) seedExample(t *testing.T) {
	t.Helper()

	f.page(t, 5, 12)
	f.revision(t, 10, 5, "20190801000000")
	f.revision(t, 11, 5, "20190810000000")
	f.revision(t, 12, 5, "20190901000000")
	f.ipChange(t, 11)
	f.changeTag(t, 12)
}

func (f *fixture) revisionIDs(t *testing.T) []wiki.RevisionID {
	t.Helper()

	var ids []wiki.RevisionID
	if err := f.db.Model(&wiki.Revision{}).Order("rev_id ASC").Pluck("rev_id", &ids).Error; err != nil {
		t.Fatalf("plucking revision ids failed: %v", err)
	}
	return ids
}

func (f *fixture) latest(t *testing.T, page wiki.PageID) wiki.RevisionID {
	t.Helper()

	var p wiki.Page
	if err := f.db.First(&p, "page_id = ?", page).Error; err != nil {
		t.Fatalf("loading page %d failed: %v", page, err)
	}
	return p.Latest
}

func (f *fixture) count(t *testing.T, model any) int64 {
	t.Helper()

	var n int64
	if err := f.db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("counting rows failed: %v", err)
	}
	return n
}

// snapshot captures every row the procedures may touch.
type snapshot struct {
	pages      []wiki.Page
	revisions  []wiki.Revision
	ipChanges  []wiki.IPChange
	changeTags []wiki.ChangeTag
	slots      []wiki.Slot
	contents   []wiki.Content
	texts      []wiki.Text
}

func (f *fixture) snapshot(t *testing.T) snapshot {
	t.Helper()

	var s snapshot
	for _, dest := range []any{&s.pages, &s.revisions, &s.ipChanges, &s.changeTags, &s.slots, &s.contents, &s.texts} {
		if err := f.db.Find(dest).Error; err != nil {
			t.Fatalf("snapshotting failed: %v", err)
		}
	}
	return s
}

// faultyRepository injects an error into a Store method while keeping real transactions.
type faultyRepository struct {
	*wiki.GormRepository
	failDeleteChangeTags bool
	failSetOnCall        int
}

func (r *faultyRepository) InTransaction(ctx context.Context, fn func(wiki.Store) error) error {
	return r.GormRepository.InTransaction(ctx, func(store wiki.Store) error {
		return fn(&faultyStore{Store: store, repo: r})
	})
}

type faultyStore struct {
	wiki.Store
	repo     *faultyRepository
	setCalls int
}

var errInjected = eris.New("injected failure")

func (s *faultyStore) DeleteChangeTags(ctx context.Context, ids []wiki.RevisionID) (int64, error) {
	if s.repo.failDeleteChangeTags {
		return 0, errInjected
	}
	return s.Store.DeleteChangeTags(ctx, ids)
}

func (s *faultyStore) SetCurrentRevision(ctx context.Context, pageID wiki.PageID, revID wiki.RevisionID) (int64, error) {
	s.setCalls++
	if s.repo.failSetOnCall > 0 && s.setCalls == s.repo.failSetOnCall {
		return 0, errInjected
	}
	return s.Store.SetCurrentRevision(ctx, pageID, revID)
}

// recordingReclaimer notes each call together with the number of post-cutoff revisions visible at that moment.
type recordingReclaimer struct {
	db           *gorm.DB
	calls        []bool
	visibleNew   []int64
	err          error
	reclaimCount wiki.ReclaimResult
}

func (r *recordingReclaimer) ReclaimOrphanedContent(ctx context.Context, force bool) (wiki.ReclaimResult, error) {
	r.calls = append(r.calls, force)

	var visible int64
	if r.db != nil {
		r.db.WithContext(ctx).Model(&wiki.Revision{}).Where("rev_timestamp > ?", "20190809000000").Count(&visible)
	}
	r.visibleNew = append(r.visibleNew, visible)

	return r.reclaimCount, r.err
}

func silentLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
