package wiki

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// textAddressPrefix marks content addresses stored in the text table.
const textAddressPrefix = "tt:"

// ReclaimResult counts the orphaned rows a reclaim pass found, and deleted when forced.
type ReclaimResult struct {
	Contents int64
	Texts    int64
}

// ContentReclaimer garbage-collects content blobs no revision references any more.
type ContentReclaimer interface {
	ReclaimOrphanedContent(ctx context.Context, force bool) (ReclaimResult, error)
}

// TextReclaimer removes content rows no slot points at, then text rows no remaining content addresses.
// Archived revisions keep their slots rows, so the history of deleted pages stays referenced.
type TextReclaimer struct {
	db     *gorm.DB
	logger *logrus.Logger
	tables Tables
}

// NewTextReclaimer constructs a reclaimer for the content and text tables.
func NewTextReclaimer(db *gorm.DB, logger *logrus.Logger, tables Tables) (*TextReclaimer, error) {
	if db == nil {
		return nil, eris.New("gorm DB is required")
	}

	return &TextReclaimer{db: db, logger: logger, tables: tables}, nil
}

var _ ContentReclaimer = (*TextReclaimer)(nil)

// ReclaimOrphanedContent finds orphaned content and text rows and deletes them when force is set.
// Both passes run in one transaction.
func (r *TextReclaimer) ReclaimOrphanedContent(ctx context.Context, force bool) (ReclaimResult, error) {
	fields := logrus.Fields{"component": "wiki.reclaim", "force": force}

	var result ReclaimResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		orphanedContent, err := r.orphanedContentIDs(tx)
		if err != nil {
			return err
		}

		live, err := r.liveTextIDs(tx, orphanedContent)
		if err != nil {
			return err
		}

		orphanedText, err := r.orphanedTextIDs(tx, live)
		if err != nil {
			return err
		}

		result = ReclaimResult{Contents: int64(len(orphanedContent)), Texts: int64(len(orphanedText))}
		if !force {
			return nil
		}

		if result.Contents, err = deleteInBatches(tx, r.tables.Content(), "content_id", &Content{}, orphanedContent); err != nil {
			return err
		}
		if result.Texts, err = deleteInBatches(tx, r.tables.Text(), "old_id", &Text{}, orphanedText); err != nil {
			return err
		}

		return nil
	})
	if err != nil {
		r.logError(fields, err, "reclaiming orphaned content")
		return ReclaimResult{}, eris.Wrap(err, "reclaiming orphaned content")
	}

	if r.logger != nil {
		r.logger.WithFields(fields).WithFields(logrus.Fields{
			"contents": result.Contents,
			"texts":    result.Texts,
		}).Info("orphaned content scan complete")
	}

	return result, nil
}

func (r *TextReclaimer) orphanedContentIDs(tx *gorm.DB) ([]int64, error) {
	var ids []int64
	referenced := tx.Table(r.tables.Slot()).Select("slot_content_id")
	err := tx.Table(r.tables.Content()).
		Where("content_id NOT IN (?)", referenced).
		Order("content_id ASC").
		Pluck("content_id", &ids).Error
	if err != nil {
		return nil, eris.Wrap(err, "finding content rows without slots")
	}

	return ids, nil
}

// liveTextIDs returns the text ids addressed by content rows that are not about to be reclaimed.
func (r *TextReclaimer) liveTextIDs(tx *gorm.DB, skip []int64) (map[int64]struct{}, error) {
	skipped := make(map[int64]struct{}, len(skip))
	for _, id := range skip {
		skipped[id] = struct{}{}
	}

	rows, err := tx.Table(r.tables.Content()).Select("content_id", "content_address").Rows()
	if err != nil {
		return nil, eris.Wrap(err, "querying content addresses")
	}
	defer rows.Close()

	live := make(map[int64]struct{})
	for rows.Next() {
		var (
			contentID int64
			address   string
		)
		if scanErr := rows.Scan(&contentID, &address); scanErr != nil {
			return nil, eris.Wrap(scanErr, "scanning content row")
		}
		if _, ok := skipped[contentID]; ok {
			continue
		}

		textID, ok, parseErr := ParseTextAddress(address)
		if parseErr != nil {
			return nil, eris.Wrapf(parseErr, "content %d", contentID)
		}
		if ok {
			live[textID] = struct{}{}
		}
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, eris.Wrap(rowsErr, "iterating content rows")
	}

	return live, nil
}

func (r *TextReclaimer) orphanedTextIDs(tx *gorm.DB, live map[int64]struct{}) ([]int64, error) {
	var all []int64
	if err := tx.Table(r.tables.Text()).Order("old_id ASC").Pluck("old_id", &all).Error; err != nil {
		return nil, eris.Wrap(err, "listing text rows")
	}

	var orphaned []int64
	for _, id := range all {
		if _, ok := live[id]; !ok {
			orphaned = append(orphaned, id)
		}
	}

	return orphaned, nil
}

// ParseTextAddress extracts the text id from a "tt:<id>" content address.
// Addresses of other blob stores report ok=false.
func ParseTextAddress(address string) (int64, bool, error) {
	raw, found := strings.CutPrefix(strings.TrimSpace(address), textAddressPrefix)
	if !found {
		return 0, false, nil
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false, eris.Errorf("malformed text address %q", address)
	}

	return id, true, nil
}

func (r *TextReclaimer) logError(fields logrus.Fields, err error, message string) {
	if r.logger == nil {
		return
	}

	r.logger.WithFields(fields).WithField("error", err.Error()).Error(message)
}
