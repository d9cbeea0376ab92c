package wiki

import (
	"context"
	"slices"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// deleteBatchSize keeps IN lists under SQLite's bound-variable limit.
const deleteBatchSize = 500

// Store is the query surface the maintenance procedures run against, inside or outside a transaction.
type Store interface {
	ListRevisionStamps(ctx context.Context, pageIDs []PageID) ([]RevisionStamp, error)
	ListPages(ctx context.Context, pageIDs []PageID) ([]PageRef, error)
	ListPageRevisionStamps(ctx context.Context, pageID PageID) ([]RevisionStamp, error)
	DeleteRevisions(ctx context.Context, ids []RevisionID) (int64, error)
	DeleteIPChanges(ctx context.Context, ids []RevisionID) (int64, error)
	DeleteChangeTags(ctx context.Context, ids []RevisionID) (int64, error)
	DeleteSlots(ctx context.Context, ids []RevisionID) (int64, error)
	SetCurrentRevision(ctx context.Context, pageID PageID, revID RevisionID) (int64, error)
}

// TransactionRunner executes fn against a Store bound to a single transaction.
// The transaction commits when fn returns nil and rolls back otherwise.
type TransactionRunner interface {
	InTransaction(ctx context.Context, fn func(Store) error) error
}

// Repository is a Store that can also open transactions.
type Repository interface {
	Store
	TransactionRunner
}

// GormRepository persists pages and revisions using a Gorm database connection.
type GormRepository struct {
	db     *gorm.DB
	logger *logrus.Logger
	tables Tables
}

// NewRepository constructs a Gorm-backed repository implementation.
func NewRepository(db *gorm.DB, logger *logrus.Logger, tables Tables) (*GormRepository, error) {
	if db == nil {
		return nil, eris.New("gorm DB is required")
	}

	return &GormRepository{db: db, logger: logger, tables: tables}, nil
}

var _ Repository = (*GormRepository)(nil)

// InTransaction runs fn inside a database transaction.
func (r *GormRepository) InTransaction(ctx context.Context, fn func(Store) error) error {
	if fn == nil {
		return eris.New("transaction function is required")
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormRepository{db: tx, logger: r.logger, tables: r.tables})
	})
}

// ListRevisionStamps returns id, page and timestamp of every revision, limited to pageIDs when given.
func (r *GormRepository) ListRevisionStamps(ctx context.Context, pageIDs []PageID) ([]RevisionStamp, error) {
	query := r.db.WithContext(ctx).
		Table(r.tables.Revision()).
		Select("rev_id", "rev_page", "rev_timestamp").
		Order("rev_id ASC")
	if len(pageIDs) > 0 {
		query = query.Where("rev_page IN ?", pageIDs)
	}

	stamps, err := scanRevisionStamps(query)
	if err != nil {
		r.logError(logrus.Fields{"page_ids": len(pageIDs)}, err, "listing revision timestamps")
		return nil, eris.Wrap(err, "listing revision timestamps")
	}

	return stamps, nil
}

// ListPageRevisionStamps returns the revisions belonging to a single page.
func (r *GormRepository) ListPageRevisionStamps(ctx context.Context, pageID PageID) ([]RevisionStamp, error) {
	query := r.db.WithContext(ctx).
		Table(r.tables.Revision()).
		Select("rev_id", "rev_page", "rev_timestamp").
		Where("rev_page = ?", pageID).
		Order("rev_id ASC")

	stamps, err := scanRevisionStamps(query)
	if err != nil {
		r.logError(logrus.Fields{"page_id": pageID}, err, "listing page revisions")
		return nil, eris.Wrapf(err, "listing revisions for page %d", pageID)
	}

	return stamps, nil
}

// ListPages returns page ids with their current revision pointer, ordered by id.
func (r *GormRepository) ListPages(ctx context.Context, pageIDs []PageID) ([]PageRef, error) {
	query := r.db.WithContext(ctx).
		Table(r.tables.Page()).
		Select("page_id", "page_latest").
		Order("page_id ASC")
	if len(pageIDs) > 0 {
		query = query.Where("page_id IN ?", pageIDs)
	}

	rows, err := query.Rows()
	if err != nil {
		r.logError(nil, err, "querying pages")
		return nil, eris.Wrap(err, "querying pages")
	}
	defer rows.Close()

	var pages []PageRef
	for rows.Next() {
		var ref PageRef
		if scanErr := rows.Scan(&ref.ID, &ref.Latest); scanErr != nil {
			r.logError(nil, scanErr, "scanning page row")
			return nil, eris.Wrap(scanErr, "scanning page row")
		}
		pages = append(pages, ref)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		r.logError(nil, rowsErr, "iterating page rows")
		return nil, eris.Wrap(rowsErr, "iterating page rows")
	}

	return pages, nil
}

// DeleteRevisions removes the revision rows with the given ids.
func (r *GormRepository) DeleteRevisions(ctx context.Context, ids []RevisionID) (int64, error) {
	return r.deleteByRevision(ctx, r.tables.Revision(), "rev_id", &Revision{}, ids)
}

// DeleteIPChanges removes ip_changes rows referencing the given revisions.
func (r *GormRepository) DeleteIPChanges(ctx context.Context, ids []RevisionID) (int64, error) {
	return r.deleteByRevision(ctx, r.tables.IPChange(), "ipc_rev_id", &IPChange{}, ids)
}

// DeleteChangeTags removes change_tag rows referencing the given revisions.
func (r *GormRepository) DeleteChangeTags(ctx context.Context, ids []RevisionID) (int64, error) {
	return r.deleteByRevision(ctx, r.tables.ChangeTag(), "ct_rev_id", &ChangeTag{}, ids)
}

// DeleteSlots removes slots rows of the given revisions, leaving their content for the reclaimer.
func (r *GormRepository) DeleteSlots(ctx context.Context, ids []RevisionID) (int64, error) {
	return r.deleteByRevision(ctx, r.tables.Slot(), "slot_revision_id", &Slot{}, ids)
}

// SetCurrentRevision points the page at revID and returns the number of rows updated.
func (r *GormRepository) SetCurrentRevision(ctx context.Context, pageID PageID, revID RevisionID) (int64, error) {
	result := r.db.WithContext(ctx).
		Table(r.tables.Page()).
		Where("page_id = ?", pageID).
		Update("page_latest", revID)
	if result.Error != nil {
		r.logError(logrus.Fields{"page_id": pageID, "rev_id": revID}, result.Error, "updating page_latest")
		return 0, eris.Wrapf(result.Error, "updating page %d to revision %d", pageID, revID)
	}

	return result.RowsAffected, nil
}

func (r *GormRepository) deleteByRevision(ctx context.Context, table, column string, model any, ids []RevisionID) (int64, error) {
	total, err := deleteInBatches(r.db.WithContext(ctx), table, column, model, ids)
	if err != nil {
		r.logError(logrus.Fields{"table": table, "ids": len(ids)}, err, "deleting rows")
		return total, err
	}

	return total, nil
}

// deleteInBatches deletes rows whose column matches one of ids, deleteBatchSize ids per statement.
func deleteInBatches[T any](db *gorm.DB, table, column string, model any, ids []T) (int64, error) {
	var total int64
	for chunk := range slices.Chunk(ids, deleteBatchSize) {
		result := db.Table(table).Where(column+" IN ?", chunk).Delete(model)
		if result.Error != nil {
			return total, eris.Wrapf(result.Error, "deleting from %s", table)
		}
		total += result.RowsAffected
	}

	return total, nil
}

func scanRevisionStamps(query *gorm.DB) ([]RevisionStamp, error) {
	rows, err := query.Rows()
	if err != nil {
		return nil, eris.Wrap(err, "querying revisions")
	}
	defer rows.Close()

	var stamps []RevisionStamp
	for rows.Next() {
		var stamp RevisionStamp
		if scanErr := rows.Scan(&stamp.ID, &stamp.PageID, &stamp.Timestamp); scanErr != nil {
			return nil, eris.Wrap(scanErr, "scanning revision row")
		}
		stamps = append(stamps, stamp)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, eris.Wrap(rowsErr, "iterating revision rows")
	}

	return stamps, nil
}

func (r *GormRepository) logError(fields logrus.Fields, err error, message string) {
	if r.logger == nil {
		return
	}

	entry := r.logger.WithField("error", err.Error())
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}
