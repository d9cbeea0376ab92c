package wiki

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Migrate creates the page, revision, storage and dependent tables. Only meant for fresh databases;
// an existing wiki schema is owned by the wiki installer.
func Migrate(ctx context.Context, db *gorm.DB, logger *logrus.Logger, tables Tables) error {
	if db == nil {
		return eris.New("gorm DB is required")
	}

	logFields := logrus.Fields{"component": "wiki.migrate", "table_prefix": tables.Prefix}
	if logger != nil {
		logger.WithFields(logFields).Info("applying wiki schema")
	}

	models := []struct {
		table string
		model any
	}{
		{tables.Page(), &Page{}},
		{tables.Revision(), &Revision{}},
		{tables.IPChange(), &IPChange{}},
		{tables.ChangeTag(), &ChangeTag{}},
		{tables.Slot(), &Slot{}},
		{tables.Content(), &Content{}},
		{tables.Archive(), &Archive{}},
		{tables.Text(), &Text{}},
	}

	for _, m := range models {
		if err := db.WithContext(ctx).Table(m.table).AutoMigrate(m.model); err != nil {
			if logger != nil {
				logger.WithFields(logFields).WithField("table", m.table).WithField("error", err.Error()).Error("wiki schema migration failed")
			}
			return eris.Wrapf(err, "auto migrating %s", m.table)
		}
	}

	if logger != nil {
		logger.WithFields(logFields).Info("wiki schema migration complete")
	}

	return nil
}
