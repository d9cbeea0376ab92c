package bootstrap

import (
	"context"
	"io"

	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"wikimaint/app/internal/config"
	"wikimaint/app/internal/db"
	"wikimaint/app/internal/maintenance"
	applog "wikimaint/app/internal/platform/log"
	"wikimaint/app/internal/wiki"
)

type Dependencies struct {
	Config    config.Config
	Logger    *logrus.Logger
	SentryHub *sentry.Hub
	Output    io.Writer
}

type Result struct {
	Purger   *maintenance.Purger
	Reverter *maintenance.Reverter
	Cleanup  func() error
}

// Build opens the wiki database and composes both maintenance procedures on top of it.
func Build(ctx context.Context, deps Dependencies) (Result, error) {
	database, err := db.Open(dbOptions(deps.Config, deps.Logger))
	if err != nil {
		return Result{}, eris.Wrap(err, "opening database")
	}

	closeOnError := func(wrapper error) (Result, error) {
		if closeErr := db.Close(database); closeErr != nil && deps.Logger != nil {
			deps.Logger.WithError(closeErr).Error("closing database after bootstrap failure")
		}
		return Result{}, wrapper
	}

	tables := wiki.Tables{Prefix: deps.Config.DBTablePrefix}

	if deps.Config.DBAutoMigrate {
		if err := wiki.Migrate(ctx, database, deps.Logger, tables); err != nil {
			return closeOnError(eris.Wrap(err, "running wiki migrations"))
		}
	}

	repo, err := wiki.NewRepository(database, deps.Logger, tables)
	if err != nil {
		return closeOnError(eris.Wrap(err, "creating wiki repository"))
	}

	reclaimer, err := wiki.NewTextReclaimer(database, deps.Logger, tables)
	if err != nil {
		return closeOnError(eris.Wrap(err, "creating text reclaimer"))
	}

	opts := maintenance.Options{
		Repository: repo,
		Reporter:   maintenance.NewConsoleReporter(deps.Output),
		Logger:     deps.Logger,
		SentryHub:  deps.SentryHub,
	}

	purger, err := maintenance.NewPurger(opts, reclaimer)
	if err != nil {
		return closeOnError(eris.Wrap(err, "creating revision purger"))
	}

	reverter, err := maintenance.NewReverter(opts)
	if err != nil {
		return closeOnError(eris.Wrap(err, "creating page reverter"))
	}

	cleanup := func() error {
		return db.Close(database)
	}

	return Result{
		Purger:   purger,
		Reverter: reverter,
		Cleanup:  cleanup,
	}, nil
}

func dbOptions(cfg config.Config, logger *logrus.Logger) db.Options {
	return db.Options{
		Driver:       cfg.DBDriver,
		Path:         cfg.DBPath,
		DSN:          cfg.DBDSN,
		Logger:       applog.NewGormLogger(logger),
		BusyTimeout:  cfg.DBPool.BusyTimeout,
		MaxOpenConns: cfg.DBPool.MaxOpenConns,
		MaxIdleConns: cfg.DBPool.MaxIdleConns,
		ConnMaxIdle:  cfg.DBPool.ConnMaxIdle,
		ConnMaxLife:  cfg.DBPool.ConnMaxLifetime,
	}
}
