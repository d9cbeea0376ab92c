package cli

import (
	"context"
	"io"
	"os"

	"github.com/rotisserie/eris"

	"wikimaint/app/internal/app/bootstrap"
	"wikimaint/app/internal/config"
	applog "wikimaint/app/internal/platform/log"
)

// BuildFunc composes the maintenance procedures. Progress text is written to out.
type BuildFunc func(ctx context.Context, command string, out io.Writer) (bootstrap.Result, error)

// App holds what the commands need from the outside world.
type App struct {
	Out   io.Writer
	Build BuildFunc
}

// NewApp returns an App that writes to stdout and configures itself from the environment.
func NewApp() *App {
	return &App{Out: os.Stdout, Build: BuildFromEnvironment}
}

// BuildFromEnvironment loads configuration, logging and Sentry, then bootstraps the procedures.
// The returned Cleanup closes the database and flushes Sentry.
func BuildFromEnvironment(ctx context.Context, command string, out io.Writer) (bootstrap.Result, error) {
	cfg, err := config.Load()
	if err != nil {
		return bootstrap.Result{}, eris.Wrap(err, "failure loading configuration")
	}

	logger, err := applog.NewLogger(cfg.LogLevel)
	if err != nil {
		return bootstrap.Result{}, eris.Wrap(err, "failure initialising logger")
	}

	sentryHub, flush, err := applog.InitSentry(logger, applog.SentrySettings{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Command:     command,
	})
	if err != nil {
		return bootstrap.Result{}, eris.Wrap(err, "failure initialising sentry")
	}

	result, err := bootstrap.Build(ctx, bootstrap.Dependencies{
		Config:    *cfg,
		Logger:    logger,
		SentryHub: sentryHub,
		Output:    out,
	})
	if err != nil {
		flush()
		return bootstrap.Result{}, err
	}

	closeDB := result.Cleanup
	result.Cleanup = func() error {
		defer flush()
		return closeDB()
	}

	return result, nil
}

func (a *App) run(ctx context.Context, command string, fn func(bootstrap.Result) error) (err error) {
	out := a.Out
	if out == nil {
		out = os.Stdout
	}

	result, err := a.Build(ctx, command, out)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := result.Cleanup(); closeErr != nil && err == nil {
			err = eris.Wrap(closeErr, "closing database")
		}
	}()

	return fn(result)
}
