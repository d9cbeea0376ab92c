// Package maintenance implements the date-threshold bulk repairs run by wiki administrators:
// purging revisions created after the cutoff and reverting pages to their last pre-cutoff revision.
//
// Both procedures select, report, and only mutate when confirmed. A confirmed run holds one
// transaction for selection and mutation together, so nothing is applied unless everything is.
package maintenance

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"wikimaint/app/internal/wiki"
)

// cutoff separates retained content from content that is purged or reverted: 2019-08-09 00:00:00 UTC.
var cutoff = time.Date(2019, time.August, 9, 0, 0, 0, 0, time.UTC)

// Cutoff returns the fixed reference timestamp both procedures compare against.
func Cutoff() time.Time {
	return cutoff
}

const cutoffLabel = "January 2, 2006"

// Reporter receives the line-oriented progress output shown to the administrator.
type Reporter interface {
	Printf(format string, args ...any)
}

// ConsoleReporter writes progress text to an io.Writer.
type ConsoleReporter struct {
	out io.Writer
}

// NewConsoleReporter returns a reporter writing to out, or discarding output when out is nil.
func NewConsoleReporter(out io.Writer) *ConsoleReporter {
	if out == nil {
		out = io.Discard
	}
	return &ConsoleReporter{out: out}
}

func (r *ConsoleReporter) Printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

// Options carries the collaborators shared by Purger and Reverter.
type Options struct {
	Repository wiki.Repository
	Reporter   Reporter
	Logger     *logrus.Logger
	SentryHub  *sentry.Hub
	// Cutoff defaults to Cutoff() when zero.
	Cutoff time.Time
}

func (o Options) cutoff() time.Time {
	if o.Cutoff.IsZero() {
		return cutoff
	}
	return o.Cutoff
}

func (o Options) reporter() Reporter {
	if o.Reporter == nil {
		return NewConsoleReporter(nil)
	}
	return o.Reporter
}

type recorder struct {
	logger    *logrus.Logger
	sentryHub *sentry.Hub
}

func (r recorder) info(fields logrus.Fields, message string) {
	if r.logger != nil {
		r.logger.WithFields(fields).Info(message)
	}
}

func (r recorder) recordError(fields logrus.Fields, err error, message string) {
	if err == nil {
		return
	}

	if r.logger != nil {
		entry := r.logger.WithField("error", err.Error())
		if len(fields) > 0 {
			entry = entry.WithFields(fields)
		}
		entry.Error(message)
	}

	if r.sentryHub != nil {
		r.sentryHub.CaptureException(err)
	}
}

func joinPageIDs(ids []wiki.PageID) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(int64(id), 10))
	}
	return strings.Join(parts, ",")
}
