package wiki

import (
	"database/sql/driver"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// StorageLayout is the fixed-width format MediaWiki uses for timestamp columns.
const StorageLayout = "20060102150405"

// ErrInvalidTimestamp reports a stored timestamp that matches none of the accepted layouts.
var ErrInvalidTimestamp = eris.New("invalid timestamp")

// Layouts written by the MySQL, Postgres and SQLite installers respectively.
var parseLayouts = []string{
	StorageLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05-07",
	"2006-01-02 15:04:05",
}

// Timestamp is a revision timestamp. It is persisted in StorageLayout and compared chronologically.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t, normalised to UTC with second precision.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC().Truncate(time.Second)}
}

// ParseTimestamp accepts any of the layouts the supported databases store timestamps in.
func ParseTimestamp(raw string) (Timestamp, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Timestamp{}, eris.Wrap(ErrInvalidTimestamp, "empty value")
	}

	for _, layout := range parseLayouts {
		parsed, err := time.Parse(layout, trimmed)
		if err == nil {
			return NewTimestamp(parsed), nil
		}
	}

	return Timestamp{}, eris.Wrapf(ErrInvalidTimestamp, "parsing %q", trimmed)
}

// MustParseTimestamp is ParseTimestamp for literals known to be valid.
func MustParseTimestamp(raw string) Timestamp {
	ts, err := ParseTimestamp(raw)
	if err != nil {
		panic(err)
	}
	return ts
}

func (t Timestamp) String() string {
	return t.UTC().Format(StorageLayout)
}

// Scan implements sql.Scanner.
func (t *Timestamp) Scan(value any) error {
	switch v := value.(type) {
	case time.Time:
		*t = NewTimestamp(v)
		return nil
	case string:
		parsed, err := ParseTimestamp(v)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	case []byte:
		parsed, err := ParseTimestamp(string(v))
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	case nil:
		return eris.Wrap(ErrInvalidTimestamp, "null value")
	default:
		return eris.Wrapf(ErrInvalidTimestamp, "unsupported type %T", value)
	}
}

// Value implements driver.Valuer.
func (t Timestamp) Value() (driver.Value, error) {
	return t.String(), nil
}
