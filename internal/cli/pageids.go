package cli

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"wikimaint/app/internal/wiki"
)

// ErrInvalidPageID is returned for a positional argument that is not a positive integer.
var ErrInvalidPageID = eris.New("invalid page id")

// ParsePageIDs converts positional arguments into page ids, dropping duplicates.
func ParsePageIDs(args []string) ([]wiki.PageID, error) {
	if len(args) == 0 {
		return nil, nil
	}

	seen := make(map[wiki.PageID]struct{}, len(args))
	ids := make([]wiki.PageID, 0, len(args))
	for _, arg := range args {
		trimmed := strings.TrimSpace(arg)
		value, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil || value <= 0 {
			return nil, eris.Wrapf(ErrInvalidPageID, "%q", arg)
		}

		id := wiki.PageID(value)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	return ids, nil
}
