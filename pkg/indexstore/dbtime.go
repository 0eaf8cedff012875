package indexstore

import (
	"database/sql"
	"fmt"
	"time"
)

// Timestamps are stored as fixed-width UTC text so that lexical order in SQL
// matches chronological order.
const dbTimeLayout = "2006-01-02T15:04:05.000000000Z"

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(raw string) (time.Time, error) {
	t, err := time.Parse(dbTimeLayout, raw)
	if err != nil {
		if t2, err2 := time.Parse(time.RFC3339Nano, raw); err2 == nil {
			return t2.UTC(), nil
		}
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", raw, err)
	}
	return t, nil
}

func parseOptionalDBTime(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	t, err := parseDBTime(raw.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
