package mirror

import (
	"database/sql"
	"time"
)

// Timestamps are stored as unix nanoseconds. Zero time maps to NULL.

func timeToNanos(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func nanosToTime(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}

	return time.Unix(0, n.Int64)
}
