package store

import (
	"database/sql"
	"time"
)

// Timestamps are stored as unix milliseconds. A zero time.Time maps to NULL.

func nullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64).UTC()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}
