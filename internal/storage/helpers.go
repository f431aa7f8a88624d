package storage

import (
	"database/sql"
	"time"
)

// Stamp converts a time to the integer representation stored in every
// timestamp column. Nanosecond integers keep ORDER BY and comparisons exact.
func Stamp(t time.Time) int64 {
	return t.UnixNano()
}

// FromStamp reverses Stamp.
func FromStamp(v int64) time.Time {
	return time.Unix(0, v)
}

// NullableStamp returns nil for the zero time so the column stores NULL.
func NullableStamp(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixNano()
}

// FromNullStamp returns the zero time for NULL columns.
func FromNullStamp(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.Unix(0, v.Int64)
}

// NullableString returns nil for empty strings so the column stores NULL.
func NullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
