// Package timestamp provides standardized Unix timestamp handling.
//
// Message headers and media frames carry int64 microseconds since the
// Unix epoch (UTC) as their canonical timestamp format. A value of 0
// means "not set"; functions handle zero values gracefully.
package timestamp

import (
	"time"
)

// NowMicros returns the current time as Unix microseconds.
func NowMicros() int64 {
	return time.Now().UnixMicro()
}

// ToUnixMicros converts a time.Time to Unix microseconds.
func ToUnixMicros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

// FromUnixMicros converts Unix microseconds to time.Time.
// Returns the zero time if the timestamp is 0.
func FromUnixMicros(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}

// Format renders a microsecond timestamp as RFC 3339 with sub-second
// precision, or "unset" for the zero value.
func Format(us int64) string {
	if us == 0 {
		return "unset"
	}
	return FromUnixMicros(us).Format(time.RFC3339Nano)
}

// Since returns the elapsed wall time from a microsecond timestamp.
// Returns 0 for the zero value.
func Since(us int64) time.Duration {
	if us == 0 {
		return 0
	}
	return time.Since(FromUnixMicros(us))
}
