package parser

import (
	"fmt"
	"time"
)

// FormatRFC3339Milli formats t in UTC with millisecond precision, the layout
// the payment processors expect for requestedAt.
func FormatRFC3339Milli(t time.Time) string {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d.%03dZ",
		year, month, day, hour, min, sec, t.Nanosecond()/int(time.Millisecond))
}

// ParseTimestamp accepts RFC3339 with or without fractional seconds.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
