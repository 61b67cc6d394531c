package parser

import (
	"testing"
	"time"
)

func TestFormatRFC3339Milli(t *testing.T) {
	loc := time.FixedZone("BRT", -3*60*60)
	ts := time.Date(2025, 7, 15, 9, 34, 56, 123456789, loc)

	got := FormatRFC3339Milli(ts)
	if got != "2025-07-15T12:34:56.123Z" {
		t.Errorf("expected 2025-07-15T12:34:56.123Z, got %s", got)
	}
}

func TestParseTimestamp(t *testing.T) {
	for _, in := range []string{"2020-07-10T12:34:56Z", "2020-07-10T12:34:56.000Z"} {
		got, err := ParseTimestamp(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if !got.Equal(time.Date(2020, 7, 10, 12, 34, 56, 0, time.UTC)) {
			t.Errorf("parse %q: got %v", in, got)
		}
	}

	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Error("expected error for invalid timestamp")
	}
}
