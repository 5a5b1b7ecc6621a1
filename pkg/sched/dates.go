package sched

import (
	"fmt"
	"time"
)

// DateLayout is the date-only form used in carrier query parameters.
const DateLayout = "2006-01-02"

// Carriers publish local timestamps in several ISO-8601 shapes: with or
// without a zone offset, with or without fractional seconds, sometimes date
// only. Layouts are tried in order.
var isoLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseISO parses an ISO-8601 timestamp as published by a carrier.
func ParseISO(s string) (time.Time, error) {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable ISO-8601 timestamp %q", s)
}

// CalendarDays returns the calendar-day difference between the date parts of
// two ISO-8601 timestamps. Zone offsets are ignored: the dates are compared
// as published, in the carrier's local convention.
func CalendarDays(from, to string) (int, error) {
	f, err := ParseISO(from)
	if err != nil {
		return 0, err
	}
	t, err := ParseISO(to)
	if err != nil {
		return 0, err
	}
	fd := time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, time.UTC)
	td := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return int(td.Sub(fd).Hours() / 24), nil
}
