package models

import "time"

const DateLayout = "2006-01-02"

// CalendarDate returns the calendar date of ts as observed in loc, expressed
// as midnight UTC so dates compare equal regardless of their source zone.
func CalendarDate(ts time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := ts.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a canonical date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
