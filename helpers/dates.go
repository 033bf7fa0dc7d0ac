package helpers

import (
	"fmt"
	"time"
)

// DateLayout is the wire and log format for calendar dates
const DateLayout = "2006-01-02"

// DateOf truncates t to midnight UTC of its UTC calendar day.
// Every date-keyed row (snapshots, stats, summaries) is stored this way.
func DateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses YYYY-MM-DD into a UTC midnight date
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}

// MonthStart returns the first day of t's month
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// MonthEnd returns the last day of t's month
func MonthEnd(t time.Time) time.Time {
	return MonthStart(t).AddDate(0, 1, -1)
}

// WeekWindow returns the seven-day window ending on weekEnding, inclusive
func WeekWindow(weekEnding time.Time) (time.Time, time.Time) {
	end := DateOf(weekEnding)
	return end.AddDate(0, 0, -6), end
}
