package database

import (
	"fmt"
	"time"
)

// DayLayout is the layout of day keys (YYYY-MM-DD).
const DayLayout = "2006-01-02"

// GetToday returns today's UTC date as YYYY-MM-DD.
func GetToday() string {
	return time.Now().UTC().Format(DayLayout)
}

// GetYesterday returns yesterday's UTC date relative to now.
func GetYesterday(now time.Time) string {
	return now.UTC().AddDate(0, 0, -1).Format(DayLayout)
}

// ParseDay parses a YYYY-MM-DD day key as midnight UTC.
func ParseDay(day string) (time.Time, error) {
	t, err := time.ParseInLocation(DayLayout, day, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q: %w", day, err)
	}
	return t, nil
}

// DayBounds returns the first and last epoch second of day.
func DayBounds(day string) (start, end int64, err error) {
	t, err := ParseDay(day)
	if err != nil {
		return 0, 0, err
	}
	return t.Unix(), t.AddDate(0, 0, 1).Unix() - 1, nil
}

// DayFromEpoch returns the UTC day key of an epoch timestamp.
func DayFromEpoch(epoch int64) string {
	return time.Unix(epoch, 0).UTC().Format(DayLayout)
}

// FormatDayDisplay formats a day key for human-readable display,
// e.g. "Feb 06, 2026".
func FormatDayDisplay(day string) string {
	t, err := ParseDay(day)
	if err != nil {
		return day
	}
	return t.Format("Jan 02, 2006")
}
