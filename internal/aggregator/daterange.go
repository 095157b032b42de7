package aggregator

import (
	"errors"
	"fmt"
	"time"
)

const dayLayout = "2006-01-02"

// earliestDay is where an open-ended "before" range starts.
var earliestDay = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// DateFilter selects the days a backfill covers. With both After and Before
// set the range is [After, Before]. Otherwise During selects a single day,
// Before alone selects every day from 2020-01-01 through Before, and After
// alone selects After through today.
type DateFilter struct {
	After  string
	Before string
	During string
}

// IsZero reports whether no bound is set.
func (f DateFilter) IsZero() bool {
	return f.After == "" && f.Before == "" && f.During == ""
}

// Days expands the filter into day keys, oldest first.
func (f DateFilter) Days(now time.Time) ([]string, error) {
	switch {
	case f.After != "" && f.Before != "":
		start, err := parseDay(f.After)
		if err != nil {
			return nil, err
		}
		end, err := parseDay(f.Before)
		if err != nil {
			return nil, err
		}
		return dayRange(start, end), nil
	case f.During != "":
		d, err := parseDay(f.During)
		if err != nil {
			return nil, err
		}
		return []string{d.Format(dayLayout)}, nil
	case f.Before != "":
		end, err := parseDay(f.Before)
		if err != nil {
			return nil, err
		}
		return dayRange(earliestDay, end), nil
	case f.After != "":
		start, err := parseDay(f.After)
		if err != nil {
			return nil, err
		}
		today := now.UTC().Truncate(24 * time.Hour)
		return dayRange(start, today), nil
	}
	return nil, errors.New("empty date filter")
}

func parseDay(s string) (time.Time, error) {
	t, err := time.ParseInLocation(dayLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD: %w", s, err)
	}
	return t, nil
}

func dayRange(start, end time.Time) []string {
	var days []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format(dayLayout))
	}
	return days
}
