package aggregator

import (
	"testing"
	"time"
)

func TestDateFilterDays(t *testing.T) {
	now := time.Date(2026, 2, 6, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		name      string
		filter    DateFilter
		wantLen   int
		wantFirst string
		wantLast  string
	}{
		{"after and before", DateFilter{After: "2026-01-30", Before: "2026-02-02"}, 4, "2026-01-30", "2026-02-02"},
		{"during", DateFilter{During: "2026-02-03"}, 1, "2026-02-03", "2026-02-03"},
		{"after only runs to today", DateFilter{After: "2026-02-04"}, 3, "2026-02-04", "2026-02-06"},
		{"before only starts in 2020", DateFilter{Before: "2020-01-03"}, 3, "2020-01-01", "2020-01-03"},
		{"inverted range is empty", DateFilter{After: "2026-02-05", Before: "2026-02-01"}, 0, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			days, err := tt.filter.Days(now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(days) != tt.wantLen {
				t.Fatalf("expected %d days, got %v", tt.wantLen, days)
			}
			if tt.wantLen == 0 {
				return
			}
			if days[0] != tt.wantFirst || days[len(days)-1] != tt.wantLast {
				t.Errorf("expected %s..%s, got %s..%s", tt.wantFirst, tt.wantLast, days[0], days[len(days)-1])
			}
		})
	}
}

func TestDateFilterErrors(t *testing.T) {
	if _, err := (DateFilter{}).Days(time.Now()); err == nil {
		t.Error("expected error for empty filter")
	}
	if _, err := (DateFilter{During: "02/06/2026"}).Days(time.Now()); err == nil {
		t.Error("expected error for malformed date")
	}
	if !(DateFilter{}).IsZero() {
		t.Error("expected zero filter")
	}
}

func TestDateFilterCrossesMonth(t *testing.T) {
	days, err := DateFilter{After: "2024-02-28", Before: "2024-03-01"}.Days(time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"2024-02-28", "2024-02-29", "2024-03-01"}
	if len(days) != len(want) {
		t.Fatalf("expected %v, got %v", want, days)
	}
	for i := range want {
		if days[i] != want[i] {
			t.Errorf("day %d: expected %s, got %s", i, want[i], days[i])
		}
	}
}
