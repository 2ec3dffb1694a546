package domain

import (
	"testing"
	"time"
)

func TestExpandOccurrences_Validation(t *testing.T) {
	base := RecurrencePolicy{Frequency: RecurrenceFrequencyWeekly, Interval: 1, Count: 5}
	first := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		policy  RecurrencePolicy
		tz      string
		count   int
		wantErr string
	}{
		{
			name:    "unsupported frequency",
			policy:  RecurrencePolicy{Frequency: "yearly", Count: 5},
			tz:      "UTC",
			count:   2,
			wantErr: "unsupported recurrence frequency",
		},
		{
			name:    "zero count",
			policy:  base,
			tz:      "UTC",
			count:   0,
			wantErr: "count must be at least 1",
		},
		{
			name:    "count above maximum",
			policy:  base,
			tz:      "UTC",
			count:   6,
			wantErr: "count exceeds maximum occurrences",
		},
		{
			name:    "invalid time zone",
			policy:  base,
			tz:      "Not/AZone",
			count:   2,
			wantErr: "invalid time_zone",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExpandOccurrences(tt.policy, first, tt.tz, tt.count)
			if err == nil {
				t.Fatalf("expected error")
			}
			if err.Error() != tt.wantErr {
				t.Fatalf("error = %q, want %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestExpandOccurrences_WeeklyIntervalAndOrder(t *testing.T) {
	first := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	occs, err := ExpandOccurrences(RecurrencePolicy{Frequency: RecurrenceFrequencyWeekly, Interval: 2, Count: 10}, first, "UTC", 3)
	if err != nil {
		t.Fatalf("ExpandOccurrences error: %v", err)
	}
	if len(occs) != 3 {
		t.Fatalf("len(occs) = %d, want 3", len(occs))
	}
	want := []time.Time{
		first,
		time.Date(2026, 1, 19, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC),
	}
	for i := range want {
		if !occs[i].Equal(want[i]) {
			t.Fatalf("occs[%d] = %v, want %v", i, occs[i], want[i])
		}
	}
}

func TestExpandOccurrences_MonthlySkipsShortMonths(t *testing.T) {
	first := time.Date(2026, 1, 31, 15, 0, 0, 0, time.UTC)
	occs, err := ExpandOccurrences(RecurrencePolicy{Frequency: RecurrenceFrequencyMonthly, Interval: 1}, first, "UTC", 3)
	if err != nil {
		t.Fatalf("ExpandOccurrences error: %v", err)
	}
	if len(occs) != 3 {
		t.Fatalf("len(occs) = %d, want 3", len(occs))
	}
	if occs[1].Month() != time.March || occs[1].Day() != 31 {
		t.Fatalf("second occurrence = %v, want March 31", occs[1])
	}
	if occs[2].Month() != time.May || occs[2].Day() != 31 {
		t.Fatalf("third occurrence = %v, want May 31", occs[2])
	}
}

func TestExpandOccurrences_DSTMaintainsLocalHour(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation error: %v", err)
	}

	first := time.Date(2026, 3, 1, 9, 0, 0, 0, loc)
	occs, err := ExpandOccurrences(RecurrencePolicy{Frequency: RecurrenceFrequencyWeekly, Interval: 1, Count: 4}, first, "America/New_York", 4)
	if err != nil {
		t.Fatalf("ExpandOccurrences error: %v", err)
	}
	for _, o := range occs {
		if o.In(loc).Hour() != 9 {
			t.Fatalf("local hour = %d, want 9 (start=%v)", o.In(loc).Hour(), o)
		}
		if o.Location() != time.UTC {
			t.Fatalf("expected UTC instant, got %v", o.Location())
		}
	}
}
