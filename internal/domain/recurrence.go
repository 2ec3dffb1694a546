package domain

import (
	"errors"
	"time"
)

type RecurrenceFrequency string

const (
	RecurrenceFrequencyDaily   RecurrenceFrequency = "daily"
	RecurrenceFrequencyWeekly  RecurrenceFrequency = "weekly"
	RecurrenceFrequencyMonthly RecurrenceFrequency = "monthly"
)

// maxMonthlyProbe bounds the search for months that contain the start day.
const maxMonthlyProbe = 48

// ExpandOccurrences returns count start instants beginning at first. Steps are
// taken in tz's wall-clock time so the local hour survives DST transitions.
// Monthly series skip months that do not contain the first occurrence's day.
func ExpandOccurrences(policy RecurrencePolicy, first time.Time, tz string, count int) ([]time.Time, error) {
	if count < 1 {
		return nil, errors.New("count must be at least 1")
	}
	if policy.Count > 0 && count > policy.Count {
		return nil, errors.New("count exceeds maximum occurrences")
	}
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, errors.New("invalid time_zone")
	}

	interval := policy.Interval
	if interval < 1 {
		interval = 1
	}

	local := first.In(loc)
	at := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), loc).UTC()
	}

	out := make([]time.Time, 0, count)
	switch policy.Frequency {
	case RecurrenceFrequencyDaily, RecurrenceFrequencyWeekly:
		step := interval
		if policy.Frequency == RecurrenceFrequencyWeekly {
			step = 7 * interval
		}
		for i := 0; i < count; i++ {
			d := local.AddDate(0, 0, i*step)
			out = append(out, at(d.Year(), d.Month(), d.Day()))
		}
	case RecurrenceFrequencyMonthly:
		for k := 0; len(out) < count; k++ {
			if k > count*maxMonthlyProbe {
				return nil, errors.New("recurrence rule produces no occurrences")
			}
			monthStart := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, k*interval, 0)
			if daysIn(monthStart) < local.Day() {
				continue
			}
			out = append(out, at(monthStart.Year(), monthStart.Month(), local.Day()))
		}
	default:
		return nil, errors.New("unsupported recurrence frequency")
	}

	return out, nil
}

func daysIn(monthStart time.Time) int {
	return monthStart.AddDate(0, 1, -1).Day()
}
