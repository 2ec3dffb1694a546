package domain

import (
	"errors"
	"time"
)

// Slot is a bookable start instant. Remaining and Attendees are only
// meaningful for seated events.
type Slot struct {
	Start     time.Time `json:"start"`
	Remaining int       `json:"remaining,omitempty"`
	Attendees int       `json:"attendees,omitempty"`
}

// GenerateSlots lays candidate starts every slot interval inside the event's
// daily window (in the event's time zone) and drops the ones that cannot be booked.
func GenerateSlots(et EventType, windowStart, windowEnd time.Time, duration time.Duration, now time.Time, occupied []Occupancy) ([]Slot, error) {
	if et.DayEndMinute <= et.DayStartMinute || et.DayEndMinute > 24*60 || et.DayStartMinute < 0 {
		return nil, errors.New("invalid availability window")
	}
	loc, err := et.Location()
	if err != nil {
		return nil, errors.New("invalid time_zone")
	}
	if duration <= 0 {
		duration = et.DefaultLength()
	}
	if duration <= 0 {
		return nil, errors.New("invalid duration")
	}
	interval := time.Duration(et.SlotIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = duration
	}

	earliest := now.Add(time.Duration(et.MinimumNoticeMinutes) * time.Minute)
	seats := 0
	if et.IsSeated() {
		seats = *et.SeatsPerTimeSlot
	}

	firstDay := dateIn(windowStart.In(loc), loc)
	lastDay := dateIn(windowEnd.In(loc), loc)

	out := make([]Slot, 0, 32)
	for day := firstDay; !day.After(lastDay); day = day.AddDate(0, 0, 1) {
		dayOpen := wallClock(day, et.DayStartMinute, loc)
		dayClose := wallClock(day, et.DayEndMinute, loc)

		for start := dayOpen; !start.Add(duration).After(dayClose); start = start.Add(interval) {
			if start.Before(windowStart) || !start.Before(windowEnd) {
				continue
			}
			if start.Before(earliest) {
				continue
			}
			slot, ok := placeSlot(start.UTC(), duration, seats, occupied)
			if ok {
				out = append(out, slot)
			}
		}
	}
	return out, nil
}

func placeSlot(start time.Time, duration time.Duration, seats int, occupied []Occupancy) (Slot, bool) {
	end := start.Add(duration)
	slot := Slot{Start: start}
	if seats > 0 {
		slot.Remaining = seats
	}
	for _, o := range occupied {
		if !start.Before(o.EndTime) || !end.After(o.StartTime) {
			continue
		}
		// Seated bookings share an allocation only when they start together.
		if seats > 0 && o.StartTime.Equal(start) {
			slot.Attendees += o.Attendees
			slot.Remaining = seats - slot.Attendees
			if slot.Remaining <= 0 {
				return Slot{}, false
			}
			continue
		}
		return Slot{}, false
	}
	return slot, true
}

func dateIn(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func wallClock(day time.Time, minute int, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minute/60, minute%60, 0, 0, loc)
}
