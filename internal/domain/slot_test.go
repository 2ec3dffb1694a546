package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func slotEventType() EventType {
	return EventType{
		ID:                  uuid.MustParse("00000000-0000-0000-0000-000000000a01"),
		Slug:                "intro",
		LengthMinutes:       30,
		Timezone:            "UTC",
		DayStartMinute:      9 * 60,
		DayEndMinute:        11 * 60,
		SlotIntervalMinutes: 30,
	}
}

func TestGenerateSlots_DailyWindow(t *testing.T) {
	et := slotEventType()
	from := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	now := from.Add(-24 * time.Hour)

	slots, err := GenerateSlots(et, from, to, 0, now, nil)
	if err != nil {
		t.Fatalf("GenerateSlots error: %v", err)
	}
	if len(slots) != 4 {
		t.Fatalf("len(slots) = %d, want 4", len(slots))
	}
	if !slots[0].Start.Equal(time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("first slot = %v, want 09:00", slots[0].Start)
	}
	if !slots[3].Start.Equal(time.Date(2026, 2, 2, 10, 30, 0, 0, time.UTC)) {
		t.Fatalf("last slot = %v, want 10:30", slots[3].Start)
	}
}

func TestGenerateSlots_ExcludesOverlapsAndNotice(t *testing.T) {
	et := slotEventType()
	et.MinimumNoticeMinutes = 60
	from := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	now := time.Date(2026, 2, 2, 8, 15, 0, 0, time.UTC)

	occupied := []Occupancy{{
		StartTime: time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 2, 2, 10, 30, 0, 0, time.UTC),
		Attendees: 1,
	}}

	slots, err := GenerateSlots(et, from, to, 0, now, occupied)
	if err != nil {
		t.Fatalf("GenerateSlots error: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("len(slots) = %d, want 2 (%v)", len(slots), slots)
	}
	if !slots[0].Start.Equal(time.Date(2026, 2, 2, 9, 30, 0, 0, time.UTC)) {
		t.Fatalf("first slot = %v, want 09:30", slots[0].Start)
	}
}

func TestGenerateSlots_SeatCapacity(t *testing.T) {
	et := slotEventType()
	seats := 3
	et.SeatsPerTimeSlot = &seats
	from := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	now := from.Add(-time.Hour)

	nine := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	nineThirty := nine.Add(30 * time.Minute)
	occupied := []Occupancy{
		{StartTime: nine, EndTime: nineThirty, Attendees: 2},
		{StartTime: nineThirty, EndTime: nineThirty.Add(30 * time.Minute), Attendees: 3},
	}

	slots, err := GenerateSlots(et, from, to, 0, now, occupied)
	if err != nil {
		t.Fatalf("GenerateSlots error: %v", err)
	}
	if len(slots) != 3 {
		t.Fatalf("len(slots) = %d, want 3", len(slots))
	}
	if !slots[0].Start.Equal(nine) || slots[0].Remaining != 1 || slots[0].Attendees != 2 {
		t.Fatalf("first slot = %+v, want 09:00 with 1 remaining", slots[0])
	}
	if slots[1].Remaining != 3 {
		t.Fatalf("second slot remaining = %d, want 3", slots[1].Remaining)
	}
}

func TestGenerateSlots_InvalidWindow(t *testing.T) {
	et := slotEventType()
	et.DayEndMinute = et.DayStartMinute

	_, err := GenerateSlots(et, time.Now(), time.Now().Add(time.Hour), 0, time.Now(), nil)
	if err == nil || err.Error() != "invalid availability window" {
		t.Fatalf("err = %v, want invalid availability window", err)
	}
}
