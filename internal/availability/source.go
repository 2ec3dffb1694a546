package availability

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"slotbook/backend/internal/domain"
	"slotbook/backend/internal/store"
)

// maxWindow caps how far a single availability query may reach.
const maxWindow = 62 * 24 * time.Hour

var ErrInvalidWindow = errors.New("availability: invalid window")

type Occupancy interface {
	ListOccupancy(ctx context.Context, eventTypeID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Occupancy, error)
}

// Source answers which starts are still bookable for an event type.
type Source struct {
	events   store.EventTypeRepository
	bookings Occupancy
	now      func() time.Time
	log      *slog.Logger
}

func NewSource(events store.EventTypeRepository, bookings Occupancy, log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	return &Source{
		events:   events,
		bookings: bookings,
		now:      time.Now,
		log:      log.With(slog.String("component", "availability")),
	}
}

// Slots lists bookable starts in [from, to). A zero duration means the event's
// default length. Seated slots report their remaining capacity.
func (s *Source) Slots(ctx context.Context, eventTypeID uuid.UUID, from, to time.Time, durationMinutes int) ([]domain.Slot, error) {
	if !to.After(from) || to.Sub(from) > maxWindow {
		return nil, ErrInvalidWindow
	}

	et, err := s.events.GetEventType(ctx, eventTypeID)
	if err != nil {
		return nil, err
	}
	if durationMinutes != 0 && !et.IsDynamic && !et.AllowsDuration(durationMinutes) {
		durationMinutes = et.LengthMinutes
	}
	duration := time.Duration(durationMinutes) * time.Minute

	// Bookings that start before the window can still overlap its first slots.
	lookback := et.DefaultLength()
	if duration > lookback {
		lookback = duration
	}
	occupied, err := s.bookings.ListOccupancy(ctx, et.ID, from.Add(-lookback).UTC(), to.Add(lookback).UTC())
	if err != nil {
		return nil, err
	}

	slots, err := domain.GenerateSlots(et, from.UTC(), to.UTC(), duration, s.now().UTC(), occupied)
	if err != nil {
		return nil, err
	}
	// Listed slots always have a free seat; the counts are for hosts who publish them.
	if et.IsSeated() && !et.SeatsShowAvailability {
		for i := range slots {
			slots[i].Remaining = 0
			slots[i].Attendees = 0
		}
	}

	s.log.DebugContext(ctx, "slots computed",
		slog.String("event_type_id", et.ID.String()),
		slog.Int("slots", len(slots)),
		slog.Int("occupied", len(occupied)),
	)
	return slots, nil
}
