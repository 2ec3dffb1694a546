package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"slotbook/backend/internal/domain"
)

// BookingTx is the set of operations available while an event type's
// booking lock is held.
type BookingTx interface {
	InsertBooking(ctx context.Context, b domain.Booking) (domain.Booking, error)
	InsertAttendee(ctx context.Context, a domain.Attendee) (domain.Attendee, error)
	GetBooking(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error)
	ActiveBookingAt(ctx context.Context, eventTypeID uuid.UUID, start time.Time) (domain.Booking, error)
	ListOccupancy(ctx context.Context, eventTypeID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Occupancy, error)
	CountAttendees(ctx context.Context, bookingID uuid.UUID) (int, error)
	AttendeeBySeat(ctx context.Context, seatUID uuid.UUID) (domain.Attendee, error)
	DeleteAttendee(ctx context.Context, seatUID uuid.UUID) error
	CancelBooking(ctx context.Context, bookingID uuid.UUID) error
	// ListSeries returns a recurring series' bookings in start order.
	ListSeries(ctx context.Context, seriesID uuid.UUID) ([]domain.Booking, error)
}

// BookingRepository reads see only bookings that still hold their slot:
// cancelled bookings and instant bookings past their host token expiry are
// left out of occupancy.
type BookingRepository interface {
	InEventTransaction(ctx context.Context, eventTypeID uuid.UUID, fn func(ctx context.Context, tx BookingTx) error) error
	GetBooking(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error)
	AttendeeBySeat(ctx context.Context, seatUID uuid.UUID) (domain.Attendee, error)
	MergeBookingMetadata(ctx context.Context, bookingID uuid.UUID, metadata map[string]any) (domain.Booking, error)
	ListOccupancy(ctx context.Context, eventTypeID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Occupancy, error)
}

type EventTypeRepository interface {
	GetEventType(ctx context.Context, eventTypeID uuid.UUID) (domain.EventType, error)
	GetEventTypeBySlug(ctx context.Context, username, slug string) (domain.EventType, error)
}
