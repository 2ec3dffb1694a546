package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type BookingStatus string

const (
	BookingStatusAccepted       BookingStatus = "accepted"
	BookingStatusCancelled      BookingStatus = "cancelled"
	BookingStatusAwaitingHost   BookingStatus = "awaiting_host"
	BookingStatusPendingPayment BookingStatus = "pending_payment"
)

// MetadataVideoCallURL is the booking metadata key an instant booking resolves into.
const MetadataVideoCallURL = "videoCallUrl"

type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	ID                uuid.UUID      `bun:"id,pk,type:uuid"`
	EventTypeID       uuid.UUID      `bun:"event_type_id,notnull,type:uuid"`
	StartTime         time.Time      `bun:"start_time,notnull"`
	EndTime           time.Time      `bun:"end_time,notnull"`
	Status            BookingStatus  `bun:"status,notnull"`
	Timezone          string         `bun:"timezone,notnull"`
	Language          string         `bun:"language"`
	Responses         map[string]any `bun:"responses,type:jsonb"`
	Metadata          map[string]any `bun:"metadata,type:jsonb"`
	RecurringSeriesID *uuid.UUID     `bun:"recurring_series_id,type:uuid"`
	FromReschedule    *uuid.UUID     `bun:"from_reschedule,type:uuid"`
	PaymentReference  *uuid.UUID     `bun:"payment_reference,type:uuid"`
	InstantExpiresAt  *time.Time     `bun:"instant_expires_at"`
	CreatedAt         time.Time      `bun:"created_at,notnull"`
	UpdatedAt         time.Time      `bun:"updated_at,notnull"`
}

func (b *Booking) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if b.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			b.ID = id
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		b.UpdatedAt = now
	}
	return nil
}

// Attendee is one seat on a booking. Non-seated bookings carry exactly one.
type Attendee struct {
	bun.BaseModel `bun:"table:attendees"`

	ID        uuid.UUID `bun:"id,pk,type:uuid"`
	BookingID uuid.UUID `bun:"booking_id,notnull,type:uuid"`
	SeatUID   uuid.UUID `bun:"seat_uid,notnull,type:uuid"`
	Email     string    `bun:"email,notnull"`
	Name      string    `bun:"name,notnull"`
	Timezone  string    `bun:"timezone,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

func (a *Attendee) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); !ok {
		return nil
	}
	if a.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		a.ID = id
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return nil
}

// Occupancy summarizes one active booking for availability computation.
type Occupancy struct {
	BookingID uuid.UUID
	StartTime time.Time
	EndTime   time.Time
	Attendees int
}
