package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"slotbook/backend/internal/domain"
	"slotbook/backend/internal/store"
)

var activeStatuses = []domain.BookingStatus{
	domain.BookingStatusAccepted,
	domain.BookingStatusAwaitingHost,
	domain.BookingStatusPendingPayment,
}

// whereHolding limits q to bookings that still hold their slot. An instant
// booking stops holding it once its host token has expired.
func whereHolding(q *bun.SelectQuery, alias string) *bun.SelectQuery {
	return q.
		Where(alias+"status IN (?)", bun.In(activeStatuses)).
		Where("("+alias+"status <> ? OR "+alias+"instant_expires_at > now())", domain.BookingStatusAwaitingHost)
}

type BookingRepo struct {
	db *bun.DB
}

func NewBookingRepo(db *bun.DB) *BookingRepo {
	return &BookingRepo{db: db}
}

type bookingTx struct {
	tx bun.Tx
}

func (r *BookingRepo) InEventTransaction(ctx context.Context, eventTypeID uuid.UUID, fn func(ctx context.Context, tx store.BookingTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockEventSlots(ctx, tx, eventTypeID); err != nil {
			return err
		}
		return fn(ctx, bookingTx{tx: tx})
	})
}

// lockEventSlots serializes every booking mutation for one event type so
// capacity checks and inserts cannot interleave.
func lockEventSlots(ctx context.Context, tx bun.Tx, eventTypeID uuid.UUID) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", "event_type:"+eventTypeID.String()).Exec(ctx)
	return err
}

func (r *BookingRepo) GetBooking(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	return getBooking(ctx, r.db, bookingID)
}

func (r *BookingRepo) MergeBookingMetadata(ctx context.Context, bookingID uuid.UUID, metadata map[string]any) (domain.Booking, error) {
	patch, err := json.Marshal(metadata)
	if err != nil {
		return domain.Booking{}, err
	}

	var out domain.Booking
	err = r.db.NewUpdate().
		Model(&out).
		Set("metadata = COALESCE(metadata, '{}'::jsonb) || ?::jsonb", string(patch)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", bookingID).
		Returning("*").
		Scan(ctx)
	if err != nil {
		return domain.Booking{}, translate(err)
	}
	return out, nil
}

func (r *BookingRepo) ListOccupancy(ctx context.Context, eventTypeID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Occupancy, error) {
	return listOccupancy(ctx, r.db, eventTypeID, windowStart, windowEnd)
}

// ResponseAvailable reports whether no booking of the event type that still
// holds its slot already answered field with value. It serves as the form
// uniqueness check.
func (r *BookingRepo) ResponseAvailable(ctx context.Context, eventTypeID uuid.UUID, field domain.CustomField, value any) (bool, error) {
	return responseAvailable(ctx, r.db, eventTypeID, field.Name, value)
}

func responseAvailable(ctx context.Context, db bun.IDB, eventTypeID uuid.UUID, field string, value any) (bool, error) {
	if value == nil {
		return true, nil
	}
	text := strings.TrimSpace(fmt.Sprint(value))
	if text == "" {
		return true, nil
	}

	q := db.NewSelect().
		Model((*domain.Booking)(nil)).
		Where("event_type_id = ?", eventTypeID).
		Where("lower(responses ->> ?) = lower(?)", field, text)
	taken, err := whereHolding(q, "").Exists(ctx)
	if err != nil {
		return false, translate(err)
	}
	return !taken, nil
}

func (r bookingTx) InsertBooking(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	m := b
	if _, err := r.tx.NewInsert().Model(&m).Exec(ctx); err != nil {
		return domain.Booking{}, translate(err)
	}
	return m, nil
}

func (r bookingTx) InsertAttendee(ctx context.Context, a domain.Attendee) (domain.Attendee, error) {
	m := a
	if _, err := r.tx.NewInsert().Model(&m).Exec(ctx); err != nil {
		return domain.Attendee{}, translate(err)
	}
	return m, nil
}

func (r bookingTx) GetBooking(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	return getBooking(ctx, r.tx, bookingID)
}

func (r bookingTx) ActiveBookingAt(ctx context.Context, eventTypeID uuid.UUID, start time.Time) (domain.Booking, error) {
	var b domain.Booking
	q := r.tx.NewSelect().
		Model(&b).
		Where("event_type_id = ?", eventTypeID).
		Where("start_time = ?", start.UTC())
	err := whereHolding(q, "").
		OrderExpr("created_at ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Booking{}, translate(err)
	}
	return b, nil
}

func (r bookingTx) ListOccupancy(ctx context.Context, eventTypeID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Occupancy, error) {
	return listOccupancy(ctx, r.tx, eventTypeID, windowStart, windowEnd)
}

func (r bookingTx) CountAttendees(ctx context.Context, bookingID uuid.UUID) (int, error) {
	n, err := r.tx.NewSelect().
		Model((*domain.Attendee)(nil)).
		Where("booking_id = ?", bookingID).
		Count(ctx)
	if err != nil {
		return 0, translate(err)
	}
	return n, nil
}

func (r bookingTx) AttendeeBySeat(ctx context.Context, seatUID uuid.UUID) (domain.Attendee, error) {
	return attendeeBySeat(ctx, r.tx, seatUID)
}

func (r *BookingRepo) AttendeeBySeat(ctx context.Context, seatUID uuid.UUID) (domain.Attendee, error) {
	return attendeeBySeat(ctx, r.db, seatUID)
}

func attendeeBySeat(ctx context.Context, db bun.IDB, seatUID uuid.UUID) (domain.Attendee, error) {
	var a domain.Attendee
	err := db.NewSelect().
		Model(&a).
		Where("seat_uid = ?", seatUID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Attendee{}, translate(err)
	}
	return a, nil
}

func (r bookingTx) DeleteAttendee(ctx context.Context, seatUID uuid.UUID) error {
	res, err := r.tx.NewDelete().
		Model((*domain.Attendee)(nil)).
		Where("seat_uid = ?", seatUID).
		Exec(ctx)
	if err != nil {
		return translate(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r bookingTx) CancelBooking(ctx context.Context, bookingID uuid.UUID) error {
	res, err := r.tx.NewUpdate().
		Model((*domain.Booking)(nil)).
		Set("status = ?", domain.BookingStatusCancelled).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", bookingID).
		Where("status != ?", domain.BookingStatusCancelled).
		Exec(ctx)
	if err != nil {
		return translate(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r bookingTx) ListSeries(ctx context.Context, seriesID uuid.UUID) ([]domain.Booking, error) {
	var out []domain.Booking
	err := r.tx.NewSelect().
		Model(&out).
		Where("recurring_series_id = ?", seriesID).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func getBooking(ctx context.Context, db bun.IDB, bookingID uuid.UUID) (domain.Booking, error) {
	var b domain.Booking
	err := db.NewSelect().
		Model(&b).
		Where("id = ?", bookingID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Booking{}, translate(err)
	}
	return b, nil
}

type occupancyRow struct {
	BookingID uuid.UUID `bun:"booking_id"`
	StartTime time.Time `bun:"start_time"`
	EndTime   time.Time `bun:"end_time"`
	Attendees int       `bun:"attendees"`
}

func listOccupancy(ctx context.Context, db bun.IDB, eventTypeID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Occupancy, error) {
	var rows []occupancyRow
	q := db.NewSelect().
		TableExpr("bookings AS b").
		ColumnExpr("b.id AS booking_id, b.start_time, b.end_time").
		ColumnExpr("count(a.id) AS attendees").
		Join("LEFT JOIN attendees AS a ON a.booking_id = b.id").
		Where("b.event_type_id = ?", eventTypeID)
	err := whereHolding(q, "b.").
		Where("b.start_time < ?", windowEnd.UTC()).
		Where("b.end_time > ?", windowStart.UTC()).
		GroupExpr("b.id").
		OrderExpr("b.start_time ASC").
		Scan(ctx, &rows)
	if err != nil {
		return nil, translate(err)
	}

	out := make([]domain.Occupancy, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.Occupancy{
			BookingID: row.BookingID,
			StartTime: row.StartTime.UTC(),
			EndTime:   row.EndTime.UTC(),
			Attendees: row.Attendees,
		})
	}
	return out, nil
}
