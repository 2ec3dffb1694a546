package bookings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"slotbook/backend/internal/domain"
	"slotbook/backend/internal/store"
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

const (
	maxIdempotencyKeyLength = 256
	maxBookingLength        = 24 * time.Hour
)

type Service struct {
	events     store.EventTypeRepository
	bookings   store.BookingRepository
	instantTTL time.Duration
	now        func() time.Time
	log        *slog.Logger
}

func NewService(events store.EventTypeRepository, bookings store.BookingRepository, instantTTL time.Duration, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if instantTTL <= 0 {
		instantTTL = 5 * time.Minute
	}
	return &Service{
		events:     events,
		bookings:   bookings,
		instantTTL: instantTTL,
		now:        time.Now,
		log:        log.With(slog.String("component", "bookings")),
	}
}

// prepared is a validated request with the event type it books against.
type prepared struct {
	event     domain.EventType
	start     time.Time
	end       time.Time
	timezone  string
	language  string
	email     string
	name      string
	responses map[string]any
	metadata  map[string]any
	key       string
}

func (s *Service) prepare(ctx context.Context, req domain.BookingRequest) (prepared, error) {
	et, err := s.loadEventType(ctx, req)
	if err != nil {
		return prepared{}, err
	}

	if req.Start.IsZero() {
		return prepared{}, validationError("start is required")
	}
	minutes := req.DurationMinutes
	if minutes == 0 {
		minutes = et.LengthMinutes
	}
	if minutes <= 0 {
		return prepared{}, validationError("invalid duration")
	}
	if !et.IsDynamic && !et.AllowsDuration(minutes) {
		return prepared{}, validationError("duration is not allowed for this event type")
	}
	start := req.Start.UTC()
	end := start.Add(time.Duration(minutes) * time.Minute)
	if end.Sub(start) > maxBookingLength {
		return prepared{}, validationError("duration too long")
	}
	if !req.End.IsZero() && !req.End.UTC().Equal(end) {
		return prepared{}, validationError("end does not match duration")
	}
	if start.Before(s.now()) {
		return prepared{}, validationError("start is in the past")
	}

	tz := strings.TrimSpace(req.TimeZone)
	if tz == "" {
		return prepared{}, validationError("time_zone is required")
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return prepared{}, validationError("invalid time_zone")
	}

	email := req.AttendeeEmail()
	if email == "" {
		return prepared{}, validationError("email is required")
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if len(key) > maxIdempotencyKeyLength {
		return prepared{}, validationError("idempotency_key too long")
	}

	metadata := make(map[string]any, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if req.HashedLink != "" {
		metadata["hashedLink"] = req.HashedLink
	}

	return prepared{
		event:     et,
		start:     start,
		end:       end,
		timezone:  tz,
		language:  req.Language,
		email:     email,
		name:      req.AttendeeName(),
		responses: req.Responses,
		metadata:  metadata,
		key:       key,
	}, nil
}

func (s *Service) loadEventType(ctx context.Context, req domain.BookingRequest) (domain.EventType, error) {
	var (
		et  domain.EventType
		err error
	)
	switch {
	case req.EventTypeID != uuid.Nil:
		et, err = s.events.GetEventType(ctx, req.EventTypeID)
	case req.EventSlug != "" && req.Username != "":
		et, err = s.events.GetEventTypeBySlug(ctx, req.Username, req.EventSlug)
	default:
		return domain.EventType{}, validationError("event type is required")
	}
	if errors.Is(err, store.ErrNotFound) {
		return domain.EventType{}, validationError("event type not found")
	}
	return et, err
}

// deterministicID derives a stable id from an idempotency key so a retried
// creation resolves to the rows the first attempt wrote.
func deterministicID(kind, key string) uuid.UUID {
	if key == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return uuid.New()
		}
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("slotbook:"+kind+":"+key))
}

func paymentReference(et domain.EventType, seatUID uuid.UUID) *uuid.UUID {
	if !et.RequiresPayment() {
		return nil
	}
	ref := uuid.NewSHA1(uuid.NameSpaceOID, []byte("slotbook:payment:"+seatUID.String()))
	return &ref
}

type reservation struct {
	start          time.Time
	end            time.Time
	seatUID        uuid.UUID
	status         domain.BookingStatus
	seriesID       *uuid.UUID
	fromReschedule *uuid.UUID
	instantExpires *time.Time
	// join is a seat or booking uid of an existing seated booking.
	join string
}

// reserve places one attendee at r.start. The caller holds the event lock.
func (s *Service) reserve(ctx context.Context, tx store.BookingTx, p prepared, r reservation) (domain.Booking, error) {
	et := p.event

	if r.join != "" {
		if !et.IsSeated() {
			return domain.Booking{}, validationError("event type has no seats to join")
		}
		target, err := resolveSeatReference(ctx, tx, r.join)
		if err != nil {
			return domain.Booking{}, err
		}
		if target.EventTypeID != et.ID || !target.StartTime.Equal(r.start) {
			return domain.Booking{}, validationError("seat reference does not match the selected slot")
		}
		if target.Status == domain.BookingStatusCancelled {
			return domain.Booking{}, store.ErrConflict
		}
		return s.joinSeat(ctx, tx, p, target, r.seatUID)
	}

	if et.IsSeated() {
		existing, err := tx.ActiveBookingAt(ctx, et.ID, r.start)
		switch {
		case err == nil:
			return s.joinSeat(ctx, tx, p, existing, r.seatUID)
		case !errors.Is(err, store.ErrNotFound):
			return domain.Booking{}, err
		}
	}

	occupied, err := tx.ListOccupancy(ctx, et.ID, r.start, r.end)
	if err != nil {
		return domain.Booking{}, err
	}
	if len(occupied) > 0 {
		return domain.Booking{}, store.ErrConflict
	}

	b := domain.Booking{
		EventTypeID:       et.ID,
		StartTime:         r.start,
		EndTime:           r.end,
		Status:            r.status,
		Timezone:          p.timezone,
		Language:          p.language,
		Responses:         p.responses,
		Metadata:          p.metadata,
		RecurringSeriesID: r.seriesID,
		FromReschedule:    r.fromReschedule,
		PaymentReference:  paymentReference(et, r.seatUID),
		InstantExpiresAt:  r.instantExpires,
	}
	if b.Status == "" {
		b.Status = domain.BookingStatusAccepted
		if et.RequiresPayment() {
			b.Status = domain.BookingStatusPendingPayment
		}
	}
	created, err := tx.InsertBooking(ctx, b)
	if err != nil {
		return domain.Booking{}, err
	}
	if _, err := tx.InsertAttendee(ctx, p.attendee(created.ID, r.seatUID)); err != nil {
		return domain.Booking{}, err
	}
	return created, nil
}

func (s *Service) joinSeat(ctx context.Context, tx store.BookingTx, p prepared, b domain.Booking, seatUID uuid.UUID) (domain.Booking, error) {
	taken, err := tx.CountAttendees(ctx, b.ID)
	if err != nil {
		return domain.Booking{}, err
	}
	if taken >= *p.event.SeatsPerTimeSlot {
		return domain.Booking{}, store.ErrSeatsExhausted
	}
	if _, err := tx.InsertAttendee(ctx, p.attendee(b.ID, seatUID)); err != nil {
		return domain.Booking{}, err
	}
	return b, nil
}

func resolveSeatReference(ctx context.Context, tx store.BookingTx, ref string) (domain.Booking, error) {
	id, err := uuid.Parse(ref)
	if err != nil {
		return domain.Booking{}, validationError("invalid seat reference")
	}
	bookingID := id
	a, err := tx.AttendeeBySeat(ctx, id)
	switch {
	case err == nil:
		bookingID = a.BookingID
	case !errors.Is(err, store.ErrNotFound):
		return domain.Booking{}, err
	}
	b, err := tx.GetBooking(ctx, bookingID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Booking{}, validationError("seat reference not found")
	}
	return b, err
}

func (p prepared) attendee(bookingID, seatUID uuid.UUID) domain.Attendee {
	return domain.Attendee{
		BookingID: bookingID,
		SeatUID:   seatUID,
		Email:     p.email,
		Name:      p.name,
		Timezone:  p.timezone,
	}
}

// releaseForReschedule frees the allocation being replaced and returns the id
// of the booking it belonged to. On a seated event only the rescheduling
// attendee's seat is released, so the rest of the shared booking stays.
func releaseForReschedule(ctx context.Context, tx store.BookingTx, et domain.EventType, ref string) (*uuid.UUID, error) {
	id, err := uuid.Parse(ref)
	if err != nil {
		return nil, validationError("invalid rescheduleUid")
	}

	seat := uuid.Nil
	bookingID := id
	if et.IsSeated() {
		a, err := tx.AttendeeBySeat(ctx, id)
		switch {
		case err == nil:
			seat, bookingID = a.SeatUID, a.BookingID
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}

	orig, err := tx.GetBooking(ctx, bookingID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, validationError("booking to reschedule not found")
	}
	if err != nil {
		return nil, err
	}
	if orig.EventTypeID != et.ID {
		return nil, validationError("booking to reschedule belongs to another event type")
	}
	if orig.Status == domain.BookingStatusCancelled {
		return nil, validationError("booking to reschedule is already cancelled")
	}

	if seat != uuid.Nil {
		if err := releaseSeat(ctx, tx, orig.ID, seat); err != nil {
			return nil, err
		}
		return &orig.ID, nil
	}
	if et.IsSeated() {
		n, err := tx.CountAttendees(ctx, orig.ID)
		if err != nil {
			return nil, err
		}
		if n > 1 {
			return nil, validationError("rescheduling a shared booking requires the attendee's seat reference")
		}
	}
	if err := tx.CancelBooking(ctx, orig.ID); err != nil {
		return nil, err
	}
	return &orig.ID, nil
}

// releaseSeat removes one attendee and cancels the booking once nobody is left.
func releaseSeat(ctx context.Context, tx store.BookingTx, bookingID, seatUID uuid.UUID) error {
	if err := tx.DeleteAttendee(ctx, seatUID); err != nil {
		return err
	}
	left, err := tx.CountAttendees(ctx, bookingID)
	if err != nil {
		return err
	}
	if left > 0 {
		return nil
	}
	if err := tx.CancelBooking(ctx, bookingID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// replayed reports the booking a previous attempt with the same seat uid created.
func replayed(ctx context.Context, tx store.BookingTx, seatUID uuid.UUID) (domain.Booking, bool, error) {
	a, err := tx.AttendeeBySeat(ctx, seatUID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Booking{}, false, nil
	}
	if err != nil {
		return domain.Booking{}, false, err
	}
	b, err := tx.GetBooking(ctx, a.BookingID)
	if err != nil {
		return domain.Booking{}, false, err
	}
	return b, true, nil
}

func (s *Service) CreateBooking(ctx context.Context, req domain.BookingRequest) (domain.SingleResult, error) {
	p, err := s.prepare(ctx, req)
	if err != nil {
		return domain.SingleResult{}, err
	}
	seatUID := deterministicID("create_booking", p.key)

	var booking domain.Booking
	err = s.bookings.InEventTransaction(ctx, p.event.ID, func(ctx context.Context, tx store.BookingTx) error {
		if p.key != "" {
			prev, ok, err := replayed(ctx, tx, seatUID)
			if err != nil {
				return err
			}
			if ok {
				booking = prev
				return nil
			}
		}

		r := reservation{start: p.start, end: p.end, seatUID: seatUID, join: req.SeatReference}
		if req.IsReschedule() {
			from, err := releaseForReschedule(ctx, tx, p.event, req.RescheduleReference)
			if err != nil {
				return err
			}
			r.fromReschedule = from
		}

		b, err := s.reserve(ctx, tx, p, r)
		if err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		s.log.WarnContext(ctx, "create booking rejected",
			slog.String("event_type_id", p.event.ID.String()),
			slog.Time("start", p.start),
			slog.Any("error", err),
		)
		return domain.SingleResult{}, err
	}

	out := domain.SingleResult{
		UID:              booking.ID,
		StartTime:        booking.StartTime,
		PaymentReference: paymentReference(p.event, seatUID),
	}
	if p.event.IsSeated() {
		out.SeatReference = &seatUID
	}
	s.log.InfoContext(ctx, "booking created",
		slog.String("booking_id", booking.ID.String()),
		slog.String("event_type_id", p.event.ID.String()),
		slog.Bool("seated", out.SeatReference != nil),
		slog.Bool("payment_required", out.PaymentReference != nil),
	)
	return out, nil
}

// CreateRecurringBooking books count occurrences of the event's recurrence
// policy starting at req.Start. Either every occurrence is booked or none is.
func (s *Service) CreateRecurringBooking(ctx context.Context, req domain.BookingRequest, count int) (domain.RecurringResult, error) {
	p, err := s.prepare(ctx, req)
	if err != nil {
		return domain.RecurringResult{}, err
	}
	if !p.event.HasRecurrence() {
		return domain.RecurringResult{}, validationError("event type does not recur")
	}
	if req.IsReschedule() {
		return domain.RecurringResult{}, validationError("recurring bookings cannot be rescheduled")
	}

	starts, err := domain.ExpandOccurrences(*p.event.Recurrence, p.start, p.event.Timezone, count)
	if err != nil {
		return domain.RecurringResult{}, validationError(err.Error())
	}
	length := p.end.Sub(p.start)
	seriesID := deterministicID("create_recurring_booking", p.key)

	var created []domain.Booking
	err = s.bookings.InEventTransaction(ctx, p.event.ID, func(ctx context.Context, tx store.BookingTx) error {
		if p.key != "" {
			prev, err := tx.ListSeries(ctx, seriesID)
			if err != nil {
				return err
			}
			if len(prev) > 0 {
				created = prev
				return nil
			}
		}

		created = make([]domain.Booking, 0, len(starts))
		for i, start := range starts {
			b, err := s.reserve(ctx, tx, p, reservation{
				start:    start,
				end:      start.Add(length),
				seatUID:  deterministicID("create_recurring_booking", occurrenceKey(p.key, i)),
				seriesID: &seriesID,
			})
			if err != nil {
				return fmt.Errorf("occurrence %d: %w", i+1, err)
			}
			created = append(created, b)
		}
		return nil
	})
	if err != nil {
		s.log.WarnContext(ctx, "create recurring booking rejected",
			slog.String("event_type_id", p.event.ID.String()),
			slog.Int("count", count),
			slog.Any("error", err),
		)
		return domain.RecurringResult{}, err
	}

	out := domain.RecurringResult{SeriesID: seriesID, Occurrences: make([]domain.Occurrence, 0, len(created))}
	for _, b := range created {
		out.Occurrences = append(out.Occurrences, domain.Occurrence{UID: b.ID, StartTime: b.StartTime})
	}
	s.log.InfoContext(ctx, "recurring booking created",
		slog.String("series_id", seriesID.String()),
		slog.Int("occurrences", len(out.Occurrences)),
	)
	return out, nil
}

func occurrenceKey(key string, i int) string {
	if key == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", key, i)
}

// CreateInstantBooking reserves the slot and waits for a host to attach a
// meeting location before the returned token expires. A retry after the
// previous attempt's token expired releases that attempt and books afresh.
func (s *Service) CreateInstantBooking(ctx context.Context, req domain.BookingRequest) (domain.InstantResult, error) {
	p, err := s.prepare(ctx, req)
	if err != nil {
		return domain.InstantResult{}, err
	}
	seatUID := deterministicID("create_instant_booking", p.key)
	expires := s.now().UTC().Add(s.instantTTL)

	var booking domain.Booking
	err = s.bookings.InEventTransaction(ctx, p.event.ID, func(ctx context.Context, tx store.BookingTx) error {
		if p.key != "" {
			prev, ok, err := replayed(ctx, tx, seatUID)
			if err != nil {
				return err
			}
			if ok && !s.instantExpired(prev) {
				booking = prev
				return nil
			}
			if ok {
				s.log.InfoContext(ctx, "releasing expired instant booking",
					slog.String("booking_id", prev.ID.String()),
				)
				if err := releaseSeat(ctx, tx, prev.ID, seatUID); err != nil {
					return err
				}
			}
		}
		b, err := s.reserve(ctx, tx, p, reservation{
			start:          p.start,
			end:            p.end,
			seatUID:        seatUID,
			status:         domain.BookingStatusAwaitingHost,
			instantExpires: &expires,
		})
		if err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		s.log.WarnContext(ctx, "create instant booking rejected", slog.Any("error", err))
		return domain.InstantResult{}, err
	}
	if booking.InstantExpiresAt != nil {
		expires = booking.InstantExpiresAt.UTC()
	}

	s.log.InfoContext(ctx, "instant booking created",
		slog.String("booking_id", booking.ID.String()),
		slog.Time("expires", expires),
	)
	return domain.InstantResult{BookingID: booking.ID, Expires: expires}, nil
}

func (s *Service) instantExpired(b domain.Booking) bool {
	return b.InstantExpiresAt != nil && !s.now().Before(*b.InstantExpiresAt)
}

func (s *Service) GetInstantBookingLocation(ctx context.Context, bookingID uuid.UUID) (domain.InstantLocation, error) {
	if bookingID == uuid.Nil {
		return domain.InstantLocation{}, validationError("booking_id is required")
	}
	b, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.InstantLocation{}, err
	}
	if b.InstantExpiresAt == nil {
		return domain.InstantLocation{}, validationError("booking is not an instant booking")
	}
	return domain.InstantLocation{BookingID: b.ID, Status: b.Status, Metadata: b.Metadata}, nil
}

// ResolveInstantBooking attaches the host's meeting link to a pending
// instant booking.
func (s *Service) ResolveInstantBooking(ctx context.Context, bookingID uuid.UUID, videoCallURL string) error {
	if bookingID == uuid.Nil {
		return validationError("booking_id is required")
	}
	u, err := url.ParseRequestURI(strings.TrimSpace(videoCallURL))
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return validationError("invalid video call url")
	}

	b, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if b.InstantExpiresAt == nil {
		return validationError("booking is not an instant booking")
	}
	if s.instantExpired(b) {
		return validationError("instant booking token expired")
	}

	if _, err := s.bookings.MergeBookingMetadata(ctx, bookingID, map[string]any{
		domain.MetadataVideoCallURL: u.String(),
	}); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "instant booking resolved", slog.String("booking_id", bookingID.String()))
	return nil
}

// GetBooking returns the booking with the given id, or the seated booking
// holding that seat uid.
func (s *Service) GetBooking(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	if bookingID == uuid.Nil {
		return domain.Booking{}, validationError("booking_id is required")
	}
	b, err := s.bookings.GetBooking(ctx, bookingID)
	if !errors.Is(err, store.ErrNotFound) {
		return b, err
	}
	a, seatErr := s.bookings.AttendeeBySeat(ctx, bookingID)
	if seatErr != nil {
		if errors.Is(seatErr, store.ErrNotFound) {
			return domain.Booking{}, err
		}
		return domain.Booking{}, seatErr
	}
	return s.bookings.GetBooking(ctx, a.BookingID)
}
