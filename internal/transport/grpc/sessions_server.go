package grpc

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"slotbook/backend/internal/availability"
	"slotbook/backend/internal/domain"
	"slotbook/backend/internal/form"
	"slotbook/backend/internal/orchestrator"
	"slotbook/backend/internal/service/bookings"
	"slotbook/backend/internal/session"
	"slotbook/backend/internal/store"
	"slotbook/backend/internal/verification"
)

type sessionManager interface {
	Start(ctx context.Context, et *domain.EventType, init func(s *session.Session)) (*session.Session, error)
	Get(ctx context.Context, id string) (*session.Session, error)
	Update(ctx context.Context, id string, fn func(s *session.Session) error) (*session.Session, error)
}

type submitter interface {
	Submit(ctx context.Context, sessionID string) (*session.Session, error)
	Verify(ctx context.Context, sessionID, code string) (*session.Session, error)
}

type bookingsService interface {
	GetBooking(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error)
	ResolveInstantBooking(ctx context.Context, bookingID uuid.UUID, videoCallURL string) error
}

type slotSource interface {
	Slots(ctx context.Context, eventTypeID uuid.UUID, from, to time.Time, durationMinutes int) ([]domain.Slot, error)
}

type SessionsServer struct {
	sessions sessionManager
	submit   submitter
	events   store.EventTypeRepository
	bookings bookingsService
	slots    slotSource
	forms    orchestrator.Forms
	log      *slog.Logger
}

type SessionsDeps struct {
	Sessions sessionManager
	Submit   submitter
	Events   store.EventTypeRepository
	Bookings bookingsService
	Slots    slotSource
	Forms    orchestrator.Forms
}

func NewSessionsServer(deps SessionsDeps, log *slog.Logger) *SessionsServer {
	if log == nil {
		log = slog.Default()
	}
	return &SessionsServer{
		sessions: deps.Sessions,
		submit:   deps.Submit,
		events:   deps.Events,
		bookings: deps.Bookings,
		slots:    deps.Slots,
		forms:    deps.Forms,
		log:      log.With(slog.String("component", "grpc.sessions")),
	}
}

type startSessionInput struct {
	EventTypeID   string            `json:"eventTypeId"`
	Username      string            `json:"username"`
	Slug          string            `json:"slug"`
	TimeZone      string            `json:"timeZone"`
	Language      string            `json:"language"`
	Query         map[string]string `json:"query"`
	RescheduleUID string            `json:"rescheduleUid"`
	SeatReference string            `json:"bookingUid"`
	InstantMode   bool              `json:"instantMode"`
}

type sessionInput struct {
	SessionID string `json:"sessionId"`
}

type selectSlotInput struct {
	SessionID string     `json:"sessionId"`
	Start     *time.Time `json:"start"`
}

type setDurationInput struct {
	SessionID string `json:"sessionId"`
	Minutes   int    `json:"minutes"`
}

type setRecurringCountInput struct {
	SessionID string `json:"sessionId"`
	Count     int    `json:"count"`
}

type setInstantModeInput struct {
	SessionID string `json:"sessionId"`
	Enabled   bool   `json:"enabled"`
}

type setResponsesInput struct {
	SessionID string         `json:"sessionId"`
	Responses map[string]any `json:"responses"`
}

type verifyEmailInput struct {
	SessionID string `json:"sessionId"`
	Code      string `json:"code"`
}

type availabilityInput struct {
	EventTypeID string    `json:"eventTypeId"`
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	Duration    int       `json:"duration"`
}

type resolveInstantInput struct {
	BookingID    string `json:"bookingId"`
	VideoCallURL string `json:"videoCallUrl"`
}

// sessionView is the wire shape of a session returned by every session RPC.
type sessionView struct {
	ID                  string            `json:"id"`
	EventTypeID         string            `json:"eventTypeId,omitempty"`
	EventSlug           string            `json:"eventSlug,omitempty"`
	State               session.State     `json:"state"`
	Route               session.Route     `json:"route,omitempty"`
	Attempt             uint64            `json:"attempt"`
	SelectedDate        string            `json:"selectedDate,omitempty"`
	SelectedSlot        *domain.Slot      `json:"selectedSlot,omitempty"`
	SelectedDuration    int               `json:"selectedDuration,omitempty"`
	RecurringCount      int               `json:"recurringCount,omitempty"`
	InstantMode         bool              `json:"instantMode,omitempty"`
	RescheduleUID       string            `json:"rescheduleUid,omitempty"`
	TimeZone            string            `json:"timeZone,omitempty"`
	Responses           map[string]any    `json:"responses,omitempty"`
	VerificationPending bool              `json:"verificationPending,omitempty"`
	Errors              session.ErrorView `json:"errors"`
	Outcome             session.Outcome   `json:"outcome"`
	FormSchema          map[string]any    `json:"formSchema,omitempty"`
}

func toView(s *session.Session) sessionView {
	v := sessionView{
		ID:                  s.ID,
		State:               s.State,
		Route:               s.Route,
		Attempt:             s.Attempt,
		SelectedDate:        s.SelectedDate,
		SelectedSlot:        s.SelectedSlot,
		SelectedDuration:    s.SelectedDuration,
		RecurringCount:      s.RecurringCount,
		InstantMode:         s.InstantMode,
		RescheduleUID:       s.RescheduleUID,
		TimeZone:            s.TimeZone,
		Responses:           s.Responses,
		VerificationPending: s.VerificationPending,
		Errors:              s.ErrorView(),
		Outcome:             s.Outcome,
	}
	if s.EventType != nil {
		v.EventTypeID = s.EventType.ID.String()
		v.EventSlug = s.EventType.Slug
	}
	return v
}

func (s *SessionsServer) StartSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "StartSession"))

	var req startSessionInput
	if err := decodeInput(in, &req); err != nil {
		log.Warn("invalid request", slog.String("reason", "decode"), slog.Any("err", err))
		return nil, status.Error(codes.InvalidArgument, "malformed request")
	}

	et, err := s.loadEventType(ctx, req)
	if err != nil {
		return nil, s.statusError(log, err, "event type lookup failed")
	}

	loc, err := et.Location()
	if err != nil {
		log.Error("event type has an invalid time zone", slog.Any("err", err), slog.String("event_type_id", et.ID.String()))
		return nil, status.Error(codes.Internal, "internal error")
	}
	if req.TimeZone != "" {
		userLoc, err := time.LoadLocation(req.TimeZone)
		if err != nil {
			log.Warn("invalid request", slog.String("reason", "invalid_time_zone"))
			return nil, status.Error(codes.InvalidArgument, "time_zone is not a valid IANA zone")
		}
		loc = userLoc
	}

	var rescheduleFrom *time.Time
	if req.RescheduleUID != "" {
		from, err := s.rescheduleFrom(ctx, et, req.RescheduleUID)
		if err != nil {
			return nil, s.statusError(log, err, "reschedule lookup failed")
		}
		rescheduleFrom = &from
	}

	query := url.Values{}
	for k, v := range req.Query {
		query.Set(k, v)
	}

	sess, err := s.sessions.Start(ctx, &et, func(sess *session.Session) {
		sess.Username = req.Username
		sess.TimeZone = loc.String()
		sess.Language = req.Language
		sess.Query = query
		sess.RescheduleUID = req.RescheduleUID
		sess.RescheduleFrom = rescheduleFrom
		sess.SeatReference = req.SeatReference
		sess.InstantMode = req.InstantMode
	})
	if err != nil {
		return nil, s.statusError(log, err, "session start failed")
	}

	log.Info("session started",
		slog.String("session_id", sess.ID),
		slog.String("event_type_id", et.ID.String()),
		slog.Bool("reschedule", req.RescheduleUID != ""),
	)
	return s.render(ctx, sess, true)
}

func (s *SessionsServer) loadEventType(ctx context.Context, req startSessionInput) (domain.EventType, error) {
	if req.EventTypeID != "" {
		id, err := uuid.Parse(req.EventTypeID)
		if err != nil {
			return domain.EventType{}, status.Error(codes.InvalidArgument, "eventTypeId must be a UUID")
		}
		return s.events.GetEventType(ctx, id)
	}
	if req.Username == "" || req.Slug == "" {
		return domain.EventType{}, status.Error(codes.InvalidArgument, "eventTypeId or username and slug are required")
	}
	return s.events.GetEventTypeBySlug(ctx, req.Username, req.Slug)
}

func (s *SessionsServer) rescheduleFrom(ctx context.Context, et domain.EventType, ref string) (time.Time, error) {
	id, err := uuid.Parse(ref)
	if err != nil {
		return time.Time{}, status.Error(codes.InvalidArgument, "rescheduleUid must be a UUID")
	}
	b, err := s.bookings.GetBooking(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	if b.EventTypeID != et.ID {
		return time.Time{}, status.Error(codes.InvalidArgument, "booking belongs to a different event type")
	}
	if b.Status == domain.BookingStatusCancelled {
		return time.Time{}, status.Error(codes.FailedPrecondition, "booking is already cancelled")
	}
	return b.StartTime, nil
}

func (s *SessionsServer) GetSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "GetSession"))

	var req sessionInput
	if err := decodeInput(in, &req); err != nil || req.SessionID == "" {
		log.Warn("invalid request", slog.String("reason", "missing_session_id"))
		return nil, status.Error(codes.InvalidArgument, "sessionId is required")
	}
	sess, err := s.sessions.Get(ctx, req.SessionID)
	if err != nil {
		return nil, s.statusError(log, err, "session load failed")
	}
	return s.render(ctx, sess, true)
}

func (s *SessionsServer) SelectSlot(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "SelectSlot"))

	var req selectSlotInput
	if err := decodeInput(in, &req); err != nil || req.SessionID == "" {
		log.Warn("invalid request", slog.String("reason", "decode"))
		return nil, status.Error(codes.InvalidArgument, "sessionId is required and start must be RFC 3339")
	}

	sess, err := s.sessions.Get(ctx, req.SessionID)
	if err != nil {
		return nil, s.statusError(log, err, "session load failed")
	}

	var slot *domain.Slot
	if req.Start != nil {
		if sess.EventType == nil {
			return nil, status.Error(codes.FailedPrecondition, "session has no event type")
		}
		slot, err = s.findSlot(ctx, sess, req.Start.UTC())
		if err != nil {
			return nil, s.statusError(log, err, "slot lookup failed")
		}
	}

	return s.mutate(ctx, log, req.SessionID, func(sess *session.Session) error {
		loc, err := time.LoadLocation(sess.TimeZone)
		if err != nil {
			loc = time.UTC
		}
		sess.SelectSlot(slot, loc)
		return nil
	})
}

// findSlot confirms start is still offered by the availability source.
func (s *SessionsServer) findSlot(ctx context.Context, sess *session.Session, start time.Time) (*domain.Slot, error) {
	slots, err := s.slots.Slots(ctx, sess.EventType.ID, start, start.Add(time.Minute), sess.SelectedDuration)
	if err != nil {
		return nil, err
	}
	for _, slot := range slots {
		if slot.Start.Equal(start) {
			return &slot, nil
		}
	}
	if sess.SeatReference != "" {
		// Joining a seated booking targets an existing start even when the
		// slot is hidden from general availability.
		return &domain.Slot{Start: start}, nil
	}
	return nil, status.Error(codes.FailedPrecondition, "that time is no longer available")
}

func (s *SessionsServer) SetDuration(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "SetDuration"))

	var req setDurationInput
	if err := decodeInput(in, &req); err != nil || req.SessionID == "" {
		return nil, status.Error(codes.InvalidArgument, "sessionId is required")
	}
	if req.Minutes < 0 {
		return nil, status.Error(codes.InvalidArgument, "minutes must not be negative")
	}
	return s.mutate(ctx, log, req.SessionID, func(sess *session.Session) error {
		sess.SelectedDuration = req.Minutes
		return nil
	})
}

func (s *SessionsServer) SetRecurringCount(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "SetRecurringCount"))

	var req setRecurringCountInput
	if err := decodeInput(in, &req); err != nil || req.SessionID == "" {
		return nil, status.Error(codes.InvalidArgument, "sessionId is required")
	}
	return s.mutate(ctx, log, req.SessionID, func(sess *session.Session) error {
		if req.Count == 0 {
			sess.RecurringCount = 0
			return nil
		}
		if sess.EventType == nil || !sess.EventType.HasRecurrence() {
			return status.Error(codes.FailedPrecondition, "event type does not recur")
		}
		if req.Count < 0 || req.Count > sess.EventType.Recurrence.Count {
			return status.Errorf(codes.InvalidArgument, "count must be between 1 and %d", sess.EventType.Recurrence.Count)
		}
		sess.RecurringCount = req.Count
		return nil
	})
}

func (s *SessionsServer) SetInstantMode(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "SetInstantMode"))

	var req setInstantModeInput
	if err := decodeInput(in, &req); err != nil || req.SessionID == "" {
		return nil, status.Error(codes.InvalidArgument, "sessionId is required")
	}
	return s.mutate(ctx, log, req.SessionID, func(sess *session.Session) error {
		sess.InstantMode = req.Enabled
		return nil
	})
}

func (s *SessionsServer) SetResponses(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "SetResponses"))

	var req setResponsesInput
	if err := decodeInput(in, &req); err != nil || req.SessionID == "" {
		return nil, status.Error(codes.InvalidArgument, "sessionId is required")
	}
	return s.mutate(ctx, log, req.SessionID, func(sess *session.Session) error {
		sess.SetResponses(req.Responses)
		return nil
	})
}

func (s *SessionsServer) Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "Submit"))

	var req sessionInput
	if err := decodeInput(in, &req); err != nil || req.SessionID == "" {
		return nil, status.Error(codes.InvalidArgument, "sessionId is required")
	}
	sess, err := s.submit.Submit(ctx, req.SessionID)
	if err != nil {
		return nil, s.statusError(log, err, "submit failed")
	}
	log.Info("submission finished",
		slog.String("session_id", sess.ID),
		slog.String("state", string(sess.State)),
		slog.Bool("verification_pending", sess.VerificationPending),
	)
	return s.render(ctx, sess, false)
}

func (s *SessionsServer) VerifyEmail(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "VerifyEmail"))

	var req verifyEmailInput
	if err := decodeInput(in, &req); err != nil || req.SessionID == "" {
		return nil, status.Error(codes.InvalidArgument, "sessionId is required")
	}
	if strings.TrimSpace(req.Code) == "" {
		return nil, status.Error(codes.InvalidArgument, "code is required")
	}
	sess, err := s.submit.Verify(ctx, req.SessionID, strings.TrimSpace(req.Code))
	if err != nil {
		return nil, s.statusError(log, err, "verification failed")
	}
	return s.render(ctx, sess, false)
}

func (s *SessionsServer) GetAvailability(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "GetAvailability"))

	var req availabilityInput
	if err := decodeInput(in, &req); err != nil {
		log.Warn("invalid request", slog.String("reason", "decode"), slog.Any("err", err))
		return nil, status.Error(codes.InvalidArgument, "from and to must be RFC 3339 timestamps")
	}
	id, err := uuid.Parse(req.EventTypeID)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "eventTypeId must be a UUID")
	}
	slots, err := s.slots.Slots(ctx, id, req.From, req.To, req.Duration)
	if err != nil {
		return nil, s.statusError(log, err, "availability lookup failed")
	}

	log.Debug("availability listed",
		slog.String("event_type_id", id.String()),
		slog.Int("count", len(slots)),
		slog.Time("window_start", req.From),
		slog.Time("window_end", req.To),
	)
	if slots == nil {
		slots = []domain.Slot{}
	}
	return encodeOutput(struct {
		Slots []domain.Slot `json:"slots"`
	}{Slots: slots})
}

func (s *SessionsServer) ResolveInstantBooking(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "ResolveInstantBooking"))

	var req resolveInstantInput
	if err := decodeInput(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, "malformed request")
	}
	id, err := uuid.Parse(req.BookingID)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "bookingId must be a UUID")
	}
	if err := s.bookings.ResolveInstantBooking(ctx, id, req.VideoCallURL); err != nil {
		return nil, s.statusError(log, err, "instant booking resolve failed")
	}
	log.Info("instant booking resolved", slog.String("booking_id", id.String()))
	return encodeOutput(struct {
		BookingID string `json:"bookingId"`
	}{BookingID: id.String()})
}

func (s *SessionsServer) mutate(ctx context.Context, log *slog.Logger, sessionID string, fn func(sess *session.Session) error) (*structpb.Struct, error) {
	sess, err := s.sessions.Update(ctx, sessionID, fn)
	if err != nil {
		return nil, s.statusError(log, err, "session update failed")
	}
	return s.render(ctx, sess, false)
}

func (s *SessionsServer) render(ctx context.Context, sess *session.Session, withSchema bool) (*structpb.Struct, error) {
	v := toView(sess)
	if withSchema && s.forms != nil && sess.EventType != nil {
		mode := form.ViewBooking
		if sess.RescheduleUID != "" {
			mode = form.ViewReschedule
		}
		validator, err := s.forms.Build(sess.EventType, mode)
		if err != nil {
			s.log.ErrorContext(ctx, "form schema build failed", slog.Any("err", err), slog.String("session_id", sess.ID))
			return nil, status.Error(codes.Internal, "internal error")
		}
		v.FormSchema = validator.Schema()
	}
	out, err := encodeOutput(v)
	if err != nil {
		s.log.ErrorContext(ctx, "response encode failed", slog.Any("err", err), slog.String("session_id", sess.ID))
		return nil, status.Error(codes.Internal, "internal error")
	}
	return out, nil
}

// statusError maps domain errors to gRPC codes. Errors that already carry a
// status pass through unchanged.
func (s *SessionsServer) statusError(log *slog.Logger, err error, msg string) error {
	if _, ok := status.FromError(err); ok {
		log.Warn(msg, slog.Any("err", err))
		return err
	}

	var vErr *bookings.ValidationError
	switch {
	case errors.Is(err, session.ErrNotFound):
		log.Info(msg, slog.String("reason", "session_not_found"))
		return status.Error(codes.NotFound, "session not found")
	case errors.Is(err, store.ErrNotFound):
		log.Info(msg, slog.String("reason", "not_found"))
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, orchestrator.ErrSubmissionInFlight):
		log.Info(msg, slog.String("reason", "in_flight"))
		return status.Error(codes.Aborted, "an identical submission is already in progress")
	case errors.Is(err, verification.ErrTooManyRequests):
		log.Warn(msg, slog.String("reason", "rate_limited"))
		return status.Error(codes.ResourceExhausted, "too many verification codes requested, try again shortly")
	case errors.Is(err, verification.ErrInvalidCode):
		log.Info(msg, slog.String("reason", "invalid_code"))
		return status.Error(codes.InvalidArgument, "verification code is invalid or expired")
	case errors.Is(err, verification.ErrNoPendingChallenge):
		log.Info(msg, slog.String("reason", "no_challenge"))
		return status.Error(codes.FailedPrecondition, "no verification is pending for this session")
	case errors.Is(err, availability.ErrInvalidWindow):
		log.Warn(msg, slog.String("reason", "invalid_window"))
		return status.Error(codes.InvalidArgument, "availability window is invalid")
	case errors.Is(err, store.ErrConflict):
		log.Info(msg, slog.String("reason", "conflict"))
		return status.Error(codes.FailedPrecondition, "this time slot is no longer available")
	case errors.As(err, &vErr):
		log.Warn(msg, slog.Any("err", err))
		return status.Error(codes.InvalidArgument, vErr.Error())
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn(msg, slog.String("reason", "deadline"))
		return status.Error(codes.DeadlineExceeded, "request timed out")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request cancelled")
	}
	log.Error(msg, slog.Any("err", err))
	return status.Error(codes.Internal, "internal error")
}
