package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"slotbook/backend/internal/compose"
	"slotbook/backend/internal/domain"
	"slotbook/backend/internal/form"
	"slotbook/backend/internal/instant"
	"slotbook/backend/internal/service/bookings"
	"slotbook/backend/internal/session"
	"slotbook/backend/internal/store"
)

var (
	// ErrSubmissionInFlight rejects a resubmission of the same form state while
	// its first attempt is still pending.
	ErrSubmissionInFlight = errors.New("an identical submission is already in progress")

	errMissingIdentifier = errors.New("creation result has no usable identifier")
)

const msgEventUnavailable = "event could not be booked"

type Creator interface {
	CreateBooking(ctx context.Context, req domain.BookingRequest) (domain.SingleResult, error)
	CreateRecurringBooking(ctx context.Context, req domain.BookingRequest, count int) (domain.RecurringResult, error)
	CreateInstantBooking(ctx context.Context, req domain.BookingRequest) (domain.InstantResult, error)
}

type Forms interface {
	Build(et *domain.EventType, mode form.ViewMode) (*form.Validator, error)
}

type Poller interface {
	Arm(task instant.Task, h instant.Handlers)
	Cancel(sessionID string)
}

type Orchestrator struct {
	sessions  *session.Manager
	creator   Creator
	forms     Forms
	redirects Redirector
	poller    Poller
	log       *slog.Logger
}

func New(sessions *session.Manager, creator Creator, forms Forms, redirects Redirector, poller Poller, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		sessions:  sessions,
		creator:   creator,
		forms:     forms,
		redirects: redirects,
		poller:    poller,
		log:       log.With(slog.String("component", "orchestrator")),
	}
}

// attempt is everything one submission needs after the session lock is
// released. It is captured before any call that can block.
type attempt struct {
	seq       uint64
	sessionID string
	intent    intent
	req       domain.BookingRequest
	event     domain.EventType
	mode      form.ViewMode
	former    *time.Time
}

// Submit runs one submission for the session and returns its resulting state.
// Booking failures are reported in the session, not as an error.
func (o *Orchestrator) Submit(ctx context.Context, sessionID string) (*session.Session, error) {
	var at *attempt
	s, err := o.sessions.Update(ctx, sessionID, func(s *session.Session) error {
		var err error
		at, err = o.begin(s)
		return err
	})
	if err != nil {
		return nil, err
	}
	if at == nil {
		return s, nil
	}
	if o.poller != nil {
		o.poller.Cancel(sessionID)
	}
	log := o.log.With(
		slog.String("session_id", sessionID),
		slog.Uint64("attempt", at.seq),
		slog.String("route", string(at.intent.route())),
	)

	fieldErrs, err := o.validate(ctx, at)
	if err != nil {
		log.ErrorContext(ctx, "response validation failed", slog.Any("error", err))
		s, _, err := o.finish(ctx, at, log, func(s *session.Session) {
			s.FailCreation("responses could not be validated")
		})
		return s, err
	}
	if !fieldErrs.Empty() {
		log.WarnContext(ctx, "responses rejected", slog.Int("fields", len(fieldErrs)))
		s, _, err := o.finish(ctx, at, log, func(s *session.Session) {
			s.FailValidation(fieldErrs)
		})
		return s, err
	}

	s, err = o.sessions.Update(ctx, sessionID, func(s *session.Session) error {
		if s.IsCurrent(at.seq) {
			s.StartSubmitting(at.intent.route())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !s.IsCurrent(at.seq) {
		log.InfoContext(ctx, "submission superseded before dispatch")
		return s, nil
	}

	outcome, createErr := o.create(ctx, at)
	if createErr != nil {
		log.ErrorContext(ctx, "booking creation failed", slog.Any("error", createErr))
		s, _, err := o.finish(ctx, at, log, func(s *session.Session) {
			s.FailCreation(failureMessage(createErr))
		})
		return s, err
	}

	log.InfoContext(ctx, "booking succeeded")
	s, applied, err := o.finish(ctx, at, log, func(s *session.Session) {
		s.Succeed(outcome)
		if outcome.Instant != nil {
			s.Query.Set("bookingId", outcome.Instant.BookingID)
		}
		if outcome.SeatReference != "" {
			s.SeatReference = outcome.SeatReference
		}
	})
	if err != nil {
		return nil, err
	}
	if applied && outcome.Instant != nil {
		o.armInstant(sessionID, outcome.Instant)
	}
	return s, nil
}

// begin applies the entry guards under the session lock. A nil attempt with a
// nil error means nothing was dispatched.
func (o *Orchestrator) begin(s *session.Session) (*attempt, error) {
	if s.SelectedSlot == nil {
		return nil, nil
	}
	if s.EventType == nil {
		s.BeginSubmission("")
		s.FailPrecondition(msgEventUnavailable)
		return nil, nil
	}

	req, err := compose.Compose(compose.Input{
		EventType:        s.EventType,
		Slot:             s.SelectedSlot,
		SelectedDuration: s.SelectedDuration,
		TimeZone:         s.TimeZone,
		Language:         s.Language,
		Username:         s.Username,
		Responses:        s.Responses,
		RescheduleUID:    s.RescheduleUID,
		SeatReference:    s.SeatReference,
		Query:            s.Query,
	})
	if err != nil {
		s.BeginSubmission("")
		s.FailPrecondition(msgEventUnavailable)
		return nil, nil
	}

	in := selectIntent(s)
	fp, err := fingerprint(req, in)
	if err != nil {
		return nil, err
	}
	if s.InFlight() && s.PendingFingerprint == fp {
		return nil, ErrSubmissionInFlight
	}
	req.IdempotencyKey = s.ID + ":" + fp

	at := &attempt{
		seq:       s.BeginSubmission(fp),
		sessionID: s.ID,
		intent:    in,
		req:       req,
		event:     *s.EventType,
		mode:      form.ViewBooking,
	}
	if req.IsReschedule() {
		at.mode = form.ViewReschedule
		if s.RescheduleFrom != nil {
			former := *s.RescheduleFrom
			at.former = &former
		}
	}
	return at, nil
}

func (o *Orchestrator) validate(ctx context.Context, at *attempt) (form.FieldErrors, error) {
	v, err := o.forms.Build(&at.event, at.mode)
	if err != nil {
		return nil, err
	}
	return v.Validate(ctx, at.req.Responses)
}

// finish applies fn only if the attempt is still the latest one.
func (o *Orchestrator) finish(ctx context.Context, at *attempt, log *slog.Logger, fn func(s *session.Session)) (*session.Session, bool, error) {
	applied := false
	s, err := o.sessions.Update(ctx, at.sessionID, func(s *session.Session) error {
		if !s.IsCurrent(at.seq) {
			log.WarnContext(ctx, "discarding result of superseded submission", slog.Uint64("current_attempt", s.Attempt))
			return nil
		}
		fn(s)
		applied = true
		return nil
	})
	return s, applied, err
}

func (o *Orchestrator) create(ctx context.Context, at *attempt) (session.Outcome, error) {
	switch in := at.intent.(type) {
	case instantIntent:
		res, err := o.creator.CreateInstantBooking(ctx, at.req)
		if err != nil {
			return session.Outcome{}, err
		}
		if res.BookingID == uuid.Nil {
			return session.Outcome{}, errMissingIdentifier
		}
		return session.Outcome{Instant: &session.InstantState{
			BookingID: res.BookingID.String(),
			Expires:   res.Expires.UTC(),
			Status:    session.InstantPending,
		}}, nil

	case recurringIntent:
		res, err := o.creator.CreateRecurringBooking(ctx, at.req, in.count)
		if err != nil {
			return session.Outcome{}, err
		}
		first, ok := res.Canonical()
		if !ok {
			return session.Outcome{}, errMissingIdentifier
		}
		query := o.successQuery(at, "")
		query["allRemainingBookings"] = "true"
		return o.redirectOutcome(at, first.UID, query, "")

	case singleIntent:
		res, err := o.creator.CreateBooking(ctx, at.req)
		if err != nil {
			return session.Outcome{}, err
		}
		if res.UID == uuid.Nil {
			return session.Outcome{}, errMissingIdentifier
		}
		seat := ""
		if res.SeatReference != nil {
			seat = res.SeatReference.String()
		}
		if res.PaymentReference != nil {
			link, err := o.redirects.PaymentURL(&at.event, *res.PaymentReference, PaymentDetails{
				Name:  at.req.AttendeeName(),
				Email: at.req.AttendeeEmail(),
				Start: at.req.Start,
			})
			if err != nil {
				return session.Outcome{}, err
			}
			return session.Outcome{
				Payment: &session.PaymentHandoff{
					URL:              link,
					PaymentReference: res.PaymentReference.String(),
					BookingUID:       res.UID.String(),
				},
				SeatReference: seat,
			}, nil
		}
		return o.redirectOutcome(at, res.UID, o.successQuery(at, seat), seat)

	default:
		return session.Outcome{}, fmt.Errorf("unknown booking route %T", in)
	}
}

func (o *Orchestrator) successQuery(at *attempt, seat string) map[string]string {
	q := map[string]string{
		"isSuccessBookingPage": "true",
		"email":                at.req.AttendeeEmail(),
		"eventTypeSlug":        at.event.Slug,
	}
	if seat != "" {
		q["seatReferenceUid"] = seat
	}
	if at.req.IsReschedule() && at.former != nil {
		q["formerTime"] = at.former.UTC().Format(time.RFC3339)
	}
	return q
}

func (o *Orchestrator) redirectOutcome(at *attempt, uid uuid.UUID, query map[string]string, seat string) (session.Outcome, error) {
	link, err := o.redirects.SuccessURL(&at.event, uid, query)
	if err != nil {
		return session.Outcome{}, err
	}
	return session.Outcome{
		Redirect: &session.Redirect{
			URL:        link,
			Target:     at.event.SuccessRedirectURL,
			Query:      maps.Clone(query),
			BookingUID: uid.String(),
		},
		SeatReference: seat,
	}, nil
}

func (o *Orchestrator) armInstant(sessionID string, st *session.InstantState) {
	if o.poller == nil {
		return
	}
	bookingID, err := uuid.Parse(st.BookingID)
	if err != nil {
		return
	}
	o.poller.Arm(instant.Task{SessionID: sessionID, BookingID: bookingID, Expires: st.Expires}, instant.Handlers{
		OnError: func(task instant.Task, err error) {
			o.updateInstant(task, func(s *session.Session) {
				s.NotePollError(task.BookingID.String(), err.Error())
			})
		},
		OnDone: func(task instant.Task, res instant.Result) {
			var status session.InstantStatus
			switch res.Status {
			case instant.StatusResolved:
				status = session.InstantResolved
			case instant.StatusExpired:
				status = session.InstantExpired
			case instant.StatusCancelled:
				status = session.InstantCancelled
			default:
				return
			}
			o.updateInstant(task, func(s *session.Session) {
				s.FinishInstant(task.BookingID.String(), status, res.VideoCallURL)
			})
		},
	})
}

func (o *Orchestrator) updateInstant(task instant.Task, fn func(s *session.Session)) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := o.sessions.Update(ctx, task.SessionID, func(s *session.Session) error {
		fn(s)
		return nil
	}); err != nil {
		o.log.Error("instant poll update failed",
			slog.String("session_id", task.SessionID),
			slog.Any("error", err),
		)
	}
}

func fingerprint(req domain.BookingRequest, in intent) (string, error) {
	count := 0
	if r, ok := in.(recurringIntent); ok {
		count = r.count
	}
	b, err := json.Marshal(struct {
		Request domain.BookingRequest `json:"request"`
		Route   session.Route         `json:"route"`
		Count   int                   `json:"count,omitempty"`
	}{Request: req, Route: in.route(), Count: count})
	if err != nil {
		return "", fmt.Errorf("fingerprint request: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func failureMessage(err error) string {
	var vErr *bookings.ValidationError
	switch {
	case errors.Is(err, store.ErrConflict):
		return "this time slot is no longer available"
	case errors.Is(err, store.ErrSeatsExhausted):
		return "no seats are left for this time slot"
	case errors.Is(err, errMissingIdentifier):
		return "the booking could not be confirmed"
	case errors.As(err, &vErr):
		return vErr.Error()
	default:
		return "the booking could not be created"
	}
}
