package session

import (
	"maps"
	"net/url"
	"time"

	"slotbook/backend/internal/domain"
)

type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateSubmitting State = "submitting"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

type Route string

const (
	RouteSingle    Route = "single"
	RouteRecurring Route = "recurring"
	RouteInstant   Route = "instant"
)

type ErrorKind string

const (
	ErrorPrecondition ErrorKind = "precondition"
	ErrorValidation   ErrorKind = "validation"
	ErrorCreation     ErrorKind = "creation"
	ErrorPoll         ErrorKind = "poll"
	ErrorExpiry       ErrorKind = "expiry"
)

type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Redirect is handed to the redirect resolver after a successful booking.
type Redirect struct {
	URL        string            `json:"url"`
	Target     string            `json:"target,omitempty"`
	Query      map[string]string `json:"query"`
	BookingUID string            `json:"bookingUid"`
}

// PaymentHandoff replaces the success redirect when a booking needs payment.
type PaymentHandoff struct {
	URL              string `json:"url"`
	PaymentReference string `json:"paymentReference"`
	BookingUID       string `json:"bookingUid"`
}

type InstantStatus string

const (
	InstantPending   InstantStatus = "pending"
	InstantResolved  InstantStatus = "resolved"
	InstantExpired   InstantStatus = "expired"
	InstantCancelled InstantStatus = "cancelled"
)

type InstantState struct {
	BookingID    string        `json:"bookingId"`
	Expires      time.Time     `json:"expires"`
	Status       InstantStatus `json:"status"`
	VideoCallURL string        `json:"videoCallUrl,omitempty"`
}

type Outcome struct {
	Redirect      *Redirect       `json:"redirect,omitempty"`
	Payment       *PaymentHandoff `json:"payment,omitempty"`
	Instant       *InstantState   `json:"instant,omitempty"`
	SeatReference string          `json:"seatReference,omitempty"`
}

// Session is one booker's server-side state. It is only mutated through the
// methods below, under the Manager's per-session lock.
type Session struct {
	ID        string            `json:"id"`
	EventType *domain.EventType `json:"eventType,omitempty"`
	Username  string            `json:"username"`
	TimeZone  string            `json:"timeZone"`
	Language  string            `json:"language"`
	Query     url.Values        `json:"query,omitempty"`

	SelectedDate     string       `json:"selectedDate,omitempty"`
	SelectedSlot     *domain.Slot `json:"selectedSlot,omitempty"`
	SelectedDuration int          `json:"selectedDuration,omitempty"`
	RecurringCount   int          `json:"recurringCount,omitempty"`
	InstantMode      bool         `json:"instantMode,omitempty"`
	RescheduleUID    string       `json:"rescheduleUid,omitempty"`
	RescheduleFrom   *time.Time   `json:"rescheduleFrom,omitempty"`
	SeatReference    string       `json:"seatReference,omitempty"`

	VerifiedEmail       string `json:"verifiedEmail,omitempty"`
	VerificationPending bool   `json:"verificationPending,omitempty"`

	Responses map[string]any `json:"responses,omitempty"`
	// FormCache mirrors responses for restoring the form; each submission drops it.
	FormCache     map[string]any    `json:"formCache,omitempty"`
	FieldErrors   map[string]string `json:"fieldErrors,omitempty"`
	GlobalError   *Error            `json:"globalError,omitempty"`
	MutationError *Error            `json:"mutationError,omitempty"`
	FocusErrors   bool              `json:"focusErrors,omitempty"`

	State              State   `json:"state"`
	Route              Route   `json:"route,omitempty"`
	Attempt            uint64  `json:"attempt"`
	PendingFingerprint string  `json:"pendingFingerprint,omitempty"`
	Outcome            Outcome `json:"outcome"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func New(id string, et *domain.EventType, now time.Time) *Session {
	return &Session{
		ID:        id,
		EventType: et,
		Query:     url.Values{},
		Responses: map[string]any{},
		State:     StateIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SelectSlot changes the selected start. A nil slot clears the selection.
func (s *Session) SelectSlot(slot *domain.Slot, loc *time.Location) {
	s.SelectedSlot = slot
	s.SelectedDate = ""
	if slot != nil {
		if loc == nil {
			loc = time.UTC
		}
		s.SelectedDate = slot.Start.In(loc).Format(time.DateOnly)
	}
}

// SetResponses merges edits into the form values and clears their field errors.
func (s *Session) SetResponses(values map[string]any) {
	if s.Responses == nil {
		s.Responses = map[string]any{}
	}
	if s.FormCache == nil {
		s.FormCache = map[string]any{}
	}
	for k, v := range values {
		s.Responses[k] = v
		s.FormCache[k] = v
		delete(s.FieldErrors, k)
	}
}

// InFlight reports whether an attempt is still between dispatch and result.
func (s *Session) InFlight() bool {
	return s.State == StateValidating || s.State == StateSubmitting
}

// BeginSubmission starts a new attempt and returns its sequence number. Any
// earlier attempt still running becomes stale.
func (s *Session) BeginSubmission(fingerprint string) uint64 {
	s.Attempt++
	s.State = StateValidating
	s.Route = ""
	s.PendingFingerprint = fingerprint
	s.FormCache = nil
	s.FieldErrors = nil
	s.GlobalError = nil
	s.MutationError = nil
	s.FocusErrors = false
	s.Outcome = Outcome{}
	return s.Attempt
}

func (s *Session) IsCurrent(attempt uint64) bool {
	return attempt == s.Attempt && s.InFlight()
}

func (s *Session) FailPrecondition(msg string) {
	s.State = StateFailed
	s.PendingFingerprint = ""
	s.GlobalError = &Error{Kind: ErrorPrecondition, Message: msg}
}

func (s *Session) FailValidation(fieldErrors map[string]string) {
	s.State = StateFailed
	s.PendingFingerprint = ""
	s.FieldErrors = maps.Clone(fieldErrors)
	s.GlobalError = &Error{Kind: ErrorValidation, Message: "some fields need attention"}
}

func (s *Session) StartSubmitting(route Route) {
	s.State = StateSubmitting
	s.Route = route
}

// FailCreation records a rejected or malformed creation result. Responses
// are kept so the booker can correct and resubmit.
func (s *Session) FailCreation(msg string) {
	s.State = StateFailed
	s.PendingFingerprint = ""
	s.MutationError = &Error{Kind: ErrorCreation, Message: msg}
	s.FocusErrors = true
}

func (s *Session) Succeed(outcome Outcome) {
	s.State = StateSucceeded
	s.PendingFingerprint = ""
	s.Outcome = outcome
}

func (s *Session) MarkEmailVerified(email string) {
	s.VerifiedEmail = email
	s.VerificationPending = false
}

// FinishInstant records the terminal state of an instant booking poll.
func (s *Session) FinishInstant(bookingID string, status InstantStatus, videoCallURL string) bool {
	in := s.Outcome.Instant
	if in == nil || in.BookingID != bookingID || in.Status != InstantPending {
		return false
	}
	in.Status = status
	in.VideoCallURL = videoCallURL
	switch status {
	case InstantExpired:
		s.GlobalError = &Error{Kind: ErrorExpiry, Message: "the instant meeting request expired"}
	case InstantCancelled:
		s.GlobalError = &Error{Kind: ErrorCreation, Message: "the instant meeting was cancelled"}
	}
	return true
}

// NotePollError surfaces a transient poll problem without ending the poll.
func (s *Session) NotePollError(bookingID, msg string) {
	in := s.Outcome.Instant
	if in == nil || in.BookingID != bookingID || in.Status != InstantPending {
		return
	}
	s.GlobalError = &Error{Kind: ErrorPoll, Message: msg}
}

// ErrorView aggregates form-level and mutation-level errors.
type ErrorView struct {
	Global   *Error            `json:"global,omitempty"`
	Fields   map[string]string `json:"fieldErrors,omitempty"`
	Mutation *Error            `json:"mutation,omitempty"`
	Focus    bool              `json:"focus"`
}

func (s *Session) ErrorView() ErrorView {
	return ErrorView{
		Global:   s.GlobalError,
		Fields:   maps.Clone(s.FieldErrors),
		Mutation: s.MutationError,
		Focus:    s.FocusErrors,
	}
}

func (v ErrorView) Empty() bool {
	return v.Global == nil && len(v.Fields) == 0 && v.Mutation == nil
}
