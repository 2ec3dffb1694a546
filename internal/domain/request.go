package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// BookingRequest is the immutable snapshot handed to a creation call.
type BookingRequest struct {
	EventTypeID     uuid.UUID         `json:"eventTypeId"`
	EventSlug       string            `json:"eventSlug"`
	Start           time.Time         `json:"start"`
	End             time.Time         `json:"end"`
	DurationMinutes int               `json:"duration"`
	TimeZone        string            `json:"timeZone"`
	Language        string            `json:"language"`
	Responses       map[string]any    `json:"responses"`
	Username        string            `json:"username,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	HashedLink      string            `json:"hashedLink,omitempty"`
	// RescheduleReference is the uid of the booking being replaced.
	RescheduleReference string `json:"rescheduleUid,omitempty"`
	// SeatReference is the seat uid of an attendee on the seated booking being joined.
	SeatReference  string `json:"bookingUid,omitempty"`
	IdempotencyKey string `json:"-"`
}

func (r BookingRequest) IsReschedule() bool {
	return r.RescheduleReference != ""
}

func (r BookingRequest) AttendeeEmail() string {
	return ResponseEmail(r.Responses)
}

func (r BookingRequest) AttendeeName() string {
	return ResponseFullName(r.Responses)
}

// ResponseEmail reads the attendee email out of bundled form responses.
func ResponseEmail(responses map[string]any) string {
	email, _ := responses["email"].(string)
	return strings.TrimSpace(email)
}

// ResponseFullName accepts either a plain name string or a
// {firstName, lastName} object.
func ResponseFullName(responses map[string]any) string {
	switch v := responses["name"].(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		first, _ := v["firstName"].(string)
		last, _ := v["lastName"].(string)
		return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
	default:
		return ""
	}
}

// BookingResult is one of SingleResult, RecurringResult or InstantResult.
type BookingResult interface {
	isBookingResult()
}

type SingleResult struct {
	UID              uuid.UUID
	StartTime        time.Time
	PaymentReference *uuid.UUID
	SeatReference    *uuid.UUID
}

type Occurrence struct {
	UID       uuid.UUID
	StartTime time.Time
}

// RecurringResult lists created occurrences in start order; the first one is canonical.
type RecurringResult struct {
	SeriesID    uuid.UUID
	Occurrences []Occurrence
}

type InstantResult struct {
	BookingID uuid.UUID
	Expires   time.Time
}

func (SingleResult) isBookingResult()    {}
func (RecurringResult) isBookingResult() {}
func (InstantResult) isBookingResult()   {}

// Canonical returns the first occurrence if it carries a usable uid.
func (r RecurringResult) Canonical() (Occurrence, bool) {
	if len(r.Occurrences) == 0 || r.Occurrences[0].UID == uuid.Nil {
		return Occurrence{}, false
	}
	return r.Occurrences[0], true
}

// InstantLocation is the payload returned while an instant booking resolves.
type InstantLocation struct {
	BookingID uuid.UUID      `json:"id"`
	Status    BookingStatus  `json:"status"`
	Metadata  map[string]any `json:"metadata"`
}

// VideoCallURL extracts the resolved meeting location, if any.
func (l InstantLocation) VideoCallURL() (string, bool) {
	if l.Metadata == nil {
		return "", false
	}
	raw, ok := l.Metadata[MetadataVideoCallURL]
	if !ok {
		return "", false
	}
	url, ok := raw.(string)
	if !ok || strings.TrimSpace(url) == "" {
		return "", false
	}
	return url, true
}
