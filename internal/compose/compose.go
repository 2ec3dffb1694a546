package compose

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"slotbook/backend/internal/domain"
)

var (
	ErrEventTypeUnavailable = errors.New("event type data is unavailable")
	ErrNoSlot               = errors.New("no slot selected")
)

// Input is everything the composer reads. Callers snapshot it before any
// asynchronous work starts.
type Input struct {
	EventType        *domain.EventType
	Slot             *domain.Slot
	SelectedDuration int
	TimeZone         string
	Language         string
	Username         string
	Responses        map[string]any
	RescheduleUID    string
	SeatReference    string
	Query            url.Values
}

// ResolveDuration picks the booking length in minutes. Dynamic events honor
// any positive selection; fixed events only honor configured options.
func ResolveDuration(et *domain.EventType, selected int) int {
	if et.IsDynamic {
		if selected > 0 {
			return selected
		}
		return et.LengthMinutes
	}
	if selected > 0 && len(et.DurationOptions) > 0 && et.AllowsDuration(selected) {
		return selected
	}
	return et.LengthMinutes
}

// ExtractMetadata folds metadata[<name>] query parameters into a flat map.
// The first value wins when a key repeats.
func ExtractMetadata(q url.Values) map[string]string {
	out := map[string]string{}
	for key, values := range q {
		name, ok := metadataName(key)
		if !ok || len(values) == 0 {
			continue
		}
		out[name] = values[0]
	}
	return out
}

func metadataName(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, "metadata[")
	if !ok {
		return "", false
	}
	name, ok := strings.CutSuffix(rest, "]")
	if !ok || name == "" || strings.ContainsAny(name, "[]") {
		return "", false
	}
	return name, true
}

// Compose builds the request snapshot for one submission.
func Compose(in Input) (domain.BookingRequest, error) {
	if in.EventType == nil {
		return domain.BookingRequest{}, ErrEventTypeUnavailable
	}
	if in.Slot == nil || in.Slot.Start.IsZero() {
		return domain.BookingRequest{}, ErrNoSlot
	}
	et := in.EventType

	minutes := ResolveDuration(et, in.SelectedDuration)
	start := in.Slot.Start.UTC()

	responses := make(map[string]any, len(in.Responses))
	for k, v := range in.Responses {
		responses[k] = v
	}

	username := in.Username
	if username == "" {
		username = et.OwnerUsername
	}
	tz := in.TimeZone
	if tz == "" {
		tz = et.Timezone
	}

	return domain.BookingRequest{
		EventTypeID:         et.ID,
		EventSlug:           et.Slug,
		Start:               start,
		End:                 start.Add(time.Duration(minutes) * time.Minute),
		DurationMinutes:     minutes,
		TimeZone:            tz,
		Language:            in.Language,
		Responses:           responses,
		Username:            username,
		Metadata:            ExtractMetadata(in.Query),
		HashedLink:          in.Query.Get("hashedLink"),
		RescheduleReference: firstNonEmpty(in.RescheduleUID, in.Query.Get("rescheduleUid")),
		SeatReference:       firstNonEmpty(in.SeatReference, in.Query.Get("bookingUid")),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
