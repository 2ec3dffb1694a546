package domain

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type FieldType string

const (
	FieldTypeName        FieldType = "name"
	FieldTypeEmail       FieldType = "email"
	FieldTypePhone       FieldType = "phone"
	FieldTypeText        FieldType = "text"
	FieldTypeTextarea    FieldType = "textarea"
	FieldTypeNumber      FieldType = "number"
	FieldTypeBoolean     FieldType = "boolean"
	FieldTypeSelect      FieldType = "select"
	FieldTypeRadio       FieldType = "radio"
	FieldTypeMultiSelect FieldType = "multiselect"
	FieldTypeCheckbox    FieldType = "checkbox"
	FieldTypeMultiEmail  FieldType = "multiemail"
)

// FieldCondition makes a field visible only while another response equals Value.
type FieldCondition struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type CustomField struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Label    string    `json:"label,omitempty"`
	Required bool      `json:"required,omitempty"`
	Hidden   bool      `json:"hidden,omitempty"`
	Options  []string  `json:"options,omitempty"`
	// LockedOnReschedule fields keep the original booking's value and are not
	// validated when the attendee reschedules.
	LockedOnReschedule bool            `json:"lockedOnReschedule,omitempty"`
	VisibleWhen        *FieldCondition `json:"visibleWhen,omitempty"`
	// Unique fields are checked remotely before a booking attempt.
	Unique bool `json:"unique,omitempty"`
}

type RecurrencePolicy struct {
	Frequency RecurrenceFrequency `json:"freq"`
	Interval  int                 `json:"interval"`
	// Count is the maximum number of occurrences an attendee may request.
	Count int `json:"count"`
}

type EventType struct {
	bun.BaseModel `bun:"table:event_types"`

	ID                    uuid.UUID         `bun:"id,pk,type:uuid"`
	Slug                  string            `bun:"slug,notnull"`
	OwnerUsername         string            `bun:"owner_username,notnull"`
	Title                 string            `bun:"title,notnull"`
	LengthMinutes         int               `bun:"length_minutes,notnull"`
	DurationOptions       []int             `bun:"duration_options,array"`
	IsDynamic             bool              `bun:"is_dynamic,notnull"`
	Recurrence            *RecurrencePolicy `bun:"recurrence,type:jsonb"`
	SeatsPerTimeSlot      *int              `bun:"seats_per_time_slot"`
	SeatsShowAvailability bool              `bun:"seats_show_availability,notnull"`
	Fields                []CustomField     `bun:"fields,type:jsonb"`
	RequiresVerification  bool              `bun:"requires_verification,notnull"`
	SuccessRedirectURL    string            `bun:"success_redirect_url"`
	Timezone              string            `bun:"timezone,notnull"`
	DayStartMinute        int               `bun:"day_start_minute,notnull"`
	DayEndMinute          int               `bun:"day_end_minute,notnull"`
	SlotIntervalMinutes   int               `bun:"slot_interval_minutes,notnull"`
	MinimumNoticeMinutes  int               `bun:"minimum_notice_minutes,notnull"`
	PriceCents            int64             `bun:"price_cents,notnull"`
	Currency              string            `bun:"currency"`
	CreatedAt             time.Time         `bun:"created_at,notnull"`
	UpdatedAt             time.Time         `bun:"updated_at,notnull"`
}

func (e *EventType) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if e.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			e.ID = id
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		if e.UpdatedAt.IsZero() {
			e.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		e.UpdatedAt = now
	}
	return nil
}

func (e *EventType) DefaultLength() time.Duration {
	return time.Duration(e.LengthMinutes) * time.Minute
}

// AllowsDuration reports whether minutes is one of the configured durations.
// Events without explicit options only allow their default length.
func (e *EventType) AllowsDuration(minutes int) bool {
	if len(e.DurationOptions) == 0 {
		return minutes == e.LengthMinutes
	}
	return slices.Contains(e.DurationOptions, minutes)
}

func (e *EventType) IsSeated() bool {
	return e.SeatsPerTimeSlot != nil && *e.SeatsPerTimeSlot > 0
}

func (e *EventType) HasRecurrence() bool {
	return e.Recurrence != nil && e.Recurrence.Count > 0
}

func (e *EventType) RequiresPayment() bool {
	return e.PriceCents > 0
}

func (e *EventType) Location() (*time.Location, error) {
	if e.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(e.Timezone)
}
