package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotbook/backend/internal/domain"
)

func TestBeginSubmission_ClearsTransientStateAndKeepsResponses(t *testing.T) {
	s := New("s1", &domain.EventType{}, time.Now())
	s.SetResponses(map[string]any{"email": "grace@example.com"})
	s.FieldErrors = map[string]string{"name": "is required"}
	s.MutationError = &Error{Kind: ErrorCreation, Message: "boom"}
	s.FocusErrors = true

	first := s.BeginSubmission("fp-1")
	require.NotEmpty(t, s.Responses)
	assert.Nil(t, s.FormCache)
	assert.Nil(t, s.FieldErrors)
	assert.Nil(t, s.MutationError)
	assert.False(t, s.FocusErrors)
	assert.Equal(t, StateValidating, s.State)
	assert.True(t, s.IsCurrent(first))

	second := s.BeginSubmission("fp-2")
	assert.Greater(t, second, first)
	assert.False(t, s.IsCurrent(first))
	assert.True(t, s.IsCurrent(second))
}

func TestFailCreation_PreservesResponses(t *testing.T) {
	s := New("s1", &domain.EventType{}, time.Now())
	s.SetResponses(map[string]any{"email": "grace@example.com", "notes": "hi"})
	s.BeginSubmission("fp")
	s.StartSubmitting(RouteSingle)

	s.FailCreation("slot is no longer available")

	assert.Equal(t, map[string]any{"email": "grace@example.com", "notes": "hi"}, s.Responses)
	assert.Equal(t, StateFailed, s.State)
	assert.Empty(t, s.PendingFingerprint)
	view := s.ErrorView()
	require.NotNil(t, view.Mutation)
	assert.Equal(t, ErrorCreation, view.Mutation.Kind)
	assert.True(t, view.Focus)
	assert.False(t, s.IsCurrent(s.Attempt))
}

func TestSetResponses_ClearsFieldErrorForEditedField(t *testing.T) {
	s := New("s1", nil, time.Now())
	s.FieldErrors = map[string]string{"email": "is required", "name": "is required"}

	s.SetResponses(map[string]any{"email": "grace@example.com"})

	assert.Equal(t, map[string]string{"name": "is required"}, s.FieldErrors)
	assert.Equal(t, "grace@example.com", s.FormCache["email"])
}

func TestSelectSlot_DerivesDateInZone(t *testing.T) {
	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	s := New("s1", nil, time.Now())

	s.SelectSlot(&domain.Slot{Start: time.Date(2026, 3, 3, 2, 0, 0, 0, time.UTC)}, loc)
	assert.Equal(t, "2026-03-02", s.SelectedDate)

	s.SelectSlot(nil, loc)
	assert.Nil(t, s.SelectedSlot)
	assert.Empty(t, s.SelectedDate)
}

func TestFinishInstant_OnlyOnceForCurrentBooking(t *testing.T) {
	s := New("s1", nil, time.Now())
	s.Succeed(Outcome{Instant: &InstantState{BookingID: "b1", Status: InstantPending}})

	assert.False(t, s.FinishInstant("other", InstantResolved, "https://meet.example.com/x"))
	assert.True(t, s.FinishInstant("b1", InstantExpired, ""))
	assert.False(t, s.FinishInstant("b1", InstantResolved, "https://meet.example.com/x"))

	assert.Equal(t, InstantExpired, s.Outcome.Instant.Status)
	require.NotNil(t, s.GlobalError)
	assert.Equal(t, ErrorExpiry, s.GlobalError.Kind)
}
