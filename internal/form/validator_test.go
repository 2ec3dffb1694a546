package form

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotbook/backend/internal/domain"
)

func bookingEvent() *domain.EventType {
	return &domain.EventType{
		Fields: []domain.CustomField{
			{Name: "name", Type: domain.FieldTypeName, Required: true},
			{Name: "email", Type: domain.FieldTypeEmail, Required: true},
			{Name: "notes", Type: domain.FieldTypeTextarea},
			{Name: "company", Type: domain.FieldTypeText, Required: true, LockedOnReschedule: true},
			{Name: "source", Type: domain.FieldTypeSelect, Options: []string{"search", "friend"}},
			{Name: "referrer", Type: domain.FieldTypeText, Required: true, VisibleWhen: &domain.FieldCondition{Field: "source", Value: "friend"}},
			{Name: "internal", Type: domain.FieldTypeText, Required: true, Hidden: true},
		},
	}
}

func validResponses() map[string]any {
	return map[string]any{
		"name":    "Grace Hopper",
		"email":   "grace@example.com",
		"company": "Navy",
	}
}

func TestBuild_NilEventTypeIsPermissive(t *testing.T) {
	v, err := NewBuilder(nil).Build(nil, ViewBooking)
	require.NoError(t, err)

	errs, err := v.Validate(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, errs.Empty())

	errs, err = v.Validate(context.Background(), map[string]any{"anything": 1})
	require.NoError(t, err)
	assert.True(t, errs.Empty())
}

func TestValidate_RequiredAndUnknownFields(t *testing.T) {
	v, err := NewBuilder(nil).Build(bookingEvent(), ViewBooking)
	require.NoError(t, err)

	responses := validResponses()
	responses["utm_campaign"] = "spring"
	errs, err := v.Validate(context.Background(), responses)
	require.NoError(t, err)
	assert.True(t, errs.Empty(), "unexpected errors: %v", errs)

	delete(responses, "email")
	errs, err = v.Validate(context.Background(), responses)
	require.NoError(t, err)
	assert.Equal(t, FieldErrors{"email": "is required"}, errs)
}

func TestValidate_TypedFields(t *testing.T) {
	v, err := NewBuilder(nil).Build(bookingEvent(), ViewBooking)
	require.NoError(t, err)

	tests := []struct {
		name  string
		field string
		value any
		ok    bool
	}{
		{name: "name object", field: "name", value: map[string]any{"firstName": "Grace", "lastName": "Hopper"}, ok: true},
		{name: "name object without first name", field: "name", value: map[string]any{"lastName": "Hopper"}},
		{name: "empty name", field: "name", value: ""},
		{name: "malformed email", field: "email", value: "not-an-email"},
		{name: "select option", field: "source", value: "search", ok: true},
		{name: "unknown option", field: "source", value: "billboard"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			responses := validResponses()
			responses[tt.field] = tt.value
			errs, err := v.Validate(context.Background(), responses)
			require.NoError(t, err)
			if tt.ok {
				assert.True(t, errs.Empty(), "unexpected errors: %v", errs)
				return
			}
			assert.Contains(t, errs, tt.field)
		})
	}
}

func TestValidate_ConditionalVisibility(t *testing.T) {
	v, err := NewBuilder(nil).Build(bookingEvent(), ViewBooking)
	require.NoError(t, err)

	responses := validResponses()
	responses["source"] = "search"
	errs, err := v.Validate(context.Background(), responses)
	require.NoError(t, err)
	assert.True(t, errs.Empty(), "unexpected errors: %v", errs)

	responses["source"] = "friend"
	errs, err = v.Validate(context.Background(), responses)
	require.NoError(t, err)
	assert.Equal(t, "is required", errs["referrer"])
}

func TestBuild_RescheduleSkipsLockedFields(t *testing.T) {
	v, err := NewBuilder(nil).Build(bookingEvent(), ViewReschedule)
	require.NoError(t, err)

	responses := validResponses()
	delete(responses, "company")
	errs, err := v.Validate(context.Background(), responses)
	require.NoError(t, err)
	assert.True(t, errs.Empty(), "unexpected errors: %v", errs)

	props := v.Schema()["properties"].(map[string]any)
	assert.NotContains(t, props, "company")
	assert.NotContains(t, props, "internal")
}

func TestValidate_UniqueCheck(t *testing.T) {
	et := bookingEvent()
	et.ID = uuid.MustParse("0190f3a6-0000-7000-8000-0000000000aa")
	et.Fields[1].Unique = true

	t.Run("rejected value", func(t *testing.T) {
		var seen []any
		v, err := NewBuilder(func(ctx context.Context, eventTypeID uuid.UUID, f domain.CustomField, value any) (bool, error) {
			assert.Equal(t, et.ID, eventTypeID)
			seen = append(seen, value)
			return false, nil
		}).Build(et, ViewBooking)
		require.NoError(t, err)

		errs, err := v.Validate(context.Background(), validResponses())
		require.NoError(t, err)
		assert.Equal(t, "is already taken", errs["email"])
		assert.Equal(t, []any{"grace@example.com"}, seen)
	})

	t.Run("skipped when schema already failed", func(t *testing.T) {
		v, err := NewBuilder(func(ctx context.Context, eventTypeID uuid.UUID, f domain.CustomField, value any) (bool, error) {
			t.Fatalf("check should not run for %s", f.Name)
			return false, nil
		}).Build(et, ViewBooking)
		require.NoError(t, err)

		responses := validResponses()
		responses["email"] = "broken"
		errs, err := v.Validate(context.Background(), responses)
		require.NoError(t, err)
		assert.Contains(t, errs, "email")
	})

	t.Run("reschedule view skips the check", func(t *testing.T) {
		v, err := NewBuilder(func(ctx context.Context, eventTypeID uuid.UUID, f domain.CustomField, value any) (bool, error) {
			t.Fatalf("check should not run for %s", f.Name)
			return false, nil
		}).Build(et, ViewReschedule)
		require.NoError(t, err)

		errs, err := v.Validate(context.Background(), validResponses())
		require.NoError(t, err)
		assert.True(t, errs.Empty(), "unexpected errors: %v", errs)
	})

	t.Run("check failure", func(t *testing.T) {
		boom := errors.New("directory unavailable")
		v, err := NewBuilder(func(ctx context.Context, eventTypeID uuid.UUID, f domain.CustomField, value any) (bool, error) {
			return false, boom
		}).Build(et, ViewBooking)
		require.NoError(t, err)

		_, err = v.Validate(context.Background(), validResponses())
		assert.ErrorIs(t, err, boom)
	})
}
