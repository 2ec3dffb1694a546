package compose

import (
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotbook/backend/internal/domain"
)

func TestResolveDuration_FixedEventFallsBackToDefault(t *testing.T) {
	et := &domain.EventType{LengthMinutes: 30, DurationOptions: []int{15, 30, 60}}

	for _, selected := range []int{0, -5, 1, 29, 45, 90, 10000} {
		assert.Equal(t, 30, ResolveDuration(et, selected), "selected %d", selected)
	}
	for _, selected := range []int{15, 30, 60} {
		assert.Equal(t, selected, ResolveDuration(et, selected), "selected %d", selected)
	}

	noOptions := &domain.EventType{LengthMinutes: 45}
	assert.Equal(t, 45, ResolveDuration(noOptions, 15))
}

func TestResolveDuration_DynamicEvent(t *testing.T) {
	et := &domain.EventType{LengthMinutes: 30, IsDynamic: true, DurationOptions: []int{15}}

	assert.Equal(t, 75, ResolveDuration(et, 75))
	assert.Equal(t, 15, ResolveDuration(et, 15))
	assert.Equal(t, 30, ResolveDuration(et, 0))
}

func TestExtractMetadata(t *testing.T) {
	q, err := url.ParseQuery("metadata[a]=1&metadata[b]=2&other=3")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, ExtractMetadata(q))

	q, err = url.ParseQuery("metadata[]=x&metadata[a][b]=y&metadata=z&metadata[c=w")
	require.NoError(t, err)
	assert.Empty(t, ExtractMetadata(q))
}

func TestCompose(t *testing.T) {
	et := &domain.EventType{
		ID:              uuid.New(),
		Slug:            "intro",
		OwnerUsername:   "ada",
		LengthMinutes:   30,
		DurationOptions: []int{30, 60},
		Timezone:        "Europe/London",
	}
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	q, err := url.ParseQuery("metadata[campaign]=spring&rescheduleUid=r-1&hashedLink=h1")
	require.NoError(t, err)

	responses := map[string]any{"email": "grace@example.com"}
	req, err := Compose(Input{
		EventType:        et,
		Slot:             &domain.Slot{Start: start},
		SelectedDuration: 45,
		Language:         "en",
		Responses:        responses,
		Query:            q,
	})
	require.NoError(t, err)

	assert.Equal(t, et.ID, req.EventTypeID)
	assert.Equal(t, 30, req.DurationMinutes)
	assert.Equal(t, start.Add(30*time.Minute), req.End)
	assert.Equal(t, "Europe/London", req.TimeZone)
	assert.Equal(t, "ada", req.Username)
	assert.Equal(t, map[string]string{"campaign": "spring"}, req.Metadata)
	assert.Equal(t, "r-1", req.RescheduleReference)
	assert.Equal(t, "h1", req.HashedLink)
	assert.Empty(t, req.SeatReference)

	responses["email"] = "changed@example.com"
	assert.Equal(t, "grace@example.com", req.Responses["email"], "request must not alias live responses")
}

func TestCompose_Preconditions(t *testing.T) {
	_, err := Compose(Input{Slot: &domain.Slot{Start: time.Now()}})
	assert.ErrorIs(t, err, ErrEventTypeUnavailable)

	_, err = Compose(Input{EventType: &domain.EventType{LengthMinutes: 30}})
	assert.ErrorIs(t, err, ErrNoSlot)
}
