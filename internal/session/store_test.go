package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotbook/backend/internal/domain"
)

func sampleSession() *Session {
	s := New("s1", &domain.EventType{Slug: "intro", LengthMinutes: 30}, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	s.SetResponses(map[string]any{"email": "grace@example.com"})
	s.Query.Set("metadata[a]", "1")
	s.SelectSlot(&domain.Slot{Start: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}, time.UTC)
	return s
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	in := sampleSession()
	require.NoError(t, store.Put(ctx, in))

	out, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "intro", out.EventType.Slug)
	assert.Equal(t, "grace@example.com", out.Responses["email"])
	assert.Equal(t, "1", out.Query.Get("metadata[a]"))
	assert.True(t, out.SelectedSlot.Start.Equal(in.SelectedSlot.Start))

	out.Responses["email"] = "changed@example.com"
	again, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "grace@example.com", again.Responses["email"])

	require.NoError(t, store.Delete(ctx, "s1"))
	_, err = store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(time.Hour))
}

func TestMemoryStore_Expires(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Put(context.Background(), sampleSession()))
	now = now.Add(2 * time.Minute)

	_, err := store.Get(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	exerciseStore(t, NewRedisStore(client, time.Hour))
}

func TestRedisStore_Expires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStore(client, time.Minute)

	require.NoError(t, store.Put(context.Background(), sampleSession()))
	assert.Equal(t, time.Minute, mr.TTL(keyPrefix+"s1"))

	mr.FastForward(2 * time.Minute)
	_, err := store.Get(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}
