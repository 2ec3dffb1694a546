package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotbook/backend/internal/domain"
)

func TestManagerUpdate_SerializesPerSession(t *testing.T) {
	m := NewManager(NewMemoryStore(time.Hour), nil)
	ctx := context.Background()
	s, err := m.Start(ctx, &domain.EventType{}, nil)
	require.NoError(t, err)

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Update(ctx, s.ID, func(s *Session) error {
				s.RecurringCount++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, writers, got.RecurringCount)
	assert.Empty(t, m.locks)
}

func TestManagerUpdate_ErrorDiscardsChanges(t *testing.T) {
	m := NewManager(NewMemoryStore(time.Hour), nil)
	ctx := context.Background()
	s, err := m.Start(ctx, nil, func(s *Session) { s.Username = "ada" })
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = m.Update(ctx, s.ID, func(s *Session) error {
		s.Username = "mallory"
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada", got.Username)

	_, err = m.Update(ctx, "missing", func(s *Session) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}
