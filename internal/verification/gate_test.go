package verification

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotbook/backend/internal/domain"
	"slotbook/backend/internal/session"
)

type fakeCommitter struct {
	calls []string
	m     *session.Manager
}

func (f *fakeCommitter) Submit(ctx context.Context, sessionID string) (*session.Session, error) {
	f.calls = append(f.calls, sessionID)
	return f.m.Get(ctx, sessionID)
}

func setupGate(t *testing.T, requires bool) (*Gate, *fakeCommitter, *captureSender, *session.Session) {
	return setupGateWith(t, requires, &domain.Slot{Start: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)})
}

func setupGateWith(t *testing.T, requires bool, slot *domain.Slot) (*Gate, *fakeCommitter, *captureSender, *session.Session) {
	t.Helper()
	m := session.NewManager(session.NewMemoryStore(time.Hour), quietLogger())
	s, err := m.Start(context.Background(), &domain.EventType{RequiresVerification: requires}, func(s *session.Session) {
		s.SetResponses(map[string]any{"email": "grace@example.com"})
		s.SelectSlot(slot, time.UTC)
	})
	require.NoError(t, err)

	sender := &captureSender{}
	committer := &fakeCommitter{m: m}
	g := NewGate(m, newChallenger(NewMemoryCodeStore(), sender, 5), committer, quietLogger())
	return g, committer, sender, s
}

func TestGate_TransparentWhenNotRequired(t *testing.T) {
	g, committer, sender, s := setupGate(t, false)

	_, err := g.Submit(context.Background(), s.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{s.ID}, committer.calls)
	assert.Empty(t, sender.code("grace@example.com"))
}

func TestGate_ChallengesThenCommitsAfterVerification(t *testing.T) {
	g, committer, sender, s := setupGate(t, true)
	ctx := context.Background()

	got, err := g.Submit(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.VerificationPending)
	assert.Empty(t, committer.calls, "commit must wait for verification")

	_, err = g.Verify(ctx, s.ID, "000000x")
	assert.ErrorIs(t, err, ErrInvalidCode)
	assert.Empty(t, committer.calls)

	got, err = g.Verify(ctx, s.ID, sender.code("grace@example.com"))
	require.NoError(t, err)
	assert.Equal(t, []string{s.ID}, committer.calls)
	assert.Equal(t, "grace@example.com", got.VerifiedEmail)
	assert.False(t, got.VerificationPending)

	_, err = g.Submit(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, committer.calls, 2, "a verified session skips the challenge")
}

func TestGate_VerifyWithoutChallenge(t *testing.T) {
	g, _, _, s := setupGate(t, true)

	_, err := g.Verify(context.Background(), s.ID, "123456")
	assert.ErrorIs(t, err, ErrNoPendingChallenge)
}

func TestGate_NoSlotSkipsChallenge(t *testing.T) {
	g, committer, sender, s := setupGateWith(t, true, nil)

	got, err := g.Submit(context.Background(), s.ID)
	require.NoError(t, err)

	assert.False(t, got.VerificationPending)
	assert.Empty(t, sender.code("grace@example.com"), "no code is sent without a slot")
	assert.Equal(t, []string{s.ID}, committer.calls)
}
