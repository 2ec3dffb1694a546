package verification

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type captureSender struct {
	mu    sync.Mutex
	codes map[string]string
}

func (s *captureSender) Send(ctx context.Context, email, code string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codes == nil {
		s.codes = map[string]string{}
	}
	s.codes[email] = code
	return nil
}

func (s *captureSender) code(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[email]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newChallenger(codes CodeStore, sender Sender, burst int) *OTPChallenger {
	return NewOTPChallenger(codes, sender, OTPConfig{
		CodeLength: 6,
		CodeTTL:    time.Minute,
		IssueRate:  rate.Every(time.Hour),
		IssueBurst: burst,
	}, quietLogger())
}

func exerciseChallenger(t *testing.T, codes CodeStore) {
	t.Helper()
	ctx := context.Background()
	sender := &captureSender{}
	c := newChallenger(codes, sender, 5)

	require.NoError(t, c.Issue(ctx, " Grace@Example.com "))
	code := sender.code("grace@example.com")
	require.Len(t, code, 6)

	assert.ErrorIs(t, c.Check(ctx, "grace@example.com", "not-it"), ErrInvalidCode)
	require.NoError(t, c.Check(ctx, "GRACE@example.com", code))
	assert.ErrorIs(t, c.Check(ctx, "grace@example.com", code), ErrInvalidCode, "codes are single use")
}

func TestOTPChallenger_MemoryStore(t *testing.T) {
	exerciseChallenger(t, NewMemoryCodeStore())
}

func TestOTPChallenger_RedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	exerciseChallenger(t, NewRedisCodeStore(client))
}

func TestOTPChallenger_RateLimitsIssuePerEmail(t *testing.T) {
	c := newChallenger(NewMemoryCodeStore(), &captureSender{}, 2)
	ctx := context.Background()

	require.NoError(t, c.Issue(ctx, "a@example.com"))
	require.NoError(t, c.Issue(ctx, "a@example.com"))
	assert.ErrorIs(t, c.Issue(ctx, "a@example.com"), ErrTooManyRequests)
	assert.NoError(t, c.Issue(ctx, "b@example.com"))
}

func TestOTPChallenger_EvictsRefilledLimiters(t *testing.T) {
	c := NewOTPChallenger(NewMemoryCodeStore(), &captureSender{}, OTPConfig{
		IssueRate:  rate.Every(time.Minute),
		IssueBurst: 1,
	}, quietLogger())
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Issue(ctx, "a@example.com"))
	require.NoError(t, c.Issue(ctx, "b@example.com"))
	assert.ErrorIs(t, c.Issue(ctx, "a@example.com"), ErrTooManyRequests)
	assert.Len(t, c.limiters, 2)

	now = now.Add(2 * time.Minute)
	require.NoError(t, c.Issue(ctx, "c@example.com"))
	assert.Len(t, c.limiters, 1, "refilled limiters are dropped")
	assert.Contains(t, c.limiters, "c@example.com")

	assert.ErrorIs(t, c.Issue(ctx, "c@example.com"), ErrTooManyRequests)
}

func TestLogSender_KeepsCodeOutOfInfoLogs(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSender(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))

	require.NoError(t, s.Send(context.Background(), "a@example.com", "424242", time.Minute))
	assert.NotContains(t, buf.String(), "424242")
}

func TestOTPChallenger_DropsCodeAfterTooManyAttempts(t *testing.T) {
	sender := &captureSender{}
	c := newChallenger(NewMemoryCodeStore(), sender, 5)
	ctx := context.Background()

	require.NoError(t, c.Issue(ctx, "a@example.com"))
	for i := 0; i < maxCheckAttempts; i++ {
		assert.ErrorIs(t, c.Check(ctx, "a@example.com", "wrong"), ErrInvalidCode)
	}
	assert.ErrorIs(t, c.Check(ctx, "a@example.com", sender.code("a@example.com")), ErrInvalidCode)
}

func TestMemoryCodeStore_Expires(t *testing.T) {
	s := NewMemoryCodeStore()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "a@example.com", CodeRecord{Hash: "h"}, time.Minute))
	now = now.Add(30 * time.Second)
	require.NoError(t, s.Save(ctx, "a@example.com", CodeRecord{Hash: "h", Attempts: 1}, 0))

	rec, ok, err := s.Load(ctx, "a@example.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, rec.Attempts)

	now = now.Add(31 * time.Second)
	_, ok, err = s.Load(ctx, "a@example.com")
	require.NoError(t, err)
	assert.False(t, ok, "attempt updates must not extend the code's lifetime")
}
