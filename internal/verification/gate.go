package verification

import (
	"context"
	"errors"
	"log/slog"

	"slotbook/backend/internal/domain"
	"slotbook/backend/internal/session"
)

var ErrNoPendingChallenge = errors.New("no verification challenge is pending")

// Committer is the booking commit path the gate guards.
type Committer interface {
	Submit(ctx context.Context, sessionID string) (*session.Session, error)
}

type Gate struct {
	sessions   *session.Manager
	challenger Challenger
	committer  Committer
	log        *slog.Logger
}

func NewGate(sessions *session.Manager, challenger Challenger, committer Committer, log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{
		sessions:   sessions,
		challenger: challenger,
		committer:  committer,
		log:        log.With(slog.String("component", "verification")),
	}
}

func needsChallenge(s *session.Session) (string, bool) {
	if s.SelectedSlot == nil || s.EventType == nil || !s.EventType.RequiresVerification {
		return "", false
	}
	email := domain.ResponseEmail(s.Responses)
	if email == "" || normalizeEmail(email) == normalizeEmail(s.VerifiedEmail) {
		return "", false
	}
	return email, true
}

// Submit commits the booking unless the event needs a verified email that
// this session has not verified yet; then it issues a code and returns the
// session with VerificationPending set. Without a selected slot nothing is
// issued and the commit path treats the submission as a no-op.
func (g *Gate) Submit(ctx context.Context, sessionID string) (*session.Session, error) {
	s, err := g.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	email, ok := needsChallenge(s)
	if !ok {
		return g.committer.Submit(ctx, sessionID)
	}

	if err := g.challenger.Issue(ctx, email); err != nil {
		g.log.WarnContext(ctx, "verification challenge failed",
			slog.String("session_id", sessionID),
			slog.Any("error", err),
		)
		return nil, err
	}
	g.log.InfoContext(ctx, "verification challenge issued", slog.String("session_id", sessionID))
	return g.sessions.Update(ctx, sessionID, func(s *session.Session) error {
		s.VerificationPending = true
		return nil
	})
}

// Verify checks code, marks the email verified, closes the challenge and
// then commits. A later submission in the same session skips the challenge.
func (g *Gate) Verify(ctx context.Context, sessionID, code string) (*session.Session, error) {
	s, err := g.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !s.VerificationPending {
		return nil, ErrNoPendingChallenge
	}
	email := domain.ResponseEmail(s.Responses)
	if err := g.challenger.Check(ctx, email, code); err != nil {
		return nil, err
	}

	if _, err := g.sessions.Update(ctx, sessionID, func(s *session.Session) error {
		s.MarkEmailVerified(email)
		return nil
	}); err != nil {
		return nil, err
	}
	g.log.InfoContext(ctx, "email verified", slog.String("session_id", sessionID))
	return g.committer.Submit(ctx, sessionID)
}
