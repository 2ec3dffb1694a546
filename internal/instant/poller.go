package instant

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"slotbook/backend/internal/domain"
	"slotbook/backend/internal/store"
)

var (
	ErrLocationMissing  = errors.New("meeting location is not ready yet")
	ErrMalformedPayload = errors.New("meeting location payload is malformed")
)

const DefaultInterval = 2 * time.Second

type Lookup interface {
	GetInstantBookingLocation(ctx context.Context, bookingID uuid.UUID) (domain.InstantLocation, error)
}

type Status string

const (
	StatusResolved  Status = "resolved"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
	// StatusStopped means the caller cancelled the poll.
	StatusStopped Status = "stopped"
)

type Result struct {
	Status       Status
	VideoCallURL string
}

type Poller struct {
	lookup   Lookup
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger
}

func NewPoller(lookup Lookup, interval time.Duration, log *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Poller{
		lookup:   lookup,
		interval: interval,
		now:      time.Now,
		log:      log.With(slog.String("component", "instant_poller")),
	}
}

// Poll asks for the booking's meeting location every interval until it is
// resolved or cancelled, stopping once expires passes. A response that arrives after
// expires is discarded. onError receives transient problems and may be nil.
func (p *Poller) Poll(ctx context.Context, bookingID uuid.UUID, expires time.Time, onError func(error)) Result {
	if p.expired(expires) {
		return Result{Status: StatusExpired}
	}
	if onError == nil {
		onError = func(error) {}
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, expires.Sub(p.now()))
	defer cancel()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if res, done := p.tick(ctx, bookingID, expires, onError); done {
			return res
		}
		select {
		case <-ctx.Done():
			if parent.Err() != nil {
				return Result{Status: StatusStopped}
			}
			return Result{Status: StatusExpired}
		case <-ticker.C:
		}
	}
}

func (p *Poller) tick(ctx context.Context, bookingID uuid.UUID, expires time.Time, onError func(error)) (Result, bool) {
	loc, err := p.lookup.GetInstantBookingLocation(ctx, bookingID)
	if p.expired(expires) {
		p.log.DebugContext(ctx, "discarding poll response after expiry", slog.String("booking_id", bookingID.String()))
		return Result{Status: StatusExpired}, true
	}
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, false
		}
		if errors.Is(err, store.ErrNotFound) {
			return Result{Status: StatusCancelled}, true
		}
		p.log.WarnContext(ctx, "instant booking lookup failed",
			slog.String("booking_id", bookingID.String()),
			slog.Any("error", err),
		)
		onError(err)
		return Result{}, false
	}

	if loc.Status == domain.BookingStatusCancelled {
		return Result{Status: StatusCancelled}, true
	}
	if url, ok := loc.VideoCallURL(); ok {
		return Result{Status: StatusResolved, VideoCallURL: url}, true
	}

	if _, present := loc.Metadata[domain.MetadataVideoCallURL]; present {
		p.log.WarnContext(ctx, "malformed meeting location", slog.String("booking_id", bookingID.String()))
		onError(ErrMalformedPayload)
	} else {
		p.log.DebugContext(ctx, "meeting location pending", slog.String("booking_id", bookingID.String()))
		onError(ErrLocationMissing)
	}
	return Result{}, false
}

func (p *Poller) expired(expires time.Time) bool {
	return !p.now().Before(expires)
}
