package instant

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Task identifies one armed poll.
type Task struct {
	SessionID string
	BookingID uuid.UUID
	Expires   time.Time
}

// Handlers receive poll events. Either may be nil.
type Handlers struct {
	OnError func(task Task, err error)
	OnDone  func(task Task, res Result)
}

// Runner owns the background polls, at most one per session.
type Runner struct {
	poller *Poller
	log    *slog.Logger

	base   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	active map[string]*armed
}

type armed struct {
	cancel context.CancelFunc
}

func NewRunner(poller *Poller, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	base, stop := context.WithCancel(context.Background())
	return &Runner{
		poller: poller,
		log:    log.With(slog.String("component", "instant_runner")),
		base:   base,
		stop:   stop,
		active: map[string]*armed{},
	}
}

// Arm starts polling for task, replacing any poll already armed for the session.
func (r *Runner) Arm(task Task, h Handlers) {
	ctx, cancel := context.WithCancel(r.base)
	a := &armed{cancel: cancel}

	r.mu.Lock()
	if prev, ok := r.active[task.SessionID]; ok {
		prev.cancel()
	}
	r.active[task.SessionID] = a
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release(task.SessionID, a)

		res := r.poller.Poll(ctx, task.BookingID, task.Expires, func(err error) {
			if h.OnError != nil {
				h.OnError(task, err)
			}
		})
		r.log.Info("instant poll finished",
			slog.String("session_id", task.SessionID),
			slog.String("booking_id", task.BookingID.String()),
			slog.String("status", string(res.Status)),
		)
		if h.OnDone != nil {
			h.OnDone(task, res)
		}
	}()
}

// Cancel stops the session's poll, if any.
func (r *Runner) Cancel(sessionID string) {
	r.mu.Lock()
	a, ok := r.active[sessionID]
	delete(r.active, sessionID)
	r.mu.Unlock()
	if ok {
		a.cancel()
	}
}

// Close stops every poll and waits for their handlers to return.
func (r *Runner) Close() {
	r.stop()
	r.wg.Wait()
}

func (r *Runner) release(sessionID string, a *armed) {
	a.cancel()
	r.mu.Lock()
	if r.active[sessionID] == a {
		delete(r.active, sessionID)
	}
	r.mu.Unlock()
}
