package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"slotbook/backend/internal/domain"
)

// Manager serializes mutations per session. Work that may block on the
// network runs between Update calls, never inside one.
type Manager struct {
	store Store
	now   func() time.Time
	log   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func NewManager(store Store, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		store: store,
		now:   time.Now,
		log:   log.With(slog.String("component", "sessions")),
		locks: map[string]*sessionLock{},
	}
}

func (m *Manager) Start(ctx context.Context, et *domain.EventType, init func(s *Session)) (*Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	s := New(id.String(), et, m.now().UTC())
	if init != nil {
		init(s)
	}
	if err := m.store.Put(ctx, s); err != nil {
		return nil, err
	}
	m.log.InfoContext(ctx, "session started", slog.String("session_id", s.ID))
	return s, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.store.Get(ctx, id)
}

// Update loads the session, applies fn and stores the result. If fn returns
// an error nothing is written.
func (m *Manager) Update(ctx context.Context, id string, fn func(s *Session) error) (*Session, error) {
	unlock := m.lock(id)
	defer unlock()

	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	s.UpdatedAt = m.now().UTC()
	if err := m.store.Put(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Manager) lock(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sessionLock{}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}
}
