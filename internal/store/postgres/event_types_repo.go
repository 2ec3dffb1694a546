package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"slotbook/backend/internal/domain"
)

type EventTypeRepo struct {
	db bun.IDB
}

func NewEventTypeRepo(db bun.IDB) *EventTypeRepo {
	return &EventTypeRepo{db: db}
}

func (r *EventTypeRepo) GetEventType(ctx context.Context, eventTypeID uuid.UUID) (domain.EventType, error) {
	var et domain.EventType
	err := r.db.NewSelect().
		Model(&et).
		Where("id = ?", eventTypeID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.EventType{}, translate(err)
	}
	return et, nil
}

func (r *EventTypeRepo) GetEventTypeBySlug(ctx context.Context, username, slug string) (domain.EventType, error) {
	var et domain.EventType
	err := r.db.NewSelect().
		Model(&et).
		Where("owner_username = ?", username).
		Where("slug = ?", slug).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.EventType{}, translate(err)
	}
	return et, nil
}

// Create stores a new event type; a zero ID is assigned a v7 uuid.
func (r *EventTypeRepo) Create(ctx context.Context, et domain.EventType) (domain.EventType, error) {
	m := et
	if _, err := r.db.NewInsert().Model(&m).Exec(ctx); err != nil {
		return domain.EventType{}, translate(err)
	}
	return m, nil
}
