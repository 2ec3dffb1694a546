package postgres

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"slotbook/backend/internal/store"
)

const (
	pgUniqueViolation    = "23505"
	pgExclusionViolation = "23P01"

	seatUIDConstraint = "attendees_seat_uid_key"
)

// translate maps driver errors onto the store's sentinel errors.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgExclusionViolation:
			return store.ErrConflict
		case pgUniqueViolation:
			if pgErr.ConstraintName == seatUIDConstraint {
				return store.ErrIdempotencyConflict
			}
			return store.ErrConflict
		}
	}
	return err
}
