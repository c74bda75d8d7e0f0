package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// IdempotencyStore reserves external payment ids inside the active
// transaction. The reservation and the state changes it guards commit
// atomically, so a replayed webhook can never apply twice.
type IdempotencyStore interface {
	Reserve(ctx context.Context, tx pgx.Tx, key string) error
}

type PGStore struct{}

func NewPGStore() *PGStore {
	return &PGStore{}
}

// Reserve inserts the key, converting the unique violation into
// ErrDuplicateEvent.
func (s *PGStore) Reserve(ctx context.Context, tx pgx.Tx, key string) error {
	if key == "" {
		return ErrMissingEventID
	}

	_, err := tx.Exec(ctx, `INSERT INTO idempotency (key) VALUES ($1)`, key)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("gateway: reserve idempotency key: %w", err)
	}
	return nil
}
