package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserReader loads the membership snapshot the calculator needs.
type UserReader interface {
	Snapshot(ctx context.Context, userID string) (Snapshot, error)
}

// VolumeRepository aggregates a client's monthly contract volume.
type VolumeRepository interface {
	MonthlyVolume(ctx context.Context, clientID string, at time.Time) (float64, error)
}

// PGRepository implements UserReader and VolumeRepository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Snapshot reads the user's plan state. A missing user yields Known=false,
// never an error: the calculator treats unknown users fail-safe.
func (r *PGRepository) Snapshot(ctx context.Context, userID string) (Snapshot, error) {
	const query = `
		SELECT u.has_family_plan,
		       COALESCE(m.plan, 'free'),
		       COALESCE(m.free_contracts_remaining, 0)
		FROM users u
		LEFT JOIN memberships m ON m.user_id = u.id AND m.status = 'active'
		WHERE u.id = $1
	`

	snap := Snapshot{Known: true}
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&snap.HasFamilyPlan,
		&snap.Tier,
		&snap.FreeContractsRemaining,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("commission: load user snapshot: %w", err)
	}
	return snap, nil
}

// MonthlyVolume sums the client's contract prices for the calendar month of
// the reference time, excluding cancelled contracts.
func (r *PGRepository) MonthlyVolume(ctx context.Context, clientID string, at time.Time) (float64, error) {
	const query = `
		SELECT COALESCE(SUM(price), 0)
		FROM contracts
		WHERE client_id = $1
		  AND status <> 'cancelled'
		  AND created_at >= date_trunc('month', $2::timestamptz)
		  AND created_at <  date_trunc('month', $2::timestamptz) + interval '1 month'
	`

	var volume float64
	if err := r.pool.QueryRow(ctx, query, clientID, at).Scan(&volume); err != nil {
		return 0, fmt.Errorf("commission: monthly volume: %w", err)
	}
	return volume, nil
}
