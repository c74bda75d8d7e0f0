// Package membership tracks subscription plans and monthly free-contract
// allowances. It is a thin, invariant-checking layer over the store: the
// counters must always satisfy used + remaining = total.
package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Plan string

const (
	PlanFree     Plan = "free"
	PlanPro      Plan = "pro"
	PlanSuperPro Plan = "super_pro"
)

var (
	ErrNotFound        = errors.New("membership: not found")
	ErrNoFreeContracts = errors.New("membership: no free contracts remaining")
	ErrCounterDrift    = errors.New("membership: free contract counters out of balance")
)

// Record mirrors the memberships table.
type Record struct {
	ID                          string
	UserID                      string
	Plan                        Plan
	Status                      string
	FreeContractsTotal          int
	FreeContractsUsed           int
	FreeContractsRemaining      int
	ReducedCommissionPercentage float64
	RenewedAt                   time.Time
	CreatedAt                   time.Time
	UpdatedAt                   time.Time
}

// CheckCounters verifies the allowance invariant on a loaded record.
func CheckCounters(rec Record) error {
	if rec.FreeContractsUsed+rec.FreeContractsRemaining != rec.FreeContractsTotal {
		return fmt.Errorf("%w: used=%d remaining=%d total=%d",
			ErrCounterDrift, rec.FreeContractsUsed, rec.FreeContractsRemaining, rec.FreeContractsTotal)
	}
	if rec.FreeContractsUsed < 0 || rec.FreeContractsRemaining < 0 {
		return fmt.Errorf("%w: negative counter", ErrCounterDrift)
	}
	return nil
}

// ReducedRate returns the commission percentage a plan buys.
func ReducedRate(plan Plan) float64 {
	switch plan {
	case PlanPro:
		return 3
	case PlanSuperPro:
		return 2
	default:
		return 0
	}
}

const columns = `id, user_id, plan, status, free_contracts_total, free_contracts_used,
	free_contracts_remaining, reduced_commission_percentage, renewed_at, created_at, updated_at`

// Repository provides access to membership state.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Get(ctx context.Context, userID string) (Record, error) {
	query := `SELECT ` + columns + ` FROM memberships WHERE user_id = $1`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("membership: get: %w", err)
	}
	return rec, nil
}

// UseFreeContract consumes one free slot inside the caller's transaction and
// appends a usage audit row. Fails when no slots remain.
func (r *Repository) UseFreeContract(ctx context.Context, tx pgx.Tx, userID, contractID string) (Record, error) {
	query := `
		UPDATE memberships
		SET free_contracts_used = free_contracts_used + 1,
		    free_contracts_remaining = free_contracts_remaining - 1,
		    updated_at = get_tx_timestamp()
		WHERE user_id = $1 AND free_contracts_remaining > 0
		RETURNING ` + columns

	rec, err := scanRecord(tx.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if checkErr := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM memberships WHERE user_id=$1)`, userID).Scan(&exists); checkErr != nil {
				return Record{}, fmt.Errorf("membership: verify existence: %w", checkErr)
			}
			if !exists {
				return Record{}, ErrNotFound
			}
			return Record{}, ErrNoFreeContracts
		}
		return Record{}, fmt.Errorf("membership: use free contract: %w", err)
	}
	if err := CheckCounters(rec); err != nil {
		return Record{}, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO membership_usage (membership_id, contract_id)
		VALUES ($1, $2)
	`, rec.ID, contractID); err != nil {
		return Record{}, fmt.Errorf("membership: append usage: %w", err)
	}

	return rec, nil
}

// ResetMonthlyCounters restores the allowance at billing-period renewal.
// Invoked by the external billing cron, never by an in-process scheduler.
func (r *Repository) ResetMonthlyCounters(ctx context.Context, userID string) (Record, error) {
	query := `
		UPDATE memberships
		SET free_contracts_used = 0,
		    free_contracts_remaining = free_contracts_total,
		    renewed_at = now(),
		    updated_at = now()
		WHERE user_id = $1
		RETURNING ` + columns

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("membership: reset counters: %w", err)
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Plan,
		&rec.Status,
		&rec.FreeContractsTotal,
		&rec.FreeContractsUsed,
		&rec.FreeContractsRemaining,
		&rec.ReducedCommissionPercentage,
		&rec.RenewedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	return rec, err
}
