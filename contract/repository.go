package contract

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"changas/allocation"
)

const columns = `id, job_id, client_id, price, commission_rate, commission_amount, total_price,
	status, payment_status, client_confirmed, client_confirmed_at, doer_confirmed, doer_confirmed_at,
	start_date, has_been_extended, cancel_reason, pending_price, pending_charge, created_at, updated_at`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.JobID,
		&rec.ClientID,
		&rec.Price,
		&rec.CommissionRate,
		&rec.CommissionAmount,
		&rec.TotalPrice,
		&rec.Status,
		&rec.PaymentStatus,
		&rec.ClientConfirmed,
		&rec.ClientConfirmedAt,
		&rec.DoerConfirmed,
		&rec.DoerConfirmedAt,
		&rec.StartDate,
		&rec.HasBeenExtended,
		&rec.CancelReason,
		&rec.PendingPrice,
		&rec.PendingCharge,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	return rec, err
}

// GetForUpdate loads and row-locks a contract inside tx. Exported so the
// dispute engine can pin the contract in its own settlement transaction.
func GetForUpdate(ctx context.Context, tx pgx.Tx, contractID string) (Record, error) {
	query := `SELECT ` + columns + ` FROM contracts WHERE id = $1 FOR UPDATE`

	rec, err := scanRecord(tx.QueryRow(ctx, query, contractID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("contract: get for update: %w", err)
	}
	return rec, nil
}

// WorkerIDs lists the workers assigned to a contract. q may be the pool or
// an open transaction.
func (s *Service) WorkerIDs(ctx context.Context, q allocation.Querier, contractID string) ([]string, error) {
	rows, err := s.splitter.ForContract(ctx, q, contractID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, w := range rows {
		ids = append(ids, w.WorkerID)
	}
	return ids, nil
}

// Get loads a contract without locking.
func (s *Service) Get(ctx context.Context, contractID string) (Record, error) {
	query := `SELECT ` + columns + ` FROM contracts WHERE id = $1`

	rec, err := scanRecord(s.pool.QueryRow(ctx, query, contractID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("contract: get: %w", err)
	}
	return rec, nil
}
