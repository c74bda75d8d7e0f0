package allocation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WorkerRow mirrors one contract_workers row.
type WorkerRow struct {
	WorkerID        string
	AllocatedAmount *float64
	Percentage      *float64
	ProposalStatus  string
}

// Splitter persists splits, proposal state, and decrease votes. Mutations
// are tx-scoped so they join the contract operation's transaction.
type Splitter struct {
	pool *pgxpool.Pool
}

func NewSplitter(pool *pgxpool.Pool) *Splitter {
	return &Splitter{pool: pool}
}

// Store inserts the validated split for a freshly created contract. Each
// assigned worker starts with an open proposal.
func (s *Splitter) Store(ctx context.Context, tx pgx.Tx, contractID string, allocs []Allocation) error {
	for _, a := range allocs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO contract_workers (contract_id, worker_id, allocated_amount, percentage, proposal_status)
			VALUES ($1, $2, $3, $4, 'open')
		`, contractID, a.WorkerID, a.Amount, a.Percentage); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrDuplicateWorker, a.WorkerID)
			}
			return fmt.Errorf("allocation: store split: %w", err)
		}
	}
	return nil
}

// StoreWorkers registers assigned workers without explicit amounts (the
// single-worker default is materialised by the caller via DefaultSingle).
func (s *Splitter) StoreWorkers(ctx context.Context, tx pgx.Tx, contractID string, workerIDs []string) error {
	for _, id := range workerIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO contract_workers (contract_id, worker_id, proposal_status)
			VALUES ($1, $2, 'open')
		`, contractID, id); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrDuplicateWorker, id)
			}
			return fmt.Errorf("allocation: store worker: %w", err)
		}
	}
	return nil
}

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ForContract lists the workers and their allocations for a contract.
func (s *Splitter) ForContract(ctx context.Context, q Querier, contractID string) ([]WorkerRow, error) {
	const query = `
		SELECT worker_id, allocated_amount, percentage, proposal_status
		FROM contract_workers
		WHERE contract_id = $1
		ORDER BY worker_id
	`

	rows, err := q.Query(ctx, query, contractID)
	if err != nil {
		return nil, fmt.Errorf("allocation: list workers: %w", err)
	}
	defer rows.Close()

	out := make([]WorkerRow, 0, 4)
	for rows.Next() {
		var w WorkerRow
		if err := rows.Scan(&w.WorkerID, &w.AllocatedAmount, &w.Percentage, &w.ProposalStatus); err != nil {
			return nil, fmt.Errorf("allocation: scan worker: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("allocation: iterate workers: %w", err)
	}
	return out, nil
}

// OpenProposals counts workers whose job proposals are still open; these are
// the voters a price decrease must convince.
func (s *Splitter) OpenProposals(ctx context.Context, q Querier, contractID string) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT COUNT(*) FROM contract_workers
		WHERE contract_id = $1 AND proposal_status = 'open'
	`, contractID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("allocation: count open proposals: %w", err)
	}
	return n, nil
}

// AcceptProposal closes a worker's open proposal when they commit to the job.
func (s *Splitter) AcceptProposal(ctx context.Context, tx pgx.Tx, contractID, workerID string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE contract_workers
		SET proposal_status = 'accepted'
		WHERE contract_id = $1 AND worker_id = $2 AND proposal_status = 'open'
	`, contractID, workerID)
	if err != nil {
		return fmt.Errorf("allocation: accept proposal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrVoterNotAssigned, workerID)
	}
	return nil
}

// RecordVote stores a worker's accept/reject on the pending decrease and
// returns the full ballot so the caller can Tally it. A repeat vote by the
// same worker is a conflict, not an update.
func (s *Splitter) RecordVote(ctx context.Context, tx pgx.Tx, contractID, workerID string, accepted bool) ([]Vote, error) {
	var assigned bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM contract_workers WHERE contract_id=$1 AND worker_id=$2)
	`, contractID, workerID).Scan(&assigned); err != nil {
		return nil, fmt.Errorf("allocation: verify voter: %w", err)
	}
	if !assigned {
		return nil, fmt.Errorf("%w: %s", ErrVoterNotAssigned, workerID)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO price_change_votes (contract_id, worker_id, accepted)
		VALUES ($1, $2, $3)
	`, contractID, workerID, accepted); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateVote, workerID)
		}
		return nil, fmt.Errorf("allocation: record vote: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT worker_id, accepted, created_at
		FROM price_change_votes
		WHERE contract_id = $1
		ORDER BY created_at
	`, contractID)
	if err != nil {
		return nil, fmt.Errorf("allocation: list votes: %w", err)
	}
	defer rows.Close()

	votes := make([]Vote, 0, 4)
	for rows.Next() {
		var v Vote
		if err := rows.Scan(&v.WorkerID, &v.Accepted, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("allocation: scan vote: %w", err)
		}
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("allocation: iterate votes: %w", err)
	}
	return votes, nil
}

// ClearVotes wipes the ballot after a commit or a discard.
func (s *Splitter) ClearVotes(ctx context.Context, tx pgx.Tx, contractID string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM price_change_votes WHERE contract_id = $1`, contractID); err != nil {
		return fmt.Errorf("allocation: clear votes: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
