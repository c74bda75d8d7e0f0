// Package ledger is the append-only balance transaction log. A user's
// spendable balance is the fold over completed rows; it is never stored as a
// separately mutable field. Every append recomputes the fold under a
// user-row lock so concurrent debits cannot double-spend.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Type classifies a balance transaction. Credit types carry positive
// amounts, debit types negative; Append rejects sign mismatches.
type Type string

const (
	TypePayment    Type = "payment"
	TypeRefund     Type = "refund"
	TypeWithdrawal Type = "withdrawal"
	TypeBonus      Type = "bonus"
	TypeAdjustment Type = "adjustment"
	TypeCommission Type = "commission"
)

var (
	ErrUserNotFound        = errors.New("ledger: user not found")
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrSignMismatch        = errors.New("ledger: amount sign does not match transaction type")
	ErrUnknownType         = errors.New("ledger: unknown transaction type")
)

// Transaction mirrors one balance_transactions row.
type Transaction struct {
	ID            string
	UserID        string
	Type          Type
	Amount        float64
	BalanceBefore float64
	BalanceAfter  float64
	Status        string
	Reference     *string
	Description   string
	CreatedAt     time.Time
}

// AppendParams describes one ledger write.
type AppendParams struct {
	UserID      string
	Type        Type
	Amount      float64
	Reference   string
	Description string
}

// ValidateSign enforces the signing convention per type.
func ValidateSign(t Type, amount float64) error {
	if amount == 0 {
		return fmt.Errorf("%w: zero amount", ErrSignMismatch)
	}
	switch t {
	case TypePayment, TypeRefund, TypeBonus:
		if amount < 0 {
			return fmt.Errorf("%w: %s must be positive", ErrSignMismatch, t)
		}
	case TypeWithdrawal, TypeCommission:
		if amount > 0 {
			return fmt.Errorf("%w: %s must be negative", ErrSignMismatch, t)
		}
	case TypeAdjustment:
		// adjustments may go either way
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	return nil
}

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository appends and folds balance transactions. Appends are tx-scoped:
// they run inside the caller's transaction so a financial transition and its
// ledger rows commit as one unit.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Balance folds the user's completed transactions.
func (r *Repository) Balance(ctx context.Context, q Querier, userID string) (float64, error) {
	const query = `
		SELECT COALESCE(SUM(amount), 0)
		FROM balance_transactions
		WHERE user_id = $1 AND status = 'completed'
	`
	var balance float64
	if err := q.QueryRow(ctx, query, userID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("ledger: fold balance: %w", err)
	}
	return balance, nil
}

// Append writes one transaction inside tx. The user row is locked first so
// the balanceBefore fold is read under at least read-committed isolation
// immediately before the debit decision. A debit that would push the balance
// negative returns ErrInsufficientBalance with nothing written.
func (r *Repository) Append(ctx context.Context, tx pgx.Tx, p AppendParams) (Transaction, error) {
	if p.UserID == "" {
		return Transaction{}, fmt.Errorf("ledger: missing user id")
	}
	if err := ValidateSign(p.Type, p.Amount); err != nil {
		return Transaction{}, err
	}

	var lockedID string
	if err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, p.UserID).Scan(&lockedID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrUserNotFound
		}
		return Transaction{}, fmt.Errorf("ledger: lock user row: %w", err)
	}

	before, err := r.Balance(ctx, tx, p.UserID)
	if err != nil {
		return Transaction{}, err
	}
	after := before + p.Amount
	if after < 0 {
		return Transaction{}, fmt.Errorf("%w: balance %.2f, requested %.2f", ErrInsufficientBalance, before, -p.Amount)
	}

	var reference any
	if p.Reference != "" {
		reference = p.Reference
	}

	const insertSQL = `
		INSERT INTO balance_transactions (user_id, type, amount, balance_before, balance_after, status, reference, description)
		VALUES ($1, $2, $3, $4, $5, 'completed', $6, $7)
		RETURNING id, created_at
	`

	txn := Transaction{
		UserID:        p.UserID,
		Type:          p.Type,
		Amount:        p.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Status:        "completed",
		Description:   p.Description,
	}
	if p.Reference != "" {
		ref := p.Reference
		txn.Reference = &ref
	}
	if err := tx.QueryRow(ctx, insertSQL,
		p.UserID, p.Type, p.Amount, before, after, reference, p.Description,
	).Scan(&txn.ID, &txn.CreatedAt); err != nil {
		return Transaction{}, fmt.Errorf("ledger: append transaction: %w", err)
	}

	return txn, nil
}

// History lists a user's transactions, newest first.
func (r *Repository) History(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, userID string, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	const query = `
		SELECT id, user_id, type, amount, balance_before, balance_after, status, reference, description, created_at
		FROM balance_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := q.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: history: %w", err)
	}
	defer rows.Close()

	out := make([]Transaction, 0, limit)
	for rows.Next() {
		var txn Transaction
		if err := rows.Scan(
			&txn.ID, &txn.UserID, &txn.Type, &txn.Amount,
			&txn.BalanceBefore, &txn.BalanceAfter, &txn.Status,
			&txn.Reference, &txn.Description, &txn.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ledger: scan transaction: %w", err)
		}
		out = append(out, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate transactions: %w", err)
	}
	return out, nil
}
