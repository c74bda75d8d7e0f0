package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"changas/bankcrypto"
	"changas/ledger"
	"changas/notify"
)

const columns = `id, user_id, amount, encrypted_cbu, cbu_last4, bank_name, account_holder, status,
	balance_before, balance_after, proof_of_transfer, rejection_reason, requested_at, processed_at, updated_at`

// Service manages cash-out requests. Banking details are encrypted as an
// explicit step before persistence; the debit at completion re-reads the
// live ledger fold under a row lock, never the snapshot taken at request
// time.
type Service struct {
	pool      *pgxpool.Pool
	encryptor *bankcrypto.Encryptor
	ledger    *ledger.Repository
	validate  *validator.Validate
	notifier  notify.Notifier
	log       zerolog.Logger

	idGenerator func() string
	now         func() time.Time
}

func NewService(pool *pgxpool.Pool, encryptor *bankcrypto.Encryptor, ledgerRepo *ledger.Repository, notifier notify.Notifier, log zerolog.Logger) *Service {
	return &Service{
		pool:        pool,
		encryptor:   encryptor,
		ledger:      ledgerRepo,
		validate:    validator.New(),
		notifier:    notifier,
		log:         log,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ValidateParams rejects malformed requests before any state is touched.
// CBU problems get the customer-facing message required by support.
func (s *Service) ValidateParams(p RequestParams) error {
	if err := s.validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				switch fe.Field() {
				case "CBU":
					return ErrCBUFormat
				case "Amount":
					return ErrBelowMinimum
				}
			}
		}
		return fmt.Errorf("withdrawal: invalid request: %w", err)
	}
	return nil
}

// Request opens a withdrawal for the user's accumulated balance. The CBU is
// validated, then encrypted, then persisted; the plaintext never reaches the
// store.
func (s *Service) Request(ctx context.Context, p RequestParams) (Record, error) {
	if err := s.ValidateParams(p); err != nil {
		return Record{}, err
	}

	balance, err := s.ledger.Balance(ctx, s.pool, p.UserID)
	if err != nil {
		return Record{}, err
	}
	if balance < p.Amount {
		return Record{}, fmt.Errorf("%w: balance %.2f, requested %.2f", ledger.ErrInsufficientBalance, balance, p.Amount)
	}

	sealed, err := s.encryptor.Encrypt(p.CBU)
	if err != nil {
		return Record{}, err
	}

	insertSQL := `
		INSERT INTO withdrawal_requests (id, user_id, amount, encrypted_cbu, cbu_last4, bank_name, account_holder, status, balance_before)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8)
		RETURNING ` + columns

	rec, err := scanRecord(s.pool.QueryRow(ctx, insertSQL,
		s.idGenerator(), p.UserID, p.Amount, sealed, bankcrypto.Last4(p.CBU),
		p.BankName, p.AccountHolder, balance,
	))
	if err != nil {
		return Record{}, fmt.Errorf("withdrawal: insert request: %w", err)
	}

	s.log.Info().
		Str("withdrawal_id", rec.ID).
		Str("user_id", rec.UserID).
		Float64("amount", rec.Amount).
		Str("cbu", rec.MaskedCBU()).
		Msg("withdrawal requested")

	return rec, nil
}

// Approve moves a pending request to approved.
func (s *Service) Approve(ctx context.Context, requestID, staffID string) (Record, error) {
	return s.transition(ctx, requestID, StatusApproved, "approved by "+staffID, nil)
}

// StartProcessing marks the transfer as in flight.
func (s *Service) StartProcessing(ctx context.Context, requestID, staffID string) (Record, error) {
	return s.transition(ctx, requestID, StatusProcessing, "processing by "+staffID, nil)
}

// Reject declines a pending or approved request with a reason.
func (s *Service) Reject(ctx context.Context, requestID, staffID, reason string) (Record, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Record{}, fmt.Errorf("withdrawal: rejection reason required")
	}
	rec, err := s.transition(ctx, requestID, StatusRejected, "rejected", &reason)
	if err != nil {
		return Record{}, err
	}
	notify.Dispatch(ctx, s.notifier, rec.UserID, "withdrawal_rejected", map[string]any{
		"withdrawal_id": rec.ID,
		"reason":        reason,
	})
	return rec, nil
}

// CancelByUser lets the owner withdraw the request before completion.
func (s *Service) CancelByUser(ctx context.Context, requestID, userID string) (Record, error) {
	rec, err := s.get(ctx, requestID)
	if err != nil {
		return Record{}, err
	}
	if rec.UserID != userID {
		return Record{}, ErrForbidden
	}
	return s.transition(ctx, requestID, StatusCancelled, "cancelled by user", nil)
}

// Complete executes the debit. The live balance is re-read under the user
// row lock inside the transaction; if it no longer covers the amount, the
// operation fails with InsufficientBalance, no ledger row is written, and
// the request stays in its prior state.
func (s *Service) Complete(ctx context.Context, requestID, staffID, proofOfTransfer string) (Record, error) {
	proofOfTransfer = strings.TrimSpace(proofOfTransfer)
	if proofOfTransfer == "" {
		return Record{}, ErrProofRequired
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("withdrawal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + columns + ` FROM withdrawal_requests WHERE id = $1 FOR UPDATE`
	rec, err := scanRecord(tx.QueryRow(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("withdrawal: load for completion: %w", err)
	}
	if !canTransition(rec.Status, StatusCompleted) {
		return Record{}, fmt.Errorf("%w: cannot complete from %s", ErrInvalidState, rec.Status)
	}

	txn, err := s.ledger.Append(ctx, tx, ledger.AppendParams{
		UserID:      rec.UserID,
		Type:        ledger.TypeWithdrawal,
		Amount:      -rec.Amount,
		Reference:   rec.ID,
		Description: "withdrawal to " + rec.MaskedCBU(),
	})
	if err != nil {
		return Record{}, err
	}

	updateSQL := `
		UPDATE withdrawal_requests
		SET status = 'completed',
		    balance_before = $1, balance_after = $2,
		    proof_of_transfer = $3,
		    processed_at = get_tx_timestamp(), updated_at = get_tx_timestamp()
		WHERE id = $4
		RETURNING ` + columns

	rec, err = scanRecord(tx.QueryRow(ctx, updateSQL, txn.BalanceBefore, txn.BalanceAfter, proofOfTransfer, requestID))
	if err != nil {
		return Record{}, fmt.Errorf("withdrawal: mark completed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("withdrawal: commit completion: %w", err)
	}

	s.log.Info().
		Str("withdrawal_id", rec.ID).
		Str("staff_id", staffID).
		Float64("amount", rec.Amount).
		Float64("balance_after", txn.BalanceAfter).
		Msg("withdrawal completed")

	notify.Dispatch(ctx, s.notifier, rec.UserID, "withdrawal_completed", map[string]any{
		"withdrawal_id": rec.ID,
		"amount":        rec.Amount,
	})
	return rec, nil
}

// RevealCBU decrypts the full account number. Admin-only; every reveal is
// audit-logged with the acting admin.
func (s *Service) RevealCBU(ctx context.Context, requestID, adminID string, isAdmin bool) (string, error) {
	if !isAdmin {
		return "", ErrForbidden
	}

	rec, err := s.get(ctx, requestID)
	if err != nil {
		return "", err
	}
	cbu, err := s.encryptor.Decrypt(rec.EncryptedCBU)
	if err != nil {
		return "", err
	}

	s.log.Info().
		Str("withdrawal_id", requestID).
		Str("admin_id", adminID).
		Msg("CBU revealed")
	return cbu, nil
}

// Get returns a request by id.
func (s *Service) Get(ctx context.Context, requestID string) (Record, error) {
	return s.get(ctx, requestID)
}

// ListOverdue returns requests past the escalation window, oldest first.
func (s *Service) ListOverdue(ctx context.Context) ([]Record, error) {
	query := `
		SELECT ` + columns + `
		FROM withdrawal_requests
		WHERE status IN ('pending', 'approved')
		  AND requested_at < $1
		ORDER BY requested_at ASC
	`

	rows, err := s.pool.Query(ctx, query, s.now().Add(-OverdueAfter))
	if err != nil {
		return nil, fmt.Errorf("withdrawal: list overdue: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		rec, err := scanRecordRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("withdrawal: iterate overdue: %w", err)
	}
	return out, nil
}

// transition performs a guarded single-step status update. The WHERE clause
// carries the allowed source states so a lost race surfaces as a state
// conflict, not a double write.
func (s *Service) transition(ctx context.Context, requestID string, to Status, note string, reason *string) (Record, error) {
	allowed := sourcesFor(to)
	query := `
		UPDATE withdrawal_requests
		SET status = $1, rejection_reason = COALESCE($2, rejection_reason), updated_at = get_tx_timestamp()
		WHERE id = $3 AND status = ANY($4)
		RETURNING ` + columns

	rec, err := scanRecord(s.pool.QueryRow(ctx, query, to, reason, requestID, allowed))
	if err == nil {
		s.log.Info().Str("withdrawal_id", rec.ID).Str("status", string(to)).Str("note", note).Msg("withdrawal transition")
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("withdrawal: transition to %s: %w", to, err)
	}

	current, getErr := s.get(ctx, requestID)
	if getErr != nil {
		return Record{}, getErr
	}
	return Record{}, fmt.Errorf("%w: cannot move %s to %s", ErrInvalidState, current.Status, to)
}

func sourcesFor(to Status) []string {
	out := []string{}
	for _, from := range []Status{StatusPending, StatusApproved, StatusProcessing, StatusCompleted, StatusRejected, StatusCancelled} {
		if canTransition(from, to) {
			out = append(out, string(from))
		}
	}
	return out
}

func (s *Service) get(ctx context.Context, requestID string) (Record, error) {
	query := `SELECT ` + columns + ` FROM withdrawal_requests WHERE id = $1`
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("withdrawal: get: %w", err)
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.Amount,
		&rec.EncryptedCBU, &rec.CBULast4, &rec.BankName, &rec.AccountHolder,
		&rec.Status, &rec.BalanceBefore, &rec.BalanceAfter,
		&rec.ProofOfTransfer, &rec.RejectionReason,
		&rec.RequestedAt, &rec.ProcessedAt, &rec.UpdatedAt,
	)
	return rec, err
}

func scanRecordRows(rows pgx.Rows) (Record, error) {
	rec, err := scanRecord(rows)
	if err != nil {
		return Record{}, fmt.Errorf("withdrawal: scan row: %w", err)
	}
	return rec, nil
}
