package contract

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"changas/allocation"
	"changas/ledger"
	"changas/notify"
)

// ConfirmCompletion records one party's completion confirmation. The first
// confirmer moves the contract to pending_confirmation; once both parties
// have confirmed, the escrow is released and each worker is credited in the
// same transaction. Confirming twice by the same party is a no-op, and the
// release can never fire twice: both flags are read-checked under a row lock.
func (s *Service) ConfirmCompletion(ctx context.Context, contractID string, role ActorRole, actorID string) (Record, error) {
	if role != RoleClient && role != RoleDoer {
		return Record{}, fmt.Errorf("%w: role %q cannot confirm", ErrForbidden, role)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := GetForUpdate(ctx, tx, contractID)
	if err != nil {
		return Record{}, err
	}
	if rec.Disputed() {
		return Record{}, ErrDisputed
	}
	if rec.Status == StatusCompleted {
		return rec, nil
	}
	if rec.Status == StatusCancelled {
		return Record{}, fmt.Errorf("%w: %s", ErrInvalidState, rec.Status)
	}
	if rec.PaymentStatus != PaymentHeldEscrow {
		return Record{}, ErrEscrowNotHeld
	}

	release, already := confirmationState(&rec, role, s.now())
	if already {
		return rec, nil
	}

	if release {
		rec.Status = StatusCompleted
		rec.PaymentStatus = PaymentReleased
	} else {
		rec.Status = StatusPendingConfirmation
	}

	updateSQL := `
		UPDATE contracts
		SET status = $1, payment_status = $2,
		    client_confirmed = $3, client_confirmed_at = $4,
		    doer_confirmed = $5, doer_confirmed_at = $6,
		    updated_at = get_tx_timestamp()
		WHERE id = $7
		RETURNING ` + columns

	rec, err = scanRecord(tx.QueryRow(ctx, updateSQL,
		rec.Status, rec.PaymentStatus,
		rec.ClientConfirmed, rec.ClientConfirmedAt,
		rec.DoerConfirmed, rec.DoerConfirmedAt,
		contractID,
	))
	if err != nil {
		return Record{}, fmt.Errorf("contract: update confirmation: %w", err)
	}

	var payouts []ledger.Transaction
	if release {
		payouts, err = s.releaseEscrow(ctx, tx, rec)
		if err != nil {
			return Record{}, err
		}
		if err := insertTimelineEvent(ctx, tx, rec.ID, "CONTRACT_COMPLETED", actorID, map[string]any{
			"released": rec.Price,
			"payouts":  len(payouts),
		}); err != nil {
			return Record{}, err
		}
		if err := enqueueOutbox(ctx, tx, "contract.released", map[string]any{
			"contract_id": rec.ID,
			"amount":      rec.Price,
		}); err != nil {
			return Record{}, err
		}
	} else {
		if err := insertTimelineEvent(ctx, tx, rec.ID, "COMPLETION_CONFIRMED", actorID, map[string]any{
			"role": role,
		}); err != nil {
			return Record{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("contract: commit confirmation: %w", err)
	}

	if release {
		s.log.Info().
			Str("contract_id", rec.ID).
			Float64("released", rec.Price).
			Int("payouts", len(payouts)).
			Msg("escrow released")
		for _, p := range payouts {
			notify.Dispatch(ctx, s.notifier, p.UserID, "payment_released", map[string]any{
				"contract_id": rec.ID,
				"amount":      p.Amount,
			})
		}
	}

	return rec, nil
}

// releaseEscrow credits every worker their payout (explicit allocation, or
// the full price for the single-worker default) inside the caller's tx.
func (s *Service) releaseEscrow(ctx context.Context, tx pgx.Tx, rec Record) ([]ledger.Transaction, error) {
	workers, err := s.splitter.ForContract(ctx, tx, rec.ID)
	if err != nil {
		return nil, err
	}
	if len(workers) == 0 {
		return nil, fmt.Errorf("contract: no workers to release to")
	}

	payouts := make([]ledger.Transaction, 0, len(workers))
	for _, w := range workers {
		amount := allocation.PayoutAmount(w.AllocatedAmount, rec.Price)
		txn, err := s.ledger.Append(ctx, tx, ledger.AppendParams{
			UserID:      w.WorkerID,
			Type:        ledger.TypePayment,
			Amount:      amount,
			Reference:   rec.ID,
			Description: "escrow release",
		})
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, txn)
	}
	return payouts, nil
}

// Cancel terminates the contract with a mandatory reason and refunds the
// client's escrow. Staff may cancel any contract; the client only their own.
// Blocked while a dispute is open.
func (s *Service) Cancel(ctx context.Context, contractID, actorID string, role ActorRole, reason string) (Record, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Record{}, ErrReasonRequired
	}
	if role != RoleClient && role != RoleStaff {
		return Record{}, fmt.Errorf("%w: role %q cannot cancel", ErrForbidden, role)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := GetForUpdate(ctx, tx, contractID)
	if err != nil {
		return Record{}, err
	}
	if rec.Disputed() {
		return Record{}, ErrDisputed
	}
	if rec.Terminal() {
		return Record{}, fmt.Errorf("%w: %s", ErrInvalidState, rec.Status)
	}
	if role == RoleClient && rec.ClientID != actorID {
		return Record{}, ErrForbidden
	}

	escrowHeld := rec.PaymentStatus == PaymentHeldEscrow

	updateSQL := `
		UPDATE contracts
		SET status = 'cancelled', payment_status = 'refunded',
		    cancel_reason = $1, updated_at = get_tx_timestamp()
		WHERE id = $2
		RETURNING ` + columns

	rec, err = scanRecord(tx.QueryRow(ctx, updateSQL, reason, contractID))
	if err != nil {
		return Record{}, fmt.Errorf("contract: update cancel: %w", err)
	}

	// Refund only money actually captured; a never-funded contract has
	// nothing to give back.
	if escrowHeld {
		if _, err := s.ledger.Append(ctx, tx, ledger.AppendParams{
			UserID:      rec.ClientID,
			Type:        ledger.TypeRefund,
			Amount:      rec.TotalPrice,
			Reference:   rec.ID,
			Description: "contract cancelled: " + reason,
		}); err != nil {
			return Record{}, err
		}
	}

	if err := insertTimelineEvent(ctx, tx, rec.ID, "CONTRACT_CANCELLED", actorID, map[string]any{
		"reason": reason,
		"role":   role,
	}); err != nil {
		return Record{}, err
	}
	if err := enqueueOutbox(ctx, tx, "contract.cancelled", map[string]any{
		"contract_id": rec.ID,
		"reason":      reason,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("contract: commit cancel: %w", err)
	}

	s.log.Info().Str("contract_id", rec.ID).Str("reason", reason).Msg("contract cancelled")
	notify.Dispatch(ctx, s.notifier, rec.ClientID, "contract_cancelled", map[string]any{"contract_id": rec.ID})

	return rec, nil
}
