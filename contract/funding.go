package contract

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// The methods in this file run inside the payment gateway's idempotent
// transaction: the gateway reserves the external payment id first, then
// invokes these, then commits. They never begin transactions themselves.

// MarkEscrowFunded records a successful escrow capture: payment moves from
// pending to held_escrow and a pending contract becomes ready. A capture
// arriving for escrow already held is tolerated as a no-op so webhook
// redelivery behind a lost idempotency row still cannot double-fund.
func (s *Service) MarkEscrowFunded(ctx context.Context, tx pgx.Tx, contractID, externalPaymentID string) error {
	rec, err := GetForUpdate(ctx, tx, contractID)
	if err != nil {
		return err
	}
	switch rec.PaymentStatus {
	case PaymentPending:
		// proceed
	case PaymentHeldEscrow, PaymentReleased:
		return nil
	default:
		return fmt.Errorf("%w: payment status %s", ErrInvalidState, rec.PaymentStatus)
	}

	status := rec.Status
	if status == StatusPending {
		status = StatusReady
	}
	if _, err := s.updateStatus(ctx, tx, contractID, status, PaymentHeldEscrow); err != nil {
		return fmt.Errorf("contract: mark escrow funded: %w", err)
	}

	if err := insertTimelineEvent(ctx, tx, contractID, "ESCROW_FUNDED", "", map[string]any{
		"external_payment_id": externalPaymentID,
	}); err != nil {
		return err
	}
	return enqueueOutbox(ctx, tx, "contract.escrow_funded", map[string]any{
		"contract_id":         contractID,
		"external_payment_id": externalPaymentID,
	})
}

// CommitPriceIncrease applies a pending price increase once the gateway
// confirms the additional payment (delta plus delta commission).
func (s *Service) CommitPriceIncrease(ctx context.Context, tx pgx.Tx, contractID, externalPaymentID string) error {
	rec, err := GetForUpdate(ctx, tx, contractID)
	if err != nil {
		return err
	}
	if rec.PendingPrice == nil || rec.PendingCharge == nil || *rec.PendingPrice <= rec.Price {
		return ErrNoPendingIncrease
	}

	updateSQL := `
		UPDATE contracts
		SET price = pending_price,
		    total_price = total_price + pending_charge,
		    pending_price = NULL, pending_charge = NULL,
		    updated_at = get_tx_timestamp()
		WHERE id = $1
		RETURNING ` + columns

	updated, err := scanRecord(tx.QueryRow(ctx, updateSQL, contractID))
	if err != nil {
		return fmt.Errorf("contract: commit price increase: %w", err)
	}

	return insertTimelineEvent(ctx, tx, contractID, "PRICE_INCREASE_APPLIED", "", map[string]any{
		"new_price":           updated.Price,
		"charged":             *rec.PendingCharge,
		"external_payment_id": externalPaymentID,
	})
}

// ConfirmRefund acknowledges the gateway's out-of-band refund confirmation
// for a cancelled or refunded contract. State was already settled by the
// operation that triggered the refund; this only leaves an audit mark.
func (s *Service) ConfirmRefund(ctx context.Context, tx pgx.Tx, contractID string) error {
	rec, err := GetForUpdate(ctx, tx, contractID)
	if err != nil {
		return err
	}
	if rec.PaymentStatus != PaymentRefunded && rec.PaymentStatus != PaymentPartialRefund {
		return fmt.Errorf("%w: payment status %s", ErrInvalidState, rec.PaymentStatus)
	}
	return insertTimelineEvent(ctx, tx, contractID, "REFUND_CONFIRMED", "", nil)
}
