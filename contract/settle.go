package contract

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"changas/allocation"
	"changas/ledger"
)

// The dispute resolution engine drives the methods below inside its own
// transaction so dispute state, contract state, and ledger rows settle as
// one unit.

// Freeze marks the contract disputed, blocking confirmation, cancellation,
// and price changes until the dispute resolves. Returns the frozen record.
func (s *Service) Freeze(ctx context.Context, tx pgx.Tx, contractID string) (Record, error) {
	rec, err := GetForUpdate(ctx, tx, contractID)
	if err != nil {
		return Record{}, err
	}
	if rec.Disputed() {
		return rec, nil
	}
	if rec.Terminal() {
		return Record{}, fmt.Errorf("%w: %s", ErrInvalidState, rec.Status)
	}

	rec, err = s.updateStatus(ctx, tx, contractID, StatusDisputed, rec.PaymentStatus)
	if err != nil {
		return Record{}, fmt.Errorf("contract: freeze: %w", err)
	}
	if err := insertTimelineEvent(ctx, tx, contractID, "CONTRACT_DISPUTED", "", nil); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// SettleRelease closes a disputed contract in the workers' favour: the full
// escrow is released per allocation and the contract completes.
func (s *Service) SettleRelease(ctx context.Context, tx pgx.Tx, contractID string) (Record, error) {
	rec, err := GetForUpdate(ctx, tx, contractID)
	if err != nil {
		return Record{}, err
	}
	if !rec.Disputed() {
		return Record{}, fmt.Errorf("%w: %s", ErrInvalidState, rec.Status)
	}

	rec, err = s.updateStatus(ctx, tx, contractID, StatusCompleted, PaymentReleased)
	if err != nil {
		return Record{}, fmt.Errorf("contract: settle release: %w", err)
	}
	if _, err := s.releaseEscrow(ctx, tx, rec); err != nil {
		return Record{}, err
	}
	if err := insertTimelineEvent(ctx, tx, contractID, "DISPUTE_RELEASED", "", map[string]any{
		"released": rec.Price,
	}); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// SettleRefund closes a disputed contract in the client's favour. Only the
// service price is returned; the platform commission is never refunded on
// this path. That asymmetry is a business rule, not an accident.
func (s *Service) SettleRefund(ctx context.Context, tx pgx.Tx, contractID string) (Record, error) {
	rec, err := GetForUpdate(ctx, tx, contractID)
	if err != nil {
		return Record{}, err
	}
	if !rec.Disputed() {
		return Record{}, fmt.Errorf("%w: %s", ErrInvalidState, rec.Status)
	}

	rec, err = s.updateStatus(ctx, tx, contractID, StatusCancelled, PaymentRefunded)
	if err != nil {
		return Record{}, fmt.Errorf("contract: settle refund: %w", err)
	}
	if _, err := s.ledger.Append(ctx, tx, ledger.AppendParams{
		UserID:      rec.ClientID,
		Type:        ledger.TypeRefund,
		Amount:      rec.Price,
		Reference:   rec.ID,
		Description: "dispute refund (commission retained)",
	}); err != nil {
		return Record{}, err
	}
	if err := insertTimelineEvent(ctx, tx, contractID, "DISPUTE_REFUNDED", "", map[string]any{
		"refunded":            rec.Price,
		"commission_retained": rec.CommissionAmount,
	}); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// SettlePartial refunds refundAmount to the client and releases the
// remainder to the workers, prorated by their allocations.
func (s *Service) SettlePartial(ctx context.Context, tx pgx.Tx, contractID string, refundAmount float64) (Record, error) {
	rec, err := GetForUpdate(ctx, tx, contractID)
	if err != nil {
		return Record{}, err
	}
	if !rec.Disputed() {
		return Record{}, fmt.Errorf("%w: %s", ErrInvalidState, rec.Status)
	}
	if refundAmount <= 0 || refundAmount >= rec.Price {
		return Record{}, fmt.Errorf("contract: partial refund must be between 0 and the price")
	}

	rec, err = s.updateStatus(ctx, tx, contractID, StatusCompleted, PaymentPartialRefund)
	if err != nil {
		return Record{}, fmt.Errorf("contract: settle partial: %w", err)
	}

	if _, err := s.ledger.Append(ctx, tx, ledger.AppendParams{
		UserID:      rec.ClientID,
		Type:        ledger.TypeRefund,
		Amount:      refundAmount,
		Reference:   rec.ID,
		Description: "dispute partial refund",
	}); err != nil {
		return Record{}, err
	}

	workers, err := s.splitter.ForContract(ctx, tx, rec.ID)
	if err != nil {
		return Record{}, err
	}
	if len(workers) == 0 {
		return Record{}, fmt.Errorf("contract: no workers to release remainder to")
	}

	remainder := rec.Price - refundAmount
	totalPayout := 0.0
	for _, w := range workers {
		totalPayout += allocation.PayoutAmount(w.AllocatedAmount, rec.Price)
	}
	for _, w := range workers {
		share := allocation.PayoutAmount(w.AllocatedAmount, rec.Price) / totalPayout * remainder
		if _, err := s.ledger.Append(ctx, tx, ledger.AppendParams{
			UserID:      w.WorkerID,
			Type:        ledger.TypePayment,
			Amount:      share,
			Reference:   rec.ID,
			Description: "dispute partial release",
		}); err != nil {
			return Record{}, err
		}
	}

	if err := insertTimelineEvent(ctx, tx, contractID, "DISPUTE_PARTIAL", "", map[string]any{
		"refunded": refundAmount,
		"released": remainder,
	}); err != nil {
		return Record{}, err
	}
	return rec, nil
}
