package contract

import (
	"context"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"

	"changas/allocation"
	"changas/ledger"
)

// ChangeOutcome reports what a price-change proposal did.
type ChangeOutcome struct {
	Contract Record

	// Increase path: payment still owed by the client before the new price
	// takes effect. AdditionalCharge = delta + commission(delta).
	RequiresPayment  bool
	AdditionalCharge float64

	// Decrease path with open worker proposals: unanimous acceptance needed.
	VoteRequired  bool
	OpenProposals int

	// Decrease applied immediately (no open proposals).
	Applied bool
	Refund  float64
}

// ProposePriceChange adjusts the agreed price. Increases charge commission on
// the delta only and wait for the gateway to confirm the extra payment.
// Decreases apply immediately when no worker proposal is open; otherwise they
// enter the unanimous-approval ballot. Frozen while a dispute is open.
func (s *Service) ProposePriceChange(ctx context.Context, contractID, clientID string, newPrice float64) (ChangeOutcome, error) {
	if newPrice <= 0 {
		return ChangeOutcome{}, ErrInvalidPrice
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ChangeOutcome{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := GetForUpdate(ctx, tx, contractID)
	if err != nil {
		return ChangeOutcome{}, err
	}
	if rec.ClientID != clientID {
		return ChangeOutcome{}, ErrForbidden
	}
	if rec.Disputed() {
		return ChangeOutcome{}, ErrDisputed
	}
	if rec.Terminal() {
		return ChangeOutcome{}, fmt.Errorf("%w: %s", ErrInvalidState, rec.Status)
	}
	if rec.PendingPrice != nil {
		return ChangeOutcome{}, ErrPendingChangeUnderVote
	}
	if newPrice == rec.Price {
		return ChangeOutcome{}, ErrPriceUnchanged
	}

	if newPrice > rec.Price {
		return s.proposeIncrease(ctx, tx, rec, newPrice)
	}
	return s.proposeDecrease(ctx, tx, rec, newPrice)
}

func (s *Service) proposeIncrease(ctx context.Context, tx pgx.Tx, rec Record, newPrice float64) (ChangeOutcome, error) {
	delta := newPrice - rec.Price
	deltaResult, err := s.commission.DeltaForUser(ctx, rec.ClientID, delta)
	if err != nil {
		return ChangeOutcome{}, err
	}
	charge := delta + deltaResult.Commission

	updateSQL := `
		UPDATE contracts
		SET pending_price = $1, pending_charge = $2, updated_at = get_tx_timestamp()
		WHERE id = $3
		RETURNING ` + columns

	rec, err = scanRecord(tx.QueryRow(ctx, updateSQL, newPrice, charge, rec.ID))
	if err != nil {
		return ChangeOutcome{}, fmt.Errorf("contract: store pending increase: %w", err)
	}

	if err := insertTimelineEvent(ctx, tx, rec.ID, "PRICE_INCREASE_PROPOSED", rec.ClientID, map[string]any{
		"new_price":         newPrice,
		"additional_charge": charge,
		"delta_commission":  deltaResult.Commission,
	}); err != nil {
		return ChangeOutcome{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ChangeOutcome{}, fmt.Errorf("contract: commit increase proposal: %w", err)
	}

	return ChangeOutcome{Contract: rec, RequiresPayment: true, AdditionalCharge: charge}, nil
}

func (s *Service) proposeDecrease(ctx context.Context, tx pgx.Tx, rec Record, newPrice float64) (ChangeOutcome, error) {
	open, err := s.splitter.OpenProposals(ctx, tx, rec.ID)
	if err != nil {
		return ChangeOutcome{}, err
	}

	if open == 0 {
		rec, refund, err := s.applyDecrease(ctx, tx, rec, newPrice)
		if err != nil {
			return ChangeOutcome{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return ChangeOutcome{}, fmt.Errorf("contract: commit decrease: %w", err)
		}
		return ChangeOutcome{Contract: rec, Applied: true, Refund: refund}, nil
	}

	updateSQL := `
		UPDATE contracts
		SET pending_price = $1, updated_at = get_tx_timestamp()
		WHERE id = $2
		RETURNING ` + columns

	rec, err = scanRecord(tx.QueryRow(ctx, updateSQL, newPrice, rec.ID))
	if err != nil {
		return ChangeOutcome{}, fmt.Errorf("contract: store pending decrease: %w", err)
	}

	if err := insertTimelineEvent(ctx, tx, rec.ID, "PRICE_DECREASE_PROPOSED", rec.ClientID, map[string]any{
		"new_price":      newPrice,
		"open_proposals": open,
	}); err != nil {
		return ChangeOutcome{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ChangeOutcome{}, fmt.Errorf("contract: commit decrease proposal: %w", err)
	}

	return ChangeOutcome{Contract: rec, VoteRequired: true, OpenProposals: open}, nil
}

// VotePriceDecrease records one worker's position on the pending decrease.
// Unanimous acceptance commits it; a single rejection discards it and clears
// every recorded vote.
func (s *Service) VotePriceDecrease(ctx context.Context, contractID, workerID string, accepted bool) (allocation.Outcome, Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return allocation.OutcomePending, Record{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := GetForUpdate(ctx, tx, contractID)
	if err != nil {
		return allocation.OutcomePending, Record{}, err
	}
	if rec.Disputed() {
		return allocation.OutcomePending, Record{}, ErrDisputed
	}
	if rec.PendingPrice == nil || *rec.PendingPrice >= rec.Price {
		return allocation.OutcomePending, Record{}, ErrNoPendingDecrease
	}

	votes, err := s.splitter.RecordVote(ctx, tx, contractID, workerID, accepted)
	if err != nil {
		return allocation.OutcomePending, Record{}, err
	}
	open, err := s.splitter.OpenProposals(ctx, tx, contractID)
	if err != nil {
		return allocation.OutcomePending, Record{}, err
	}

	outcome := allocation.Tally(votes, open)
	switch outcome {
	case allocation.OutcomeCommit:
		if err := s.splitter.ClearVotes(ctx, tx, contractID); err != nil {
			return outcome, Record{}, err
		}
		rec, _, err = s.applyDecrease(ctx, tx, rec, *rec.PendingPrice)
		if err != nil {
			return outcome, Record{}, err
		}

	case allocation.OutcomeDiscard:
		if err := s.splitter.ClearVotes(ctx, tx, contractID); err != nil {
			return outcome, Record{}, err
		}
		clearSQL := `
			UPDATE contracts
			SET pending_price = NULL, pending_charge = NULL, updated_at = get_tx_timestamp()
			WHERE id = $1
			RETURNING ` + columns
		rec, err = scanRecord(tx.QueryRow(ctx, clearSQL, contractID))
		if err != nil {
			return outcome, Record{}, fmt.Errorf("contract: clear pending decrease: %w", err)
		}
		if err := insertTimelineEvent(ctx, tx, contractID, "PRICE_DECREASE_REJECTED", workerID, nil); err != nil {
			return outcome, Record{}, err
		}

	case allocation.OutcomePending:
		if err := insertTimelineEvent(ctx, tx, contractID, "PRICE_DECREASE_VOTE", workerID, map[string]any{
			"accepted": accepted,
		}); err != nil {
			return outcome, Record{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return outcome, Record{}, fmt.Errorf("contract: commit vote: %w", err)
	}
	return outcome, rec, nil
}

// applyDecrease commits a price reduction inside tx: the price and total
// drop by the delta, the client receives a refund transaction for the delta,
// and any pending-change bookkeeping is cleared. The commission recorded at
// creation stays untouched.
func (s *Service) applyDecrease(ctx context.Context, tx pgx.Tx, rec Record, newPrice float64) (Record, float64, error) {
	delta := math.Abs(rec.Price - newPrice)

	updateSQL := `
		UPDATE contracts
		SET price = $1, total_price = total_price - $2,
		    pending_price = NULL, pending_charge = NULL,
		    updated_at = get_tx_timestamp()
		WHERE id = $3
		RETURNING ` + columns

	updated, err := scanRecord(tx.QueryRow(ctx, updateSQL, newPrice, delta, rec.ID))
	if err != nil {
		return Record{}, 0, fmt.Errorf("contract: apply decrease: %w", err)
	}

	if rec.PaymentStatus == PaymentHeldEscrow {
		if _, err := s.ledger.Append(ctx, tx, ledger.AppendParams{
			UserID:      rec.ClientID,
			Type:        ledger.TypeRefund,
			Amount:      delta,
			Reference:   rec.ID,
			Description: "price decrease refund",
		}); err != nil {
			return Record{}, 0, err
		}
	}

	if err := insertTimelineEvent(ctx, tx, rec.ID, "PRICE_DECREASE_APPLIED", rec.ClientID, map[string]any{
		"new_price": newPrice,
		"refund":    delta,
	}); err != nil {
		return Record{}, 0, err
	}

	return updated, delta, nil
}
