package contract

import (
	"context"
	"fmt"
	"time"
)

// ExtensionWindow is how long before the start date extension requests close.
const ExtensionWindow = 24 * time.Hour

// RequestExtension pushes the contract's start date. A contract may be
// extended at most once, and only the client may ask, no later than 24 hours
// before the current start date.
func (s *Service) RequestExtension(ctx context.Context, contractID, clientID string, newStartDate time.Time) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := GetForUpdate(ctx, tx, contractID)
	if err != nil {
		return Record{}, err
	}
	if rec.ClientID != clientID {
		return Record{}, ErrForbidden
	}
	if rec.Disputed() {
		return Record{}, ErrDisputed
	}
	if rec.Terminal() {
		return Record{}, fmt.Errorf("%w: %s", ErrInvalidState, rec.Status)
	}
	if rec.HasBeenExtended {
		return Record{}, ErrAlreadyExtended
	}
	if s.now().After(rec.StartDate.Add(-ExtensionWindow)) {
		return Record{}, ErrExtensionWindowClosed
	}
	if !newStartDate.After(rec.StartDate) {
		return Record{}, fmt.Errorf("contract: new start date must be after current start date")
	}

	updateSQL := `
		UPDATE contracts
		SET start_date = $1, has_been_extended = TRUE, updated_at = get_tx_timestamp()
		WHERE id = $2
		RETURNING ` + columns

	rec, err = scanRecord(tx.QueryRow(ctx, updateSQL, newStartDate, contractID))
	if err != nil {
		return Record{}, fmt.Errorf("contract: update extension: %w", err)
	}

	if err := insertTimelineEvent(ctx, tx, rec.ID, "CONTRACT_EXTENDED", clientID, map[string]any{
		"new_start_date": newStartDate.UTC(),
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("contract: commit extension: %w", err)
	}

	return rec, nil
}
