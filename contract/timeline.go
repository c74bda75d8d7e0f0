package contract

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// insertTimelineEvent appends an immutable business event for a contract
// inside the caller's transaction.
func insertTimelineEvent(ctx context.Context, tx pgx.Tx, contractID, eventType, actorID string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("contract: marshal timeline payload: %w", err)
	}
	var actor any
	if actorID != "" {
		actor = actorID
	}
	const q = `
		INSERT INTO timeline_events (contract_id, type, payload, actor_id)
		VALUES ($1, $2, $3::jsonb, $4::uuid)
	`
	if _, err := tx.Exec(ctx, q, contractID, eventType, body, actor); err != nil {
		return fmt.Errorf("contract: insert timeline event: %w", err)
	}
	return nil
}

// enqueueOutbox records a transactional outbox message for downstream
// delivery (notifications, webhooks) once the transaction commits.
func enqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("contract: marshal outbox payload: %w", err)
	}
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("contract: enqueue outbox: %w", err)
	}
	return nil
}
