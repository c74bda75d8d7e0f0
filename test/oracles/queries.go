// Package oracles holds SQL invariant checks run repeatedly while the stress
// actors hammer the settlement engine. Any returned row is a violation.
package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			// A released contract must have exactly one release in its
			// timeline, whatever path released it.
			Name: "O1_single_release_per_contract",
			SQL: `SELECT contract_id, COUNT(*) FROM timeline_events
                  WHERE type IN ('CONTRACT_COMPLETED','DISPUTE_RELEASED','DISPUTE_PARTIAL')
                  GROUP BY contract_id HAVING COUNT(*) > 1`,
		},
		{
			// Ledger rows must chain: each balance_after is balance_before
			// plus the amount, and balances never go negative.
			Name: "O2_ledger_chain",
			SQL: `SELECT id FROM balance_transactions
                  WHERE abs(balance_after - balance_before - amount) > 0.001
                     OR balance_after < 0`,
		},
		{
			// Per user, consecutive ledger rows must hand the balance off
			// without gaps.
			Name: "O3_ledger_handoff",
			SQL: `WITH ordered AS (
                      SELECT user_id, balance_before, balance_after,
                             LAG(balance_after) OVER (PARTITION BY user_id ORDER BY created_at, id) AS prev_after
                      FROM balance_transactions WHERE status = 'completed')
                  SELECT * FROM ordered
                  WHERE prev_after IS NOT NULL AND abs(balance_before - prev_after) > 0.001`,
		},
		{
			// Non-zero commissions respect the ARS 1000 floor.
			Name: "O4_commission_floor",
			SQL: `SELECT id, commission_amount FROM contracts
                  WHERE commission_amount <> 0 AND commission_amount < 1000`,
		},
		{
			Name: "O5_membership_counters",
			SQL: `SELECT id FROM memberships
                  WHERE free_contracts_used + free_contracts_remaining <> free_contracts_total
                     OR free_contracts_used < 0 OR free_contracts_remaining < 0`,
		},
		{
			// Worker allocations never exceed the contract price.
			Name: "O6_allocation_budget",
			SQL: `SELECT cw.contract_id, SUM(cw.allocated_amount) AS total, c.price
                  FROM contract_workers cw
                  JOIN contracts c ON c.id = cw.contract_id
                  WHERE cw.allocated_amount IS NOT NULL
                  GROUP BY cw.contract_id, c.price
                  HAVING SUM(cw.allocated_amount) > c.price + 0.001`,
		},
		{
			Name: "O7_one_live_dispute",
			SQL: `SELECT contract_id, COUNT(*) FROM disputes
                  WHERE status IN ('open','in_review')
                  GROUP BY contract_id HAVING COUNT(*) > 1`,
		},
		{
			// A disputed contract is frozen; its payment must not move to
			// released while the dispute is still live.
			Name: "O8_frozen_while_disputed",
			SQL: `SELECT c.id FROM contracts c
                  JOIN disputes d ON d.contract_id = c.id
                  WHERE d.status IN ('open','in_review')
                    AND c.payment_status IN ('released','partial_refund')`,
		},
		{
			// Completed withdrawals snapshot a consistent debit.
			Name: "O9_withdrawal_debit",
			SQL: `SELECT id FROM withdrawal_requests
                  WHERE status = 'completed'
                    AND (balance_after IS NULL
                         OR abs(balance_before - amount - balance_after) > 0.001)`,
		},
		{
			// Escrow release requires both confirmations unless a dispute
			// resolution or the gateway settled it.
			Name: "O10_release_handshake",
			SQL: `SELECT c.id FROM contracts c
                  WHERE c.payment_status = 'released'
                    AND NOT (c.client_confirmed AND c.doer_confirmed)
                    AND NOT EXISTS (
                        SELECT 1 FROM timeline_events e
                        WHERE e.contract_id = c.id
                          AND e.type IN ('DISPUTE_RELEASED','DISPUTE_PARTIAL'))`,
		},
		{
			Name: "O11_outbox_liveness",
			SQL: `SELECT id FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample
// row text) or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
