package gateway

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"changas/allocation"
	"changas/commission"
	"changas/contract"
	"changas/ledger"
	"changas/membership"
	"changas/notify"
)

// TestEscrowCapture_Integration connects to a real PostgreSQL via DATABASE_URL
// and verifies the capture webhook end to end, including the idempotent replay.
func TestEscrowCapture_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"contracts", "timeline_events", "outbox", "idempotency"} {
		if !tableExists(ctx, t, pool, table) {
			t.Skip("database schema missing; apply migrations/ first")
		}
	}

	var clientID, workerID string
	if err := pool.QueryRow(ctx, `INSERT INTO users (email, full_name, password_hash, role) VALUES ($1,'Marta Cliente','x','client') RETURNING id`,
		fmt.Sprintf("marta+%d@example.com", time.Now().UnixNano())).Scan(&clientID); err != nil {
		t.Fatalf("seed client: %v", err)
	}
	if err := pool.QueryRow(ctx, `INSERT INTO users (email, full_name, password_hash, role) VALUES ($1,'Pedro Changarin','x','doer') RETURNING id`,
		fmt.Sprintf("pedro+%d@example.com", time.Now().UnixNano())).Scan(&workerID); err != nil {
		t.Fatalf("seed worker: %v", err)
	}

	log := zerolog.Nop()
	notifier := notify.NewLogNotifier(log)
	commissionRepo := commission.NewRepository(pool)
	contracts := contract.NewService(
		pool,
		commission.NewService(commissionRepo, commissionRepo),
		membership.NewRepository(pool),
		allocation.NewSplitter(pool),
		ledger.NewRepository(),
		notifier,
		log,
	)

	rec, err := contracts.Create(ctx, contract.CreateParams{
		JobID:     "00000000-0000-0000-0000-0000000000ab",
		ClientID:  clientID,
		WorkerIDs: []string{workerID},
		Price:     5000,
	})
	if err != nil {
		t.Fatalf("seed contract: %v", err)
	}
	contractID := rec.ID

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM timeline_events WHERE contract_id = $1`, contractID)
		pool.Exec(ctx2, `DELETE FROM outbox WHERE payload->>'contract_id' = $1`, contractID)
		pool.Exec(ctx2, `DELETE FROM contract_workers WHERE contract_id = $1`, contractID)
		pool.Exec(ctx2, `DELETE FROM contracts WHERE id = $1`, contractID)
		pool.Exec(ctx2, `DELETE FROM users WHERE id IN ($1, $2)`, clientID, workerID)
	})

	svc := NewService(pool, NewPGStore(), contracts, nil, log)

	eventID := fmt.Sprintf("itest-capture-%d", time.Now().UnixNano())
	ev := CapturedEvent{
		ExternalPaymentID: eventID,
		ContractID:        contractID,
		Purpose:           PurposeEscrow,
	}

	// First delivery funds the escrow.
	if err := svc.HandlePaymentCaptured(ctx, ev); err != nil {
		t.Fatalf("handle capture (first): %v", err)
	}

	var status, paymentStatus string
	if err := pool.QueryRow(ctx, `SELECT status, payment_status FROM contracts WHERE id = $1`, contractID).Scan(&status, &paymentStatus); err != nil {
		t.Fatalf("verify contract: %v", err)
	}
	if status != "ready" || paymentStatus != "held_escrow" {
		t.Fatalf("expected ready/held_escrow, got %s/%s", status, paymentStatus)
	}

	var evCount int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM timeline_events WHERE contract_id = $1 AND type = 'ESCROW_FUNDED'`, contractID).Scan(&evCount); err != nil {
		t.Fatalf("verify events: %v", err)
	}
	if evCount != 1 {
		t.Fatalf("expected 1 ESCROW_FUNDED event, got %d", evCount)
	}

	var outCount int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE topic = 'contract.escrow_funded' AND payload->>'contract_id' = $1`, contractID).Scan(&outCount); err != nil {
		t.Fatalf("verify outbox: %v", err)
	}
	if outCount != 1 {
		t.Fatalf("expected 1 outbox message, got %d", outCount)
	}

	// Redelivery with the same external payment id must be a silent no-op.
	if err := svc.HandlePaymentCaptured(ctx, ev); err != nil {
		t.Fatalf("handle capture (replay): %v", err)
	}
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM timeline_events WHERE contract_id = $1 AND type = 'ESCROW_FUNDED'`, contractID).Scan(&evCount); err != nil {
		t.Fatalf("re-verify events: %v", err)
	}
	if evCount != 1 {
		t.Fatalf("expected events unchanged after replay, got %d", evCount)
	}
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE topic = 'contract.escrow_funded' AND payload->>'contract_id' = $1`, contractID).Scan(&outCount); err != nil {
		t.Fatalf("re-verify outbox: %v", err)
	}
	if outCount != 1 {
		t.Fatalf("expected outbox unchanged after replay, got %d", outCount)
	}

	_, _ = pool.Exec(ctx, `DELETE FROM idempotency WHERE key = $1`, eventID)
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
