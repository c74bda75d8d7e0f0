package dispute

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

// TestFullRefund_Integration connects to a real PostgreSQL via DATABASE_URL
// and resolves a dispute as a full refund: the client gets the service price
// back, never the commission-inclusive total, and every staff action lands in
// the audit trail.
func TestFullRefund_Integration(t *testing.T) {
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

	for _, table := range []string{"contracts", "disputes", "dispute_logs", "balance_transactions"} {
		if !tableExists(ctx, t, pool, table) {
			t.Skip("database schema missing; apply migrations/ first")
		}
	}

	insertUser := func(name, role string) string {
		t.Helper()
		var id string
		err := pool.QueryRow(ctx, `INSERT INTO users (email, full_name, password_hash, role) VALUES ($1,$2,'x',$3) RETURNING id`,
			fmt.Sprintf("%s+%d@example.com", role, time.Now().UnixNano()), name, role).Scan(&id)
		if err != nil {
			t.Fatalf("seed %s: %v", role, err)
		}
		return id
	}
	clientID := insertUser("Marta Cliente", "client")
	workerID := insertUser("Pedro Changarin", "doer")
	staffID := insertUser("Sofia Staff", "staff")

	log := zerolog.Nop()
	notifier := notify.NewLogNotifier(log)
	commissionRepo := commission.NewRepository(pool)
	ledgerRepo := ledger.NewRepository()
	contracts := contract.NewService(
		pool,
		commission.NewService(commissionRepo, commissionRepo),
		membership.NewRepository(pool),
		allocation.NewSplitter(pool),
		ledgerRepo,
		notifier,
		log,
	)
	disputes := NewService(pool, contracts, notifier, log)

	const price = 5000.0
	rec, err := contracts.Create(ctx, contract.CreateParams{
		JobID:     "00000000-0000-0000-0000-0000000000cd",
		ClientID:  clientID,
		WorkerIDs: []string{workerID},
		Price:     price,
	})
	if err != nil {
		t.Fatalf("seed contract: %v", err)
	}
	contractID := rec.ID
	if rec.TotalPrice <= price {
		t.Fatalf("expected commission on top of the price, got total %.2f", rec.TotalPrice)
	}

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM dispute_logs WHERE dispute_id IN (SELECT id FROM disputes WHERE contract_id = $1)`, contractID)
		pool.Exec(ctx2, `DELETE FROM disputes WHERE contract_id = $1`, contractID)
		pool.Exec(ctx2, `DELETE FROM balance_transactions WHERE reference = $1`, contractID)
		pool.Exec(ctx2, `DELETE FROM timeline_events WHERE contract_id = $1`, contractID)
		pool.Exec(ctx2, `DELETE FROM outbox WHERE payload->>'contract_id' = $1`, contractID)
		pool.Exec(ctx2, `DELETE FROM contract_workers WHERE contract_id = $1`, contractID)
		pool.Exec(ctx2, `DELETE FROM contracts WHERE id = $1`, contractID)
		pool.Exec(ctx2, `DELETE FROM users WHERE id IN ($1, $2, $3)`, clientID, workerID, staffID)
	})

	// Fund the escrow so there is something to refund.
	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin funding tx: %v", err)
	}
	if err := contracts.MarkEscrowFunded(ctx, tx, contractID, "itest-capture"); err != nil {
		t.Fatalf("fund escrow: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit funding: %v", err)
	}

	d, err := disputes.Open(ctx, OpenParams{
		ContractID: contractID,
		OpenedBy:   clientID,
		Reason:     "the work was never delivered",
	})
	if err != nil {
		t.Fatalf("open dispute: %v", err)
	}
	if _, err := disputes.Assign(ctx, d.ID, staffID); err != nil {
		t.Fatalf("assign dispute: %v", err)
	}
	if _, err := disputes.Resolve(ctx, ResolveParams{
		DisputeID:  d.ID,
		StaffID:    staffID,
		Resolution: ResolveFullRefund,
		Note:       "no evidence of delivery",
	}); err != nil {
		t.Fatalf("resolve dispute: %v", err)
	}

	// The refund is the service price; the commission stays with the platform.
	var refunded float64
	if err := pool.QueryRow(ctx,
		`SELECT amount FROM balance_transactions WHERE user_id = $1 AND type = 'refund' AND reference = $2`,
		clientID, contractID).Scan(&refunded); err != nil {
		t.Fatalf("load refund row: %v", err)
	}
	if refunded != price {
		t.Fatalf("expected refund of the price %.2f, got %.2f (total was %.2f)", price, refunded, rec.TotalPrice)
	}

	balance, err := ledgerRepo.Balance(ctx, pool, clientID)
	if err != nil {
		t.Fatalf("fold client balance: %v", err)
	}
	if balance != price {
		t.Fatalf("expected client balance %.2f, got %.2f", price, balance)
	}

	var status, paymentStatus string
	if err := pool.QueryRow(ctx, `SELECT status, payment_status FROM contracts WHERE id = $1`, contractID).Scan(&status, &paymentStatus); err != nil {
		t.Fatalf("verify contract: %v", err)
	}
	if status != "cancelled" || paymentStatus != "refunded" {
		t.Fatalf("expected cancelled/refunded, got %s/%s", status, paymentStatus)
	}

	// Every staff action has an audit entry, the assignment included.
	logs, err := disputes.Logs(ctx, d.ID)
	if err != nil {
		t.Fatalf("load logs: %v", err)
	}
	want := []string{"opened", "assigned", "resolved"}
	if len(logs) != len(want) {
		t.Fatalf("expected %d log entries, got %d", len(want), len(logs))
	}
	for i, action := range want {
		if logs[i].Action != action {
			t.Fatalf("log %d: expected %q, got %q", i, action, logs[i].Action)
		}
	}
	if logs[1].ActorID != staffID {
		t.Fatalf("assignment entry should carry the staff actor, got %s", logs[1].ActorID)
	}
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
