package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"changas/bankcrypto"
	"changas/ledger"
	"changas/notify"
)

// TestCompleteInsufficientBalance_Integration connects to a real PostgreSQL
// via DATABASE_URL and verifies that a completion attempt against a drained
// balance fails cleanly: no ledger debit is written and the request stays in
// its prior state, completable once the balance recovers.
func TestCompleteInsufficientBalance_Integration(t *testing.T) {
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

	for _, table := range []string{"users", "withdrawal_requests", "balance_transactions"} {
		if !integrationTableExists(ctx, t, pool, table) {
			t.Skip("database schema missing; apply migrations/ first")
		}
	}

	var userID string
	if err := pool.QueryRow(ctx, `INSERT INTO users (email, full_name, password_hash, role) VALUES ($1,'Pedro Changarin','x','doer') RETURNING id`,
		fmt.Sprintf("pedro+%d@example.com", time.Now().UnixNano())).Scan(&userID); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM withdrawal_requests WHERE user_id = $1`, userID)
		pool.Exec(ctx2, `DELETE FROM balance_transactions WHERE user_id = $1`, userID)
		pool.Exec(ctx2, `DELETE FROM users WHERE id = $1`, userID)
	})

	ledgerRepo := ledger.NewRepository()
	credit := func(typ ledger.Type, amount float64, desc string) {
		t.Helper()
		tx, err := pool.Begin(ctx)
		if err != nil {
			t.Fatalf("begin ledger tx: %v", err)
		}
		defer tx.Rollback(ctx)
		if _, err := ledgerRepo.Append(ctx, tx, ledger.AppendParams{
			UserID:      userID,
			Type:        typ,
			Amount:      amount,
			Description: desc,
		}); err != nil {
			t.Fatalf("append %s: %v", desc, err)
		}
		if err := tx.Commit(ctx); err != nil {
			t.Fatalf("commit %s: %v", desc, err)
		}
	}
	credit(ledger.TypeBonus, 2000, "seed balance")

	encryptor, err := bankcrypto.New("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("init encryptor: %v", err)
	}
	log := zerolog.Nop()
	svc := NewService(pool, encryptor, ledgerRepo, notify.NewLogNotifier(log), log)

	rec, err := svc.Request(ctx, RequestParams{
		UserID:        userID,
		Amount:        1500,
		CBU:           "2850590940090418135201",
		BankName:      "Banco Nacion",
		AccountHolder: "Pedro Changarin",
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := svc.Approve(ctx, rec.ID, "staff-1"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := svc.StartProcessing(ctx, rec.ID, "staff-1"); err != nil {
		t.Fatalf("start processing: %v", err)
	}

	// Drain the balance behind the request's back, as a concurrent payout
	// would. The snapshot taken at request time no longer covers the amount.
	credit(ledger.TypeAdjustment, -1500, "concurrent drain")

	_, err = svc.Complete(ctx, rec.ID, "staff-1", "transfer-001")
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// Nothing moved: no debit row, request untouched in processing.
	var debits int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM balance_transactions WHERE user_id = $1 AND type = 'withdrawal'`, userID).Scan(&debits); err != nil {
		t.Fatalf("count debits: %v", err)
	}
	if debits != 0 {
		t.Fatalf("expected no withdrawal debit after failed completion, got %d", debits)
	}
	after, err := svc.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("reload request: %v", err)
	}
	if after.Status != StatusProcessing {
		t.Fatalf("expected request to stay processing, got %s", after.Status)
	}
	if after.ProofOfTransfer != nil || after.ProcessedAt != nil || after.BalanceAfter != nil {
		t.Fatalf("failed completion must not record proof or debit: %+v", after)
	}

	// Once the balance recovers the same request completes normally.
	credit(ledger.TypeBonus, 1500, "balance recovered")

	done, err := svc.Complete(ctx, rec.ID, "staff-1", "transfer-001")
	if err != nil {
		t.Fatalf("complete after recovery: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	if done.BalanceAfter == nil || *done.BalanceAfter != 500 {
		t.Fatalf("expected balance_after 500, got %+v", done.BalanceAfter)
	}
	if done.BalanceBefore != 2000 {
		t.Fatalf("expected live balance_before 2000, got %.2f", done.BalanceBefore)
	}
}

func integrationTableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
