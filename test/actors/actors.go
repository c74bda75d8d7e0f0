// Package actors contains the concurrent workloads of the settlement stress
// harness. Each actor loops until stopped, driving one operation through the
// real services. Domain rejections (frozen contract, insufficient balance,
// replayed confirmation) are expected under contention and are swallowed;
// the oracles decide whether state stayed consistent.
package actors

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"changas/contract"
	"changas/dispute"
	"changas/gateway"
	"changas/withdrawal"
)

func pause(min, jitter int) {
	time.Sleep(time.Duration(min+rand.Intn(jitter)) * time.Millisecond)
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

// Confirmer repeatedly confirms completion for one party. Replays are no-ops
// by contract; the single-release oracle catches any double credit.
func Confirmer(ctx context.Context, contracts *contract.Service, contractID, actorID string, role contract.ActorRole, stop <-chan struct{}) error {
	for {
		if stopped(ctx, stop) {
			return nil
		}
		_, _ = contracts.ConfirmCompletion(ctx, contractID, role, actorID)
		pause(10, 30)
	}
}

// EscrowFunder replays the same capture webhook over and over, mixed with
// fresh event ids, to hammer the idempotency reservation.
func EscrowFunder(ctx context.Context, payments *gateway.Service, contractID string, stop <-chan struct{}) error {
	fixed := "evt-capture-" + contractID
	for {
		if stopped(ctx, stop) {
			return nil
		}
		eventID := fixed
		if rand.Intn(4) == 0 {
			eventID = fmt.Sprintf("evt-%s-%d", contractID, rand.Int63())
		}
		_ = payments.HandlePaymentCaptured(ctx, gateway.CapturedEvent{
			ExternalPaymentID: eventID,
			ContractID:        contractID,
			Purpose:           gateway.PurposeEscrow,
		})
		pause(15, 35)
	}
}

// PriceChanger proposes decreases on the contract while confirmations and
// disputes race it.
func PriceChanger(ctx context.Context, contracts *contract.Service, contractID, clientID string, basePrice float64, stop <-chan struct{}) error {
	for {
		if stopped(ctx, stop) {
			return nil
		}
		newPrice := basePrice * (0.5 + rand.Float64()*0.4)
		_, _ = contracts.ProposePriceChange(ctx, contractID, clientID, newPrice)
		pause(50, 100)
	}
}

// Voter votes on whatever decrease is pending, accepting most of the time.
func Voter(ctx context.Context, contracts *contract.Service, contractID, workerID string, stop <-chan struct{}) error {
	for {
		if stopped(ctx, stop) {
			return nil
		}
		_, _, _ = contracts.VotePriceDecrease(ctx, contractID, workerID, rand.Intn(5) != 0)
		pause(30, 60)
	}
}

// Withdrawer files small withdrawals against whatever balance the worker has
// accumulated and drives them through the staff pipeline to completion. The
// live-balance recheck at completion competes with concurrent payouts.
func Withdrawer(ctx context.Context, withdrawals *withdrawal.Service, userID, staffID string, stop <-chan struct{}) error {
	const cbu = "2850590940090418135201"
	for {
		if stopped(ctx, stop) {
			return nil
		}
		rec, err := withdrawals.Request(ctx, withdrawal.RequestParams{
			UserID:        userID,
			Amount:        1000 + float64(rand.Intn(3))*500,
			CBU:           cbu,
			BankName:      "Banco Stress",
			AccountHolder: "Stress Worker",
		})
		if err == nil {
			if _, err = withdrawals.Approve(ctx, rec.ID, staffID); err == nil {
				if _, err = withdrawals.StartProcessing(ctx, rec.ID, staffID); err == nil {
					_, _ = withdrawals.Complete(ctx, rec.ID, staffID, "transfer-"+rec.ID)
				}
			}
		}
		pause(80, 120)
	}
}

// Disputer opens disputes against the contract and resolves them, freezing
// and unfreezing it under the other actors' feet.
func Disputer(ctx context.Context, disputes *dispute.Service, contractID, openerID, staffID string, stop <-chan struct{}) error {
	resolutions := []dispute.ResolutionType{
		dispute.ResolveFullRelease,
		dispute.ResolveFullRefund,
	}
	for {
		if stopped(ctx, stop) {
			return nil
		}
		rec, err := disputes.Open(ctx, dispute.OpenParams{
			ContractID: contractID,
			OpenedBy:   openerID,
			Reason:     "stress: disputing the delivered work quality",
		})
		if err == nil {
			if _, err = disputes.Assign(ctx, rec.ID, staffID); err == nil {
				_, _ = disputes.Resolve(ctx, dispute.ResolveParams{
					DisputeID:  rec.ID,
					StaffID:    staffID,
					Resolution: resolutions[rand.Intn(len(resolutions))],
					Note:       "stress: automated resolution",
				})
			}
		}
		pause(200, 200)
	}
}

// OutboxWorker consumes pending outbox messages with SKIP LOCKED and marks
// them processed, or bumps attempts on simulated failures.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		if stopped(ctx, stop) {
			return nil
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			pause(50, 50)
			continue
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			pause(50, 50)
			continue
		}
		ids := make([]int64, 0, 10)
		for rows.Next() {
			var id int64
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1, last_attempt=NOW() WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed', last_attempt=NOW() WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		pause(100, 50)
	}
}
