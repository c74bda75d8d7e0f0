package contract

import (
	"errors"
	"time"
)

// Status is the contract lifecycle state.
type Status string

const (
	StatusPending             Status = "pending"
	StatusReady               Status = "ready"
	StatusAccepted            Status = "accepted"
	StatusInProgress          Status = "in_progress"
	StatusPendingConfirmation Status = "pending_confirmation"
	StatusCompleted           Status = "completed"
	StatusCancelled           Status = "cancelled"
	StatusDisputed            Status = "disputed"
)

// PaymentStatus tracks where the escrowed money sits.
type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "pending"
	PaymentHeldEscrow    PaymentStatus = "held_escrow"
	PaymentReleased      PaymentStatus = "released"
	PaymentRefunded      PaymentStatus = "refunded"
	PaymentPartialRefund PaymentStatus = "partial_refund"
)

// ActorRole identifies which side of the contract acts.
type ActorRole string

const (
	RoleClient ActorRole = "client"
	RoleDoer   ActorRole = "doer"
	RoleStaff  ActorRole = "staff"
)

var (
	ErrNotFound               = errors.New("contract: not found")
	ErrInvalidState           = errors.New("contract: invalid state for operation")
	ErrDisputed               = errors.New("contract: frozen while dispute is open")
	ErrReasonRequired         = errors.New("contract: cancellation reason required")
	ErrForbidden              = errors.New("contract: actor not allowed")
	ErrAlreadyExtended        = errors.New("contract: already extended once")
	ErrExtensionWindowClosed  = errors.New("contract: extensions close 24 hours before start")
	ErrNoPendingDecrease      = errors.New("contract: no pending price decrease")
	ErrNoPendingIncrease      = errors.New("contract: no pending price increase")
	ErrPriceUnchanged         = errors.New("contract: proposed price equals current price")
	ErrInvalidPrice           = errors.New("contract: price must be positive")
	ErrEscrowNotHeld          = errors.New("contract: escrow not held")
	ErrAllocationsRequired    = errors.New("contract: multi-worker contracts need explicit allocations")
	ErrWorkersRequired        = errors.New("contract: at least one worker required")
	ErrPendingChangeUnderVote = errors.New("contract: a price change is already pending")
)

// Record mirrors the contracts table.
type Record struct {
	ID       string
	JobID    string
	ClientID string

	// Money. CommissionRate and CommissionAmount are fixed at creation and
	// never recomputed; price changes charge commission on the delta only.
	Price            float64
	CommissionRate   float64
	CommissionAmount float64
	TotalPrice       float64

	Status        Status
	PaymentStatus PaymentStatus

	ClientConfirmed   bool
	ClientConfirmedAt *time.Time
	DoerConfirmed     bool
	DoerConfirmedAt   *time.Time

	StartDate       time.Time
	HasBeenExtended bool
	CancelReason    *string

	// Pending price change, if any. PendingCharge is set for increases and
	// holds delta + commission(delta), the amount the client still owes.
	PendingPrice  *float64
	PendingCharge *float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether the contract reached a final state.
func (r Record) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusCancelled
}

// Disputed reports whether the contract is frozen by an open dispute.
func (r Record) Disputed() bool {
	return r.Status == StatusDisputed
}

// confirmationState applies one party's confirmation to an in-memory record.
// It returns whether the release fires (both flags now set) and whether the
// call was a no-op because this party had already confirmed. Pure; the
// service persists the outcome inside its transaction.
func confirmationState(rec *Record, role ActorRole, at time.Time) (release, already bool) {
	switch role {
	case RoleClient:
		if rec.ClientConfirmed {
			return false, true
		}
		rec.ClientConfirmed = true
		rec.ClientConfirmedAt = &at
	case RoleDoer:
		if rec.DoerConfirmed {
			return false, true
		}
		rec.DoerConfirmed = true
		rec.DoerConfirmedAt = &at
	}
	return rec.ClientConfirmed && rec.DoerConfirmed, false
}
