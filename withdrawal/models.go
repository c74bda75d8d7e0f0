package withdrawal

import (
	"errors"
	"time"
)

// MinimumAmount is the smallest cash-out the platform processes, in ARS.
const MinimumAmount = 1000.0

// OverdueAfter is how long a request may sit unprocessed before staff
// escalation flags it.
const OverdueAfter = 24 * time.Hour

// Status is the withdrawal request lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusRejected   Status = "rejected"
	StatusCancelled  Status = "cancelled"
)

var (
	ErrNotFound      = errors.New("withdrawal: not found")
	ErrInvalidState  = errors.New("withdrawal: invalid state for operation")
	ErrForbidden     = errors.New("withdrawal: actor not allowed")
	ErrBelowMinimum  = errors.New("withdrawal: amount below 1000 ARS minimum")
	ErrCBUFormat     = errors.New("withdrawal: CBU debe tener exactamente 22 dígitos")
	ErrProofRequired = errors.New("withdrawal: proof of transfer required")
)

// canTransition encodes the request state machine: pending → approved →
// processing → completed, with rejection from pending/approved and
// cancellation from anything not yet completed.
func canTransition(from, to Status) bool {
	switch to {
	case StatusApproved:
		return from == StatusPending
	case StatusProcessing:
		return from == StatusApproved
	case StatusCompleted:
		return from == StatusProcessing
	case StatusRejected:
		return from == StatusPending || from == StatusApproved
	case StatusCancelled:
		return from == StatusPending || from == StatusApproved || from == StatusProcessing
	default:
		return false
	}
}

// Record mirrors the withdrawal_requests table. The CBU is stored encrypted;
// only the last four digits are kept in clear for masked display.
type Record struct {
	ID            string
	UserID        string
	Amount        float64
	EncryptedCBU  string
	CBULast4      string
	BankName      string
	AccountHolder string
	Status        Status

	// BalanceBefore/After snapshot the ledger fold around the debit. Before
	// completion, BalanceBefore holds the balance at request time and After
	// is unset; Complete rewrites both from the live fold.
	BalanceBefore float64
	BalanceAfter  *float64

	ProofOfTransfer *string
	RejectionReason *string

	RequestedAt time.Time
	ProcessedAt *time.Time
	UpdatedAt   time.Time
}

// MaskedCBU surfaces the account in the only form non-admin callers see.
func (r Record) MaskedCBU() string {
	return "****" + r.CBULast4
}

// Overdue reports whether the request has sat unprocessed past the
// escalation window. Derived at read time, never stored.
func (r Record) Overdue(now time.Time) bool {
	if r.Status != StatusPending && r.Status != StatusApproved {
		return false
	}
	return now.Sub(r.RequestedAt) > OverdueAfter
}

// RequestParams is the caller-supplied cash-out request.
type RequestParams struct {
	UserID        string  `validate:"required"`
	Amount        float64 `validate:"required,gte=1000"`
	CBU           string  `validate:"required,len=22,numeric"`
	BankName      string  `validate:"required"`
	AccountHolder string  `validate:"required"`
}
