package gateway

import "errors"

// Purpose says what a captured payment funds.
type Purpose string

const (
	// PurposeEscrow is the initial full payment: price plus commission into
	// escrow.
	PurposeEscrow Purpose = "escrow"
	// PurposePriceIncrease is the additional charge confirming a pending
	// price increase.
	PurposePriceIncrease Purpose = "price_increase"
)

var (
	ErrMissingEventID    = errors.New("gateway: missing external payment id")
	ErrMissingContractID = errors.New("gateway: missing contract id")
	ErrUnknownPurpose    = errors.New("gateway: unknown payment purpose")
	// ErrDuplicateEvent signals the idempotency reservation hit an existing
	// key. Callers treat the event as already processed.
	ErrDuplicateEvent = errors.New("gateway: duplicate payment event")
)

// CapturedEvent is a normalized payment-captured webhook.
type CapturedEvent struct {
	ExternalPaymentID string
	ContractID        string
	Purpose           Purpose
}

// RefundEvent is a normalized refund-confirmed webhook.
type RefundEvent struct {
	ExternalPaymentID string
	ContractID        string
}
