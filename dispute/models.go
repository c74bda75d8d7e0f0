package dispute

import (
	"errors"
	"time"
)

// Status is the dispute lifecycle state.
type Status string

const (
	StatusOpen             Status = "open"
	StatusInReview         Status = "in_review"
	StatusResolvedReleased Status = "resolved_released"
	StatusResolvedRefunded Status = "resolved_refunded"
	StatusResolvedPartial  Status = "resolved_partial"
)

// Terminal reports whether the dispute has been resolved.
func (s Status) Terminal() bool {
	return s == StatusResolvedReleased || s == StatusResolvedRefunded || s == StatusResolvedPartial
}

// Priority orders the staff queue.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ResolutionType selects how escrow is settled when staff close a dispute.
type ResolutionType string

const (
	ResolveFullRelease   ResolutionType = "full_release"
	ResolveFullRefund    ResolutionType = "full_refund"
	ResolvePartialRefund ResolutionType = "partial_refund"
)

var (
	ErrNotFound          = errors.New("dispute: not found")
	ErrForbidden         = errors.New("dispute: actor not allowed")
	ErrInvalidState      = errors.New("dispute: invalid state for operation")
	ErrOpenDisputeExists = errors.New("dispute: contract already has an open dispute")
	ErrNotInReview       = errors.New("dispute: must be in review before resolution")
	ErrBadResolution     = errors.New("dispute: invalid resolution")
)

// Record mirrors the disputes table.
type Record struct {
	ID         string
	ContractID string
	OpenedBy   string
	Reason     string
	Status     Status
	Priority   Priority
	AssignedTo *string

	Resolution   *ResolutionType
	RefundAmount *float64
	ResolvedBy   *string
	ResolvedAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LogEntry is one append-only line in a dispute's audit trail.
type LogEntry struct {
	ID        string
	DisputeID string
	ActorID   string
	Action    string
	Note      *string
	CreatedAt time.Time
}

// OpenParams opens a dispute against a contract.
type OpenParams struct {
	ContractID string `validate:"required"`
	OpenedBy   string `validate:"required"`
	Reason     string `validate:"required,min=10"`
}

// ResolveParams is the staff resolution decision. RefundAmount is required
// for partial refunds and must be inside (0, price); the price bound is
// checked against the contract at resolution time.
type ResolveParams struct {
	DisputeID    string         `validate:"required"`
	StaffID      string         `validate:"required"`
	Resolution   ResolutionType `validate:"required,oneof=full_release full_refund partial_refund"`
	RefundAmount *float64       `validate:"omitempty,gt=0"`
	Note         string         `validate:"required,min=5"`
}
