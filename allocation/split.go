// Package allocation divides a contract's budget across its assigned
// workers and runs the unanimous-approval vote machine used by price
// decreases.
package allocation

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrBudgetExceeded   = errors.New("allocation: allocated amounts exceed contract price")
	ErrDuplicateWorker  = errors.New("allocation: duplicate worker in allocation set")
	ErrUnknownWorker    = errors.New("allocation: worker not among selected workers")
	ErrNoWorkers        = errors.New("allocation: at least one worker required")
	ErrInvalidAmount    = errors.New("allocation: allocated amount must be positive")
	ErrMissingAmounts   = errors.New("allocation: multi-worker contracts need explicit allocations")
	ErrDuplicateVote    = errors.New("allocation: worker already voted on this decrease")
	ErrVoterNotAssigned = errors.New("allocation: voter is not assigned to the contract")
)

// Input is a caller-supplied per-worker amount.
type Input struct {
	WorkerID string
	Amount   float64
}

// Allocation is a validated split entry. Percentage is derived from the
// contract price at validation time.
type Allocation struct {
	WorkerID   string
	Amount     float64
	Percentage float64
}

// Validate checks a split against the contract price and the selected
// worker set. Violating input is rejected, never clamped.
func Validate(price float64, selected []string, inputs []Input) ([]Allocation, error) {
	if len(inputs) == 0 {
		return nil, ErrNoWorkers
	}

	assigned := make(map[string]bool, len(selected))
	for _, id := range selected {
		assigned[id] = true
	}

	seen := make(map[string]bool, len(inputs))
	total := 0.0
	out := make([]Allocation, 0, len(inputs))
	for _, in := range inputs {
		if in.Amount <= 0 {
			return nil, fmt.Errorf("%w: worker %s", ErrInvalidAmount, in.WorkerID)
		}
		if seen[in.WorkerID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateWorker, in.WorkerID)
		}
		if !assigned[in.WorkerID] {
			return nil, fmt.Errorf("%w: %s", ErrUnknownWorker, in.WorkerID)
		}
		seen[in.WorkerID] = true
		total += in.Amount
		out = append(out, Allocation{
			WorkerID:   in.WorkerID,
			Amount:     in.Amount,
			Percentage: in.Amount / price * 100,
		})
	}

	if total > price {
		return nil, fmt.Errorf("%w: %.2f > %.2f", ErrBudgetExceeded, total, price)
	}
	return out, nil
}

// DefaultSingle is the implicit allocation for a single-worker contract:
// 100% of the price.
func DefaultSingle(workerID string, price float64) []Allocation {
	return []Allocation{{WorkerID: workerID, Amount: price, Percentage: 100}}
}

// PayoutAmount resolves what a worker is owed: an explicit allocation
// overrides the full contract price when present.
func PayoutAmount(allocated *float64, price float64) float64 {
	if allocated != nil {
		return *allocated
	}
	return price
}

// Vote is one worker's recorded position on a pending price decrease.
type Vote struct {
	WorkerID  string
	Accepted  bool
	CreatedAt time.Time
}

// Outcome is the vote machine's verdict after a ballot.
type Outcome int

const (
	// OutcomePending means more votes are needed.
	OutcomePending Outcome = iota
	// OutcomeCommit means every open proposal accepted; the decrease applies.
	OutcomeCommit
	// OutcomeDiscard means at least one rejection arrived; the pending
	// decrease is dropped and all recorded votes are cleared.
	OutcomeDiscard
)

// Tally decides the outcome of a price-decrease ballot. A single rejection
// discards immediately; a commit needs acceptances from every open proposal
// with zero rejections.
func Tally(votes []Vote, openProposals int) Outcome {
	accepts := 0
	for _, v := range votes {
		if !v.Accepted {
			return OutcomeDiscard
		}
		accepts++
	}
	if openProposals > 0 && accepts >= openProposals {
		return OutcomeCommit
	}
	return OutcomePending
}
