// Package commission computes the platform's cut on a contract. Calculate is
// a pure function; Service wires it to the user store and the monthly volume
// aggregate.
package commission

import (
	"errors"
	"fmt"
)

// MinimumCommission is the ARS floor applied to every non-zero rate.
const MinimumCommission = 1000.0

// Tier is a user's membership level.
type Tier string

const (
	TierFree     Tier = "free"
	TierPro      Tier = "pro"
	TierSuperPro Tier = "super_pro"
)

// Volume-tier boundaries for free-tier clients, in ARS per calendar month.
const (
	volumeTier1 = 50_000.0
	volumeTier2 = 150_000.0
	volumeTier3 = 200_000.0
)

// Snapshot is the slice of user state the calculator needs. Known is false
// when the user record could not be found; the calculator then fails safe to
// the highest volume rate instead of giving the contract away at 0%.
type Snapshot struct {
	Known                  bool
	Tier                   Tier
	HasFamilyPlan          bool
	FreeContractsRemaining int
}

// Options carries per-call overrides.
type Options struct {
	// IsFreeContract forces the 0% free-contract branch regardless of tier.
	IsFreeContract bool
	// CurrentVolume, when set, is used instead of querying the volume
	// aggregate. ARS volume of the client's current calendar month.
	CurrentVolume *float64
}

// Result is the outcome of a commission calculation.
type Result struct {
	Rate            float64
	Commission      float64
	TierDescription string
	IsFamilyPlan    bool
	IsFreeContract  bool
	// ConsumesFreeSlot tells the caller to decrement the membership's
	// free-contract counter. Decrementing happens at contract creation,
	// never inside this pure function.
	ConsumesFreeSlot bool
	// MinimumApplied is true iff the floor changed the result.
	MinimumApplied bool
}

var ErrInvalidPrice = errors.New("commission: price must be positive")

// Calculate resolves the commission rate and amount for one contract.
//
// The decision order is significant and must not be reordered: family plan,
// explicit free contract, pro, super_pro, free tier with remaining slots,
// then volume-tiered pricing. The ARS floor applies post-multiplication on
// every non-zero branch and never pre-empts a 0% branch.
func Calculate(user Snapshot, price float64, opts Options) (Result, error) {
	if price <= 0 {
		return Result{}, ErrInvalidPrice
	}

	volume := 0.0
	if opts.CurrentVolume != nil {
		volume = *opts.CurrentVolume
	}

	switch {
	case user.Known && user.HasFamilyPlan:
		return Result{
			Rate:            0,
			Commission:      0,
			TierDescription: "family plan",
			IsFamilyPlan:    true,
		}, nil

	case opts.IsFreeContract:
		return Result{
			Rate:            0,
			Commission:      0,
			TierDescription: "free contract",
			IsFreeContract:  true,
		}, nil

	case user.Known && user.Tier == TierPro:
		return floored(3, price, "pro membership"), nil

	case user.Known && user.Tier == TierSuperPro:
		return floored(2, price, "super pro membership"), nil

	case user.Known && user.Tier == TierFree && user.FreeContractsRemaining > 0:
		return Result{
			Rate:             0,
			Commission:       0,
			TierDescription:  "monthly free contract",
			IsFreeContract:   true,
			ConsumesFreeSlot: true,
		}, nil

	default:
		rate, desc := VolumeRate(volume)
		return floored(rate, price, desc), nil
	}
}

// VolumeRate maps a client's monthly completed-contract ARS volume to the
// standard commission rate.
func VolumeRate(volume float64) (rate float64, description string) {
	switch {
	case volume < volumeTier1:
		return 6, "standard rate (volume < 50k)"
	case volume < volumeTier2:
		return 4, "volume rate (50k-150k)"
	case volume < volumeTier3:
		return 3, "volume rate (150k-200k)"
	default:
		return 2, "volume rate (200k+)"
	}
}

func floored(rate, price float64, desc string) Result {
	calculated := price * rate / 100
	res := Result{
		Rate:            rate,
		Commission:      calculated,
		TierDescription: desc,
	}
	// Compare against the floor directly instead of testing equality on the
	// final amount: a commission that lands on the floor by arithmetic
	// coincidence is not "minimum applied".
	if calculated < MinimumCommission {
		res.Commission = MinimumCommission
		res.MinimumApplied = true
	}
	return res
}

// DeltaCommission prices the commission charged on a price increase. Only
// the delta is charged; the commission recorded at contract creation stays
// immutable.
func DeltaCommission(user Snapshot, delta float64, volume float64) (Result, error) {
	if delta <= 0 {
		return Result{}, fmt.Errorf("commission: delta must be positive")
	}
	return Calculate(user, delta, Options{CurrentVolume: &volume})
}
