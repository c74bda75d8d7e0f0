package commission

import (
	"context"
	"time"
)

// Service resolves commissions for live users, consulting the volume
// aggregate only when the decision order reaches the volume-tiered branch.
type Service struct {
	users  UserReader
	volume VolumeRepository
	now    func() time.Time
}

func NewService(users UserReader, volume VolumeRepository) *Service {
	return &Service{users: users, volume: volume, now: time.Now}
}

// WithClock overrides the time source. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CalculateForUser loads the user's snapshot and computes the commission for
// the given price. Unknown users fall through to the 6% tier with the floor.
func (s *Service) CalculateForUser(ctx context.Context, userID string, price float64, opts Options) (Result, error) {
	snap, err := s.users.Snapshot(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	if opts.CurrentVolume == nil && needsVolume(snap, opts) {
		volume, err := s.volume.MonthlyVolume(ctx, userID, s.now())
		if err != nil {
			return Result{}, err
		}
		opts.CurrentVolume = &volume
	}

	return Calculate(snap, price, opts)
}

// DeltaForUser prices the surcharge on a price increase: only the delta is
// charged, under the same branch rules as a full calculation.
func (s *Service) DeltaForUser(ctx context.Context, userID string, delta float64) (Result, error) {
	snap, err := s.users.Snapshot(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	volume := 0.0
	if needsVolume(snap, Options{}) {
		if volume, err = s.volume.MonthlyVolume(ctx, userID, s.now()); err != nil {
			return Result{}, err
		}
	}
	return DeltaCommission(snap, delta, volume)
}

// needsVolume reports whether the decision order will reach the volume
// branch, mirroring the branch guards in Calculate.
func needsVolume(snap Snapshot, opts Options) bool {
	if opts.IsFreeContract {
		return false
	}
	if !snap.Known {
		return true
	}
	if snap.HasFamilyPlan {
		return false
	}
	switch snap.Tier {
	case TierPro, TierSuperPro:
		return false
	case TierFree:
		return snap.FreeContractsRemaining <= 0
	default:
		return true
	}
}
