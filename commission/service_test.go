package commission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUsers struct {
	snap Snapshot
	err  error
}

func (f *fakeUsers) Snapshot(ctx context.Context, userID string) (Snapshot, error) {
	return f.snap, f.err
}

type fakeVolume struct {
	volume float64
	err    error
	calls  int
}

func (f *fakeVolume) MonthlyVolume(ctx context.Context, clientID string, at time.Time) (float64, error) {
	f.calls++
	return f.volume, f.err
}

func TestCalculateForUser_QueriesVolumeOnlyWhenNeeded(t *testing.T) {
	tests := []struct {
		name      string
		snap      Snapshot
		opts      Options
		wantCalls int
	}{
		{
			name:      "family plan skips volume",
			snap:      Snapshot{Known: true, HasFamilyPlan: true},
			wantCalls: 0,
		},
		{
			name:      "pro skips volume",
			snap:      Snapshot{Known: true, Tier: TierPro},
			wantCalls: 0,
		},
		{
			name:      "free contract skips volume",
			snap:      Snapshot{Known: true, Tier: TierFree},
			opts:      Options{IsFreeContract: true},
			wantCalls: 0,
		},
		{
			name:      "free tier with slots skips volume",
			snap:      Snapshot{Known: true, Tier: TierFree, FreeContractsRemaining: 1},
			wantCalls: 0,
		},
		{
			name:      "free tier without slots queries volume",
			snap:      Snapshot{Known: true, Tier: TierFree},
			wantCalls: 1,
		},
		{
			name:      "unknown user queries volume",
			snap:      Snapshot{},
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			volume := &fakeVolume{volume: 80_000}
			svc := NewService(&fakeUsers{snap: tt.snap}, volume)

			_, err := svc.CalculateForUser(context.Background(), "u1", 100_000, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCalls, volume.calls)
		})
	}
}

func TestCalculateForUser_UsesLiveVolume(t *testing.T) {
	svc := NewService(&fakeUsers{snap: Snapshot{Known: true, Tier: TierFree}}, &fakeVolume{volume: 160_000})

	got, err := svc.CalculateForUser(context.Background(), "u1", 100_000, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3.0, got.Rate)
}

func TestCalculateForUser_ExplicitVolumeOverride(t *testing.T) {
	volume := &fakeVolume{volume: 10_000}
	svc := NewService(&fakeUsers{snap: Snapshot{Known: true, Tier: TierFree}}, volume)

	got, err := svc.CalculateForUser(context.Background(), "u1", 100_000, Options{CurrentVolume: vol(250_000)})
	require.NoError(t, err)
	assert.Equal(t, 2.0, got.Rate)
	assert.Zero(t, volume.calls)
}

func TestDeltaForUser(t *testing.T) {
	t.Run("charges the delta only at the volume rate", func(t *testing.T) {
		volume := &fakeVolume{volume: 160_000}
		svc := NewService(&fakeUsers{snap: Snapshot{Known: true, Tier: TierFree}}, volume)

		got, err := svc.DeltaForUser(context.Background(), "u1", 30_000)
		require.NoError(t, err)
		assert.Equal(t, 3.0, got.Rate)
		assert.Equal(t, 1000.0, got.Commission, "30k at 3% is 900, floored to the minimum")
		assert.True(t, got.MinimumApplied)
		assert.Equal(t, 1, volume.calls)
	})

	t.Run("pro member skips the volume aggregate", func(t *testing.T) {
		volume := &fakeVolume{volume: 500_000}
		svc := NewService(&fakeUsers{snap: Snapshot{Known: true, Tier: TierPro}}, volume)

		got, err := svc.DeltaForUser(context.Background(), "u1", 100_000)
		require.NoError(t, err)
		assert.Equal(t, 3.0, got.Rate)
		assert.Equal(t, 3000.0, got.Commission)
		assert.Zero(t, volume.calls)
	})

	t.Run("rejects non-positive deltas", func(t *testing.T) {
		svc := NewService(&fakeUsers{snap: Snapshot{Known: true}}, &fakeVolume{})
		_, err := svc.DeltaForUser(context.Background(), "u1", 0)
		assert.Error(t, err)
	})
}

func TestCalculateForUser_PropagatesErrors(t *testing.T) {
	userErr := errors.New("commission: load user snapshot: boom")
	_, err := NewService(&fakeUsers{err: userErr}, &fakeVolume{}).
		CalculateForUser(context.Background(), "u1", 100_000, Options{})
	assert.ErrorIs(t, err, userErr)

	volErr := errors.New("commission: monthly volume: boom")
	_, err = NewService(&fakeUsers{}, &fakeVolume{err: volErr}).
		CalculateForUser(context.Background(), "u1", 100_000, Options{})
	assert.ErrorIs(t, err, volErr)
}
