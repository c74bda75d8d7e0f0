package dispute

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

// The services below have no database behind them: any test reaching the
// transaction would panic, which is exactly the point. Parameter problems
// must surface before any state is touched.

func newValidationService() *Service {
	return NewService(nil, nil, nil, zerolog.Nop())
}

func TestOpen_ValidatesBeforeTransaction(t *testing.T) {
	svc := newValidationService()
	ctx := context.Background()

	_, err := svc.Open(ctx, OpenParams{OpenedBy: "u1", Reason: "work was never finished"})
	assert.Error(t, err, "missing contract id")

	_, err = svc.Open(ctx, OpenParams{ContractID: "c1", Reason: "work was never finished"})
	assert.Error(t, err, "missing opener")

	_, err = svc.Open(ctx, OpenParams{ContractID: "c1", OpenedBy: "u1", Reason: "too short"})
	assert.Error(t, err, "reason under minimum length")
}

func TestResolve_ValidatesBeforeTransaction(t *testing.T) {
	svc := newValidationService()
	ctx := context.Background()
	refund := 2000.0

	base := ResolveParams{
		DisputeID:  "d1",
		StaffID:    "staff-1",
		Resolution: ResolveFullRelease,
		Note:       "work verified complete",
	}

	t.Run("missing fields", func(t *testing.T) {
		p := base
		p.DisputeID = ""
		_, err := svc.Resolve(ctx, p)
		assert.Error(t, err)

		p = base
		p.Note = "no"
		_, err = svc.Resolve(ctx, p)
		assert.Error(t, err)
	})

	t.Run("unknown resolution", func(t *testing.T) {
		p := base
		p.Resolution = "split_the_difference"
		_, err := svc.Resolve(ctx, p)
		assert.Error(t, err)
	})

	t.Run("partial refund requires amount", func(t *testing.T) {
		p := base
		p.Resolution = ResolvePartialRefund
		_, err := svc.Resolve(ctx, p)
		assert.ErrorIs(t, err, ErrBadResolution)
	})

	t.Run("amount only valid on partial refund", func(t *testing.T) {
		p := base
		p.RefundAmount = &refund
		_, err := svc.Resolve(ctx, p)
		assert.ErrorIs(t, err, ErrBadResolution)

		p.Resolution = ResolveFullRefund
		_, err = svc.Resolve(ctx, p)
		assert.ErrorIs(t, err, ErrBadResolution)
	})
}

func TestStatus_Terminal(t *testing.T) {
	for _, st := range []Status{StatusResolvedReleased, StatusResolvedRefunded, StatusResolvedPartial} {
		assert.Truef(t, st.Terminal(), "status %s", st)
	}
	for _, st := range []Status{StatusOpen, StatusInReview} {
		assert.Falsef(t, st.Terminal(), "status %s", st)
	}
}
