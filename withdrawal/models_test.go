package withdrawal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusApproved},
		{StatusApproved, StatusProcessing},
		{StatusProcessing, StatusCompleted},
		{StatusPending, StatusRejected},
		{StatusApproved, StatusRejected},
		{StatusPending, StatusCancelled},
		{StatusApproved, StatusCancelled},
		{StatusProcessing, StatusCancelled},
	}
	for _, tt := range allowed {
		assert.Truef(t, canTransition(tt.from, tt.to), "%s -> %s should be allowed", tt.from, tt.to)
	}

	denied := []struct{ from, to Status }{
		{StatusPending, StatusProcessing},
		{StatusPending, StatusCompleted},
		{StatusApproved, StatusCompleted},
		{StatusCompleted, StatusCancelled},
		{StatusCompleted, StatusRejected},
		{StatusRejected, StatusApproved},
		{StatusCancelled, StatusPending},
		{StatusProcessing, StatusRejected},
	}
	for _, tt := range denied {
		assert.Falsef(t, canTransition(tt.from, tt.to), "%s -> %s must be rejected", tt.from, tt.to)
	}
}

func TestRecord_MaskedCBU(t *testing.T) {
	rec := Record{CBULast4: "5201"}
	assert.Equal(t, "****5201", rec.MaskedCBU())
}

func TestRecord_Overdue(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	fresh := Record{Status: StatusPending, RequestedAt: now.Add(-2 * time.Hour)}
	assert.False(t, fresh.Overdue(now))

	stale := Record{Status: StatusPending, RequestedAt: now.Add(-25 * time.Hour)}
	assert.True(t, stale.Overdue(now))

	staleApproved := Record{Status: StatusApproved, RequestedAt: now.Add(-48 * time.Hour)}
	assert.True(t, staleApproved.Overdue(now))

	// Requests already in flight or closed never flag.
	for _, st := range []Status{StatusProcessing, StatusCompleted, StatusRejected, StatusCancelled} {
		rec := Record{Status: st, RequestedAt: now.Add(-72 * time.Hour)}
		assert.Falsef(t, rec.Overdue(now), "status %s", st)
	}
}
