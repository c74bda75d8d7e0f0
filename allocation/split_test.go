package allocation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	selected := []string{"w1", "w2"}

	t.Run("valid split", func(t *testing.T) {
		out, err := Validate(10_000, selected, []Input{
			{WorkerID: "w1", Amount: 6000},
			{WorkerID: "w2", Amount: 4000},
		})
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, 60.0, out[0].Percentage)
		assert.Equal(t, 40.0, out[1].Percentage)
	})

	t.Run("partial split leaves budget unassigned", func(t *testing.T) {
		out, err := Validate(10_000, selected, []Input{{WorkerID: "w1", Amount: 3000}})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, 30.0, out[0].Percentage)
	})

	t.Run("sum over price rejected not clamped", func(t *testing.T) {
		_, err := Validate(10_000, selected, []Input{
			{WorkerID: "w1", Amount: 7000},
			{WorkerID: "w2", Amount: 4000},
		})
		assert.ErrorIs(t, err, ErrBudgetExceeded)
	})

	t.Run("duplicate worker", func(t *testing.T) {
		_, err := Validate(10_000, selected, []Input{
			{WorkerID: "w1", Amount: 3000},
			{WorkerID: "w1", Amount: 3000},
		})
		assert.ErrorIs(t, err, ErrDuplicateWorker)
	})

	t.Run("worker outside selected set", func(t *testing.T) {
		_, err := Validate(10_000, selected, []Input{{WorkerID: "w9", Amount: 3000}})
		assert.ErrorIs(t, err, ErrUnknownWorker)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		_, err := Validate(10_000, selected, []Input{{WorkerID: "w1", Amount: 0}})
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := Validate(10_000, selected, nil)
		assert.ErrorIs(t, err, ErrNoWorkers)
	})
}

func TestDefaultSingle(t *testing.T) {
	out := DefaultSingle("w1", 5000)
	require.Len(t, out, 1)
	assert.Equal(t, "w1", out[0].WorkerID)
	assert.Equal(t, 5000.0, out[0].Amount)
	assert.Equal(t, 100.0, out[0].Percentage)
}

func TestPayoutAmount(t *testing.T) {
	allocated := 3000.0
	assert.Equal(t, 3000.0, PayoutAmount(&allocated, 10_000))
	assert.Equal(t, 10_000.0, PayoutAmount(nil, 10_000))
}

func TestTally(t *testing.T) {
	accept := func(w string) Vote { return Vote{WorkerID: w, Accepted: true} }
	reject := func(w string) Vote { return Vote{WorkerID: w, Accepted: false} }

	t.Run("single rejection discards regardless of acceptances", func(t *testing.T) {
		got := Tally([]Vote{accept("w1"), reject("w2")}, 2)
		assert.Equal(t, OutcomeDiscard, got)
	})

	t.Run("all open proposals accepted commits", func(t *testing.T) {
		got := Tally([]Vote{accept("w1"), accept("w2")}, 2)
		assert.Equal(t, OutcomeCommit, got)
	})

	t.Run("partial acceptance stays pending", func(t *testing.T) {
		got := Tally([]Vote{accept("w1")}, 2)
		assert.Equal(t, OutcomePending, got)
	})

	t.Run("no open proposals never commits via ballot", func(t *testing.T) {
		got := Tally([]Vote{accept("w1")}, 0)
		assert.Equal(t, OutcomePending, got)
	})

	t.Run("empty ballot pending", func(t *testing.T) {
		got := Tally(nil, 2)
		assert.Equal(t, OutcomePending, got)
	})
}
