package withdrawal

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func newValidationService(t *testing.T) *Service {
	t.Helper()
	return NewService(nil, nil, nil, nil, zerolog.Nop())
}

func TestValidateParams(t *testing.T) {
	svc := newValidationService(t)

	valid := RequestParams{
		UserID:        "u1",
		Amount:        5000,
		CBU:           "2850590940090418135201",
		BankName:      "Banco Nación",
		AccountHolder: "Pedro Changarin",
	}
	assert.NoError(t, svc.ValidateParams(valid))

	t.Run("amount below minimum", func(t *testing.T) {
		p := valid
		p.Amount = 999.99
		assert.ErrorIs(t, svc.ValidateParams(p), ErrBelowMinimum)
	})

	t.Run("amount exactly at minimum", func(t *testing.T) {
		p := valid
		p.Amount = MinimumAmount
		assert.NoError(t, svc.ValidateParams(p))
	})

	t.Run("CBU too short", func(t *testing.T) {
		p := valid
		p.CBU = "285059094009041813520"
		assert.ErrorIs(t, svc.ValidateParams(p), ErrCBUFormat)
	})

	t.Run("CBU too long", func(t *testing.T) {
		p := valid
		p.CBU = "28505909400904181352011"
		assert.ErrorIs(t, svc.ValidateParams(p), ErrCBUFormat)
	})

	t.Run("CBU with letters", func(t *testing.T) {
		p := valid
		p.CBU = "28505909400904181352AB"
		assert.ErrorIs(t, svc.ValidateParams(p), ErrCBUFormat)
	})

	t.Run("CBU error message is customer facing", func(t *testing.T) {
		p := valid
		p.CBU = "123"
		err := svc.ValidateParams(p)
		assert.EqualError(t, err, "withdrawal: CBU debe tener exactamente 22 dígitos")
	})

	t.Run("missing bank details", func(t *testing.T) {
		p := valid
		p.BankName = ""
		assert.Error(t, svc.ValidateParams(p))

		p = valid
		p.AccountHolder = ""
		assert.Error(t, svc.ValidateParams(p))
	})
}
