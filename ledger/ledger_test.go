package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSign(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		amount  float64
		wantErr error
	}{
		{"payment positive ok", TypePayment, 5000, nil},
		{"payment negative rejected", TypePayment, -5000, ErrSignMismatch},
		{"refund positive ok", TypeRefund, 1000, nil},
		{"refund negative rejected", TypeRefund, -1, ErrSignMismatch},
		{"bonus positive ok", TypeBonus, 200, nil},
		{"withdrawal negative ok", TypeWithdrawal, -3000, nil},
		{"withdrawal positive rejected", TypeWithdrawal, 3000, ErrSignMismatch},
		{"commission negative ok", TypeCommission, -1000, nil},
		{"commission positive rejected", TypeCommission, 1000, ErrSignMismatch},
		{"adjustment either way up", TypeAdjustment, 42, nil},
		{"adjustment either way down", TypeAdjustment, -42, nil},
		{"zero always rejected", TypePayment, 0, ErrSignMismatch},
		{"unknown type rejected", Type("loan"), 100, ErrUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSign(tt.typ, tt.amount)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
