package settle_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/tradesim/exchange-engine/internal/settle"
)

func TestTakeCommission(t *testing.T) {
	tests := []struct {
		name       string
		amount     string
		rate       string
		commission string
		net        string
	}{
		{"standard rate", "100.000", "0.1", "10.000", "90.000"},
		{"small amount", "1.000", "0.1", "0.100", "0.900"},
		{"sub-scale commission rounds up", "0.001", "0.5", "0.001", "0.000"},
		{"zero rate", "50.000", "0", "0.000", "50.000"},
		{"rounding at the third place", "0.333", "0.1", "0.033", "0.300"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, _ := decimal.NewFromString(tt.amount)
			rate, _ := decimal.NewFromString(tt.rate)

			res := settle.TakeCommission(amount, rate)

			assert.True(t, res.Commission.Equal(decimal.RequireFromString(tt.commission)),
				"commission = %s, want %s", res.Commission, tt.commission)
			assert.True(t, res.Net.Equal(decimal.RequireFromString(tt.net)),
				"net = %s, want %s", res.Net, tt.net)
		})
	}
}

func TestTakeCommissionNeverNegative(t *testing.T) {
	amount := decimal.RequireFromString("0.001")
	rate := decimal.RequireFromString("0.9")

	res := settle.TakeCommission(amount, rate)

	assert.False(t, res.Net.IsNegative(), "net must not go negative, got %s", res.Net)
	assert.True(t, res.Commission.Add(res.Net).LessThanOrEqual(amount))
}
