package settle

import (
	"github.com/shopspring/decimal"

	"github.com/tradesim/exchange-engine/internal/model"
)

// CommissionResult is the outcome of applying a commission rate to a gross
// amount. The payee receives Net; Commission is withheld and not credited
// to any party.
type CommissionResult struct {
	Net        decimal.Decimal `json:"net"`
	Commission decimal.Decimal `json:"commission"`
}

// TakeCommission splits a gross amount into a commission and a net payout.
// Both legs are rounded to the fixed decimal scale independently, so at
// extreme magnitudes the commission rounds up out of the gross (e.g. gross
// 0.001 at rate 0.5 yields commission 0.001 and net 0.000).
func TakeCommission(amount, rate decimal.Decimal) CommissionResult {
	commission := amount.Mul(rate).Round(model.DecimalScale)
	return CommissionResult{
		Net:        amount.Sub(commission).Round(model.DecimalScale),
		Commission: commission,
	}
}

// Rates holds the per-operation commission rates, each in [0, 1).
type Rates struct {
	MarketBuy  decimal.Decimal
	MarketSell decimal.Decimal
	OrderBuy   decimal.Decimal
	OrderSell  decimal.Decimal
}

// DefaultRates mirrors the long-standing 10% flat commission.
func DefaultRates() Rates {
	rate := decimal.NewFromFloat(0.1)
	return Rates{MarketBuy: rate, MarketSell: rate, OrderBuy: rate, OrderSell: rate}
}
