// Package model defines the core domain types shared across the engine.
// All monetary and asset quantities use shopspring/decimal — never float64
// for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DecimalScale is the fixed fractional precision every monetary and asset
// quantity is rounded to immediately after each arithmetic step.
const DecimalScale = 3

// Order sides and trade directions share the same vocabulary.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Order lifecycle. An order is terminal once done or cancelled.
const (
	OrderPending = "pending"
	OrderDone    = "done"
	OrderCancel  = "cancel"
)

// Asset is an immutable tradable instrument. Created once at bootstrap.
type Asset struct {
	ID     int64  `json:"id" db:"id"`
	Symbol string `json:"symbol" db:"symbol"`
	Name   string `json:"name" db:"name"`
}

// User carries the cash balance the settlement engine debits and credits.
// Identity fields (email, password hash, ...) live outside the core.
type User struct {
	ID      int64           `json:"id" db:"id"`
	Balance decimal.Decimal `json:"balance" db:"balance"`
}

// Holding is a user's quantity of one asset, unique per (user, asset).
// Created lazily on first acquisition. Amount never goes negative.
type Holding struct {
	ID      int64           `json:"id" db:"id"`
	UserID  int64           `json:"user_id" db:"user_id"`
	AssetID int64           `json:"asset_id" db:"asset_id"`
	Amount  decimal.Decimal `json:"amount" db:"amount"`
}

// Order is a resting limit order. Funds (buy) or holdings (sell) are
// reserved at creation and either consumed by a fill or returned by a
// cancellation — never both.
type Order struct {
	ID        string          `json:"id" db:"id"`
	UserID    int64           `json:"user_id" db:"user_id"`
	AssetID   int64           `json:"asset_id" db:"asset_id"`
	Type      string          `json:"order_type" db:"order_type"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Status    string          `json:"status" db:"status"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Trade is an immutable ledger entry. One row is written per counter-party
// per settlement event; a filled order produces two rows, one per side.
type Trade struct {
	ID        string          `json:"id" db:"id"`
	UserID    int64           `json:"user_id" db:"user_id"`
	AssetID   int64           `json:"asset_id" db:"asset_id"`
	Type      string          `json:"trade_type" db:"trade_type"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// PriceSnapshot is a durable, append-only copy of a cache price. The newest
// row per asset seeds the synthesis engine when the cache is cold.
type PriceSnapshot struct {
	ID        int64           `json:"id" db:"id"`
	AssetID   int64           `json:"asset_id" db:"asset_id"`
	Price     decimal.Decimal `json:"price" db:"price"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
