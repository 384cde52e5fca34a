// Package store defines the relational persistence interface for the engine.
// Implementations include PostgreSQL (source of truth) and in-memory (for
// testing and DB-less development runs).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradesim/exchange-engine/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence interface used by the settlement engine, the
// price synthesis engine, and the snapshot writer.
type Store interface {
	// --- Assets ---

	// CreateAsset persists a new asset. Assets are seeded once at bootstrap.
	CreateAsset(ctx context.Context, asset *model.Asset) error

	// ListAssets returns all assets.
	ListAssets(ctx context.Context) ([]model.Asset, error)

	// --- Users and balances ---

	// CreateUser persists a new user with its starting balance.
	CreateUser(ctx context.Context, user *model.User) error

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id int64) (*model.User, error)

	// UpdateUserBalance overwrites a user's cash balance.
	UpdateUserBalance(ctx context.Context, id int64, balance decimal.Decimal) error

	// --- Holdings ---

	// GetHolding retrieves the holding row for (user, asset).
	GetHolding(ctx context.Context, userID, assetID int64) (*model.Holding, error)

	// SetHoldingAmount upserts the holding row for (user, asset), creating
	// it lazily on first acquisition.
	SetHoldingAmount(ctx context.Context, userID, assetID int64, amount decimal.Decimal) error

	// TotalHeld sums the held amount for an asset across all users.
	TotalHeld(ctx context.Context, assetID int64) (decimal.Decimal, error)

	// --- Orders ---

	// CreateOrder persists a new order.
	CreateOrder(ctx context.Context, order *model.Order) error

	// GetOrder retrieves an order by ID.
	GetOrder(ctx context.Context, id string) (*model.Order, error)

	// UpdateOrderStatus transitions an order and refreshes updated_at.
	UpdateOrderStatus(ctx context.Context, id, status string, at time.Time) error

	// PendingOrderAmount sums pending order amounts for an asset by side.
	PendingOrderAmount(ctx context.Context, assetID int64, side string) (decimal.Decimal, error)

	// --- Trades ---

	// InsertTrade appends an immutable ledger entry.
	InsertTrade(ctx context.Context, trade *model.Trade) error

	// TradeVolumeSince sums trade amounts for an asset by side since a time.
	TradeVolumeSince(ctx context.Context, assetID int64, side string, since time.Time) (decimal.Decimal, error)

	// --- Price snapshots ---

	// InsertSnapshots appends one snapshot row per entry, batched.
	InsertSnapshots(ctx context.Context, snapshots []model.PriceSnapshot) error

	// LatestSnapshot returns the newest snapshot for an asset.
	LatestSnapshot(ctx context.Context, assetID int64) (*model.PriceSnapshot, error)

	// --- Transactions ---

	// InTx runs fn against a transactional view of the store. The settlement
	// engine wraps each multi-step mutation sequence in one transaction so a
	// crash mid-operation cannot leave funds debited but never credited.
	InTx(ctx context.Context, fn func(Store) error) error
}
