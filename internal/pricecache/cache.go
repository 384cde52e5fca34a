// Package pricecache stores the fast-read current price per asset plus a
// bounded, minute-deduplicated price time series. Redis is the production
// backend; an in-memory implementation backs tests and DB-less runs.
package pricecache

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoPrice is returned by Current when the cache is cold for an asset.
var ErrNoPrice = errors.New("no cached price")

// HistoryRetention is how long history points are kept before pruning.
const HistoryRetention = 24 * time.Hour

// PriceRecord is the cache-resident current price for one asset,
// overwritten on every synthesis cycle.
type PriceRecord struct {
	AssetID   int64           `json:"asset_id"`
	Price     decimal.Decimal `json:"price"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// HistoryPoint is one entry of an asset's price time series.
type HistoryPoint struct {
	Price     decimal.Decimal `json:"price"`
	EmittedAt time.Time       `json:"emitted_at"`
}

// Cache is the price cache interface. All writers treat it as
// last-write-wins state; there is no locking across operations.
type Cache interface {
	// Current returns the current price record, or ErrNoPrice when cold.
	Current(ctx context.Context, assetID int64) (*PriceRecord, error)

	// SetCurrent unconditionally overwrites the current price.
	SetCurrent(ctx context.Context, assetID int64, price decimal.Decimal, at time.Time) error

	// AppendHistory writes a point keyed by the minute bucket of at. The
	// write is skipped when the newest stored point's bucket is not older
	// than the new bucket, so retried or sub-minute duplicate emissions
	// leave exactly one point per bucket.
	AppendHistory(ctx context.Context, assetID int64, price decimal.Decimal, at time.Time) error

	// PruneHistory removes all points with a bucket time at or before
	// olderThan.
	PruneHistory(ctx context.Context, assetID int64, olderThan time.Time) error

	// History returns points emitted at or after from, oldest first.
	History(ctx context.Context, assetID int64, from time.Time) ([]HistoryPoint, error)
}

// bucket truncates a timestamp to its minute bucket.
func bucket(at time.Time) int64 {
	return at.Unix() / 60 * 60
}
