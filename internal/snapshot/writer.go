// Package snapshot periodically copies every asset's current cache price
// into the durable price_snapshot table, so prices survive cache loss and
// can seed the synthesis engine after a cold start.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tradesim/exchange-engine/internal/metrics"
	"github.com/tradesim/exchange-engine/internal/model"
	"github.com/tradesim/exchange-engine/internal/pricecache"
	"github.com/tradesim/exchange-engine/internal/store"
)

// Writer flushes cache prices to the relational store.
type Writer struct {
	store  store.Store
	cache  pricecache.Cache
	logger *zap.Logger
	now    func() time.Time
}

// NewWriter creates a snapshot writer.
func NewWriter(st store.Store, cache pricecache.Cache, logger *zap.Logger) *Writer {
	return &Writer{store: st, cache: cache, logger: logger, now: time.Now}
}

// SnapshotAll writes one snapshot row per asset with a cached price.
// Assets with a cold cache are skipped; a failed cache read for one asset
// is logged and does not block persisting the assets that succeeded.
func (w *Writer) SnapshotAll(ctx context.Context) error {
	assets, err := w.store.ListAssets(ctx)
	if err != nil {
		return fmt.Errorf("list assets: %w", err)
	}

	now := w.now().UTC()
	var snapshots []model.PriceSnapshot
	for _, asset := range assets {
		rec, err := w.cache.Current(ctx, asset.ID)
		if errors.Is(err, pricecache.ErrNoPrice) {
			continue
		}
		if err != nil {
			w.logger.Warn("skipping asset with unreadable cache price",
				zap.Int64("asset", asset.ID),
				zap.Error(err))
			continue
		}
		snapshots = append(snapshots, model.PriceSnapshot{
			AssetID:   asset.ID,
			Price:     rec.Price,
			CreatedAt: now,
		})
	}

	if len(snapshots) == 0 {
		return nil
	}
	if err := w.store.InsertSnapshots(ctx, snapshots); err != nil {
		return fmt.Errorf("insert snapshots: %w", err)
	}

	metrics.SnapshotRows.Add(float64(len(snapshots)))
	w.logger.Info("price snapshots written", zap.Int("count", len(snapshots)))
	return nil
}

// Job returns a closure suitable for scheduling; errors are logged, never
// propagated, so a failed flush cannot unschedule the writer.
func (w *Writer) Job() func(context.Context) {
	return func(ctx context.Context) {
		if err := w.SnapshotAll(ctx); err != nil {
			w.logger.Error("price snapshot cycle failed", zap.Error(err))
		}
	}
}
