// Package synth recomputes every asset's price on a fixed cycle from
// synthetic supply/demand signals and publishes the result to the price
// cache: current value, minute-bucketed history, and a 24h prune.
package synth

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradesim/exchange-engine/internal/metrics"
	"github.com/tradesim/exchange-engine/internal/model"
	"github.com/tradesim/exchange-engine/internal/pricecache"
	"github.com/tradesim/exchange-engine/internal/store"
)

// Broadcaster receives the new price after each successful per-asset
// update. Pass nil when broadcasting is not needed.
type Broadcaster interface {
	PriceUpdated(assetID int64, price decimal.Decimal, at time.Time)
}

// Config tunes the synthesis policy. Zero values are replaced by defaults.
type Config struct {
	// Interval between synthesis ticks.
	Interval time.Duration
	// Sensitivity scales the pressure ratio into a fractional price change.
	Sensitivity decimal.Decimal
	// MaxChangePct clamps the absolute fractional change per cycle.
	MaxChangePct decimal.Decimal
	// SmoothingAlpha is the EMA weight of the new candidate price, in (0, 1].
	SmoothingAlpha decimal.Decimal
	// JitterPct bounds the random fractional jitter; zero disables jitter.
	JitterPct float64
	// LiquidityScale dampens the swing as total volume grows: the change is
	// multiplied by 1/(1 + total/LiquidityScale).
	LiquidityScale decimal.Decimal
	// MinPrice is the strictly positive floor applied to every result.
	MinPrice decimal.Decimal
	// DefaultPrice seeds an asset with no cache entry and no snapshot.
	DefaultPrice decimal.Decimal
}

// DefaultConfig returns the standard synthesis tuning.
func DefaultConfig() Config {
	return Config{
		Interval:       10 * time.Second,
		Sensitivity:    decimal.NewFromFloat(0.05),
		MaxChangePct:   decimal.NewFromFloat(0.05),
		SmoothingAlpha: decimal.NewFromFloat(0.5),
		JitterPct:      0.002,
		LiquidityScale: decimal.NewFromInt(1000),
		MinPrice:       decimal.NewFromFloat(0.001),
		DefaultPrice:   decimal.NewFromInt(1),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.Sensitivity.IsZero() {
		c.Sensitivity = def.Sensitivity
	}
	if c.MaxChangePct.IsZero() {
		c.MaxChangePct = def.MaxChangePct
	}
	if c.SmoothingAlpha.IsZero() {
		c.SmoothingAlpha = def.SmoothingAlpha
	}
	if c.LiquidityScale.IsZero() {
		c.LiquidityScale = def.LiquidityScale
	}
	if c.MinPrice.IsZero() {
		c.MinPrice = def.MinPrice
	}
	if c.DefaultPrice.IsZero() {
		c.DefaultPrice = def.DefaultPrice
	}
	return c
}

// Engine is the price synthesis engine. One instance serves all assets;
// each tick fans out one unit of work per asset and joins them all before
// the next tick can fire.
type Engine struct {
	store  store.Store
	cache  pricecache.Cache
	cfg    Config
	logger *zap.Logger
	hub    Broadcaster
	rng    *rand.Rand
	rngMu  sync.Mutex
	now    func() time.Time
}

// NewEngine creates a synthesis engine. hub may be nil.
func NewEngine(st store.Store, cache pricecache.Cache, cfg Config, logger *zap.Logger, hub Broadcaster) *Engine {
	return &Engine{
		store:  st,
		cache:  cache,
		cfg:    cfg.withDefaults(),
		logger: logger,
		hub:    hub,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
	}
}

// Run ticks forever until ctx is cancelled. A failing cycle is logged and
// never stops the loop.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	e.logger.Info("price synthesis started", zap.Duration("interval", e.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("price synthesis stopped")
			return
		case <-ticker.C:
			if err := e.SynthesizeAll(ctx); err != nil {
				e.logger.Error("synthesis cycle failed", zap.Error(err))
			}
		}
	}
}

// SynthesizeAll recomputes every asset's price concurrently and waits for
// all to finish. A per-asset failure is logged and counted; it neither
// affects sibling assets nor fails the cycle.
func (e *Engine) SynthesizeAll(ctx context.Context) error {
	assets, err := e.store.ListAssets(ctx)
	if err != nil {
		return fmt.Errorf("list assets: %w", err)
	}

	var wg sync.WaitGroup
	for _, asset := range assets {
		wg.Add(1)
		go func(asset model.Asset) {
			defer wg.Done()
			if err := e.synthesizeAsset(ctx, asset.ID); err != nil {
				metrics.SynthesisAssetErrors.Inc()
				e.logger.Error("asset price update failed",
					zap.Int64("asset", asset.ID),
					zap.Error(err))
			}
		}(asset)
	}
	wg.Wait()

	metrics.SynthesisCycles.Inc()
	return nil
}

func (e *Engine) synthesizeAsset(ctx context.Context, assetID int64) error {
	now := e.now().UTC()

	// History stays bounded even when this cycle's recompute fails.
	defer func() {
		if err := e.cache.PruneHistory(ctx, assetID, now.Add(-pricecache.HistoryRetention)); err != nil {
			e.logger.Warn("history prune failed", zap.Int64("asset", assetID), zap.Error(err))
		}
	}()

	oldPrice, err := e.resolveOldPrice(ctx, assetID, now)
	if err != nil {
		return err
	}

	sig, err := e.gatherSignals(ctx, assetID, now)
	if err != nil {
		return err
	}

	price := e.nextPrice(oldPrice, sig)

	if err := e.cache.SetCurrent(ctx, assetID, price, now); err != nil {
		return err
	}
	if err := e.cache.AppendHistory(ctx, assetID, price, now); err != nil {
		return err
	}

	if e.hub != nil {
		e.hub.PriceUpdated(assetID, price, now)
	}
	return nil
}

// resolveOldPrice reads the last known price: cache first, then the newest
// durable snapshot, then the fixed default.
func (e *Engine) resolveOldPrice(ctx context.Context, assetID int64, now time.Time) (decimal.Decimal, error) {
	rec, err := e.cache.Current(ctx, assetID)
	if err == nil {
		return rec.Price, nil
	}
	if !errors.Is(err, pricecache.ErrNoPrice) {
		return decimal.Zero, err
	}

	snap, err := e.store.LatestSnapshot(ctx, assetID)
	if err == nil {
		return snap.Price, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, err
	}

	return e.cfg.DefaultPrice, nil
}

// signals are the fresh per-cycle market-pressure inputs.
type signals struct {
	pendingBuy  decimal.Decimal
	pendingSell decimal.Decimal
	totalHeld   decimal.Decimal
	buyVolume   decimal.Decimal
	sellVolume  decimal.Decimal
}

func (e *Engine) gatherSignals(ctx context.Context, assetID int64, now time.Time) (signals, error) {
	var sig signals
	var err error

	if sig.pendingBuy, err = e.store.PendingOrderAmount(ctx, assetID, model.SideBuy); err != nil {
		return sig, fmt.Errorf("pending buy amount: %w", err)
	}
	if sig.pendingSell, err = e.store.PendingOrderAmount(ctx, assetID, model.SideSell); err != nil {
		return sig, fmt.Errorf("pending sell amount: %w", err)
	}
	if sig.totalHeld, err = e.store.TotalHeld(ctx, assetID); err != nil {
		return sig, fmt.Errorf("total held: %w", err)
	}

	dayAgo := now.Add(-24 * time.Hour)
	if sig.buyVolume, err = e.store.TradeVolumeSince(ctx, assetID, model.SideBuy, dayAgo); err != nil {
		return sig, fmt.Errorf("buy volume: %w", err)
	}
	if sig.sellVolume, err = e.store.TradeVolumeSince(ctx, assetID, model.SideSell, dayAgo); err != nil {
		return sig, fmt.Errorf("sell volume: %w", err)
	}
	return sig, nil
}

// nextPrice derives the new price from the old price and the cycle's
// pressure signals: bounded fractional change from the buy/sell pressure
// ratio, dampened by liquidity, clamped per cycle, EMA-smoothed against
// the old price, jittered, floored, and rounded to the fixed scale.
func (e *Engine) nextPrice(oldPrice decimal.Decimal, sig signals) decimal.Decimal {
	one := decimal.NewFromInt(1)

	vBuy := sig.pendingBuy.Add(sig.buyVolume)
	vSell := sig.pendingSell.Add(sig.totalHeld).Add(sig.sellVolume)
	total := vBuy.Add(vSell)

	change := decimal.Zero
	if total.IsPositive() {
		pressure := vBuy.Sub(vSell).Div(total) // in [-1, 1]
		dampening := one.Div(one.Add(total.Div(e.cfg.LiquidityScale)))
		change = clamp(pressure.Mul(e.cfg.Sensitivity).Mul(dampening), e.cfg.MaxChangePct)
	}

	candidate := oldPrice.Mul(one.Add(change)).Round(model.DecimalScale)

	// EMA smoothing against the previous price.
	alpha := e.cfg.SmoothingAlpha
	smoothed := oldPrice.Mul(one.Sub(alpha)).Add(candidate.Mul(alpha)).Round(model.DecimalScale)

	if e.cfg.JitterPct > 0 {
		e.rngMu.Lock()
		jitter := (e.rng.Float64()*2 - 1) * e.cfg.JitterPct
		e.rngMu.Unlock()
		smoothed = smoothed.Mul(one.Add(decimal.NewFromFloat(jitter)))
	}

	if smoothed.LessThan(e.cfg.MinPrice) {
		smoothed = e.cfg.MinPrice
	}
	return smoothed.Round(model.DecimalScale)
}

func clamp(v, limit decimal.Decimal) decimal.Decimal {
	if v.GreaterThan(limit) {
		return limit
	}
	if v.LessThan(limit.Neg()) {
		return limit.Neg()
	}
	return v
}
