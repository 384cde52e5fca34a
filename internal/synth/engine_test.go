package synth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tradesim/exchange-engine/internal/model"
	"github.com/tradesim/exchange-engine/internal/pricecache"
	"github.com/tradesim/exchange-engine/internal/store"
	"github.com/tradesim/exchange-engine/internal/synth"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// deterministicConfig disables jitter so every run computes the same price.
func deterministicConfig() synth.Config {
	cfg := synth.DefaultConfig()
	cfg.JitterPct = 0
	return cfg
}

func newTestEngine(t *testing.T, cfg synth.Config) (*synth.Engine, *store.MemoryStore, *pricecache.Memory) {
	t.Helper()
	ms := store.NewMemoryStore()
	cache := pricecache.NewMemory()
	engine := synth.NewEngine(ms, cache, cfg, zap.NewNop(), nil)
	return engine, ms, cache
}

func seedAsset(t *testing.T, ms *store.MemoryStore, id int64) {
	t.Helper()
	err := ms.CreateAsset(context.Background(), &model.Asset{ID: id, Symbol: "TST"})
	require.NoError(t, err)
}

func currentPrice(t *testing.T, cache *pricecache.Memory, assetID int64) decimal.Decimal {
	t.Helper()
	rec, err := cache.Current(context.Background(), assetID)
	require.NoError(t, err)
	return rec.Price
}

// With a cold cache, no snapshot, and no market activity, the first cycle
// seeds the default price.
func TestColdStartSeedsDefaultPrice(t *testing.T) {
	engine, ms, cache := newTestEngine(t, deterministicConfig())
	seedAsset(t, ms, 1)

	require.NoError(t, engine.SynthesizeAll(context.Background()))

	assert.True(t, currentPrice(t, cache, 1).Equal(d("1.000")),
		"price = %s", currentPrice(t, cache, 1))
}

// A durable snapshot seeds the old price when the cache is cold.
func TestSnapshotSeedsColdCache(t *testing.T) {
	engine, ms, cache := newTestEngine(t, deterministicConfig())
	seedAsset(t, ms, 1)
	require.NoError(t, ms.InsertSnapshots(context.Background(), []model.PriceSnapshot{
		{AssetID: 1, Price: d("4.000"), CreatedAt: time.Now().UTC()},
	}))

	require.NoError(t, engine.SynthesizeAll(context.Background()))

	// No pressure signals: the snapshot price carries over unchanged.
	assert.True(t, currentPrice(t, cache, 1).Equal(d("4.000")))
}

// The cached price takes precedence over any snapshot.
func TestCacheBeatsSnapshot(t *testing.T) {
	engine, ms, cache := newTestEngine(t, deterministicConfig())
	seedAsset(t, ms, 1)
	require.NoError(t, ms.InsertSnapshots(context.Background(), []model.PriceSnapshot{
		{AssetID: 1, Price: d("4.000"), CreatedAt: time.Now().UTC()},
	}))
	require.NoError(t, cache.SetCurrent(context.Background(), 1, d("2.000"), time.Now().UTC()))

	require.NoError(t, engine.SynthesizeAll(context.Background()))

	assert.True(t, currentPrice(t, cache, 1).Equal(d("2.000")))
}

// Pure sell pressure pushes the price down by the dampened, clamped,
// smoothed change but never below the floor.
func TestSellPressureLowersPrice(t *testing.T) {
	engine, ms, cache := newTestEngine(t, deterministicConfig())
	seedAsset(t, ms, 1)
	require.NoError(t, ms.CreateUser(context.Background(), &model.User{ID: 1, Balance: d("0")}))
	require.NoError(t, ms.SetHoldingAmount(context.Background(), 1, 1, d("100")))
	require.NoError(t, cache.SetCurrent(context.Background(), 1, d("2.000"), time.Now().UTC()))

	require.NoError(t, engine.SynthesizeAll(context.Background()))

	price := currentPrice(t, cache, 1)
	assert.True(t, price.LessThan(d("2.000")), "price = %s", price)
	assert.True(t, price.GreaterThanOrEqual(d("0.001")))
}

// Repeated max sell pressure converges on the floor, never below it.
func TestPriceFloorUnderSustainedSellPressure(t *testing.T) {
	engine, ms, cache := newTestEngine(t, deterministicConfig())
	seedAsset(t, ms, 1)
	require.NoError(t, ms.CreateUser(context.Background(), &model.User{ID: 1, Balance: d("0")}))
	require.NoError(t, ms.SetHoldingAmount(context.Background(), 1, 1, d("100")))
	require.NoError(t, cache.SetCurrent(context.Background(), 1, d("0.002"), time.Now().UTC()))

	for i := 0; i < 50; i++ {
		require.NoError(t, engine.SynthesizeAll(context.Background()))
	}

	price := currentPrice(t, cache, 1)
	assert.True(t, price.GreaterThanOrEqual(d("0.001")), "price = %s", price)
}

// The per-cycle change never exceeds the clamp, whatever the imbalance.
func TestChangeClamped(t *testing.T) {
	cfg := deterministicConfig()
	cfg.Sensitivity = d("10") // would swing wildly without the clamp
	engine, ms, cache := newTestEngine(t, cfg)
	seedAsset(t, ms, 1)
	require.NoError(t, ms.CreateUser(context.Background(), &model.User{ID: 1, Balance: d("0")}))
	require.NoError(t, ms.SetHoldingAmount(context.Background(), 1, 1, d("100")))
	require.NoError(t, cache.SetCurrent(context.Background(), 1, d("2.000"), time.Now().UTC()))

	require.NoError(t, engine.SynthesizeAll(context.Background()))

	// Max 5% change, halved by EMA smoothing: floor is 2.000 * (1 - 0.025).
	price := currentPrice(t, cache, 1)
	assert.True(t, price.GreaterThanOrEqual(d("1.950")), "price = %s", price)
	assert.True(t, price.LessThan(d("2.000")))
}

// Each cycle appends at most one history point per minute bucket.
func TestCycleAppendsHistory(t *testing.T) {
	engine, ms, cache := newTestEngine(t, deterministicConfig())
	seedAsset(t, ms, 1)

	require.NoError(t, engine.SynthesizeAll(context.Background()))
	require.NoError(t, engine.SynthesizeAll(context.Background()))

	points, err := cache.History(context.Background(), 1, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, points, 1)
}

// brokenAssetCache wraps the memory cache, failing every Current read for
// one asset and recording which assets get pruned.
type brokenAssetCache struct {
	*pricecache.Memory
	failAsset int64

	mu     sync.Mutex
	pruned map[int64]bool
}

func newBrokenAssetCache(failAsset int64) *brokenAssetCache {
	return &brokenAssetCache{
		Memory:    pricecache.NewMemory(),
		failAsset: failAsset,
		pruned:    make(map[int64]bool),
	}
}

func (c *brokenAssetCache) Current(ctx context.Context, assetID int64) (*pricecache.PriceRecord, error) {
	if assetID == c.failAsset {
		return nil, errors.New("cache read failed")
	}
	return c.Memory.Current(ctx, assetID)
}

func (c *brokenAssetCache) PruneHistory(ctx context.Context, assetID int64, olderThan time.Time) error {
	c.mu.Lock()
	c.pruned[assetID] = true
	c.mu.Unlock()
	return c.Memory.PruneHistory(ctx, assetID, olderThan)
}

func (c *brokenAssetCache) prunedAssets() map[int64]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int64]bool, len(c.pruned))
	for k, v := range c.pruned {
		out[k] = v
	}
	return out
}

// One asset's cache failure must not abort its siblings, and the failing
// asset's history must still be pruned.
func TestAssetFailureIsolation(t *testing.T) {
	ms := store.NewMemoryStore()
	cache := newBrokenAssetCache(1)
	engine := synth.NewEngine(ms, cache, deterministicConfig(), zap.NewNop(), nil)
	seedAsset(t, ms, 1)
	seedAsset(t, ms, 2)

	require.NoError(t, engine.SynthesizeAll(context.Background()))

	// The healthy sibling got its cold-start price.
	rec, err := cache.Memory.Current(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, rec.Price.Equal(d("1.000")))

	// The failing asset wrote nothing.
	_, err = cache.Memory.Current(context.Background(), 1)
	assert.ErrorIs(t, err, pricecache.ErrNoPrice)

	// Prune ran for both, including the asset whose cycle failed.
	pruned := cache.prunedAssets()
	assert.True(t, pruned[1], "prune must run for the failing asset")
	assert.True(t, pruned[2])
}

type recordingHub struct {
	mu      sync.Mutex
	updates []int64
}

func (h *recordingHub) PriceUpdated(assetID int64, _ decimal.Decimal, _ time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updates = append(h.updates, assetID)
}

func TestBroadcastAfterUpdate(t *testing.T) {
	ms := store.NewMemoryStore()
	cache := pricecache.NewMemory()
	hub := &recordingHub{}
	engine := synth.NewEngine(ms, cache, deterministicConfig(), zap.NewNop(), hub)
	seedAsset(t, ms, 1)
	seedAsset(t, ms, 2)

	require.NoError(t, engine.SynthesizeAll(context.Background()))

	hub.mu.Lock()
	defer hub.mu.Unlock()
	assert.ElementsMatch(t, []int64{1, 2}, hub.updates)
}
