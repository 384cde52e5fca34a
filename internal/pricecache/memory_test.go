package pricecache_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradesim/exchange-engine/internal/pricecache"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCurrentColdCache(t *testing.T) {
	c := pricecache.NewMemory()

	_, err := c.Current(context.Background(), 1)
	assert.ErrorIs(t, err, pricecache.ErrNoPrice)
}

func TestSetCurrentOverwrites(t *testing.T) {
	c := pricecache.NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, c.SetCurrent(ctx, 1, d("1.500"), now))
	require.NoError(t, c.SetCurrent(ctx, 1, d("1.750"), now.Add(time.Second)))

	rec, err := c.Current(ctx, 1)
	require.NoError(t, err)
	assert.True(t, rec.Price.Equal(d("1.750")))
	assert.Equal(t, now.Add(time.Second), rec.UpdatedAt)
}

// Two appends inside the same minute leave exactly one history point; the
// first write for the bucket wins.
func TestAppendHistoryMinuteIdempotent(t *testing.T) {
	c := pricecache.NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 8, 28, 12, 0, 5, 0, time.UTC)

	require.NoError(t, c.AppendHistory(ctx, 1, d("1.000"), base))
	require.NoError(t, c.AppendHistory(ctx, 1, d("2.000"), base.Add(20*time.Second)))

	points, err := c.History(ctx, 1, base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.True(t, points[0].Price.Equal(d("1.000")))
}

func TestAppendHistoryAcrossMinutes(t *testing.T) {
	c := pricecache.NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 8, 28, 12, 0, 5, 0, time.UTC)

	require.NoError(t, c.AppendHistory(ctx, 1, d("1.000"), base))
	require.NoError(t, c.AppendHistory(ctx, 1, d("2.000"), base.Add(time.Minute)))
	require.NoError(t, c.AppendHistory(ctx, 1, d("3.000"), base.Add(2*time.Minute)))

	points, err := c.History(ctx, 1, base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.True(t, points[0].Price.Equal(d("1.000")))
	assert.True(t, points[2].Price.Equal(d("3.000")))
}

func TestPruneHistoryDropsOldPoints(t *testing.T) {
	c := pricecache.NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	// One point 25 hours old, one 23 hours old, one fresh.
	require.NoError(t, c.AppendHistory(ctx, 1, d("1.000"), base.Add(-25*time.Hour)))
	require.NoError(t, c.AppendHistory(ctx, 1, d("2.000"), base.Add(-23*time.Hour)))
	require.NoError(t, c.AppendHistory(ctx, 1, d("3.000"), base))

	require.NoError(t, c.PruneHistory(ctx, 1, base.Add(-pricecache.HistoryRetention)))

	points, err := c.History(ctx, 1, base.Add(-48*time.Hour))
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.True(t, points[0].Price.Equal(d("2.000")))
}

func TestHistoryFromBound(t *testing.T) {
	c := pricecache.NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	require.NoError(t, c.AppendHistory(ctx, 1, d("1.000"), base.Add(-2*time.Hour)))
	require.NoError(t, c.AppendHistory(ctx, 1, d("2.000"), base.Add(-time.Hour)))
	require.NoError(t, c.AppendHistory(ctx, 1, d("3.000"), base))

	points, err := c.History(ctx, 1, base.Add(-90*time.Minute))
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.True(t, points[0].Price.Equal(d("2.000")))
	assert.True(t, points[1].Price.Equal(d("3.000")))
}

func TestHistoryIsolatedPerAsset(t *testing.T) {
	c := pricecache.NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	require.NoError(t, c.AppendHistory(ctx, 1, d("1.000"), base))
	require.NoError(t, c.AppendHistory(ctx, 2, d("9.000"), base))

	points, err := c.History(ctx, 1, base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.True(t, points[0].Price.Equal(d("1.000")))
}
