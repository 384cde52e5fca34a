package pricecache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type memoryPoint struct {
	bucket    int64
	price     decimal.Decimal
	emittedAt time.Time
}

// Memory implements Cache with in-process maps. Used for testing and
// cache-less development runs.
type Memory struct {
	mu      sync.RWMutex
	current map[int64]PriceRecord
	history map[int64][]memoryPoint // sorted by bucket, ascending
}

// NewMemory creates an in-memory price cache.
func NewMemory() *Memory {
	return &Memory{
		current: make(map[int64]PriceRecord),
		history: make(map[int64][]memoryPoint),
	}
}

func (c *Memory) Current(_ context.Context, assetID int64) (*PriceRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.current[assetID]
	if !ok {
		return nil, ErrNoPrice
	}
	cp := rec
	return &cp, nil
}

func (c *Memory) SetCurrent(_ context.Context, assetID int64, price decimal.Decimal, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current[assetID] = PriceRecord{AssetID: assetID, Price: price, UpdatedAt: at}
	return nil
}

func (c *Memory) AppendHistory(_ context.Context, assetID int64, price decimal.Decimal, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	newBucket := bucket(at)
	points := c.history[assetID]
	if n := len(points); n > 0 && points[n-1].bucket >= newBucket {
		return nil
	}
	c.history[assetID] = append(points, memoryPoint{
		bucket:    newBucket,
		price:     price,
		emittedAt: at,
	})
	return nil
}

func (c *Memory) PruneHistory(_ context.Context, assetID int64, olderThan time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	points := c.history[assetID]
	cutoff := olderThan.Unix()
	idx := sort.Search(len(points), func(i int) bool {
		return points[i].bucket > cutoff
	})
	if idx > 0 {
		c.history[assetID] = append([]memoryPoint(nil), points[idx:]...)
	}
	return nil
}

func (c *Memory) History(_ context.Context, assetID int64, from time.Time) ([]HistoryPoint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []HistoryPoint
	for _, p := range c.history[assetID] {
		if p.bucket >= from.Unix() {
			out = append(out, HistoryPoint{Price: p.price, EmittedAt: p.emittedAt})
		}
	}
	return out, nil
}
