package pricecache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Redis implements Cache on a Redis client.
//
// Key layout:
//
//	asset_price:<asset_id>         → hash {price, created_at (RFC3339)}
//	asset_price_history:<asset_id> → sorted set scored by minute bucket,
//	                                 member "<price>:<unix_timestamp>"
type Redis struct {
	rdb *redis.Client
}

// NewRedis creates a Redis-backed price cache.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func priceKey(assetID int64) string   { return fmt.Sprintf("asset_price:%d", assetID) }
func historyKey(assetID int64) string { return fmt.Sprintf("asset_price_history:%d", assetID) }

func (c *Redis) Current(ctx context.Context, assetID int64) (*PriceRecord, error) {
	fields, err := c.rdb.HGetAll(ctx, priceKey(assetID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read current price asset=%d: %w", assetID, err)
	}
	raw, ok := fields["price"]
	if !ok {
		return nil, ErrNoPrice
	}

	price, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("parse cached price %q asset=%d: %w", raw, assetID, err)
	}

	rec := &PriceRecord{AssetID: assetID, Price: price}
	if ts, ok := fields["created_at"]; ok {
		if at, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			rec.UpdatedAt = at
		}
	}
	return rec, nil
}

func (c *Redis) SetCurrent(ctx context.Context, assetID int64, price decimal.Decimal, at time.Time) error {
	err := c.rdb.HSet(ctx, priceKey(assetID),
		"price", price.String(),
		"created_at", at.UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("set current price asset=%d: %w", assetID, err)
	}
	return nil
}

func (c *Redis) AppendHistory(ctx context.Context, assetID int64, price decimal.Decimal, at time.Time) error {
	key := historyKey(assetID)
	newBucket := bucket(at)

	// Read the newest point; skip the write unless its bucket is older.
	newest, err := c.rdb.ZRevRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return fmt.Errorf("read newest history point asset=%d: %w", assetID, err)
	}
	if len(newest) > 0 && int64(newest[0].Score) >= newBucket {
		return nil
	}

	member := fmt.Sprintf("%s:%d", price.String(), at.Unix())
	if err := c.rdb.ZAdd(ctx, key, redis.Z{Score: float64(newBucket), Member: member}).Err(); err != nil {
		return fmt.Errorf("append history asset=%d: %w", assetID, err)
	}
	return nil
}

func (c *Redis) PruneHistory(ctx context.Context, assetID int64, olderThan time.Time) error {
	err := c.rdb.ZRemRangeByScore(ctx, historyKey(assetID),
		"-inf", strconv.FormatInt(olderThan.Unix(), 10)).Err()
	if err != nil {
		return fmt.Errorf("prune history asset=%d: %w", assetID, err)
	}
	return nil
}

func (c *Redis) History(ctx context.Context, assetID int64, from time.Time) ([]HistoryPoint, error) {
	members, err := c.rdb.ZRangeByScore(ctx, historyKey(assetID), &redis.ZRangeBy{
		Min: strconv.FormatInt(from.Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read history asset=%d: %w", assetID, err)
	}

	points := make([]HistoryPoint, 0, len(members))
	for _, m := range members {
		point, ok := parseHistoryMember(m)
		if !ok {
			continue // malformed member, skip rather than fail the read
		}
		points = append(points, point)
	}
	return points, nil
}

// parseHistoryMember decodes a "<price>:<unix_timestamp>" member.
func parseHistoryMember(m string) (HistoryPoint, bool) {
	raw, ts, ok := strings.Cut(m, ":")
	if !ok {
		return HistoryPoint{}, false
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return HistoryPoint{}, false
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return HistoryPoint{}, false
	}
	return HistoryPoint{Price: price, EmittedAt: time.Unix(unix, 0).UTC()}, true
}
