package oracle

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Cached wraps a PriceOracle with a Redis read-through cache. A cache miss or
// a Redis outage falls through to the source; the cache is an optimization,
// never a correctness dependency.
type Cached struct {
	src PriceOracle
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewCached(src PriceOracle, rdb redis.UniversalClient, ttl time.Duration) *Cached {
	return &Cached{src: src, rdb: rdb, ttl: ttl}
}

func (c *Cached) Rate(ctx context.Context, fromCode, toCode string) (decimal.Decimal, time.Time, error) {
	key := "rate:" + fromCode + ":" + toCode

	if v, err := c.rdb.Get(ctx, key).Result(); err == nil {
		if rate, perr := decimal.NewFromString(v); perr == nil {
			asOf := time.Now()
			if ttl, terr := c.rdb.TTL(ctx, key).Result(); terr == nil && ttl > 0 {
				asOf = time.Now().Add(ttl - c.ttl)
			}
			return rate, asOf, nil
		}
	}

	rate, asOf, err := c.src.Rate(ctx, fromCode, toCode)
	if err != nil {
		return decimal.Zero, time.Time{}, err
	}
	if serr := c.rdb.Set(ctx, key, rate.String(), c.ttl).Err(); serr != nil {
		slog.Debug("rate cache set failed", "key", key, "err", serr)
	}
	return rate, asOf, nil
}

// Connect dials Redis and verifies the connection.
func Connect(ctx context.Context, addr string) (redis.UniversalClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  time.Second,
		ReadTimeout:  400 * time.Millisecond,
		WriteTimeout: 400 * time.Millisecond,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}
