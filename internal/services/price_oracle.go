// internal/services/price_oracle.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/asset-rental-backend/internal/store"
)

// StaticPriceOracle quotes the same price for every asset.
type StaticPriceOracle struct {
	price int64
}

func NewStaticPriceOracle(price int64) *StaticPriceOracle {
	return &StaticPriceOracle{price: price}
}

func (o *StaticPriceOracle) Estimate(ctx context.Context, assetID string) (int64, error) {
	return o.price, nil
}

// MarketPriceOracle quotes the average price of the most recent listings,
// falling back to a default when the market is empty.
type MarketPriceOracle struct {
	store    store.Store
	fallback int64
	sample   int
}

func NewMarketPriceOracle(st store.Store, fallback int64) *MarketPriceOracle {
	return &MarketPriceOracle{store: st, fallback: fallback, sample: 50}
}

func (o *MarketPriceOracle) Estimate(ctx context.Context, assetID string) (int64, error) {
	listings, _, err := o.store.Listings().List(ctx, store.ListingFilter{}, store.Page{Page: 1, Limit: o.sample})
	if err != nil {
		return 0, err
	}

	sum := decimal.Zero
	var n int64
	for _, l := range listings {
		if l.PricePerSecond <= 0 {
			continue
		}
		sum = sum.Add(decimal.NewFromInt(l.PricePerSecond))
		n++
	}
	if n == 0 {
		return o.fallback, nil
	}

	avg := sum.Div(decimal.NewFromInt(n)).Floor()
	if !avg.IsPositive() {
		return o.fallback, nil
	}
	return avg.IntPart(), nil
}

// CachedPriceOracle keeps estimates in redis. Redis failures are logged and
// the underlying oracle is asked directly.
type CachedPriceOracle struct {
	next   PriceOracle
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewCachedPriceOracle(next PriceOracle, client *redis.Client, ttl time.Duration) *CachedPriceOracle {
	return &CachedPriceOracle{next: next, client: client, ttl: ttl, prefix: "price:"}
}

func (o *CachedPriceOracle) Estimate(ctx context.Context, assetID string) (int64, error) {
	key := o.prefix + assetID

	cached, err := o.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if price, perr := strconv.ParseInt(cached, 10, 64); perr == nil && price > 0 {
			return price, nil
		}
	case errors.Is(err, redis.Nil):
	default:
		logrus.WithError(err).WithField("asset_id", assetID).Warn("Price cache read failed")
	}

	price, err := o.next.Estimate(ctx, assetID)
	if err != nil {
		return 0, err
	}
	if price <= 0 {
		return 0, fmt.Errorf("price oracle returned non-positive price %d", price)
	}

	if err := o.client.Set(ctx, key, strconv.FormatInt(price, 10), o.ttl).Err(); err != nil {
		logrus.WithError(err).WithField("asset_id", assetID).Warn("Price cache write failed")
	}
	return price, nil
}
