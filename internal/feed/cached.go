package feed

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/dcapilot/internal/domain"
)

// CachedPriceFeed is a read-through cache over a PriceFeed. Spot prices and
// historical series are served from the cache when fresh; the TTL policy
// lives in the cache implementation, not here. Cache failures degrade to the
// upstream feed and are logged, never surfaced.
type CachedPriceFeed struct {
	upstream domain.PriceFeed
	cache    domain.HistoryCache
	logger   *slog.Logger
}

var _ domain.PriceFeed = (*CachedPriceFeed)(nil)

// NewCachedPriceFeed wraps upstream with cache.
func NewCachedPriceFeed(upstream domain.PriceFeed, cache domain.HistoryCache, logger *slog.Logger) *CachedPriceFeed {
	return &CachedPriceFeed{
		upstream: upstream,
		cache:    cache,
		logger:   logger.With(slog.String("component", "price_cache")),
	}
}

// CurrentPrice serves the cached spot when present, otherwise fetches and
// fills.
func (f *CachedPriceFeed) CurrentPrice(ctx context.Context, pair domain.Pair) (domain.PricePoint, error) {
	if p, err := f.cache.GetSpot(ctx, pair); err == nil {
		return p, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		f.logger.WarnContext(ctx, "spot cache read failed",
			slog.String("pair", pair.Symbol()), slog.String("error", err.Error()))
	}

	p, err := f.upstream.CurrentPrice(ctx, pair)
	if err != nil {
		return domain.PricePoint{}, err
	}
	if err := f.cache.SetSpot(ctx, pair, p); err != nil {
		f.logger.WarnContext(ctx, "spot cache write failed",
			slog.String("pair", pair.Symbol()), slog.String("error", err.Error()))
	}
	return p, nil
}

// HistoricalPrices serves the cached series when present, otherwise fetches
// and fills.
func (f *CachedPriceFeed) HistoricalPrices(ctx context.Context, pair domain.Pair, hours int) ([]float64, error) {
	if series, err := f.cache.GetSeries(ctx, pair, hours); err == nil {
		return series, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		f.logger.WarnContext(ctx, "series cache read failed",
			slog.String("pair", pair.Symbol()), slog.String("error", err.Error()))
	}

	series, err := f.upstream.HistoricalPrices(ctx, pair, hours)
	if err != nil {
		return nil, err
	}
	if err := f.cache.SetSeries(ctx, pair, hours, series); err != nil {
		f.logger.WarnContext(ctx, "series cache write failed",
			slog.String("pair", pair.Symbol()), slog.String("error", err.Error()))
	}
	return series, nil
}

// ReferencePrice is never cached; settlement pricing must be current.
func (f *CachedPriceFeed) ReferencePrice(ctx context.Context, symbol string) (domain.PricePoint, error) {
	return f.upstream.ReferencePrice(ctx, symbol)
}
