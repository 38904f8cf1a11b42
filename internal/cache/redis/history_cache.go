package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/dcapilot/internal/domain"
)

// HistoryCache implements domain.HistoryCache on Redis. Series are stored as
// JSON arrays under "series:{pair}:{hours}", spot prices as hashes under
// "spot:{pair}". Both expire on the TTLs given at construction, which bounds
// how stale an indicator computation can get.
type HistoryCache struct {
	rdb       *redis.Client
	seriesTTL time.Duration
	spotTTL   time.Duration
}

// NewHistoryCache creates a HistoryCache with the given expiries.
func NewHistoryCache(c *Client, seriesTTL, spotTTL time.Duration) *HistoryCache {
	return &HistoryCache{
		rdb:       c.rdb,
		seriesTTL: seriesTTL,
		spotTTL:   spotTTL,
	}
}

func seriesKey(pair domain.Pair, hours int) string {
	return fmt.Sprintf("series:%s-%s:%d", pair.BaseSymbol, pair.QuoteSymbol, hours)
}

func spotKey(pair domain.Pair) string {
	return fmt.Sprintf("spot:%s-%s", pair.BaseSymbol, pair.QuoteSymbol)
}

// GetSeries returns the cached price series, or domain.ErrNotFound on miss.
func (hc *HistoryCache) GetSeries(ctx context.Context, pair domain.Pair, hours int) ([]float64, error) {
	raw, err := hc.rdb.Get(ctx, seriesKey(pair, hours)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get series %s: %w", pair.Symbol(), err)
	}

	var series []float64
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, fmt.Errorf("redis: decode series %s: %w", pair.Symbol(), err)
	}
	return series, nil
}

// SetSeries stores the price series with the series TTL.
func (hc *HistoryCache) SetSeries(ctx context.Context, pair domain.Pair, hours int, series []float64) error {
	raw, err := json.Marshal(series)
	if err != nil {
		return fmt.Errorf("redis: encode series %s: %w", pair.Symbol(), err)
	}
	if err := hc.rdb.Set(ctx, seriesKey(pair, hours), raw, hc.seriesTTL).Err(); err != nil {
		return fmt.Errorf("redis: set series %s: %w", pair.Symbol(), err)
	}
	return nil
}

// GetSpot returns the cached spot price, or domain.ErrNotFound on miss.
func (hc *HistoryCache) GetSpot(ctx context.Context, pair domain.Pair) (domain.PricePoint, error) {
	vals, err := hc.rdb.HGetAll(ctx, spotKey(pair)).Result()
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: get spot %s: %w", pair.Symbol(), err)
	}
	if len(vals) == 0 {
		return domain.PricePoint{}, domain.ErrNotFound
	}

	price, err := strconv.ParseFloat(vals["price"], 64)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: parse spot price %s: %w", pair.Symbol(), err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: parse spot ts %s: %w", pair.Symbol(), err)
	}
	return domain.PricePoint{Price: price, Timestamp: time.Unix(0, tsNano).UTC()}, nil
}

// SetSpot stores the spot price with the spot TTL.
func (hc *HistoryCache) SetSpot(ctx context.Context, pair domain.Pair, p domain.PricePoint) error {
	key := spotKey(pair)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(p.Price, 'f', -1, 64),
		"ts":    strconv.FormatInt(p.Timestamp.UnixNano(), 10),
	}
	pipe := hc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, hc.spotTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set spot %s: %w", pair.Symbol(), err)
	}
	return nil
}

var _ domain.HistoryCache = (*HistoryCache)(nil)
