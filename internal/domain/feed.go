package domain

import (
	"context"
	"time"
)

// PricePoint is a price observation with its timestamp.
type PricePoint struct {
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// PriceFeed supplies spot and historical prices for a pair. Historical
// series are ascending by time; the last element is the most recent sample.
type PriceFeed interface {
	CurrentPrice(ctx context.Context, pair Pair) (PricePoint, error)
	HistoricalPrices(ctx context.Context, pair Pair, hours int) ([]float64, error)
	// ReferencePrice returns the settlement reference price for a symbol
	// (the quote asset's USD price at execution time).
	ReferencePrice(ctx context.Context, symbol string) (PricePoint, error)
}

// VolumeStats summarizes recent trading volume for a pair.
type VolumeStats struct {
	Volume24h float64
	Volume7d  float64
	SwapCount int64
}

// PoolLiquidity summarizes pool depth and flow momentum for a pair.
type PoolLiquidity struct {
	TotalLiquidity float64
	NetFlow24h     float64
	NetFlow7d      float64
}

// FlowFeed supplies volume and liquidity-flow data for a pair.
type FlowFeed interface {
	Volume24h(ctx context.Context, pair Pair) (VolumeStats, error)
	PoolLiquidity(ctx context.Context, pair Pair) (PoolLiquidity, error)
}

// HistoryCache caches price series and spot prices with an explicit TTL
// owned by whoever constructs the cache. It returns ErrNotFound on miss.
type HistoryCache interface {
	GetSeries(ctx context.Context, pair Pair, hours int) ([]float64, error)
	SetSeries(ctx context.Context, pair Pair, hours int, series []float64) error
	GetSpot(ctx context.Context, pair Pair) (PricePoint, error)
	SetSpot(ctx context.Context, pair Pair, p PricePoint) error
}
