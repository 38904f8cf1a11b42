package domain

import "time"

// Trend classifies the moving-average cross of a market.
type Trend string

const (
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
	TrendNeutral Trend = "neutral"
)

// MarketSnapshot is the normalized view of a market produced by the indicator
// engine. It is ephemeral: recomputed on every evaluation and embedded into
// the resulting decision for auditing, never persisted on its own.
//
// MA7 and MA30 are nil when the price history is too short for the window;
// absence is meaningful and must not be coerced to zero.
type MarketSnapshot struct {
	Price          float64  `json:"price"`
	Volatility     float64  `json:"volatility"`
	MA7            *float64 `json:"ma7,omitempty"`
	MA30           *float64 `json:"ma30,omitempty"`
	Trend          Trend    `json:"trend"`
	PriceChange24h float64  `json:"price_change_24h"`
	VolumeRatio    float64  `json:"volume_ratio"`
	LiquidityScore float64  `json:"liquidity_score"`
	Timestamp      time.Time `json:"timestamp"`
}

// BuySignal is the indicator engine's buy assessment for a snapshot.
type BuySignal struct {
	Should     bool    `json:"should"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}
