// Package indicator turns raw price, volume, and liquidity series into a
// normalized market snapshot and a buy assessment. All computations are pure
// given their inputs; the engine only adds data fetching on top.
package indicator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/alanyoungcy/dcapilot/internal/domain"
)

// Volatility thresholds (coefficient of variation, percent).
const (
	lowVolatilityPct  = 2.0
	highVolatilityPct = 10.0
)

// Liquidity score bounds used by the buy assessment.
const (
	thinLiquidity = 0.3
	deepLiquidity = 0.7
)

// sharpDropPct is the 24h change below which a drop is treated as a strong
// DCA buy opportunity.
const sharpDropPct = -5.0

// volumeSpikeRatio flags unusually high 24h volume relative to the weekly
// average.
const volumeSpikeRatio = 2.0

// buyThreshold is the score above which the assessment recommends buying.
const buyThreshold = 0.4

// Engine computes market snapshots from the price and flow feeds.
type Engine struct {
	prices domain.PriceFeed
	flows  domain.FlowFeed
	logger *slog.Logger
}

// NewEngine creates an indicator engine backed by the given feeds.
func NewEngine(prices domain.PriceFeed, flows domain.FlowFeed, logger *slog.Logger) *Engine {
	return &Engine{
		prices: prices,
		flows:  flows,
		logger: logger.With(slog.String("component", "indicator")),
	}
}

// AnalyzeMarket builds a MarketSnapshot for the pair.
//
// A missing current price or an empty 24h series is a hard failure wrapping
// domain.ErrDataUnavailable: callers must degrade explicitly rather than
// operate on fabricated prices. Missing long-window history only yields
// absent moving averages, and flow-feed failures fall back to neutral
// volume/liquidity figures.
func (e *Engine) AnalyzeMarket(ctx context.Context, pair domain.Pair) (domain.MarketSnapshot, error) {
	current, err := e.prices.CurrentPrice(ctx, pair)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("indicator: current price for %s: %w", pair.Symbol(), domain.ErrDataUnavailable)
	}

	prices24h, err := e.prices.HistoricalPrices(ctx, pair, 24)
	if err != nil || len(prices24h) == 0 {
		return domain.MarketSnapshot{}, fmt.Errorf("indicator: 24h series for %s: %w", pair.Symbol(), domain.ErrDataUnavailable)
	}

	// Daily closes over the 30d window feed both moving averages. A short
	// or missing series leaves the averages absent, never zero.
	var ma7, ma30 *float64
	daily, err := e.prices.HistoricalPrices(ctx, pair, 30*24)
	if err != nil {
		e.logger.DebugContext(ctx, "daily series unavailable, moving averages absent",
			slog.String("pair", pair.Symbol()),
			slog.String("error", err.Error()),
		)
	} else {
		ma7 = MovingAverage(daily, 7)
		ma30 = MovingAverage(daily, 30)
	}

	volumeRatio := 1.0
	if stats, err := e.flows.Volume24h(ctx, pair); err != nil {
		e.logger.WarnContext(ctx, "volume feed failed, assuming neutral ratio",
			slog.String("pair", pair.Symbol()),
			slog.String("error", err.Error()),
		)
	} else {
		volumeRatio = VolumeRatio(stats)
	}

	liquidity := 0.5
	if pool, err := e.flows.PoolLiquidity(ctx, pair); err != nil {
		e.logger.WarnContext(ctx, "liquidity feed failed, assuming neutral score",
			slog.String("pair", pair.Symbol()),
			slog.String("error", err.Error()),
		)
	} else {
		liquidity = LiquidityScore(pool)
	}

	return domain.MarketSnapshot{
		Price:          current.Price,
		Volatility:     Volatility(prices24h),
		MA7:            ma7,
		MA30:           ma30,
		Trend:          TrendOf(current.Price, ma7, ma30),
		PriceChange24h: PriceChange24h(current.Price, prices24h),
		VolumeRatio:    volumeRatio,
		LiquidityScore: liquidity,
		Timestamp:      time.Now().UTC(),
	}, nil
}

// Volatility returns the coefficient of variation of the series in percent:
// stddev/mean * 100, using the population standard deviation. It returns 0
// for fewer than two samples or a zero mean.
func Volatility(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}

	var sum float64
	for _, p := range prices {
		sum += p
	}
	mean := sum / float64(len(prices))
	if mean == 0 {
		return 0
	}

	var sq float64
	for _, p := range prices {
		d := p - mean
		sq += d * d
	}
	stddev := math.Sqrt(sq / float64(len(prices)))

	return stddev / mean * 100
}

// MovingAverage returns the arithmetic mean of the last period elements, or
// nil when the series is shorter than the period. Absence propagates to the
// trend classification; it is never coerced to zero.
func MovingAverage(series []float64, period int) *float64 {
	if period <= 0 || len(series) < period {
		return nil
	}

	var sum float64
	for _, v := range series[len(series)-period:] {
		sum += v
	}
	avg := sum / float64(period)
	return &avg
}

// TrendOf classifies the market from the moving-average cross. Either
// average being absent yields neutral; ties never classify as bullish or
// bearish.
func TrendOf(price float64, ma7, ma30 *float64) domain.Trend {
	if ma7 == nil || ma30 == nil {
		return domain.TrendNeutral
	}
	switch {
	case *ma7 > *ma30 && price > *ma7:
		return domain.TrendBullish
	case *ma7 < *ma30 && price < *ma7:
		return domain.TrendBearish
	default:
		return domain.TrendNeutral
	}
}

// PriceChange24h returns the signed percentage change from the oldest sample
// in the 24h window to the current price, or 0 when the baseline is zero.
func PriceChange24h(price float64, prices24h []float64) float64 {
	if len(prices24h) == 0 {
		return 0
	}
	baseline := prices24h[0]
	if baseline == 0 {
		return 0
	}
	return (price - baseline) / baseline * 100
}

// LiquidityScore maps pool depth and flow momentum to [0,1]. The base score
// of 0.5 is neutral; net inflow over 24h and 7d shifts it up, outflow down.
// A pool with no reported liquidity scores exactly neutral.
func LiquidityScore(pool domain.PoolLiquidity) float64 {
	if pool.TotalLiquidity <= 0 {
		return 0.5
	}

	score := 0.5
	score += 0.06 * (pool.NetFlow24h / pool.TotalLiquidity * 100)
	score += 0.04 * (pool.NetFlow7d / pool.TotalLiquidity * 100)

	return clamp(score, 0, 1)
}

// VolumeRatio compares 24h volume against the weekly daily average. It
// returns 1 (neutral) when no weekly baseline is available.
func VolumeRatio(stats domain.VolumeStats) float64 {
	if stats.Volume7d <= 0 {
		return 1
	}
	return stats.Volume24h / (stats.Volume7d / 7)
}

// ShouldBuy scores the snapshot for a DCA purchase. The score starts neutral
// at 0.5 and each rule shifts it; note a bearish trend still adds — dips are
// buy opportunities when averaging in. The final confidence is the clamped
// score.
func ShouldBuy(snap domain.MarketSnapshot) domain.BuySignal {
	score := 0.5
	var reasons []string

	if snap.Volatility < lowVolatilityPct {
		score += 0.1
		reasons = append(reasons, "low volatility")
	} else if snap.Volatility > highVolatilityPct {
		score -= 0.2
		reasons = append(reasons, "high volatility")
	}

	switch snap.Trend {
	case domain.TrendBullish:
		score += 0.2
		reasons = append(reasons, "bullish trend")
	case domain.TrendBearish:
		score += 0.1
		reasons = append(reasons, "bearish trend, averaging into the dip")
	}

	if snap.PriceChange24h < sharpDropPct {
		score += 0.3
		reasons = append(reasons, "sharp 24h drop")
	}

	if snap.LiquidityScore < thinLiquidity {
		score -= 0.2
		reasons = append(reasons, "thin liquidity")
	} else if snap.LiquidityScore > deepLiquidity {
		score += 0.1
		reasons = append(reasons, "deep liquidity")
	}

	if snap.VolumeRatio > volumeSpikeRatio {
		score -= 0.1
		reasons = append(reasons, "volume spike")
	}

	reason := "normal market conditions"
	if len(reasons) > 0 {
		reason = strings.Join(reasons, "; ")
	}

	return domain.BuySignal{
		Should:     score > buyThreshold,
		Confidence: clamp(score, 0, 1),
		Reason:     reason,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
