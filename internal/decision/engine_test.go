package decision

import (
	"context"
	"log/slog"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dcapilot/internal/domain"
)

type stubAnalyzer struct {
	snap domain.MarketSnapshot
	err  error
}

func (s *stubAnalyzer) AnalyzeMarket(ctx context.Context, pair domain.Pair) (domain.MarketSnapshot, error) {
	return s.snap, s.err
}

func baseStrategy() domain.Strategy {
	return domain.Strategy{
		ID:               "strat-1",
		UserID:           "user-1",
		Pair:             domain.Pair{BaseSymbol: "WETH", QuoteSymbol: "USDC", InputToken: "0x01", OutputToken: "0x02"},
		Frequency:        domain.FrequencyDaily,
		BaseAmount:       big.NewInt(1_000_000),
		SmartSizing:      true,
		VolatilityAdjust: true,
		LiquidityCheck:   true,
	}
}

func calmSnapshot() domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Price:          100,
		Volatility:     5,
		Trend:          domain.TrendNeutral,
		VolumeRatio:    1,
		LiquidityScore: 0.5,
	}
}

func TestSizingMultiplierBounds(t *testing.T) {
	strat := baseStrategy()

	// Worst case: high volatility x thin liquidity would be 0.35, clamps to 0.5.
	snap := calmSnapshot()
	snap.Volatility = 15
	snap.LiquidityScore = 0.1
	assert.Equal(t, 0.5, SizingMultiplier(strat, snap))

	// Best case stays within 2.0.
	snap = calmSnapshot()
	snap.Volatility = 1
	snap.PriceChange24h = -15
	snap.LiquidityScore = 0.9
	m := SizingMultiplier(strat, snap)
	assert.LessOrEqual(t, m, 2.0)
	assert.GreaterOrEqual(t, m, 0.5)
}

func TestRecommendedAmount(t *testing.T) {
	t.Run("smart sizing disabled returns base amount", func(t *testing.T) {
		strat := baseStrategy()
		strat.SmartSizing = false
		snap := calmSnapshot()
		snap.PriceChange24h = -15

		got := RecommendedAmount(strat, snap)
		assert.Zero(t, got.Cmp(big.NewInt(1_000_000)))
		assert.NotSame(t, strat.BaseAmount, got, "must not alias the strategy amount")
	})

	t.Run("low volatility, sharp dip, deep liquidity", func(t *testing.T) {
		// 1.1 * 1.3 * 1.1 = 1.573, within bounds.
		strat := baseStrategy()
		snap := calmSnapshot()
		snap.Volatility = 1
		snap.PriceChange24h = -12
		snap.LiquidityScore = 0.9

		got := RecommendedAmount(strat, snap)
		assert.Zero(t, got.Cmp(big.NewInt(1_573_000)))
	})

	t.Run("moderate dip only", func(t *testing.T) {
		strat := baseStrategy()
		strat.VolatilityAdjust = false
		strat.LiquidityCheck = false
		snap := calmSnapshot()
		snap.PriceChange24h = -7

		got := RecommendedAmount(strat, snap)
		assert.Zero(t, got.Cmp(big.NewInt(1_150_000)))
	})

	t.Run("compound adjustments size exactly", func(t *testing.T) {
		// 1.1 * 1.15 * 1.1 = 1.3915 exactly; none of the factors are
		// binary-representable, so sizing through floats drifts.
		strat := baseStrategy()
		snap := calmSnapshot()
		snap.Volatility = 1
		snap.PriceChange24h = -7
		snap.LiquidityScore = 0.9

		got := RecommendedAmount(strat, snap)
		assert.Zero(t, got.Cmp(big.NewInt(1_391_500)))
	})

	t.Run("dip adjustment applies even with toggles off", func(t *testing.T) {
		strat := baseStrategy()
		strat.VolatilityAdjust = false
		strat.LiquidityCheck = false
		snap := calmSnapshot()
		snap.Volatility = 1 // would multiply if the toggle were on
		snap.PriceChange24h = -12

		got := RecommendedAmount(strat, snap)
		assert.Zero(t, got.Cmp(big.NewInt(1_300_000)))
	})
}

func TestEvaluate(t *testing.T) {
	logger := slog.Default()

	t.Run("no price data degrades to skip", func(t *testing.T) {
		eng := NewEngine(&stubAnalyzer{err: domain.ErrDataUnavailable}, logger)
		dec := eng.Evaluate(context.Background(), baseStrategy())

		assert.False(t, dec.ShouldExecute())
		assert.Equal(t, "no price data available", dec.Reason)
		assert.Zero(t, dec.Amount.Sign())
		assert.Zero(t, dec.Confidence)
	})

	t.Run("calm market executes at base-ish size", func(t *testing.T) {
		eng := NewEngine(&stubAnalyzer{snap: calmSnapshot()}, logger)
		dec := eng.Evaluate(context.Background(), baseStrategy())

		require.True(t, dec.ShouldExecute())
		assert.Zero(t, dec.Amount.Cmp(big.NewInt(1_000_000)))
		assert.Equal(t, "normal market conditions", dec.Reason)
		require.NotNil(t, dec.Snapshot)
		assert.Equal(t, domain.TrendNeutral, dec.Snapshot.Trend)
	})

	t.Run("liquidity floor vetoes a positive buy score", func(t *testing.T) {
		// Low volatility and a sharp drop push the score well above the
		// buy threshold, but the liquidity floor still blocks.
		snap := calmSnapshot()
		snap.Volatility = 1
		snap.PriceChange24h = -8
		snap.LiquidityScore = 0.15

		eng := NewEngine(&stubAnalyzer{snap: snap}, logger)
		dec := eng.Evaluate(context.Background(), baseStrategy())

		assert.False(t, dec.ShouldExecute())
		assert.Equal(t, "liquidity below execution floor", dec.Reason)
	})

	t.Run("liquidity at the floor boundary still vetoes", func(t *testing.T) {
		snap := calmSnapshot()
		snap.LiquidityScore = 0.2

		eng := NewEngine(&stubAnalyzer{snap: snap}, logger)
		dec := eng.Evaluate(context.Background(), baseStrategy())
		assert.False(t, dec.ShouldExecute())
	})
}
