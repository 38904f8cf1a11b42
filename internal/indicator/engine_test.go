package indicator

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dcapilot/internal/domain"
)

func fptr(v float64) *float64 { return &v }

func TestVolatility(t *testing.T) {
	assert.Zero(t, Volatility(nil))
	assert.Zero(t, Volatility([]float64{100}))
	assert.Zero(t, Volatility([]float64{100, 100, 100}))
	assert.Zero(t, Volatility([]float64{1, -1}), "zero mean")

	// mean 100.25, population stddev ~1.479 -> CV ~1.475%
	got := Volatility([]float64{100, 102, 98, 101})
	assert.InDelta(t, 1.4753, got, 0.001)
}

func TestMovingAverage(t *testing.T) {
	assert.Nil(t, MovingAverage(nil, 7))
	assert.Nil(t, MovingAverage([]float64{1, 2, 3}, 7), "short series stays absent")
	assert.Nil(t, MovingAverage([]float64{1, 2, 3}, 0))

	got := MovingAverage([]float64{1, 2, 3, 4, 5}, 3)
	require.NotNil(t, got)
	assert.Equal(t, 4.0, *got)

	full := MovingAverage([]float64{2, 4, 6}, 3)
	require.NotNil(t, full)
	assert.Equal(t, 4.0, *full)
}

func TestTrendOf(t *testing.T) {
	// Either average absent -> neutral, regardless of price.
	assert.Equal(t, domain.TrendNeutral, TrendOf(1000, nil, nil))
	assert.Equal(t, domain.TrendNeutral, TrendOf(1000, fptr(900), nil))
	assert.Equal(t, domain.TrendNeutral, TrendOf(1000, nil, fptr(900)))

	assert.Equal(t, domain.TrendBullish, TrendOf(110, fptr(105), fptr(100)))
	assert.Equal(t, domain.TrendBearish, TrendOf(90, fptr(95), fptr(100)))

	// Ties never classify.
	assert.Equal(t, domain.TrendNeutral, TrendOf(110, fptr(100), fptr(100)))
	assert.Equal(t, domain.TrendNeutral, TrendOf(105, fptr(105), fptr(100)))
	// Price above a falling average is neutral, not bearish.
	assert.Equal(t, domain.TrendNeutral, TrendOf(99, fptr(95), fptr(100)))
}

func TestPriceChange24h(t *testing.T) {
	assert.Zero(t, PriceChange24h(100, nil))
	assert.Zero(t, PriceChange24h(100, []float64{0, 50}))
	assert.InDelta(t, 10.0, PriceChange24h(110, []float64{100, 105}), 1e-9)
	assert.InDelta(t, -12.0, PriceChange24h(88, []float64{100}), 1e-9)
}

func TestLiquidityScore(t *testing.T) {
	assert.Equal(t, 0.5, LiquidityScore(domain.PoolLiquidity{TotalLiquidity: 0, NetFlow24h: 500}))
	assert.Equal(t, 0.5, LiquidityScore(domain.PoolLiquidity{TotalLiquidity: -1}))

	// 0.5 + 0.06*(2%) + 0.04*(5%) = 0.5 + 0.12 + 0.2 = 0.82
	got := LiquidityScore(domain.PoolLiquidity{TotalLiquidity: 1000, NetFlow24h: 20, NetFlow7d: 50})
	assert.InDelta(t, 0.82, got, 1e-9)

	// Heavy outflow clamps at 0, heavy inflow at 1.
	assert.Equal(t, 0.0, LiquidityScore(domain.PoolLiquidity{TotalLiquidity: 100, NetFlow24h: -100}))
	assert.Equal(t, 1.0, LiquidityScore(domain.PoolLiquidity{TotalLiquidity: 100, NetFlow24h: 100}))
}

func TestVolumeRatio(t *testing.T) {
	assert.Equal(t, 1.0, VolumeRatio(domain.VolumeStats{Volume24h: 500}))
	assert.InDelta(t, 2.0, VolumeRatio(domain.VolumeStats{Volume24h: 200, Volume7d: 700}), 1e-9)
}

func TestShouldBuy(t *testing.T) {
	neutral := domain.MarketSnapshot{
		Volatility:     5,
		Trend:          domain.TrendNeutral,
		PriceChange24h: 0,
		VolumeRatio:    1,
		LiquidityScore: 0.5,
	}

	sig := ShouldBuy(neutral)
	assert.True(t, sig.Should)
	assert.InDelta(t, 0.5, sig.Confidence, 1e-9)
	assert.Equal(t, "normal market conditions", sig.Reason)

	t.Run("sharp drop in a calm market", func(t *testing.T) {
		snap := neutral
		snap.Volatility = 1
		snap.PriceChange24h = -8
		sig := ShouldBuy(snap)
		assert.True(t, sig.Should)
		assert.InDelta(t, 0.9, sig.Confidence, 1e-9)
		assert.Contains(t, sig.Reason, "low volatility")
		assert.Contains(t, sig.Reason, "sharp 24h drop")
	})

	t.Run("high volatility and thin liquidity veto", func(t *testing.T) {
		snap := neutral
		snap.Volatility = 15
		snap.LiquidityScore = 0.1
		sig := ShouldBuy(snap)
		assert.False(t, sig.Should)
		assert.InDelta(t, 0.1, sig.Confidence, 1e-9)
	})

	t.Run("bearish dip still scores as opportunity", func(t *testing.T) {
		snap := neutral
		snap.Trend = domain.TrendBearish
		sig := ShouldBuy(snap)
		assert.True(t, sig.Should)
		assert.InDelta(t, 0.6, sig.Confidence, 1e-9)
		assert.Contains(t, sig.Reason, "dip")
	})

	t.Run("confidence clamps to one", func(t *testing.T) {
		snap := neutral
		snap.Volatility = 1
		snap.Trend = domain.TrendBullish
		snap.PriceChange24h = -12
		snap.LiquidityScore = 0.9
		sig := ShouldBuy(snap)
		assert.True(t, sig.Should)
		assert.Equal(t, 1.0, sig.Confidence)
	})

	t.Run("volume spike subtracts", func(t *testing.T) {
		snap := neutral
		snap.VolumeRatio = 3
		sig := ShouldBuy(snap)
		assert.InDelta(t, 0.4, sig.Confidence, 1e-9)
		assert.False(t, sig.Should, "score must exceed the threshold, not meet it")
	})
}

type stubPriceFeed struct {
	price float64
	h24   []float64
	daily []float64
	err   error
}

func (s *stubPriceFeed) CurrentPrice(ctx context.Context, pair domain.Pair) (domain.PricePoint, error) {
	if s.err != nil {
		return domain.PricePoint{}, s.err
	}
	return domain.PricePoint{Price: s.price}, nil
}

func (s *stubPriceFeed) HistoricalPrices(ctx context.Context, pair domain.Pair, hours int) ([]float64, error) {
	if hours == 24 {
		return s.h24, nil
	}
	return s.daily, nil
}

func (s *stubPriceFeed) ReferencePrice(ctx context.Context, symbol string) (domain.PricePoint, error) {
	return domain.PricePoint{Price: 1}, nil
}

type stubFlowFeed struct {
	stats domain.VolumeStats
	pool  domain.PoolLiquidity
}

func (s *stubFlowFeed) Volume24h(ctx context.Context, pair domain.Pair) (domain.VolumeStats, error) {
	return s.stats, nil
}

func (s *stubFlowFeed) PoolLiquidity(ctx context.Context, pair domain.Pair) (domain.PoolLiquidity, error) {
	return s.pool, nil
}

func TestAnalyzeMarket(t *testing.T) {
	logger := slog.Default()
	pair := domain.Pair{BaseSymbol: "WETH", QuoteSymbol: "USDC", InputToken: "0x01", OutputToken: "0x02"}

	t.Run("short history keeps averages absent and trend neutral", func(t *testing.T) {
		prices := &stubPriceFeed{
			price: 101,
			h24:   []float64{100, 102, 98, 101},
			daily: []float64{100, 102, 98, 101}, // 4 samples, MA7 needs 7
		}
		eng := NewEngine(prices, &stubFlowFeed{pool: domain.PoolLiquidity{TotalLiquidity: 1000}}, logger)

		snap, err := eng.AnalyzeMarket(context.Background(), pair)
		require.NoError(t, err)
		assert.InDelta(t, 1.4753, snap.Volatility, 0.001)
		assert.Nil(t, snap.MA7)
		assert.Nil(t, snap.MA30)
		assert.Equal(t, domain.TrendNeutral, snap.Trend)
		assert.InDelta(t, 1.0, snap.PriceChange24h, 1e-9)
		assert.Equal(t, 0.5, snap.LiquidityScore)
	})

	t.Run("empty 24h series is a hard failure", func(t *testing.T) {
		eng := NewEngine(&stubPriceFeed{price: 101}, &stubFlowFeed{}, logger)
		_, err := eng.AnalyzeMarket(context.Background(), pair)
		require.ErrorIs(t, err, domain.ErrDataUnavailable)
	})

	t.Run("missing current price is a hard failure", func(t *testing.T) {
		eng := NewEngine(&stubPriceFeed{err: domain.ErrNotFound}, &stubFlowFeed{}, logger)
		_, err := eng.AnalyzeMarket(context.Background(), pair)
		require.ErrorIs(t, err, domain.ErrDataUnavailable)
	})
}
