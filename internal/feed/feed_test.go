package feed

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dcapilot/internal/domain"
)

func testPair() domain.Pair {
	return domain.Pair{BaseSymbol: "WETH", QuoteSymbol: "USDC"}
}

func TestIndexerClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/pairs/WETH-USDC/price":
			w.Write([]byte(`{"price": 3021.5, "timestamp": 1756600000}`))
		case "/v1/pairs/WETH-USDC/history":
			assert.Equal(t, "24", r.URL.Query().Get("hours"))
			w.Write([]byte(`{"prices": [100, 102, 98, 101]}`))
		case "/v1/pairs/WETH-USDC/volume":
			w.Write([]byte(`{"volume_24h": 12000, "volume_7d": 42000, "swap_count": 317}`))
		case "/v1/pairs/WETH-USDC/liquidity":
			w.Write([]byte(`{"total_liquidity": 500000, "net_flow_24h": 10000, "net_flow_7d": 30000}`))
		case "/v1/tokens/USDC/price":
			w.Write([]byte(`{"price": 1.0, "timestamp": 1756600000}`))
		case "/v1/pairs/GONE-USDC/price":
			http.Error(w, "unknown pair", http.StatusNotFound)
		default:
			http.Error(w, "unexpected path "+r.URL.Path, http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := NewIndexerClient(srv.URL)
	ctx := context.Background()

	p, err := c.CurrentPrice(ctx, testPair())
	require.NoError(t, err)
	assert.Equal(t, 3021.5, p.Price)
	assert.False(t, p.Timestamp.IsZero())

	series, err := c.HistoricalPrices(ctx, testPair(), 24)
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 102, 98, 101}, series)

	vol, err := c.Volume24h(ctx, testPair())
	require.NoError(t, err)
	assert.Equal(t, int64(317), vol.SwapCount)

	liq, err := c.PoolLiquidity(ctx, testPair())
	require.NoError(t, err)
	assert.Equal(t, 500000.0, liq.TotalLiquidity)

	ref, err := c.ReferencePrice(ctx, "USDC")
	require.NoError(t, err)
	assert.Equal(t, 1.0, ref.Price)

	_, err = c.CurrentPrice(ctx, domain.Pair{BaseSymbol: "GONE", QuoteSymbol: "USDC"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// memoryCache is a map-backed HistoryCache for exercising the read-through
// wrapper without redis.
type memoryCache struct {
	series map[string][]float64
	spots  map[string]domain.PricePoint
}

func newMemoryCache() *memoryCache {
	return &memoryCache{
		series: make(map[string][]float64),
		spots:  make(map[string]domain.PricePoint),
	}
}

func (m *memoryCache) GetSeries(ctx context.Context, pair domain.Pair, hours int) ([]float64, error) {
	s, ok := m.series[pairSlug(pair)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s, nil
}

func (m *memoryCache) SetSeries(ctx context.Context, pair domain.Pair, hours int, series []float64) error {
	m.series[pairSlug(pair)] = series
	return nil
}

func (m *memoryCache) GetSpot(ctx context.Context, pair domain.Pair) (domain.PricePoint, error) {
	p, ok := m.spots[pairSlug(pair)]
	if !ok {
		return domain.PricePoint{}, domain.ErrNotFound
	}
	return p, nil
}

func (m *memoryCache) SetSpot(ctx context.Context, pair domain.Pair, p domain.PricePoint) error {
	m.spots[pairSlug(pair)] = p
	return nil
}

// countingFeed records upstream hits.
type countingFeed struct {
	spotCalls   int
	seriesCalls int
}

func (f *countingFeed) CurrentPrice(ctx context.Context, pair domain.Pair) (domain.PricePoint, error) {
	f.spotCalls++
	return domain.PricePoint{Price: 42}, nil
}

func (f *countingFeed) HistoricalPrices(ctx context.Context, pair domain.Pair, hours int) ([]float64, error) {
	f.seriesCalls++
	return []float64{1, 2, 3}, nil
}

func (f *countingFeed) ReferencePrice(ctx context.Context, symbol string) (domain.PricePoint, error) {
	return domain.PricePoint{Price: 1}, nil
}

func TestCachedPriceFeedReadThrough(t *testing.T) {
	upstream := &countingFeed{}
	cached := NewCachedPriceFeed(upstream, newMemoryCache(), slog.Default())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, err := cached.CurrentPrice(ctx, testPair())
		require.NoError(t, err)
		assert.Equal(t, 42.0, p.Price)
	}
	assert.Equal(t, 1, upstream.spotCalls, "second and third reads must hit the cache")

	for i := 0; i < 2; i++ {
		s, err := cached.HistoricalPrices(ctx, testPair(), 24)
		require.NoError(t, err)
		assert.Len(t, s, 3)
	}
	assert.Equal(t, 1, upstream.seriesCalls)
}

func TestPriceStreamHandlesTicks(t *testing.T) {
	s := NewPriceStream("ws://unused")

	var gotPair string
	var gotPrice float64
	s.OnTick(func(pair string, p domain.PricePoint) {
		gotPair = pair
		gotPrice = p.Price
	})

	s.handleMessage([]byte(`{"type":"tick","pair":"WETH-USDC","price":3050.25,"timestamp":1756600000}`))

	assert.Equal(t, "WETH-USDC", gotPair)
	assert.Equal(t, 3050.25, gotPrice)

	latest, ok := s.Latest(testPair())
	require.True(t, ok)
	assert.Equal(t, 3050.25, latest.Price)

	// Non-tick and malformed payloads are dropped without effect.
	s.handleMessage([]byte(`{"type":"hello"}`))
	s.handleMessage([]byte(`not json`))
	latest, ok = s.Latest(testPair())
	require.True(t, ok)
	assert.Equal(t, 3050.25, latest.Price)
}
