// Package feed supplies market data for strategy evaluation: spot and
// historical prices, swap volume, and pool liquidity flows, fetched from an
// indexer API with a read-through cache in front of the slow series
// endpoints, plus a websocket stream for live prices.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/dcapilot/internal/domain"
)

// IndexerClient is the REST client for the market-data indexer API.
type IndexerClient struct {
	baseURL    string
	httpClient *http.Client
}

var (
	_ domain.PriceFeed = (*IndexerClient)(nil)
	_ domain.FlowFeed  = (*IndexerClient)(nil)
)

// NewIndexerClient creates a client for the indexer API root, e.g.
// "https://index.dcapilot.example".
func NewIndexerClient(baseURL string) *IndexerClient {
	return &IndexerClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type apiPrice struct {
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

type apiSeries struct {
	Prices []float64 `json:"prices"`
}

type apiVolume struct {
	Volume24h float64 `json:"volume_24h"`
	Volume7d  float64 `json:"volume_7d"`
	SwapCount int64   `json:"swap_count"`
}

type apiLiquidity struct {
	TotalLiquidity float64 `json:"total_liquidity"`
	NetFlow24h     float64 `json:"net_flow_24h"`
	NetFlow7d      float64 `json:"net_flow_7d"`
}

// CurrentPrice returns the latest spot price of the pair.
func (c *IndexerClient) CurrentPrice(ctx context.Context, pair domain.Pair) (domain.PricePoint, error) {
	path := fmt.Sprintf("/v1/pairs/%s/price", url.PathEscape(pairSlug(pair)))

	body, err := c.doGet(ctx, path)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("feed: current price %s: %w", pair.Symbol(), err)
	}

	var p apiPrice
	if err := json.Unmarshal(body, &p); err != nil {
		return domain.PricePoint{}, fmt.Errorf("feed: decode price: %w", err)
	}
	return domain.PricePoint{Price: p.Price, Timestamp: time.Unix(p.Timestamp, 0).UTC()}, nil
}

// HistoricalPrices returns hourly closing prices for the past N hours,
// ascending by time.
func (c *IndexerClient) HistoricalPrices(ctx context.Context, pair domain.Pair, hours int) ([]float64, error) {
	params := url.Values{}
	params.Set("hours", strconv.Itoa(hours))
	path := fmt.Sprintf("/v1/pairs/%s/history?%s", url.PathEscape(pairSlug(pair)), params.Encode())

	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("feed: history %s: %w", pair.Symbol(), err)
	}

	var s apiSeries
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("feed: decode history: %w", err)
	}
	return s.Prices, nil
}

// ReferencePrice returns the USD reference price for a single symbol.
func (c *IndexerClient) ReferencePrice(ctx context.Context, symbol string) (domain.PricePoint, error) {
	path := fmt.Sprintf("/v1/tokens/%s/price", url.PathEscape(symbol))

	body, err := c.doGet(ctx, path)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("feed: reference price %s: %w", symbol, err)
	}

	var p apiPrice
	if err := json.Unmarshal(body, &p); err != nil {
		return domain.PricePoint{}, fmt.Errorf("feed: decode reference price: %w", err)
	}
	return domain.PricePoint{Price: p.Price, Timestamp: time.Unix(p.Timestamp, 0).UTC()}, nil
}

// Volume24h returns recent swap volume for the pair.
func (c *IndexerClient) Volume24h(ctx context.Context, pair domain.Pair) (domain.VolumeStats, error) {
	path := fmt.Sprintf("/v1/pairs/%s/volume", url.PathEscape(pairSlug(pair)))

	body, err := c.doGet(ctx, path)
	if err != nil {
		return domain.VolumeStats{}, fmt.Errorf("feed: volume %s: %w", pair.Symbol(), err)
	}

	var v apiVolume
	if err := json.Unmarshal(body, &v); err != nil {
		return domain.VolumeStats{}, fmt.Errorf("feed: decode volume: %w", err)
	}
	return domain.VolumeStats{Volume24h: v.Volume24h, Volume7d: v.Volume7d, SwapCount: v.SwapCount}, nil
}

// PoolLiquidity returns pool depth and net flows for the pair.
func (c *IndexerClient) PoolLiquidity(ctx context.Context, pair domain.Pair) (domain.PoolLiquidity, error) {
	path := fmt.Sprintf("/v1/pairs/%s/liquidity", url.PathEscape(pairSlug(pair)))

	body, err := c.doGet(ctx, path)
	if err != nil {
		return domain.PoolLiquidity{}, fmt.Errorf("feed: liquidity %s: %w", pair.Symbol(), err)
	}

	var l apiLiquidity
	if err := json.Unmarshal(body, &l); err != nil {
		return domain.PoolLiquidity{}, fmt.Errorf("feed: decode liquidity: %w", err)
	}
	return domain.PoolLiquidity{
		TotalLiquidity: l.TotalLiquidity,
		NetFlow24h:     l.NetFlow24h,
		NetFlow7d:      l.NetFlow7d,
	}, nil
}

// pairSlug is the indexer's path form of a pair, e.g. "WETH-USDC".
func pairSlug(pair domain.Pair) string {
	return pair.BaseSymbol + "-" + pair.QuoteSymbol
}

// doGet sends an unauthenticated GET request to the indexer API.
func (c *IndexerClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, string(body))
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return fmt.Errorf("%w: HTTP %d", domain.ErrDataUnavailable, statusCode)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, string(body))
	}
}
