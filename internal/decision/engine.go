// Package decision converts market snapshots and strategy configuration
// into bounded trade recommendations. Evaluation is total: whatever goes
// wrong inside, the caller gets a skip decision back, never an error — the
// scheduler loop must not be abortable from here.
package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/dcapilot/internal/domain"
	"github.com/alanyoungcy/dcapilot/internal/indicator"
)

// Sizing multiplier bounds. Whatever the individual adjustments produce,
// the recommended amount stays within [0.5, 2.0] x baseAmount.
var (
	minMultiplier = big.NewRat(1, 2)
	maxMultiplier = big.NewRat(2, 1)
)

// liquidityFloor vetoes execution regardless of the buy score.
const liquidityFloor = 0.2

// MarketAnalyzer is the slice of the indicator engine the decision engine
// consumes.
type MarketAnalyzer interface {
	AnalyzeMarket(ctx context.Context, pair domain.Pair) (domain.MarketSnapshot, error)
}

// Engine produces execution decisions for strategies.
type Engine struct {
	analyzer MarketAnalyzer
	logger   *slog.Logger
}

// NewEngine creates a decision engine on top of the given market analyzer.
func NewEngine(analyzer MarketAnalyzer, logger *slog.Logger) *Engine {
	return &Engine{
		analyzer: analyzer,
		logger:   logger.With(slog.String("component", "decision")),
	}
}

// Evaluate produces the decision for one evaluation cycle of the strategy.
func (e *Engine) Evaluate(ctx context.Context, strat domain.Strategy) (dec domain.ExecutionDecision) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "evaluation panicked",
				slog.String("strategy_id", strat.ID),
				slog.Any("panic", r),
			)
			dec = domain.SkipDecision(fmt.Sprintf("evaluation failed: %v", r))
		}
	}()

	snap, err := e.analyzer.AnalyzeMarket(ctx, strat.Pair)
	if err != nil {
		if errors.Is(err, domain.ErrDataUnavailable) {
			return domain.SkipDecision("no price data available")
		}
		return domain.SkipDecision(err.Error())
	}

	amount := RecommendedAmount(strat, snap)
	buy := indicator.ShouldBuy(snap)

	// Liquidity below the floor vetoes execution even with a positive buy
	// score.
	if buy.Should && snap.LiquidityScore <= liquidityFloor {
		buy.Should = false
		buy.Reason = "liquidity below execution floor"
	}

	action := domain.DecisionSkip
	if buy.Should {
		action = domain.DecisionExecute
	}

	return domain.ExecutionDecision{
		Action:     action,
		Amount:     amount,
		Reason:     buy.Reason,
		Confidence: buy.Confidence,
		Snapshot:   &snap,
		CreatedAt:  time.Now().UTC(),
	}
}

// RecommendedAmount sizes the trade. Without smart sizing it is exactly the
// strategy's base amount; with it, the multiplier adjustments apply and the
// result is clamped to the bounds before flooring to an integer.
func RecommendedAmount(strat domain.Strategy, snap domain.MarketSnapshot) *big.Int {
	if !strat.SmartSizing {
		return new(big.Int).Set(strat.BaseAmount)
	}
	return applyMultiplier(strat.BaseAmount, sizingRatio(strat, snap))
}

// SizingMultiplier reports the smart-sizing multiplier as a float, for
// logging and score displays. Amount sizing itself never goes through this
// value; it uses the exact ratio.
func SizingMultiplier(strat domain.Strategy, snap domain.MarketSnapshot) float64 {
	f, _ := sizingRatio(strat, snap).Float64()
	return f
}

// sizingRatio computes the smart-sizing multiplier for the snapshot. The dip
// adjustment always applies; volatility and liquidity adjustments only when
// the corresponding strategy toggle is on. Adjustments are tracked in
// thousandths (x1.15 = 1150/1000) so the compound multiplier stays an exact
// rational instead of picking up binary rounding error.
func sizingRatio(strat domain.Strategy, snap domain.MarketSnapshot) *big.Rat {
	m := big.NewRat(1, 1)
	adjust := func(thousandths int64) {
		m.Mul(m, big.NewRat(thousandths, 1000))
	}

	if strat.VolatilityAdjust {
		if snap.Volatility < 2 {
			adjust(1100)
		} else if snap.Volatility > 10 {
			adjust(700)
		}
	}

	switch {
	case snap.PriceChange24h <= -10:
		adjust(1300)
	case snap.PriceChange24h <= -5:
		adjust(1150)
	}

	if strat.LiquidityCheck {
		if snap.LiquidityScore < 0.3 {
			adjust(500)
		} else if snap.LiquidityScore > 0.8 {
			adjust(1100)
		}
	}

	if m.Cmp(minMultiplier) < 0 {
		m.Set(minMultiplier)
	}
	if m.Cmp(maxMultiplier) > 0 {
		m.Set(maxMultiplier)
	}
	return m
}

// applyMultiplier scales base by the exact ratio m and floors to an integer.
func applyMultiplier(base *big.Int, m *big.Rat) *big.Int {
	out := new(big.Int).Mul(base, m.Num())
	return out.Quo(out, m.Denom())
}
