package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/dcapilot/internal/domain"
)

// StrategyStore implements domain.StrategyStore using PostgreSQL.
type StrategyStore struct {
	pool *pgxpool.Pool
}

// NewStrategyStore creates a StrategyStore backed by the given pool.
func NewStrategyStore(pool *pgxpool.Pool) *StrategyStore {
	return &StrategyStore{pool: pool}
}

var _ domain.StrategyStore = (*StrategyStore)(nil)

// Create inserts a new strategy.
func (s *StrategyStore) Create(ctx context.Context, st domain.Strategy) error {
	if err := st.Validate(); err != nil {
		return err
	}

	const query = `
		INSERT INTO strategies (
			id, user_id, base_symbol, quote_symbol, input_token, output_token,
			input_decimals, output_decimals, frequency, base_amount,
			slippage_bps, smart_sizing, volatility_adjust, liquidity_check,
			is_active, next_check_time, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, NOW(), NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		st.ID, st.UserID,
		st.Pair.BaseSymbol, st.Pair.QuoteSymbol,
		st.Pair.InputToken, st.Pair.OutputToken,
		st.Pair.InputDecimals, st.Pair.OutputDecimals,
		string(st.Frequency), st.BaseAmount.String(),
		st.SlippageBps, st.SmartSizing, st.VolatilityAdjust, st.LiquidityCheck,
		st.IsActive, st.NextCheckTime,
	)
	if err != nil {
		return fmt.Errorf("postgres: create strategy %s: %w", st.ID, err)
	}
	return nil
}

const strategySelectCols = `id, user_id, base_symbol, quote_symbol,
	input_token, output_token, input_decimals, output_decimals,
	frequency, base_amount, slippage_bps,
	smart_sizing, volatility_adjust, liquidity_check,
	is_active, next_check_time, created_at, updated_at`

func scanStrategy(scanner interface{ Scan(dest ...any) error }) (domain.Strategy, error) {
	var st domain.Strategy
	var frequency, baseAmount string

	err := scanner.Scan(
		&st.ID, &st.UserID,
		&st.Pair.BaseSymbol, &st.Pair.QuoteSymbol,
		&st.Pair.InputToken, &st.Pair.OutputToken,
		&st.Pair.InputDecimals, &st.Pair.OutputDecimals,
		&frequency, &baseAmount, &st.SlippageBps,
		&st.SmartSizing, &st.VolatilityAdjust, &st.LiquidityCheck,
		&st.IsActive, &st.NextCheckTime, &st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		return domain.Strategy{}, err
	}

	st.Frequency = domain.Frequency(frequency)
	st.BaseAmount = new(big.Int)
	if _, ok := st.BaseAmount.SetString(baseAmount, 10); !ok {
		return domain.Strategy{}, fmt.Errorf("malformed base_amount %q", baseAmount)
	}
	return st, nil
}

// GetByID retrieves a single strategy.
func (s *StrategyStore) GetByID(ctx context.Context, id string) (domain.Strategy, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+strategySelectCols+` FROM strategies WHERE id = $1`, id)

	st, err := scanStrategy(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Strategy{}, domain.ErrNotFound
		}
		return domain.Strategy{}, fmt.Errorf("postgres: get strategy %s: %w", id, err)
	}
	return st, nil
}

// ListDue returns active strategies whose next evaluation slot has passed,
// oldest slot first.
func (s *StrategyStore) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Strategy, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+strategySelectCols+` FROM strategies
		 WHERE is_active AND next_check_time <= $1
		 ORDER BY next_check_time ASC
		 LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due strategies: %w", err)
	}
	defer rows.Close()

	var out []domain.Strategy
	for rows.Next() {
		st, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan due strategy: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list due strategies rows: %w", err)
	}
	return out, nil
}

// SetActive toggles whether the strategy is scheduled.
func (s *StrategyStore) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE strategies SET is_active = $1, updated_at = NOW() WHERE id = $2`,
		active, id)
	if err != nil {
		return fmt.Errorf("postgres: set strategy %s active: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AdvanceNextCheck moves the strategy's next evaluation slot forward. The
// guard in the WHERE clause keeps the slot strictly increasing even under
// concurrent schedulers.
func (s *StrategyStore) AdvanceNextCheck(ctx context.Context, id string, next time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE strategies SET next_check_time = $1, updated_at = NOW()
		 WHERE id = $2 AND next_check_time < $1`,
		next, id)
	if err != nil {
		return fmt.Errorf("postgres: advance strategy %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM strategies WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: advance strategy %s: %w", id, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return fmt.Errorf("postgres: advance strategy %s: next check %s is not later than the current slot", id, next)
	}
	return nil
}
