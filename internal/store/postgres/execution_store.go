package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/dcapilot/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
//
// Terminal rows are immutable at the SQL level: both Mark* statements guard
// on status = 'PENDING', so replays and racing pipelines cannot rewrite a
// settled record.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates an ExecutionStore backed by the given pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)

// Create inserts a new execution record.
func (s *ExecutionStore) Create(ctx context.Context, e domain.Execution) error {
	decisionJSON, err := json.Marshal(e.Decision)
	if err != nil {
		return fmt.Errorf("postgres: marshal decision for %s: %w", e.ID, err)
	}

	status := e.Status
	if status == "" {
		status = domain.StatusPending
	}
	recommended := "0"
	if e.RecommendedAmount != nil {
		recommended = e.RecommendedAmount.String()
	}

	const query = `
		INSERT INTO executions (
			id, strategy_id, user_id, decision, recommended_amount,
			status, tx_hash, error_message,
			price, volatility, liquidity_score, trend,
			realized_price, created_at, executed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12,
			$13, NOW(), $14
		)`

	_, err = s.pool.Exec(ctx, query,
		e.ID, e.StrategyID, e.UserID, decisionJSON, recommended,
		string(status), e.TxHash, e.ErrorMessage,
		e.Price, e.Volatility, e.LiquidityScore, string(e.Trend),
		e.RealizedPrice, e.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create execution %s: %w", e.ID, err)
	}
	return nil
}

const executionSelectCols = `id, strategy_id, user_id, decision, recommended_amount,
	status, tx_hash, error_message,
	price, volatility, liquidity_score, trend,
	realized_amount_in, realized_amount_out, realized_price,
	created_at, executed_at`

func scanExecution(scanner interface{ Scan(dest ...any) error }) (domain.Execution, error) {
	var e domain.Execution
	var decisionJSON []byte
	var recommended, status, trend string
	var realizedIn, realizedOut *string

	err := scanner.Scan(
		&e.ID, &e.StrategyID, &e.UserID, &decisionJSON, &recommended,
		&status, &e.TxHash, &e.ErrorMessage,
		&e.Price, &e.Volatility, &e.LiquidityScore, &trend,
		&realizedIn, &realizedOut, &e.RealizedPrice,
		&e.CreatedAt, &e.ExecutedAt,
	)
	if err != nil {
		return domain.Execution{}, err
	}

	if err := json.Unmarshal(decisionJSON, &e.Decision); err != nil {
		return domain.Execution{}, fmt.Errorf("unmarshal decision: %w", err)
	}
	e.Status = domain.ExecutionStatus(status)
	e.Trend = domain.Trend(trend)

	e.RecommendedAmount = new(big.Int)
	if _, ok := e.RecommendedAmount.SetString(recommended, 10); !ok {
		return domain.Execution{}, fmt.Errorf("malformed recommended_amount %q", recommended)
	}
	if realizedIn != nil {
		e.RealizedAmountIn = new(big.Int)
		e.RealizedAmountIn.SetString(*realizedIn, 10)
	}
	if realizedOut != nil {
		e.RealizedAmountOut = new(big.Int)
		e.RealizedAmountOut.SetString(*realizedOut, 10)
	}
	return e, nil
}

// GetByID retrieves a single execution.
func (s *ExecutionStore) GetByID(ctx context.Context, id string) (domain.Execution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+executionSelectCols+` FROM executions WHERE id = $1`, id)

	e, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Execution{}, domain.ErrNotFound
		}
		return domain.Execution{}, fmt.Errorf("postgres: get execution %s: %w", id, err)
	}
	return e, nil
}

// MarkExecuted transitions a PENDING row to EXECUTED with the realized fill.
func (s *ExecutionStore) MarkExecuted(ctx context.Context, id, txHash string, fill domain.TradeFill, realizedPrice float64, at time.Time) error {
	const query = `
		UPDATE executions SET
			status = 'EXECUTED',
			tx_hash = $1,
			realized_amount_in = $2,
			realized_amount_out = $3,
			realized_price = $4,
			executed_at = $5
		WHERE id = $6 AND status = 'PENDING'`

	tag, err := s.pool.Exec(ctx, query,
		txHash, fill.AmountIn.String(), fill.AmountOut.String(), realizedPrice, at, id)
	if err != nil {
		return fmt.Errorf("postgres: mark execution %s executed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionConflict(ctx, id)
	}
	return nil
}

// MarkFailed transitions a PENDING row to FAILED with a user-facing message.
func (s *ExecutionStore) MarkFailed(ctx context.Context, id, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE executions SET status = 'FAILED', error_message = $1
		 WHERE id = $2 AND status = 'PENDING'`,
		message, id)
	if err != nil {
		return fmt.Errorf("postgres: mark execution %s failed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionConflict(ctx, id)
	}
	return nil
}

// transitionConflict distinguishes a missing row from an already-terminal one.
func (s *ExecutionStore) transitionConflict(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM executions WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: check execution %s: %w", id, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrTerminalExecution
}

// SumExecutedSince totals recommended amounts over the user's EXECUTED rows
// with executed_at at or after since, across all strategies.
func (s *ExecutionStore) SumExecutedSince(ctx context.Context, userID string, since time.Time) (*big.Int, error) {
	const query = `
		SELECT COALESCE(SUM(recommended_amount::numeric), 0)::text
		FROM executions
		WHERE user_id = $1 AND status = 'EXECUTED' AND executed_at >= $2`

	var sumStr string
	if err := s.pool.QueryRow(ctx, query, userID, since).Scan(&sumStr); err != nil {
		return nil, fmt.Errorf("postgres: sum executed for %s: %w", userID, err)
	}

	sum := new(big.Int)
	if _, ok := sum.SetString(sumStr, 10); !ok {
		return nil, fmt.Errorf("postgres: malformed executed sum %q", sumStr)
	}
	return sum, nil
}

// ListByStrategy returns a strategy's executions, newest first.
func (s *ExecutionStore) ListByStrategy(ctx context.Context, strategyID string, opts domain.ListOpts) ([]domain.Execution, error) {
	query := `SELECT ` + executionSelectCols + ` FROM executions
		WHERE strategy_id = $1 ORDER BY created_at DESC`
	args := []any{strategyID}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions for %s: %w", strategyID, err)
	}
	defer rows.Close()

	return scanExecutionRows(rows)
}

// ListTerminalBefore returns terminal rows created before the cutoff, oldest
// first, for archival.
func (s *ExecutionStore) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Execution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+executionSelectCols+` FROM executions
		 WHERE status <> 'PENDING' AND created_at < $1
		 ORDER BY created_at ASC
		 LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list terminal executions: %w", err)
	}
	defer rows.Close()

	return scanExecutionRows(rows)
}

func scanExecutionRows(rows pgx.Rows) ([]domain.Execution, error) {
	var out []domain.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: execution rows: %w", err)
	}
	return out, nil
}
