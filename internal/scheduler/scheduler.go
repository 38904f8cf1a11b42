// Package scheduler drives the evaluation loop: it finds strategies whose
// slot has come up, gates them on the daily allowance, asks the decision
// engine what to do, and hands approved trades to the executor. One
// strategy's failure never blocks the rest of the batch, and every evaluated
// strategy has its next slot advanced whatever the outcome.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/dcapilot/internal/domain"
)

// defaultBatchSize bounds how many due strategies one tick picks up.
const defaultBatchSize = 100

// Evaluator is the slice of the decision engine the scheduler consumes.
type Evaluator interface {
	Evaluate(ctx context.Context, strat domain.Strategy) domain.ExecutionDecision
}

// AllowanceChecker gates evaluation on the user's remaining daily spend.
type AllowanceChecker interface {
	CheckDailyAllowance(ctx context.Context, userID string) (domain.AllowanceStatus, error)
}

// SwapExecutor runs the purchase pipeline for a pending execution record.
type SwapExecutor interface {
	ExecuteSwap(ctx context.Context, executionID string) domain.SwapResult
}

// Scheduler owns the periodic evaluation of all active strategies.
type Scheduler struct {
	strategies domain.StrategyStore
	executions domain.ExecutionStore
	allowance  AllowanceChecker
	decisions  Evaluator
	executor   SwapExecutor
	audit      domain.AuditStore
	logger     *slog.Logger

	batchSize int
	now       func() time.Time
}

// New creates a Scheduler over its collaborators. audit may be nil.
func New(
	strategies domain.StrategyStore,
	executions domain.ExecutionStore,
	allowance AllowanceChecker,
	decisions Evaluator,
	executor SwapExecutor,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		strategies: strategies,
		executions: executions,
		allowance:  allowance,
		decisions:  decisions,
		executor:   executor,
		audit:      audit,
		logger:     logger.With(slog.String("component", "scheduler")),
		batchSize:  defaultBatchSize,
		now:        time.Now,
	}
}

// SetBatchSize overrides how many due strategies one tick picks up.
func (s *Scheduler) SetBatchSize(n int) {
	if n > 0 {
		s.batchSize = n
	}
}

// Run ticks at the given interval until the context is cancelled. The first
// tick fires immediately.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	s.logger.InfoContext(ctx, "scheduler starting", slog.Duration("interval", interval))

	if err := s.Tick(ctx); err != nil {
		s.logger.ErrorContext(ctx, "tick failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.ErrorContext(ctx, "tick failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Tick evaluates every due strategy once, sequentially. Strategies are
// isolated from each other: a failure is logged against its own record and
// the loop moves on.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now().UTC()

	due, err := s.strategies.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("scheduler: list due strategies: %w", err)
	}
	if len(due) == 0 {
		return nil
	}
	s.logger.InfoContext(ctx, "evaluating due strategies", slog.Int("count", len(due)))

	for _, strat := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.evaluateOne(ctx, strat, now)
	}
	return nil
}

// evaluateOne runs one full cycle for a strategy: allowance gate, decision,
// execution record, and (when approved) the swap pipeline. The strategy's
// next slot is advanced in all cases, including failures, so a broken
// strategy cannot wedge the loop re-evaluating it every tick.
func (s *Scheduler) evaluateOne(ctx context.Context, strat domain.Strategy, now time.Time) {
	log := s.logger.With(
		slog.String("strategy_id", strat.ID),
		slog.String("pair", strat.Pair.Symbol()),
	)
	defer s.advance(ctx, log, strat, now)

	status, err := s.allowance.CheckDailyAllowance(ctx, strat.UserID)
	if err != nil {
		log.ErrorContext(ctx, "allowance check failed", slog.String("error", err.Error()))
		return
	}
	if !status.HasAllowance {
		reason := "daily spending allowance exhausted"
		if status.DailyLimit == 0 {
			reason = "no active spending permission"
		}
		s.recordSkip(ctx, log, strat, domain.SkipDecision(reason))
		return
	}

	dec := s.decisions.Evaluate(ctx, strat)
	if !dec.ShouldExecute() {
		s.recordSkip(ctx, log, strat, dec)
		return
	}

	exec := buildExecution(strat, dec, domain.StatusPending)
	if err := s.executions.Create(ctx, exec); err != nil {
		log.ErrorContext(ctx, "create execution failed", slog.String("error", err.Error()))
		return
	}

	result := s.executor.ExecuteSwap(ctx, exec.ID)
	if result.Success {
		log.InfoContext(ctx, "execution succeeded",
			slog.String("execution_id", exec.ID),
			slog.String("tx_hash", result.TxHash),
		)
	} else {
		log.WarnContext(ctx, "execution failed",
			slog.String("execution_id", exec.ID),
			slog.String("error", result.Err),
		)
	}

	s.auditLog(ctx, "execution_attempted", map[string]any{
		"execution_id": exec.ID,
		"strategy_id":  strat.ID,
		"user_id":      strat.UserID,
		"success":      result.Success,
		"tx_hash":      result.TxHash,
	})
}

// recordSkip persists a SKIPPED execution so the cycle is auditable even
// though nothing moved.
func (s *Scheduler) recordSkip(ctx context.Context, log *slog.Logger, strat domain.Strategy, dec domain.ExecutionDecision) {
	exec := buildExecution(strat, dec, domain.StatusSkipped)
	if err := s.executions.Create(ctx, exec); err != nil {
		log.ErrorContext(ctx, "record skip failed", slog.String("error", err.Error()))
		return
	}
	log.InfoContext(ctx, "strategy skipped", slog.String("reason", dec.Reason))

	s.auditLog(ctx, "execution_skipped", map[string]any{
		"execution_id": exec.ID,
		"strategy_id":  strat.ID,
		"user_id":      strat.UserID,
		"reason":       dec.Reason,
	})
}

// advance moves the strategy's slot forward from now by one interval. Since
// the strategy was due (slot <= now), the new slot is strictly later.
func (s *Scheduler) advance(ctx context.Context, log *slog.Logger, strat domain.Strategy, now time.Time) {
	next := now.Add(strat.Frequency.Interval())
	if err := s.strategies.AdvanceNextCheck(ctx, strat.ID, next); err != nil {
		log.ErrorContext(ctx, "advance next check failed", slog.String("error", err.Error()))
	}
}

func (s *Scheduler) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// buildExecution materializes an execution record from a decision, copying
// the snapshot's headline figures into queryable columns.
func buildExecution(strat domain.Strategy, dec domain.ExecutionDecision, status domain.ExecutionStatus) domain.Execution {
	exec := domain.Execution{
		ID:                uuid.New().String(),
		StrategyID:        strat.ID,
		UserID:            strat.UserID,
		Decision:          dec,
		RecommendedAmount: dec.Amount,
		Status:            status,
		CreatedAt:         time.Now().UTC(),
	}
	if status == domain.StatusSkipped {
		exec.ErrorMessage = dec.Reason
	}
	if snap := dec.Snapshot; snap != nil {
		exec.Price = snap.Price
		exec.Volatility = snap.Volatility
		exec.LiquidityScore = snap.LiquidityScore
		exec.Trend = snap.Trend
	}
	return exec
}
