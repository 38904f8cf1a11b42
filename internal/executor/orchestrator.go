// Package executor drives the on-chain purchase pipeline for executions the
// decision engine has approved: fund the session signer, approve the router,
// swap, and reconcile the confirmed fill. The pipeline is linear and
// forward-only — once funds move it either completes or terminates FAILED;
// it never reverses a confirmed on-chain step.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/dcapilot/internal/domain"
)

// defaultLockTTL bounds how long a crashed pipeline can keep its session
// signer locked.
const defaultLockTTL = 2 * time.Minute

// Deps bundles the collaborators the orchestrator needs.
type Deps struct {
	Executions  domain.ExecutionStore
	Strategies  domain.StrategyStore
	Permissions domain.PermissionStore
	Balances    domain.BalanceReader
	Delegation  domain.DelegationExecutor
	Swaps       domain.SwapBuilder
	Fills       domain.FillParser
	Prices      domain.PriceFeed
	Locks       domain.LockManager
	Bus         domain.SignalBus
}

// Orchestrator runs the fund/approve/swap/reconcile pipeline.
type Orchestrator struct {
	deps    Deps
	logger  *slog.Logger
	lockTTL time.Duration

	// gasFloor, when set, triggers a native-token top-up of the session
	// signer from the native-periodic grant before trading.
	gasFloor *big.Int
}

// NewOrchestrator creates an Orchestrator over the given collaborators.
func NewOrchestrator(deps Deps, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		deps:    deps,
		logger:  logger.With(slog.String("component", "orchestrator")),
		lockTTL: defaultLockTTL,
	}
}

// SetGasFloor enables native gas top-ups: whenever the session signer's
// native balance is below floor at pipeline start, the shortfall is redeemed
// from the native-periodic grant.
func (o *Orchestrator) SetGasFloor(floor *big.Int) {
	o.gasFloor = floor
}

// SetLockTTL overrides the per-signer lock TTL. Must be called before use.
func (o *Orchestrator) SetLockTTL(ttl time.Duration) {
	o.lockTTL = ttl
}

// ExecuteSwap runs the pipeline for the given execution record. It never
// returns an error to the caller: every failure is caught, persisted on the
// record as a formatted message, and reflected in the result. A terminal
// record is never mutated; retries happen as new evaluation cycles.
func (o *Orchestrator) ExecuteSwap(ctx context.Context, executionID string) domain.SwapResult {
	log := o.logger.With(slog.String("execution_id", executionID))

	exec, err := o.deps.Executions.GetByID(ctx, executionID)
	if err != nil {
		log.ErrorContext(ctx, "load execution failed", slog.String("error", err.Error()))
		return domain.SwapResult{Err: fmt.Sprintf("load execution: %v", err)}
	}
	if exec.Status.Terminal() {
		log.WarnContext(ctx, "execution already terminal", slog.String("status", string(exec.Status)))
		return domain.SwapResult{Err: domain.ErrTerminalExecution.Error()}
	}
	if !exec.Decision.ShouldExecute() {
		return o.fail(ctx, exec, fmt.Errorf("decision does not call for execution"))
	}

	strat, err := o.deps.Strategies.GetByID(ctx, exec.StrategyID)
	if err != nil {
		return o.fail(ctx, exec, fmt.Errorf("load strategy %s: %w", exec.StrategyID, err))
	}

	// Resolve both delegated grants before touching funds. The fungible
	// grant covers the trade notional, the native one keeps the signer
	// funded for gas. Missing either aborts here.
	now := time.Now().UTC()
	spendPerm, err := o.deps.Permissions.ActivePermission(ctx, exec.UserID, domain.PermissionFungiblePeriodic, now)
	if err != nil {
		return o.fail(ctx, exec, fmt.Errorf("spend grant: %w", domain.ErrNoPermission))
	}
	gasPerm, err := o.deps.Permissions.ActivePermission(ctx, exec.UserID, domain.PermissionNativePeriodic, now)
	if err != nil {
		return o.fail(ctx, exec, fmt.Errorf("gas grant: %w", domain.ErrNoPermission))
	}
	if spendPerm.Delegate != gasPerm.Delegate {
		return o.fail(ctx, exec, fmt.Errorf("grants name different session signers: %w", domain.ErrNoPermission))
	}
	delegate := spendPerm.Delegate
	log = log.With(slog.String("delegate", delegate))

	// Concurrent pipelines sharing one signer would collide on nonces, so
	// the whole pipeline holds a per-signer lock.
	unlock, err := o.deps.Locks.Acquire(ctx, "signer:"+delegate, o.lockTTL)
	if err != nil {
		return o.fail(ctx, exec, err)
	}
	defer unlock()

	result, err := o.runPipeline(ctx, log, exec, strat, spendPerm, gasPerm, delegate)
	if err != nil {
		return o.fail(ctx, exec, err)
	}
	return result
}

// runPipeline executes the ordered steps. Each step waits for on-chain
// confirmation before the next one runs, so later steps observe the effects
// of earlier ones.
func (o *Orchestrator) runPipeline(
	ctx context.Context,
	log *slog.Logger,
	exec domain.Execution,
	strat domain.Strategy,
	spendPerm, gasPerm domain.Permission,
	delegate string,
) (domain.SwapResult, error) {
	amount := exec.RecommendedAmount
	if amount == nil || amount.Sign() <= 0 {
		return domain.SwapResult{}, fmt.Errorf("recommended amount must be positive")
	}
	pair := strat.Pair

	// Step 1: gas top-up, only when configured and the signer is running dry.
	if o.gasFloor != nil && o.gasFloor.Sign() > 0 {
		native, err := o.deps.Balances.Balance(ctx, delegate, "")
		if err != nil {
			return domain.SwapResult{}, fmt.Errorf("native balance: %w", err)
		}
		if native.Cmp(o.gasFloor) < 0 {
			topUp := new(big.Int).Sub(o.gasFloor, native)
			log.InfoContext(ctx, "funding gas", slog.String("amount", topUp.String()))
			if _, err := o.deps.Delegation.RedeemTransfer(ctx, delegate, gasPerm, topUp); err != nil {
				return domain.SwapResult{}, fmt.Errorf("gas funding: %w", err)
			}
		}
	}

	// Step 2: fund the trade notional. Redeem exactly the shortfall, never
	// the full amount — a prior partial success may have left funds on the
	// signer already, and re-pulling them would double-spend the cap.
	balance, err := o.deps.Balances.Balance(ctx, delegate, pair.InputToken)
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("input balance: %w", err)
	}
	if balance.Cmp(amount) < 0 {
		shortfall := new(big.Int).Sub(amount, balance)
		log.InfoContext(ctx, "funding trade",
			slog.String("shortfall", shortfall.String()),
			slog.String("balance", balance.String()),
		)
		if _, err := o.deps.Delegation.RedeemTransfer(ctx, delegate, spendPerm, shortfall); err != nil {
			return domain.SwapResult{}, fmt.Errorf("funding: %w", err)
		}
	} else {
		log.DebugContext(ctx, "signer already funded", slog.String("balance", balance.String()))
	}

	// Step 3: approve the router. The signer owns the funds outright now,
	// so this is signed with its own key, no delegation involved.
	approve, err := o.deps.Swaps.BuildApprove(pair.InputToken, amount)
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("build approve: %w", err)
	}
	if _, err := o.deps.Delegation.Submit(ctx, delegate, approve); err != nil {
		return domain.SwapResult{}, fmt.Errorf("approve: %w", err)
	}

	// Step 4: swap.
	swap, err := o.deps.Swaps.BuildSwap(ctx, pair, amount, strat.SlippageBps, delegate)
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("build swap: %w", err)
	}
	receipt, err := o.deps.Delegation.Submit(ctx, delegate, swap)
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("swap: %w", err)
	}
	log.InfoContext(ctx, "swap confirmed",
		slog.String("tx_hash", receipt.TxHash),
		slog.Uint64("gas_used", receipt.GasUsed),
	)

	// Step 5: reconcile from the confirmed logs — the realized amounts are
	// what actually moved, not what we asked for.
	fill, err := o.deps.Fills.ParseFill(receipt, pair, delegate)
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("reconcile: %w", err)
	}
	ref, err := o.deps.Prices.ReferencePrice(ctx, pair.QuoteSymbol)
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("reference price: %w", err)
	}
	realized := realizedPrice(fill, pair, ref.Price)

	executedAt := time.Now().UTC()
	if err := o.deps.Executions.MarkExecuted(ctx, exec.ID, receipt.TxHash, fill, realized, executedAt); err != nil {
		return domain.SwapResult{}, fmt.Errorf("persist executed: %w", err)
	}

	log.InfoContext(ctx, "execution completed",
		slog.String("tx_hash", receipt.TxHash),
		slog.String("amount_in", fill.AmountIn.String()),
		slog.String("amount_out", fill.AmountOut.String()),
		slog.Float64("realized_price", realized),
	)

	o.publish(ctx, domain.ExecutionEvent{
		ExecutionID:   exec.ID,
		StrategyID:    exec.StrategyID,
		UserID:        exec.UserID,
		Pair:          pair.Symbol(),
		Status:        domain.StatusExecuted,
		TxHash:        receipt.TxHash,
		AmountIn:      fill.AmountIn.String(),
		AmountOut:     fill.AmountOut.String(),
		RealizedPrice: realized,
		OccurredAt:    executedAt,
	})

	return domain.SwapResult{Success: true, TxHash: receipt.TxHash}, nil
}

// fail marks the execution FAILED with a user-facing message and publishes
// the terminal event. Store errors here are logged, not propagated — the
// caller already has a failure to report.
func (o *Orchestrator) fail(ctx context.Context, exec domain.Execution, cause error) domain.SwapResult {
	msg := FormatError(cause)

	o.logger.ErrorContext(ctx, "pipeline failed",
		slog.String("execution_id", exec.ID),
		slog.String("error", cause.Error()),
		slog.String("user_message", msg),
	)

	if err := o.deps.Executions.MarkFailed(ctx, exec.ID, msg); err != nil {
		o.logger.ErrorContext(ctx, "persist failure status failed",
			slog.String("execution_id", exec.ID),
			slog.String("error", err.Error()),
		)
	}

	o.publish(ctx, domain.ExecutionEvent{
		ExecutionID: exec.ID,
		StrategyID:  exec.StrategyID,
		UserID:      exec.UserID,
		Status:      domain.StatusFailed,
		Error:       msg,
		OccurredAt:  time.Now().UTC(),
	})

	return domain.SwapResult{Err: msg}
}

// publish emits the terminal event on the executions topic and appends it to
// the durable stream. Delivery problems are logged only; notification is
// best-effort and must not change the pipeline outcome.
func (o *Orchestrator) publish(ctx context.Context, event domain.ExecutionEvent) {
	if o.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := o.deps.Bus.Publish(ctx, domain.TopicExecutions, payload); err != nil {
		o.logger.WarnContext(ctx, "publish execution event failed",
			slog.String("execution_id", event.ExecutionID),
			slog.String("error", err.Error()),
		)
	}
	if err := o.deps.Bus.StreamAppend(ctx, domain.TopicExecutions, payload); err != nil {
		o.logger.WarnContext(ctx, "append execution event failed",
			slog.String("execution_id", event.ExecutionID),
			slog.String("error", err.Error()),
		)
	}
}

// realizedPrice computes the settlement price of the output asset in quote
// terms: (amountIn in display units x reference quote price) / amountOut in
// display units.
func realizedPrice(fill domain.TradeFill, pair domain.Pair, refPrice float64) float64 {
	if fill.AmountIn == nil || fill.AmountOut == nil || fill.AmountOut.Sign() == 0 {
		return 0
	}
	in := toDisplay(fill.AmountIn, pair.InputDecimals)
	out := toDisplay(fill.AmountOut, pair.OutputDecimals)
	if out == 0 {
		return 0
	}
	return in * refPrice / out
}

func toDisplay(amount *big.Int, decimals int) float64 {
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Quo(new(big.Float).SetInt(amount), scale).Float64()
	return out
}
