package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dcapilot/internal/domain"
)

type fakeStrategies struct {
	due      []domain.Strategy
	advanced map[string]time.Time
	listErr  error
}

func (f *fakeStrategies) Create(ctx context.Context, st domain.Strategy) error { return nil }
func (f *fakeStrategies) GetByID(ctx context.Context, id string) (domain.Strategy, error) {
	return domain.Strategy{}, domain.ErrNotFound
}
func (f *fakeStrategies) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Strategy, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.due, nil
}
func (f *fakeStrategies) SetActive(ctx context.Context, id string, active bool) error { return nil }
func (f *fakeStrategies) AdvanceNextCheck(ctx context.Context, id string, next time.Time) error {
	if f.advanced == nil {
		f.advanced = make(map[string]time.Time)
	}
	f.advanced[id] = next
	return nil
}

type fakeExecutions struct {
	created   []domain.Execution
	createErr error
}

func (f *fakeExecutions) Create(ctx context.Context, e domain.Execution) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, e)
	return nil
}
func (f *fakeExecutions) GetByID(ctx context.Context, id string) (domain.Execution, error) {
	return domain.Execution{}, domain.ErrNotFound
}
func (f *fakeExecutions) MarkExecuted(ctx context.Context, id, txHash string, fill domain.TradeFill, realizedPrice float64, at time.Time) error {
	return nil
}
func (f *fakeExecutions) MarkFailed(ctx context.Context, id, message string) error { return nil }
func (f *fakeExecutions) SumExecutedSince(ctx context.Context, userID string, since time.Time) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeExecutions) ListByStrategy(ctx context.Context, strategyID string, opts domain.ListOpts) ([]domain.Execution, error) {
	return nil, nil
}
func (f *fakeExecutions) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Execution, error) {
	return nil, nil
}

type fakeAllowance struct {
	status map[string]domain.AllowanceStatus
	err    error
}

func (f *fakeAllowance) CheckDailyAllowance(ctx context.Context, userID string) (domain.AllowanceStatus, error) {
	if f.err != nil {
		return domain.AllowanceStatus{}, f.err
	}
	return f.status[userID], nil
}

type fakeEvaluator struct {
	decisions map[string]domain.ExecutionDecision
	calls     []string
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, strat domain.Strategy) domain.ExecutionDecision {
	f.calls = append(f.calls, strat.ID)
	return f.decisions[strat.ID]
}

type fakeExecutor struct {
	executed []string
	result   domain.SwapResult
}

func (f *fakeExecutor) ExecuteSwap(ctx context.Context, executionID string) domain.SwapResult {
	f.executed = append(f.executed, executionID)
	return f.result
}

func dueStrategy(id, userID string) domain.Strategy {
	return domain.Strategy{
		ID:         id,
		UserID:     userID,
		Pair:       domain.Pair{BaseSymbol: "WETH", QuoteSymbol: "USDC", InputToken: "0x01", OutputToken: "0x02"},
		Frequency:  domain.FrequencyDaily,
		BaseAmount: big.NewInt(1_000_000),
		IsActive:   true,
	}
}

func executeDecision(amount int64) domain.ExecutionDecision {
	return domain.ExecutionDecision{
		Action:     domain.DecisionExecute,
		Amount:     big.NewInt(amount),
		Reason:     "sharp drop detected",
		Confidence: 0.9,
		Snapshot:   &domain.MarketSnapshot{Price: 3000, Volatility: 1.2, LiquidityScore: 0.8, Trend: domain.TrendNeutral},
		CreatedAt:  time.Now().UTC(),
	}
}

func allowanceOK() *fakeAllowance {
	return &fakeAllowance{status: map[string]domain.AllowanceStatus{
		"user-1": {HasAllowance: true, DailyLimit: 100, Remaining: 100},
	}}
}

func newScheduler(strats *fakeStrategies, execs *fakeExecutions, allow *fakeAllowance, eval *fakeEvaluator, exec *fakeExecutor) *Scheduler {
	return New(strats, execs, allow, eval, exec, nil, slog.Default())
}

func TestTickExecutesApprovedStrategy(t *testing.T) {
	strats := &fakeStrategies{due: []domain.Strategy{dueStrategy("s1", "user-1")}}
	execs := &fakeExecutions{}
	eval := &fakeEvaluator{decisions: map[string]domain.ExecutionDecision{"s1": executeDecision(1_000_000)}}
	executor := &fakeExecutor{result: domain.SwapResult{Success: true, TxHash: "0xabc"}}

	sched := newScheduler(strats, execs, allowanceOK(), eval, executor)
	require.NoError(t, sched.Tick(context.Background()))

	require.Len(t, execs.created, 1)
	created := execs.created[0]
	assert.Equal(t, domain.StatusPending, created.Status)
	assert.Equal(t, "s1", created.StrategyID)
	assert.Equal(t, 3000.0, created.Price, "snapshot headline columns are copied")
	require.Len(t, executor.executed, 1)
	assert.Equal(t, created.ID, executor.executed[0])
}

func TestTickRecordsSkipWithoutExecuting(t *testing.T) {
	strats := &fakeStrategies{due: []domain.Strategy{dueStrategy("s1", "user-1")}}
	execs := &fakeExecutions{}
	eval := &fakeEvaluator{decisions: map[string]domain.ExecutionDecision{
		"s1": domain.SkipDecision("high volatility and thin liquidity"),
	}}
	executor := &fakeExecutor{}

	sched := newScheduler(strats, execs, allowanceOK(), eval, executor)
	require.NoError(t, sched.Tick(context.Background()))

	require.Len(t, execs.created, 1)
	assert.Equal(t, domain.StatusSkipped, execs.created[0].Status)
	assert.Equal(t, "high volatility and thin liquidity", execs.created[0].ErrorMessage)
	assert.Empty(t, executor.executed)
}

func TestTickAllowanceGateShortCircuitsEvaluation(t *testing.T) {
	strats := &fakeStrategies{due: []domain.Strategy{dueStrategy("s1", "user-1")}}
	execs := &fakeExecutions{}
	allow := &fakeAllowance{status: map[string]domain.AllowanceStatus{
		"user-1": {HasAllowance: false, DailyLimit: 100, SpentToday: 100},
	}}
	eval := &fakeEvaluator{}
	executor := &fakeExecutor{}

	sched := newScheduler(strats, execs, allow, eval, executor)
	require.NoError(t, sched.Tick(context.Background()))

	assert.Empty(t, eval.calls, "no market evaluation when the cap is spent")
	assert.Empty(t, executor.executed)
	require.Len(t, execs.created, 1)
	assert.Equal(t, domain.StatusSkipped, execs.created[0].Status)
	assert.Equal(t, "daily spending allowance exhausted", execs.created[0].ErrorMessage)
}

func TestTickNoPermissionReason(t *testing.T) {
	strats := &fakeStrategies{due: []domain.Strategy{dueStrategy("s1", "user-1")}}
	execs := &fakeExecutions{}
	allow := &fakeAllowance{status: map[string]domain.AllowanceStatus{}} // zero status
	sched := newScheduler(strats, execs, allow, &fakeEvaluator{}, &fakeExecutor{})

	require.NoError(t, sched.Tick(context.Background()))
	require.Len(t, execs.created, 1)
	assert.Equal(t, "no active spending permission", execs.created[0].ErrorMessage)
}

func TestTickIsolatesFailingStrategies(t *testing.T) {
	strats := &fakeStrategies{due: []domain.Strategy{
		dueStrategy("s1", "user-broken"),
		dueStrategy("s2", "user-1"),
	}}
	execs := &fakeExecutions{}
	allow := allowanceOK()
	allow.status["user-broken"] = domain.AllowanceStatus{}
	eval := &fakeEvaluator{decisions: map[string]domain.ExecutionDecision{"s2": executeDecision(500)}}
	executor := &fakeExecutor{result: domain.SwapResult{Success: true}}

	// user-broken has a zero status (skip); s2 must still execute.
	sched := newScheduler(strats, execs, allow, eval, executor)
	require.NoError(t, sched.Tick(context.Background()))

	assert.Len(t, executor.executed, 1)
	assert.Contains(t, strats.advanced, "s1")
	assert.Contains(t, strats.advanced, "s2")
}

func TestTickAdvancesSlotOnEveryOutcome(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	strats := &fakeStrategies{due: []domain.Strategy{dueStrategy("s1", "user-1")}}
	execs := &fakeExecutions{createErr: errors.New("db down")}
	eval := &fakeEvaluator{decisions: map[string]domain.ExecutionDecision{"s1": executeDecision(500)}}
	executor := &fakeExecutor{}

	sched := newScheduler(strats, execs, allowanceOK(), eval, executor)
	sched.now = func() time.Time { return now }
	require.NoError(t, sched.Tick(context.Background()))

	// Create failed, nothing executed, but the slot still moved one interval.
	assert.Empty(t, executor.executed)
	require.Contains(t, strats.advanced, "s1")
	assert.Equal(t, now.Add(24*time.Hour), strats.advanced["s1"])
}

func TestTickPropagatesListError(t *testing.T) {
	strats := &fakeStrategies{listErr: errors.New("connection refused")}
	sched := newScheduler(strats, &fakeExecutions{}, allowanceOK(), &fakeEvaluator{}, &fakeExecutor{})
	assert.Error(t, sched.Tick(context.Background()))
}
