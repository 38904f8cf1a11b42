package domain

import (
	"math/big"
	"time"
)

// ExecutionStatus is the durable state of an execution record.
//
// Only PENDING -> {EXECUTED, FAILED, SKIPPED} transitions are durable; the
// funding/approving/swapping/reconciling sub-states of the pipeline are
// observable through logs only. Terminal records are never mutated again; a
// retry is a new evaluation cycle producing a new record.
type ExecutionStatus string

const (
	StatusPending  ExecutionStatus = "PENDING"
	StatusExecuted ExecutionStatus = "EXECUTED"
	StatusFailed   ExecutionStatus = "FAILED"
	StatusSkipped  ExecutionStatus = "SKIPPED"
)

// Terminal reports whether the status permits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusExecuted, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Execution is one record per evaluation cycle that produced a decision.
// The embedded decision snapshot is serialized for auditing; the Price,
// Volatility, LiquidityScore and Trend columns duplicate the snapshot's
// headline figures for cheap querying.
type Execution struct {
	ID                string
	StrategyID        string
	UserID            string
	Decision          ExecutionDecision
	RecommendedAmount *big.Int
	Status            ExecutionStatus
	TxHash            string
	ErrorMessage      string
	Price             float64
	Volatility        float64
	LiquidityScore    float64
	Trend             Trend
	RealizedAmountIn  *big.Int
	RealizedAmountOut *big.Int
	RealizedPrice     float64
	CreatedAt         time.Time
	ExecutedAt        *time.Time
}

// SwapResult is the orchestrator's terminal outcome for one pipeline run.
type SwapResult struct {
	Success bool
	TxHash  string
	Err     string
}

// TradeFill carries the realized amounts recovered from a confirmed swap's
// transfer logs. Realized values may differ from the requested amount due to
// slippage or partial fills.
type TradeFill struct {
	AmountIn  *big.Int
	AmountOut *big.Int
}
