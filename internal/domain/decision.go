package domain

import (
	"math/big"
	"time"
)

// DecisionAction discriminates the two decision outcomes.
type DecisionAction string

const (
	DecisionExecute DecisionAction = "execute"
	DecisionSkip    DecisionAction = "skip"
)

// ExecutionDecision is the decision engine's verdict for one evaluation
// cycle. It is immutable once created. Amount is denominated in the smallest
// unit of the strategy's input token and is always non-nil and >= 0.
type ExecutionDecision struct {
	Action     DecisionAction  `json:"action"`
	Amount     *big.Int        `json:"amount"`
	Reason     string          `json:"reason"`
	Confidence float64         `json:"confidence"`
	Snapshot   *MarketSnapshot `json:"snapshot,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ShouldExecute reports whether the decision calls for a pipeline run.
func (d ExecutionDecision) ShouldExecute() bool {
	return d.Action == DecisionExecute
}

// SkipDecision builds a non-executing decision. The scheduler relies on
// decisions being total: every failure inside evaluation is expressed this
// way rather than as an error.
func SkipDecision(reason string) ExecutionDecision {
	return ExecutionDecision{
		Action:     DecisionSkip,
		Amount:     big.NewInt(0),
		Reason:     reason,
		Confidence: 0,
		CreatedAt:  time.Now().UTC(),
	}
}
