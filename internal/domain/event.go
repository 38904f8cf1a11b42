package domain

import "time"

// TopicExecutions is the outbound signal-bus topic where terminal execution
// events are published. The notification layer and any external consumer
// subscribe here instead of being called by the orchestrator directly.
const TopicExecutions = "executions"

// ExecutionEvent is the payload published when an execution reaches a
// terminal state. Amounts are decimal strings in base units.
type ExecutionEvent struct {
	ExecutionID   string          `json:"execution_id"`
	StrategyID    string          `json:"strategy_id"`
	UserID        string          `json:"user_id"`
	Pair          string          `json:"pair"`
	Status        ExecutionStatus `json:"status"`
	TxHash        string          `json:"tx_hash,omitempty"`
	Error         string          `json:"error,omitempty"`
	AmountIn      string          `json:"amount_in,omitempty"`
	AmountOut     string          `json:"amount_out,omitempty"`
	RealizedPrice float64         `json:"realized_price,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
