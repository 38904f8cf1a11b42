package domain

import (
	"context"
	"math/big"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// StrategyStore persists DCA strategies.
type StrategyStore interface {
	Create(ctx context.Context, s Strategy) error
	GetByID(ctx context.Context, id string) (Strategy, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]Strategy, error)
	SetActive(ctx context.Context, id string, active bool) error
	// AdvanceNextCheck moves the strategy's next evaluation slot forward.
	// next must be strictly later than the current value.
	AdvanceNextCheck(ctx context.Context, id string, next time.Time) error
}

// PermissionStore persists delegated permissions.
type PermissionStore interface {
	Create(ctx context.Context, p Permission) error
	// ActivePermission returns the most recently created permission of the
	// given kind for the user that is valid at now (unexpired, unrevoked).
	// It returns ErrNotFound when no such grant exists.
	ActivePermission(ctx context.Context, userID string, kind PermissionKind, now time.Time) (Permission, error)
	Revoke(ctx context.Context, id string, at time.Time) error
}

// ExecutionStore persists execution records. Terminal rows are immutable:
// the Mark* methods only transition rows still in PENDING and return
// ErrTerminalExecution otherwise.
type ExecutionStore interface {
	Create(ctx context.Context, e Execution) error
	GetByID(ctx context.Context, id string) (Execution, error)
	MarkExecuted(ctx context.Context, id, txHash string, fill TradeFill, realizedPrice float64, at time.Time) error
	MarkFailed(ctx context.Context, id, message string) error
	// SumExecutedSince totals RecommendedAmount over the user's EXECUTED
	// rows with executed_at >= since, across all strategies.
	SumExecutedSince(ctx context.Context, userID string, since time.Time) (*big.Int, error)
	ListByStrategy(ctx context.Context, strategyID string, opts ListOpts) ([]Execution, error)
	// ListTerminalBefore returns terminal rows created before the cutoff,
	// oldest first, for archival.
	ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]Execution, error)
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}
