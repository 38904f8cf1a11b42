// Package allowance gates strategy evaluation on the user's delegated daily
// spending cap. The cap is per-user: executed amounts across all of the
// user's strategies count against the same limit.
package allowance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/dcapilot/internal/domain"
)

// Tracker answers "may this user spend more today?".
type Tracker struct {
	perms  domain.PermissionStore
	execs  domain.ExecutionStore
	logger *slog.Logger
	now    func() time.Time
}

// NewTracker creates a Tracker over the permission and execution stores.
func NewTracker(perms domain.PermissionStore, execs domain.ExecutionStore, logger *slog.Logger) *Tracker {
	return &Tracker{
		perms:  perms,
		execs:  execs,
		logger: logger.With(slog.String("component", "allowance")),
		now:    time.Now,
	}
}

// CheckDailyAllowance resolves the user's authoritative fungible-periodic
// grant and compares today's executed spend (since midnight UTC) against the
// per-period cap. No valid grant means a zero limit and no allowance.
func (t *Tracker) CheckDailyAllowance(ctx context.Context, userID string) (domain.AllowanceStatus, error) {
	now := t.now().UTC()

	perm, err := t.perms.ActivePermission(ctx, userID, domain.PermissionFungiblePeriodic, now)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			t.logger.DebugContext(ctx, "no active spend permission",
				slog.String("user_id", userID),
			)
			return domain.AllowanceStatus{}, nil
		}
		return domain.AllowanceStatus{}, fmt.Errorf("allowance: active permission for %s: %w", userID, err)
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	spent, err := t.execs.SumExecutedSince(ctx, userID, midnight)
	if err != nil {
		return domain.AllowanceStatus{}, fmt.Errorf("allowance: sum executed for %s: %w", userID, err)
	}

	limit := perm.PeriodAmountDisplay()
	spentDisplay := toDisplay(spent, perm.TokenDecimals)

	remaining := limit - spentDisplay
	if remaining < 0 {
		remaining = 0
	}

	return domain.AllowanceStatus{
		HasAllowance: spentDisplay < limit,
		DailyLimit:   limit,
		SpentToday:   spentDisplay,
		Remaining:    remaining,
	}, nil
}

func toDisplay(amount *big.Int, decimals int) float64 {
	if amount == nil {
		return 0
	}
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Quo(new(big.Float).SetInt(amount), scale).Float64()
	return out
}
