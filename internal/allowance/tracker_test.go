package allowance

import (
	"context"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dcapilot/internal/domain"
)

type stubPermStore struct {
	perm domain.Permission
	err  error
}

func (s *stubPermStore) Create(ctx context.Context, p domain.Permission) error { return nil }

func (s *stubPermStore) ActivePermission(ctx context.Context, userID string, kind domain.PermissionKind, now time.Time) (domain.Permission, error) {
	if s.err != nil {
		return domain.Permission{}, s.err
	}
	return s.perm, nil
}

func (s *stubPermStore) Revoke(ctx context.Context, id string, at time.Time) error { return nil }

type stubExecStore struct {
	sum       *big.Int
	lastSince time.Time
}

func (s *stubExecStore) Create(ctx context.Context, e domain.Execution) error { return nil }
func (s *stubExecStore) GetByID(ctx context.Context, id string) (domain.Execution, error) {
	return domain.Execution{}, domain.ErrNotFound
}
func (s *stubExecStore) MarkExecuted(ctx context.Context, id, txHash string, fill domain.TradeFill, realizedPrice float64, at time.Time) error {
	return nil
}
func (s *stubExecStore) MarkFailed(ctx context.Context, id, message string) error { return nil }
func (s *stubExecStore) SumExecutedSince(ctx context.Context, userID string, since time.Time) (*big.Int, error) {
	s.lastSince = since
	return s.sum, nil
}
func (s *stubExecStore) ListByStrategy(ctx context.Context, strategyID string, opts domain.ListOpts) ([]domain.Execution, error) {
	return nil, nil
}
func (s *stubExecStore) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Execution, error) {
	return nil, nil
}

func usdcPermission(periodAmount int64) domain.Permission {
	return domain.Permission{
		ID:             "perm-1",
		UserID:         "user-1",
		Delegate:       "0xdead",
		Kind:           domain.PermissionFungiblePeriodic,
		Token:          "0x01",
		TokenDecimals:  2,
		PeriodAmount:   big.NewInt(periodAmount),
		PeriodDuration: 24 * time.Hour,
		ExpiresAt:      time.Now().Add(24 * time.Hour),
		CreatedAt:      time.Now(),
	}
}

func TestCheckDailyAllowance(t *testing.T) {
	logger := slog.Default()

	t.Run("no permission means no allowance", func(t *testing.T) {
		tr := NewTracker(&stubPermStore{err: domain.ErrNotFound}, &stubExecStore{sum: big.NewInt(0)}, logger)
		st, err := tr.CheckDailyAllowance(context.Background(), "user-1")
		require.NoError(t, err)
		assert.False(t, st.HasAllowance)
		assert.Zero(t, st.DailyLimit)
	})

	t.Run("cap exactly reached blocks", func(t *testing.T) {
		// limit 100.00, spent 100.00
		tr := NewTracker(&stubPermStore{perm: usdcPermission(10_000)}, &stubExecStore{sum: big.NewInt(10_000)}, logger)
		st, err := tr.CheckDailyAllowance(context.Background(), "user-1")
		require.NoError(t, err)
		assert.False(t, st.HasAllowance)
		assert.Equal(t, 100.0, st.DailyLimit)
		assert.Equal(t, 100.0, st.SpentToday)
		assert.Zero(t, st.Remaining)
	})

	t.Run("a cent under the cap still allows", func(t *testing.T) {
		// limit 100.00, spent 99.99
		tr := NewTracker(&stubPermStore{perm: usdcPermission(10_000)}, &stubExecStore{sum: big.NewInt(9_999)}, logger)
		st, err := tr.CheckDailyAllowance(context.Background(), "user-1")
		require.NoError(t, err)
		assert.True(t, st.HasAllowance)
		assert.InDelta(t, 99.99, st.SpentToday, 1e-9)
		assert.InDelta(t, 0.01, st.Remaining, 1e-9)
	})

	t.Run("spend window starts at midnight UTC", func(t *testing.T) {
		execs := &stubExecStore{sum: big.NewInt(0)}
		tr := NewTracker(&stubPermStore{perm: usdcPermission(10_000)}, execs, logger)
		tr.now = func() time.Time {
			return time.Date(2026, 8, 31, 15, 42, 7, 0, time.FixedZone("CEST", 2*3600))
		}

		_, err := tr.CheckDailyAllowance(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), execs.lastSince)
	})
}
