package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/dcapilot/internal/domain"
)

// PermissionStore implements domain.PermissionStore using PostgreSQL.
type PermissionStore struct {
	pool *pgxpool.Pool
}

// NewPermissionStore creates a PermissionStore backed by the given pool.
func NewPermissionStore(pool *pgxpool.Pool) *PermissionStore {
	return &PermissionStore{pool: pool}
}

var _ domain.PermissionStore = (*PermissionStore)(nil)

// Create inserts a new delegated permission.
func (s *PermissionStore) Create(ctx context.Context, p domain.Permission) error {
	const query = `
		INSERT INTO permissions (
			id, user_id, delegate, kind, token, token_decimals,
			period_amount, period_seconds, expires_at, revoked_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.UserID, p.Delegate, string(p.Kind),
		p.Token, p.TokenDecimals,
		p.PeriodAmount.String(), int64(p.PeriodDuration.Seconds()),
		p.ExpiresAt, p.RevokedAt, createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create permission %s: %w", p.ID, err)
	}
	return nil
}

// ActivePermission returns the most recently created unexpired, unrevoked
// grant of the given kind. Older valid grants are shadowed, not merged.
func (s *PermissionStore) ActivePermission(ctx context.Context, userID string, kind domain.PermissionKind, now time.Time) (domain.Permission, error) {
	const query = `
		SELECT id, user_id, delegate, kind, token, token_decimals,
		       period_amount, period_seconds, expires_at, revoked_at, created_at
		FROM permissions
		WHERE user_id = $1 AND kind = $2
		  AND expires_at > $3
		  AND revoked_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1`

	var p domain.Permission
	var kindStr, periodAmount string
	var periodSeconds int64

	err := s.pool.QueryRow(ctx, query, userID, string(kind), now).Scan(
		&p.ID, &p.UserID, &p.Delegate, &kindStr, &p.Token, &p.TokenDecimals,
		&periodAmount, &periodSeconds, &p.ExpiresAt, &p.RevokedAt, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Permission{}, domain.ErrNotFound
		}
		return domain.Permission{}, fmt.Errorf("postgres: active permission for %s: %w", userID, err)
	}

	p.Kind = domain.PermissionKind(kindStr)
	p.PeriodDuration = time.Duration(periodSeconds) * time.Second
	p.PeriodAmount = new(big.Int)
	if _, ok := p.PeriodAmount.SetString(periodAmount, 10); !ok {
		return domain.Permission{}, fmt.Errorf("postgres: malformed period_amount %q on permission %s", periodAmount, p.ID)
	}
	return p, nil
}

// Revoke marks the permission revoked at the given instant.
func (s *PermissionStore) Revoke(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE permissions SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL`,
		at, id)
	if err != nil {
		return fmt.Errorf("postgres: revoke permission %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
