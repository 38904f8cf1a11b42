package domain

import (
	"math/big"
	"time"
)

// PermissionKind discriminates the two delegated-permission variants: a
// native-token periodic transfer grant (used to keep the session signer
// funded for gas) and a fungible-token periodic transfer grant (used to pull
// the trade notional from the principal's wallet).
type PermissionKind string

const (
	PermissionNativePeriodic   PermissionKind = "native-periodic"
	PermissionFungiblePeriodic PermissionKind = "fungible-periodic"
)

// Permission is a capped, time-boxed spending grant the principal has issued
// to a session signer. Token and TokenDecimals are only meaningful for the
// fungible variant. Among multiple valid grants of the same kind the most
// recently created one is authoritative.
type Permission struct {
	ID             string
	UserID         string
	Delegate       string // session signer address, hex
	Kind           PermissionKind
	Token          string // ERC-20 address, empty for native
	TokenDecimals  int
	PeriodAmount   *big.Int
	PeriodDuration time.Duration
	ExpiresAt      time.Time
	RevokedAt      *time.Time
	CreatedAt      time.Time
}

// IsNative reports whether the grant covers the chain's native token.
func (p Permission) IsNative() bool {
	return p.Kind == PermissionNativePeriodic
}

// ValidAt reports whether the grant is redeemable at the given instant:
// not expired and not revoked.
func (p Permission) ValidAt(t time.Time) bool {
	if !p.ExpiresAt.After(t) {
		return false
	}
	return p.RevokedAt == nil
}

// PeriodAmountDisplay converts the per-period cap from base units to display
// units using the permission's token decimals.
func (p Permission) PeriodAmountDisplay() float64 {
	if p.PeriodAmount == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(p.PeriodAmount),
		big.NewFloat(pow10(p.TokenDecimals)),
	).Float64()
	return f
}

func pow10(n int) float64 {
	out := 1.0
	for i := 0; i < n; i++ {
		out *= 10
	}
	return out
}
