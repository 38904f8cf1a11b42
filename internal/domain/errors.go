package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrDataUnavailable     = errors.New("market data unavailable")
	ErrNoPermission        = errors.New("no valid delegated permission")
	ErrPermissionExpired   = errors.New("delegated permission expired")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrLockHeld            = errors.New("lock already held")
	ErrTimeout             = errors.New("confirmation timeout")
	ErrTerminalExecution   = errors.New("execution already terminal")
	ErrInvalidStrategy     = errors.New("invalid strategy parameters")
)

// ChainRevertError is returned when an on-chain call reverts. Raw carries the
// decoded revert reason (or hex data when undecodable); Message is the
// user-facing text resolved from the revert catalog.
type ChainRevertError struct {
	Raw     string
	Message string
}

func (e *ChainRevertError) Error() string {
	switch {
	case e.Raw == "":
		return e.Message
	case e.Message == "":
		return "revert: " + e.Raw
	default:
		return fmt.Sprintf("%s (revert: %s)", e.Message, e.Raw)
	}
}
