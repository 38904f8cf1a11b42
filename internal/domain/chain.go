package domain

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"time"
)

// Call is a prepared contract call: destination, calldata, attached native
// value, and an explicit gas limit. GasLimit zero means "let the executor
// pick"; the swap path always sets an elevated limit to cover smart-account
// verification overhead.
type Call struct {
	To       string
	Data     []byte
	Value    *big.Int
	GasLimit uint64
}

// Log is one event log from a confirmed transaction.
type Log struct {
	Address string
	Topics  []string
	Data    []byte
}

// Receipt is the confirmed outcome of a submitted transaction.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
	Success     bool
	Logs        []Log
}

// BalanceReader reads on-chain balances. An empty token address means the
// chain's native token.
type BalanceReader interface {
	Balance(ctx context.Context, account, token string) (*big.Int, error)
}

// DelegationExecutor drives on-chain calls on behalf of a session signer.
//
// RedeemTransfer exercises a delegated permission to move funds from the
// principal's wallet to the delegate; it is used only for the funding step.
// Submit signs a call with the delegate's own key — no permission involved —
// and waits for on-chain inclusion. Both block until the transaction is
// confirmed or the bounded wait expires (ErrTimeout).
type DelegationExecutor interface {
	RedeemTransfer(ctx context.Context, delegate string, perm Permission, amount *big.Int) (Receipt, error)
	Submit(ctx context.Context, delegate string, call Call) (Receipt, error)
}

// SwapBuilder prepares router calldata.
type SwapBuilder interface {
	// BuildSwap prepares the swap of amountIn of pair.InputToken into
	// pair.OutputToken for recipient, bounding slippage via the router's
	// minimum-out parameter.
	BuildSwap(ctx context.Context, pair Pair, amountIn *big.Int, slippageBps int, recipient string) (Call, error)
	// BuildApprove prepares an ERC-20 approval of amount for the router.
	BuildApprove(token string, amount *big.Int) (Call, error)
	// RouterAddress returns the swap router this builder targets.
	RouterAddress() string
}

// FillParser recovers realized trade amounts from a confirmed swap receipt's
// token-transfer logs.
type FillParser interface {
	ParseFill(receipt Receipt, pair Pair, delegate string) (TradeFill, error)
}

// SessionKeyStore reconstructs a session signer's private key from an
// encrypted store. Keys are decrypted transiently per invocation; callers
// must not retain, log, or persist the material.
type SessionKeyStore interface {
	Load(ctx context.Context, delegate string) (*ecdsa.PrivateKey, error)
}

// LockManager provides distributed locks. Acquire returns an unlock
// function, or ErrLockHeld when the lock is taken.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// SignalBus is the outbound messaging fabric: ephemeral pub/sub plus a
// durable, trimmed stream.
type SignalBus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}
