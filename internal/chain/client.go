// Package chain adapts the EVM node interface to the executor's needs:
// balance reads, delegated transfers, router calldata, and fill
// reconciliation from confirmed receipts. All submissions are signed with the
// per-user session key and wait for inclusion before returning, so callers
// observe a strictly ordered pipeline.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/dcapilot/internal/domain"
)

const (
	// receiptPollInterval is how often a pending submission is re-checked.
	receiptPollInterval = 2 * time.Second

	// defaultConfirmTimeout bounds how long Submit waits for inclusion
	// before giving up with domain.ErrTimeout. The transaction may still
	// land afterwards; the record stays FAILED either way.
	defaultConfirmTimeout = 90 * time.Second
)

// Client wraps an ethclient connection with the chain ID and confirmation
// policy shared by every adapter in this package.
type Client struct {
	eth            *ethclient.Client
	chainID        *big.Int
	confirmTimeout time.Duration
	logger         *slog.Logger
}

// Dial connects to the JSON-RPC endpoint and pins the chain ID reported by
// the node.
func Dial(ctx context.Context, rpcURL string, logger *slog.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain: chain id: %w", err)
	}
	return &Client{
		eth:            eth,
		chainID:        chainID,
		confirmTimeout: defaultConfirmTimeout,
		logger:         logger.With(slog.String("component", "chain")),
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// ChainID returns the chain the client is pinned to.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// SetConfirmTimeout overrides the confirmation wait bound.
func (c *Client) SetConfirmTimeout(d time.Duration) {
	c.confirmTimeout = d
}

// waitMined polls for the receipt of hash until inclusion or the
// confirmation timeout. A reverted transaction is replayed as a call to
// recover the revert reason.
func (c *Client) waitMined(ctx context.Context, tx *types.Transaction, from common.Address) (domain.Receipt, error) {
	deadline := time.Now().Add(c.confirmTimeout)
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, tx.Hash())
		if err == nil {
			return c.finalize(ctx, tx, from, receipt)
		}
		if !errors.Is(err, ethereum.NotFound) {
			return domain.Receipt{}, fmt.Errorf("chain: receipt %s: %w", tx.Hash(), err)
		}
		if time.Now().After(deadline) {
			return domain.Receipt{}, fmt.Errorf("chain: tx %s: %w", tx.Hash(), domain.ErrTimeout)
		}
		select {
		case <-ctx.Done():
			return domain.Receipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// finalize converts a mined receipt into the domain shape, surfacing reverts
// as ChainRevertError with the decoded reason when the node exposes one.
func (c *Client) finalize(ctx context.Context, tx *types.Transaction, from common.Address, receipt *types.Receipt) (domain.Receipt, error) {
	out := domain.Receipt{
		TxHash:      tx.Hash().Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
		Success:     receipt.Status == types.ReceiptStatusSuccessful,
	}
	for _, lg := range receipt.Logs {
		topics := make([]string, 0, len(lg.Topics))
		for _, t := range lg.Topics {
			topics = append(topics, t.Hex())
		}
		out.Logs = append(out.Logs, domain.Log{
			Address: lg.Address.Hex(),
			Topics:  topics,
			Data:    lg.Data,
		})
	}
	if out.Success {
		return out, nil
	}

	raw := c.revertReason(ctx, tx, from, receipt.BlockNumber)
	return out, &domain.ChainRevertError{Raw: raw}
}

// revertReason replays the failed transaction as a call at its inclusion
// block and decodes the Error(string) payload. Returns hex data when the
// reason cannot be decoded, or empty when the node gives nothing back.
func (c *Client) revertReason(ctx context.Context, tx *types.Transaction, from common.Address, block *big.Int) string {
	msg := ethereum.CallMsg{
		From:  from,
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}
	_, err := c.eth.CallContract(ctx, msg, block)
	if err == nil {
		return ""
	}
	return decodeRevert(err)
}

// errorStringSelector is the 4-byte selector of Error(string).
var errorStringSelector = []byte{0x08, 0xc3, 0x79, 0xa0}

// decodeRevert extracts a human-readable reason from an RPC call error. Nodes
// differ: some embed the reason text in the message, others attach the raw
// return data.
func decodeRevert(err error) string {
	if de, ok := err.(interface{ ErrorData() interface{} }); ok {
		if hexData, ok := de.ErrorData().(string); ok {
			if reason, ok := decodeErrorString(hexData); ok {
				return reason
			}
			return hexData
		}
	}
	return err.Error()
}

// decodeErrorString ABI-decodes an Error(string) revert payload.
func decodeErrorString(hexData string) (string, bool) {
	data, err := hexutil.Decode(hexData)
	if err != nil || len(data) < 4+32+32 {
		return "", false
	}
	for i := range errorStringSelector {
		if data[i] != errorStringSelector[i] {
			return "", false
		}
	}
	body := data[4:]
	offset := new(big.Int).SetBytes(body[:32]).Uint64()
	if offset+32 > uint64(len(body)) {
		return "", false
	}
	length := new(big.Int).SetBytes(body[offset : offset+32]).Uint64()
	start := offset + 32
	if start+length > uint64(len(body)) {
		return "", false
	}
	return string(body[start : start+length]), true
}
