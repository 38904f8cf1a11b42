package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dcapilot/internal/domain"
)

// balanceOfSelector is the 4-byte selector of balanceOf(address).
var balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}

// BalanceReader reads native and ERC-20 balances through the shared client.
type BalanceReader struct {
	client *Client
}

var _ domain.BalanceReader = (*BalanceReader)(nil)

// NewBalanceReader creates a BalanceReader over the given client.
func NewBalanceReader(client *Client) *BalanceReader {
	return &BalanceReader{client: client}
}

// Balance returns the latest confirmed balance of account. An empty token
// address reads the native balance; anything else is treated as an ERC-20
// contract.
func (r *BalanceReader) Balance(ctx context.Context, account, token string) (*big.Int, error) {
	addr := common.HexToAddress(account)

	if token == "" {
		bal, err := r.client.eth.BalanceAt(ctx, addr, nil)
		if err != nil {
			return nil, fmt.Errorf("chain: native balance of %s: %w", account, err)
		}
		return bal, nil
	}

	tokenAddr := common.HexToAddress(token)
	data := append(append([]byte{}, balanceOfSelector...), common.LeftPadBytes(addr.Bytes(), 32)...)

	out, err := r.client.eth.CallContract(ctx, ethereum.CallMsg{
		To:   &tokenAddr,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: balanceOf %s on %s: %w", account, token, err)
	}
	if len(out) < 32 {
		return nil, fmt.Errorf("chain: balanceOf %s: short return (%d bytes)", token, len(out))
	}
	return new(big.Int).SetBytes(out[:32]), nil
}
