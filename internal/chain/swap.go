package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/dcapilot/internal/domain"
)

const (
	// swapGasLimit is elevated over a plain transfer to cover the router's
	// multi-hop accounting.
	swapGasLimit = 600_000

	// swapDeadline bounds how long a signed swap stays valid in the mempool.
	swapDeadline = 5 * time.Minute

	bpsDenominator = 10_000
)

// Router function selectors, precomputed from the canonical signatures.
var (
	approveSelector       = ethcrypto.Keccak256([]byte("approve(address,uint256)"))[:4]
	getAmountsOutSelector = ethcrypto.Keccak256([]byte("getAmountsOut(uint256,address[])"))[:4]
	swapExactSelector     = ethcrypto.Keccak256([]byte("swapExactTokensForTokens(uint256,uint256,address[],address,uint256)"))[:4]
)

// SwapBuilder prepares calldata for a Uniswap-V2-compatible router. The
// minimum-out bound comes from the router's own spot quote haircut by the
// strategy's slippage tolerance, so the on-chain check rejects any fill worse
// than what the quote promised.
type SwapBuilder struct {
	client *Client
	router common.Address
}

var _ domain.SwapBuilder = (*SwapBuilder)(nil)

// NewSwapBuilder creates a SwapBuilder targeting the given router contract.
func NewSwapBuilder(client *Client, router string) *SwapBuilder {
	return &SwapBuilder{client: client, router: common.HexToAddress(router)}
}

// RouterAddress returns the router this builder targets.
func (b *SwapBuilder) RouterAddress() string {
	return b.router.Hex()
}

// BuildApprove prepares an ERC-20 approval of amount for the router.
func (b *SwapBuilder) BuildApprove(token string, amount *big.Int) (domain.Call, error) {
	if amount == nil || amount.Sign() <= 0 {
		return domain.Call{}, fmt.Errorf("chain: approve amount must be positive")
	}
	data := make([]byte, 0, 4+2*32)
	data = append(data, approveSelector...)
	data = append(data, common.LeftPadBytes(b.router.Bytes(), 32)...)
	data = append(data, bigIntTo32Bytes(amount)...)
	return domain.Call{To: token, Data: data}, nil
}

// BuildSwap quotes the pair on-chain and prepares
// swapExactTokensForTokens calldata with amountOutMin set to the quote minus
// the slippage tolerance.
func (b *SwapBuilder) BuildSwap(ctx context.Context, pair domain.Pair, amountIn *big.Int, slippageBps int, recipient string) (domain.Call, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return domain.Call{}, fmt.Errorf("chain: swap amount must be positive")
	}
	path := []common.Address{
		common.HexToAddress(pair.InputToken),
		common.HexToAddress(pair.OutputToken),
	}

	quoted, err := b.quote(ctx, amountIn, path)
	if err != nil {
		return domain.Call{}, err
	}

	// minOut = quoted * (10000 - slippageBps) / 10000
	minOut := new(big.Int).Mul(quoted, big.NewInt(int64(bpsDenominator-slippageBps)))
	minOut.Div(minOut, big.NewInt(bpsDenominator))

	deadline := big.NewInt(time.Now().Add(swapDeadline).Unix())
	data := encodeSwapExact(amountIn, minOut, path, common.HexToAddress(recipient), deadline)

	return domain.Call{
		To:       b.router.Hex(),
		Data:     data,
		GasLimit: swapGasLimit,
	}, nil
}

// quote calls getAmountsOut and returns the final leg of the returned array.
func (b *SwapBuilder) quote(ctx context.Context, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	data := make([]byte, 0, 4+32*(3+len(path)))
	data = append(data, getAmountsOutSelector...)
	data = append(data, bigIntTo32Bytes(amountIn)...)
	data = append(data, bigIntTo32Bytes(big.NewInt(64))...) // offset of address[]
	data = append(data, bigIntTo32Bytes(big.NewInt(int64(len(path))))...)
	for _, hop := range path {
		data = append(data, common.LeftPadBytes(hop.Bytes(), 32)...)
	}

	out, err := b.client.eth.CallContract(ctx, ethereum.CallMsg{
		To:   &b.router,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: quote %s: %w", path[0].Hex(), err)
	}
	// Return shape: offset, length, then one uint256 per hop.
	want := 32 * (2 + len(path))
	if len(out) < want {
		return nil, fmt.Errorf("chain: quote returned %d bytes, want %d", len(out), want)
	}
	last := out[len(out)-32:]
	quoted := new(big.Int).SetBytes(last)
	if quoted.Sign() <= 0 {
		return nil, fmt.Errorf("chain: router quoted zero output")
	}
	return quoted, nil
}

// encodeSwapExact ABI-encodes swapExactTokensForTokens. The dynamic path
// array sits after the five head words.
func encodeSwapExact(amountIn, minOut *big.Int, path []common.Address, to common.Address, deadline *big.Int) []byte {
	data := make([]byte, 0, 4+32*(6+len(path)))
	data = append(data, swapExactSelector...)
	data = append(data, bigIntTo32Bytes(amountIn)...)
	data = append(data, bigIntTo32Bytes(minOut)...)
	data = append(data, bigIntTo32Bytes(big.NewInt(5*32))...) // offset of address[]
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, bigIntTo32Bytes(deadline)...)
	data = append(data, bigIntTo32Bytes(big.NewInt(int64(len(path))))...)
	for _, hop := range path {
		data = append(data, common.LeftPadBytes(hop.Bytes(), 32)...)
	}
	return data
}
