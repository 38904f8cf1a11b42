package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/dcapilot/internal/domain"
)

// transferTopic is keccak256("Transfer(address,address,uint256)"), the topic0
// of every ERC-20 Transfer event.
var transferTopic = common.BytesToHash(ethcrypto.Keccak256([]byte("Transfer(address,address,uint256)"))).Hex()

// FillParser recovers the realized fill from a confirmed swap receipt by
// walking its ERC-20 Transfer logs. The receipt is the source of truth: the
// amounts persisted on the execution record come from here, never from the
// requested amount.
type FillParser struct{}

var _ domain.FillParser = FillParser{}

// ParseFill sums input-token transfers leaving the delegate and output-token
// transfers arriving at it. Multi-hop routes emit several transfers per
// token; summing keeps the totals right regardless of the route shape.
func (FillParser) ParseFill(receipt domain.Receipt, pair domain.Pair, delegate string) (domain.TradeFill, error) {
	if !receipt.Success {
		return domain.TradeFill{}, fmt.Errorf("chain: cannot parse fill from failed tx %s", receipt.TxHash)
	}

	delegateTopic := common.BytesToHash(common.HexToAddress(delegate).Bytes()).Hex()
	amountIn := new(big.Int)
	amountOut := new(big.Int)

	for _, lg := range receipt.Logs {
		if len(lg.Topics) != 3 || !strings.EqualFold(lg.Topics[0], transferTopic) {
			continue
		}
		if len(lg.Data) < 32 {
			continue
		}
		value := new(big.Int).SetBytes(lg.Data[:32])

		switch {
		case strings.EqualFold(lg.Address, pair.InputToken) && strings.EqualFold(lg.Topics[1], delegateTopic):
			amountIn.Add(amountIn, value)
		case strings.EqualFold(lg.Address, pair.OutputToken) && strings.EqualFold(lg.Topics[2], delegateTopic):
			amountOut.Add(amountOut, value)
		}
	}

	if amountOut.Sign() == 0 {
		return domain.TradeFill{}, fmt.Errorf("chain: tx %s has no %s transfer to the delegate", receipt.TxHash, pair.OutputToken)
	}
	return domain.TradeFill{AmountIn: amountIn, AmountOut: amountOut}, nil
}
