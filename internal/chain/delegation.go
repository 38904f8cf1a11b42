package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/dcapilot/internal/domain"
)

// redeemGasLimit covers the delegation manager's verification overhead on
// top of the plain transfer.
const redeemGasLimit = 300_000

// redeemSelector is the 4-byte selector of
// redeem(address token,address recipient,uint256 amount). The manager
// resolves the active grant from msg.sender, so the permission itself never
// travels in calldata. A zero token address redeems native funds.
var redeemSelector = ethcrypto.Keccak256([]byte("redeem(address,address,uint256)"))[:4]

// Delegation submits transactions signed with per-user session keys. Every
// submission waits for inclusion, so two calls in sequence are strictly
// ordered on-chain.
type Delegation struct {
	client  *Client
	keys    domain.SessionKeyStore
	manager common.Address
	logger  *slog.Logger
}

var _ domain.DelegationExecutor = (*Delegation)(nil)

// NewDelegation creates a Delegation targeting the given permission-manager
// contract.
func NewDelegation(client *Client, keys domain.SessionKeyStore, manager string, logger *slog.Logger) *Delegation {
	return &Delegation{
		client:  client,
		keys:    keys,
		manager: common.HexToAddress(manager),
		logger:  logger.With(slog.String("component", "delegation")),
	}
}

// RedeemTransfer exercises the delegated permission: it asks the manager
// contract to move amount from the principal's wallet to the delegate. The
// delegate's own session key signs the redemption.
func (d *Delegation) RedeemTransfer(ctx context.Context, delegate string, perm domain.Permission, amount *big.Int) (domain.Receipt, error) {
	token := common.Address{}
	if !perm.IsNative() {
		token = common.HexToAddress(perm.Token)
	}

	data := make([]byte, 0, 4+3*32)
	data = append(data, redeemSelector...)
	data = append(data, common.LeftPadBytes(token.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(delegate).Bytes(), 32)...)
	data = append(data, bigIntTo32Bytes(amount)...)

	d.logger.InfoContext(ctx, "redeeming delegated transfer",
		slog.String("delegate", delegate),
		slog.String("permission_id", perm.ID),
		slog.String("amount", amount.String()),
	)

	return d.Submit(ctx, delegate, domain.Call{
		To:       d.manager.Hex(),
		Data:     data,
		GasLimit: redeemGasLimit,
	})
}

// Submit signs call with the delegate's session key, sends it, and waits for
// inclusion. The key is loaded transiently per call and never cached here.
func (d *Delegation) Submit(ctx context.Context, delegate string, call domain.Call) (domain.Receipt, error) {
	key, err := d.keys.Load(ctx, delegate)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("chain: session key for %s: %w", delegate, err)
	}
	from := ethcrypto.PubkeyToAddress(key.PublicKey)
	if !strings.EqualFold(from.Hex(), delegate) {
		return domain.Receipt{}, fmt.Errorf("chain: session key resolves to %s, want %s", from.Hex(), delegate)
	}

	nonce, err := d.client.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("chain: nonce for %s: %w", delegate, err)
	}
	tip, err := d.client.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("chain: gas tip: %w", err)
	}
	head, err := d.client.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("chain: head: %w", err)
	}
	// Fee cap leaves room for the base fee to double before inclusion, so
	// short congestion spikes do not strand the transaction.
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	to := common.HexToAddress(call.To)
	value := call.Value
	if value == nil {
		value = big.NewInt(0)
	}

	gasLimit := call.GasLimit
	if gasLimit == 0 {
		gasLimit, err = d.estimateGas(ctx, from, to, value, call.Data)
		if err != nil {
			return domain.Receipt{}, err
		}
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   d.client.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      call.Data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(d.client.chainID), key)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("chain: sign tx: %w", err)
	}
	if err := d.client.eth.SendTransaction(ctx, signed); err != nil {
		return domain.Receipt{}, fmt.Errorf("chain: send tx: %w", err)
	}

	d.logger.InfoContext(ctx, "transaction submitted",
		slog.String("tx_hash", signed.Hash().Hex()),
		slog.String("to", call.To),
		slog.Uint64("nonce", nonce),
	)

	return d.client.waitMined(ctx, signed, from)
}

// estimateGas pads the node's estimate by 20% to absorb state drift between
// estimation and inclusion.
func (d *Delegation) estimateGas(ctx context.Context, from, to common.Address, value *big.Int, data []byte) (uint64, error) {
	est, err := d.client.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return 0, fmt.Errorf("chain: estimate gas: %w", err)
	}
	return est + est/5, nil
}

// bigIntTo32Bytes returns the 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}
