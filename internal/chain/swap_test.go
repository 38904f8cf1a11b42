package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildApprove(t *testing.T) {
	b := &SwapBuilder{router: common.HexToAddress("0x7a250d5630b4cf539739df2c5dacb4c659f2488d")}

	call, err := b.BuildApprove("0x2222222222222222222222222222222222222222", big.NewInt(1_000_000))
	require.NoError(t, err)

	require.Len(t, call.Data, 4+64)
	assert.Equal(t, approveSelector, call.Data[:4])
	assert.Equal(t, b.router.Bytes(), call.Data[4+12:4+32], "spender is the router")
	assert.Zero(t, new(big.Int).SetBytes(call.Data[36:]).Cmp(big.NewInt(1_000_000)))

	_, err = b.BuildApprove("0x22", nil)
	assert.Error(t, err)
}

func TestEncodeSwapExactLayout(t *testing.T) {
	path := []common.Address{
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
		common.HexToAddress("0x3333333333333333333333333333333333333333"),
	}
	to := common.HexToAddress("0x1111111111111111111111111111111111111111")
	data := encodeSwapExact(big.NewInt(1000), big.NewInt(990), path, to, big.NewInt(1_700_000_000))

	require.Len(t, data, 4+32*8)
	assert.Equal(t, swapExactSelector, data[:4])

	word := func(i int) []byte { return data[4+32*i : 4+32*(i+1)] }
	assert.Zero(t, new(big.Int).SetBytes(word(0)).Cmp(big.NewInt(1000)), "amountIn")
	assert.Zero(t, new(big.Int).SetBytes(word(1)).Cmp(big.NewInt(990)), "amountOutMin")
	assert.Zero(t, new(big.Int).SetBytes(word(2)).Cmp(big.NewInt(160)), "path offset")
	assert.Equal(t, to.Bytes(), word(3)[12:], "recipient")
	assert.Zero(t, new(big.Int).SetBytes(word(4)).Cmp(big.NewInt(1_700_000_000)), "deadline")
	assert.Zero(t, new(big.Int).SetBytes(word(5)).Cmp(big.NewInt(2)), "path length")
	assert.Equal(t, path[0].Bytes(), word(6)[12:])
	assert.Equal(t, path[1].Bytes(), word(7)[12:])
}

func TestSelectors(t *testing.T) {
	// Pinned against the canonical 4-byte IDs so a signature typo cannot
	// slip through silently.
	assert.Equal(t, "0x095ea7b3", hexutil.Encode(approveSelector))
	assert.Equal(t, "0xd06ca61f", hexutil.Encode(getAmountsOutSelector))
	assert.Equal(t, "0x38ed1739", hexutil.Encode(swapExactSelector))
	assert.Equal(t, "0x70a08231", hexutil.Encode(balanceOfSelector))
}

func TestDecodeErrorString(t *testing.T) {
	// abi.encodeWithSelector(Error(string), "Too little received")
	payload := "0x08c379a0" +
		"0000000000000000000000000000000000000000000000000000000000000020" +
		"0000000000000000000000000000000000000000000000000000000000000013" +
		"546f6f206c6974746c65207265636569766564" + "00000000000000000000000000"

	reason, ok := decodeErrorString(payload)
	require.True(t, ok)
	assert.Equal(t, "Too little received", reason)

	_, ok = decodeErrorString("0xdeadbeef")
	assert.False(t, ok)
}
