package ethtest

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

var (
	from = common.HexToAddress("0x1111111111111111111111111111111111111111")
	to   = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func TestHeldTransactionHasNoEffectUntilMined(t *testing.T) {
	ctx := context.Background()
	node := NewNode(42161, from)
	node.HoldMining(true)

	wallet := node.WalletClient()
	defer wallet.Close()
	chain := node.ChainClient()
	defer chain.Close()

	var hash common.Hash
	require.NoError(t, wallet.CallContext(ctx, &hash, "eth_sendTransaction", map[string]any{
		"from":  from.Hex(),
		"to":    to.Hex(),
		"value": hexutil.EncodeBig(big.NewInt(5)),
	}))

	var balance hexutil.Big
	require.NoError(t, chain.CallContext(ctx, &balance, "eth_getBalance", to, "latest"))
	require.Zero(t, balance.ToInt().Sign())

	var receipt *types.Receipt
	require.NoError(t, chain.CallContext(ctx, &receipt, "eth_getTransactionReceipt", hash))
	require.Nil(t, receipt)

	node.HoldMining(false)
	node.Mine()

	require.NoError(t, chain.CallContext(ctx, &balance, "eth_getBalance", to, "latest"))
	require.Equal(t, "5", balance.ToInt().String())
	require.NoError(t, chain.CallContext(ctx, &receipt, "eth_getTransactionReceipt", hash))
	require.NotNil(t, receipt)
	require.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
}

func TestMineAppliesHeldTransactionsInOrder(t *testing.T) {
	ctx := context.Background()
	spender := common.HexToAddress("0x3333333333333333333333333333333333333333")
	node := NewNode(42161, from)
	node.HoldMining(true)

	wallet := node.WalletClient()
	defer wallet.Close()

	approve := func(amount int64) {
		data := append([]byte{}, selectorApprove...)
		data = append(data, common.LeftPadBytes(spender.Bytes(), 32)...)
		data = append(data, common.LeftPadBytes(big.NewInt(amount).Bytes(), 32)...)
		var hash common.Hash
		require.NoError(t, wallet.CallContext(ctx, &hash, "eth_sendTransaction", map[string]any{
			"from": from.Hex(),
			"to":   to.Hex(),
			"data": hexutil.Encode(data),
		}))
	}
	approve(1)
	approve(7)
	require.Nil(t, node.allowances[[2]common.Address{from, spender}])

	node.Mine()
	require.Equal(t, "7", node.allowances[[2]common.Address{from, spender}].String())
	require.Len(t, node.Sent(), 2)
}
