package ethereum

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/web3/ethtest"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	owner = common.HexToAddress("0x1111111111111111111111111111111111111111")
	agent = common.HexToAddress("0x2222222222222222222222222222222222222222")
	trade = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func newTestClient(t *testing.T, node *ethtest.Node, confirm time.Duration) *Client {
	t.Helper()
	client := NewFromRPC(Config{
		Name:           "test",
		ConfirmTimeout: confirm,
		PollInterval:   10 * time.Millisecond,
	}, node.ChainClient())
	t.Cleanup(client.Close)
	return client
}

func TestClientReadsChainState(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	node := ethtest.NewNode(42161)
	node.SetBalance(agent, big.NewInt(5_000))
	node.SetDelegate(owner, agent)
	client := newTestClient(t, node, time.Second)

	id, err := client.ChainID(ctx)
	if err != nil {
		t.Fatalf("chain id: %v", err)
	}
	if id.Uint64() != 42161 {
		t.Fatalf("unexpected chain id %s", id)
	}

	balance, err := client.BalanceAt(ctx, agent)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Int64() != 5_000 {
		t.Fatalf("unexpected balance %s", balance)
	}

	input := append(crypto.Keccak256([]byte("delegations(address)"))[:4], common.LeftPadBytes(owner.Bytes(), 32)...)
	out, err := client.CallContract(ctx, gethcore.CallMsg{To: &trade, Data: input})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if common.BytesToAddress(out) != agent {
		t.Fatalf("unexpected delegate %x", out)
	}

	snapshot, err := client.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.ChainID != "0xa4b1" {
		t.Fatalf("unexpected snapshot chain id %s", snapshot.ChainID)
	}
}

func TestWaitForReceiptReturnsMinedReceipt(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	node := ethtest.NewNode(1, owner)
	wallet := node.WalletClient()
	defer wallet.Close()

	var hash common.Hash
	if err := wallet.CallContext(ctx, &hash, "eth_sendTransaction", map[string]any{
		"from":  owner.Hex(),
		"to":    agent.Hex(),
		"value": "0x64",
	}); err != nil {
		t.Fatalf("send: %v", err)
	}

	client := newTestClient(t, node, time.Second)
	receipt, err := client.WaitForReceipt(ctx, hash)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if receipt == nil || receipt.TxHash != hash || receipt.Status != 1 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
}

func TestWaitForReceiptTimesOutWithNil(t *testing.T) {
	t.Parallel()

	node := ethtest.NewNode(1, owner)
	node.HoldMining(true)
	wallet := node.WalletClient()
	defer wallet.Close()

	var hash common.Hash
	if err := wallet.CallContext(context.Background(), &hash, "eth_sendTransaction", map[string]any{
		"from": owner.Hex(),
		"to":   agent.Hex(),
	}); err != nil {
		t.Fatalf("send: %v", err)
	}

	client := newTestClient(t, node, 80*time.Millisecond)
	receipt, err := client.WaitForReceipt(context.Background(), hash)
	if err != nil {
		t.Fatalf("timeout should not be an error: %v", err)
	}
	if receipt != nil {
		t.Fatalf("expected nil receipt, got %+v", receipt)
	}
}

func TestWaitForReceiptHonoursCancel(t *testing.T) {
	t.Parallel()

	node := ethtest.NewNode(1)
	client := newTestClient(t, node, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.WaitForReceipt(ctx, common.HexToHash("0x01")); err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestClosedClientFails(t *testing.T) {
	node := ethtest.NewNode(1)
	client := NewFromRPC(Config{}, node.ChainClient())
	client.Close()
	if _, err := client.ChainID(context.Background()); err == nil {
		t.Fatal("expected error after close")
	}
}
