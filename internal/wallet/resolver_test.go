package wallet

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "github.com/Maxxit-ai/maxxit-latest-sub005/internal/errors"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/web3"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/web3/ethereum"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/web3/ethtest"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

const arbitrum = 42161

var spender = common.HexToAddress("0x0B9f5243B29938668c9Cfbd7557A389EC7Ef88b8")

type nodeReaders struct {
	node *ethtest.Node
}

func (r nodeReaders) ForURL(context.Context, string) (web3.ChainReader, error) {
	return ethereum.NewFromRPC(ethereum.Config{
		Name:           "test",
		ConfirmTimeout: 300 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
	}, r.node.ChainClient()), nil
}

func newConnectedResolver(t *testing.T, node *ethtest.Node, opts ...Option) *Resolver {
	t.Helper()
	session := NewSession()
	session.Connect(Handle{Address: connectedAddr, ClientType: "metamask", Provider: node.WalletClient()})
	t.Cleanup(session.Close)
	opts = append([]Option{WithReaders(nodeReaders{node: node}), WithChainNames(map[uint64]string{arbitrum: "Arbitrum One"})}, opts...)
	return NewResolver(session, opts...)
}

func approveRequest() ActionRequest {
	data := append(crypto.Keccak256([]byte("approve(address,uint256)"))[:4], common.LeftPadBytes(spender.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(big.NewInt(1_000_000).Bytes(), 32)...)
	return ActionRequest{
		ChainID: arbitrum,
		To:      common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831"),
		Data:    data,
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestDispatchWithoutWallet(t *testing.T) {
	r := NewResolver(NewSession())
	_, err := r.Dispatch(testContext(t), approveRequest())
	require.True(t, xerrors.Is(err, xerrors.CodeNoWallet))
}

func TestDispatchInjectedNeedsAccounts(t *testing.T) {
	node := ethtest.NewNode(arbitrum, injectedAddr)
	session := NewSession()
	session.SetInjected(node.WalletClient())
	t.Cleanup(session.Close)
	r := NewResolver(session)

	require.Equal(t, SourceInjected, r.Identity().Source)
	require.Nil(t, r.Identity().Address)

	_, err := r.Dispatch(testContext(t), approveRequest())
	require.True(t, xerrors.Is(err, xerrors.CodeNoWallet))
	require.Empty(t, node.Sent())

	addr, err := r.RequestAccounts(testContext(t))
	require.NoError(t, err)
	require.Equal(t, injectedAddr, addr)
	require.Equal(t, injectedAddr, *r.Identity().Address)

	hash, err := r.Dispatch(testContext(t), approveRequest())
	require.NoError(t, err)
	sent := node.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, hash, sent[0].Hash)
	require.Equal(t, injectedAddr, sent[0].From)
}

func TestDispatchSwitchesNetworkFirst(t *testing.T) {
	node := ethtest.NewNode(arbitrum)
	node.SetWalletChain(1)
	r := newConnectedResolver(t, node)

	hash, err := r.Dispatch(testContext(t), approveRequest())
	require.NoError(t, err)

	calls := node.Calls()
	require.Equal(t, []string{"wallet:eth_chainId", "wallet_switchEthereumChain", "wallet:eth_chainId", "eth_sendTransaction"}, calls)

	sent := node.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, hash, sent[0].Hash)
	require.Equal(t, "approve", sent[0].Selector())
	require.Equal(t, connectedAddr, sent[0].From)
}

func TestDispatchChainNotAdded(t *testing.T) {
	node := ethtest.NewNode(arbitrum)
	node.SetWalletChain(1)
	node.ForgetChain(arbitrum)
	r := newConnectedResolver(t, node)

	_, err := r.Dispatch(testContext(t), approveRequest())
	require.True(t, xerrors.Is(err, xerrors.CodeChainNotAdded))
	require.Equal(t, "Please add Arbitrum One to your wallet and try again", xerrors.UserMessage(err))
	require.Empty(t, node.Sent())
}

func TestDispatchUserRejected(t *testing.T) {
	node := ethtest.NewNode(arbitrum)
	node.RejectSends(1)
	r := newConnectedResolver(t, node)

	_, err := r.Dispatch(testContext(t), approveRequest())
	require.True(t, xerrors.Is(err, xerrors.CodeUserRejected))
	require.Equal(t, "Transaction rejected", xerrors.UserMessage(err))

	_, err = r.Dispatch(testContext(t), approveRequest())
	require.NoError(t, err)
}

func TestDispatchSurfacesRawFailure(t *testing.T) {
	node := ethtest.NewNode(arbitrum)
	node.FailSends(&ethtest.RPCError{Code: -32000, Msg: "insufficient funds for gas * price + value"})
	r := newConnectedResolver(t, node)

	_, err := r.Dispatch(testContext(t), approveRequest())
	require.True(t, xerrors.Is(err, xerrors.CodeRPCFailure))
	require.Equal(t, "insufficient funds for gas * price + value", xerrors.UserMessage(err))
}

func TestEnsureChainNoopOnMatch(t *testing.T) {
	node := ethtest.NewNode(arbitrum)
	r := newConnectedResolver(t, node)

	require.NoError(t, r.EnsureChain(testContext(t), arbitrum))
	require.Equal(t, 0, node.CountCalls("wallet_switchEthereumChain"))
}

func TestDispatchCrossAppUsesRelay(t *testing.T) {
	var got struct {
		Signer      string         `json:"signer"`
		Transaction map[string]any `json:"transaction"`
	}
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		require.Equal(t, "/relay/transactions", req.URL.Path)
		auth = req.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(req.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]string{"hash": common.HexToHash("0xabc").Hex()})
	}))
	defer srv.Close()

	relay, err := NewHTTPRelay(srv.URL+"/relay", "secret", time.Second, nil)
	require.NoError(t, err)

	node := ethtest.NewNode(arbitrum)
	session := NewSession()
	session.Connect(Handle{Address: connectedAddr, Provider: node.WalletClient()})
	session.SetUser(crossAppUser("app-1", crossAppAddr.Hex()))
	t.Cleanup(session.Close)

	r := NewResolver(session, WithProviderAppID("app-1"), WithCrossAppSender(relay))
	require.Equal(t, SourceCrossApp, r.Identity().Source)

	req := approveRequest()
	req.Value = big.NewInt(7)
	req.GasLimit = big.NewInt(200_000)
	hash, err := r.Dispatch(testContext(t), req)
	require.NoError(t, err)
	require.Equal(t, common.HexToHash("0xabc"), hash)

	require.Equal(t, "Bearer secret", auth)
	require.Equal(t, crossAppAddr.Hex(), got.Signer)
	require.EqualValues(t, arbitrum, got.Transaction["chainId"])
	require.EqualValues(t, 7, got.Transaction["value"])
	require.EqualValues(t, 200_000, got.Transaction["gasLimit"])
	require.Empty(t, node.Sent())
}

func TestDispatchCrossAppRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":4001,"message":"User rejected the request"}}`))
	}))
	defer srv.Close()

	relay, err := NewHTTPRelay(srv.URL, "", time.Second, nil)
	require.NoError(t, err)

	session := NewSession()
	session.SetUser(crossAppUser("", crossAppAddr.Hex()))
	r := NewResolver(session, WithCrossAppSender(relay))

	_, err = r.Dispatch(testContext(t), approveRequest())
	require.True(t, xerrors.Is(err, xerrors.CodeUserRejected))
}

func TestWaitForConfirmation(t *testing.T) {
	node := ethtest.NewNode(arbitrum)
	r := newConnectedResolver(t, node)

	hash, err := r.Dispatch(testContext(t), approveRequest())
	require.NoError(t, err)

	receipt, err := r.WaitForConfirmation(testContext(t), hash, "http://chain.test")
	require.NoError(t, err)
	require.NotNil(t, receipt)
	require.Equal(t, hash, receipt.TxHash)
}

func TestWaitForConfirmationTimeout(t *testing.T) {
	node := ethtest.NewNode(arbitrum)
	node.HoldMining(true)
	r := newConnectedResolver(t, node)

	hash, err := r.Dispatch(testContext(t), approveRequest())
	require.NoError(t, err)

	receipt, err := r.WaitForConfirmation(testContext(t), hash, "http://chain.test")
	require.NoError(t, err)
	require.Nil(t, receipt)
}
