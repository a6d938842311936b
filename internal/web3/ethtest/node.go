// Package ethtest provides an in-process JSON-RPC node for tests. It serves a
// chain read endpoint and a wallet endpoint over go-ethereum's rpc server and
// models the three contract calls the onboarding flow relies on:
// setDelegate/delegations, approve/allowance and plain value transfers.
package ethtest

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Wallet error codes as defined by EIP-1193 and EIP-3326.
const (
	CodeUserRejected      = 4001
	CodeUnrecognizedChain = 4902
)

var (
	selectorSetDelegate = crypto.Keccak256([]byte("setDelegate(address)"))[:4]
	selectorDelegations = crypto.Keccak256([]byte("delegations(address)"))[:4]
	selectorApprove     = crypto.Keccak256([]byte("approve(address,uint256)"))[:4]
	selectorAllowance   = crypto.Keccak256([]byte("allowance(address,address)"))[:4]
)

// RPCError carries a JSON-RPC error code back to the client.
type RPCError struct {
	Code int
	Msg  string
}

func (e *RPCError) Error() string  { return e.Msg }
func (e *RPCError) ErrorCode() int { return e.Code }

// SentTx is a transaction received through eth_sendTransaction.
type SentTx struct {
	Hash  common.Hash
	From  common.Address
	To    common.Address
	Data  []byte
	Value *big.Int
	Gas   uint64
}

// Node is the shared state behind the chain and wallet endpoints.
type Node struct {
	mu sync.Mutex

	chainID       uint64
	walletChainID uint64
	knownChains   map[uint64]bool
	accounts      []common.Address

	balances    map[common.Address]*big.Int
	delegations map[common.Address]common.Address
	allowances  map[[2]common.Address]*big.Int
	receipts    map[common.Hash]*types.Receipt
	held        []SentTx

	sent  []SentTx
	calls []string
	nonce uint64
	block uint64

	rejectSends int
	holdMining  bool
	revertNext  bool
	sendErr     error
	callErr     error
	balanceFn   func(common.Address, int) *big.Int
	balanceHits map[common.Address]int
}

// NewNode returns a node on chainID with the wallet connected to the same chain.
func NewNode(chainID uint64, accounts ...common.Address) *Node {
	return &Node{
		chainID:       chainID,
		walletChainID: chainID,
		knownChains:   map[uint64]bool{chainID: true},
		accounts:      accounts,
		balances:      make(map[common.Address]*big.Int),
		delegations:   make(map[common.Address]common.Address),
		allowances:    make(map[[2]common.Address]*big.Int),
		receipts:      make(map[common.Hash]*types.Receipt),
		balanceHits:   make(map[common.Address]int),
		block:         1,
	}
}

// ChainClient dials the read-only chain endpoint in process.
func (n *Node) ChainClient() *gethrpc.Client {
	server := gethrpc.NewServer()
	if err := server.RegisterName("eth", &chainService{n: n}); err != nil {
		panic(err)
	}
	return gethrpc.DialInProc(server)
}

// WalletClient dials the wallet endpoint in process.
func (n *Node) WalletClient() *gethrpc.Client {
	server := gethrpc.NewServer()
	if err := server.RegisterName("eth", &walletEthService{n: n}); err != nil {
		panic(err)
	}
	if err := server.RegisterName("wallet", &walletService{n: n}); err != nil {
		panic(err)
	}
	return gethrpc.DialInProc(server)
}

// SetWalletChain moves the wallet to another chain.
func (n *Node) SetWalletChain(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.walletChainID = id
	n.knownChains[id] = true
}

// ForgetChain makes wallet_switchEthereumChain fail with 4902 for id.
func (n *Node) ForgetChain(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.knownChains, id)
}

// RejectSends makes the next count sends fail with the user rejection code.
func (n *Node) RejectSends(count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejectSends = count
}

// FailSends makes every send fail with err until cleared with nil.
func (n *Node) FailSends(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sendErr = err
}

// FailCalls makes every eth_call fail with err until cleared with nil.
func (n *Node) FailCalls(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.callErr = err
}

// HoldMining keeps new transactions pending until Mine is called. A held
// transaction has no receipt and no effect on chain state.
func (n *Node) HoldMining(hold bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.holdMining = hold
}

// RevertNext makes the next transaction mine with a failed status.
func (n *Node) RevertNext() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.revertNext = true
}

// Mine applies the held transactions in the order they were sent.
func (n *Node) Mine() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.held) == 0 {
		n.block++
		return
	}
	for _, tx := range n.held {
		n.receipts[tx.Hash] = n.apply(tx)
	}
	n.held = nil
}

// SetBalance sets a native balance.
func (n *Node) SetBalance(addr common.Address, wei *big.Int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.balances[addr] = new(big.Int).Set(wei)
}

// BalanceFunc overrides balances; hit counts how often addr was queried.
func (n *Node) BalanceFunc(fn func(addr common.Address, hit int) *big.Int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.balanceFn = fn
}

// SetDelegate records an existing delegation from owner to delegate.
func (n *Node) SetDelegate(owner, delegate common.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delegations[owner] = delegate
}

// SetAllowance records an existing allowance.
func (n *Node) SetAllowance(owner, spender common.Address, amount *big.Int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.allowances[[2]common.Address{owner, spender}] = new(big.Int).Set(amount)
}

// Sent returns the transactions received so far.
func (n *Node) Sent() []SentTx {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]SentTx, len(n.sent))
	copy(out, n.sent)
	return out
}

// Calls returns the JSON-RPC methods served so far, in order.
func (n *Node) Calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.calls))
	copy(out, n.calls)
	return out
}

// CountCalls returns how many times method was served.
func (n *Node) CountCalls(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, c := range n.calls {
		if c == method {
			count++
		}
	}
	return count
}

// Selector returns the 4-byte selector of a sent transaction.
func (tx SentTx) Selector() string {
	if len(tx.Data) < 4 {
		return ""
	}
	switch string(tx.Data[:4]) {
	case string(selectorSetDelegate):
		return "setDelegate"
	case string(selectorApprove):
		return "approve"
	}
	return hexutil.Encode(tx.Data[:4])
}

func (n *Node) record(method string) {
	n.calls = append(n.calls, method)
}

func (n *Node) apply(tx SentTx) *types.Receipt {
	status := types.ReceiptStatusSuccessful
	if n.revertNext {
		n.revertNext = false
		status = types.ReceiptStatusFailed
	}
	if status == types.ReceiptStatusSuccessful {
		switch tx.Selector() {
		case "setDelegate":
			if len(tx.Data) >= 36 {
				n.delegations[tx.From] = common.BytesToAddress(tx.Data[4:36])
			}
		case "approve":
			if len(tx.Data) >= 68 {
				spender := common.BytesToAddress(tx.Data[4:36])
				n.allowances[[2]common.Address{tx.From, spender}] = new(big.Int).SetBytes(tx.Data[36:68])
			}
		default:
			if tx.Value != nil && tx.Value.Sign() > 0 {
				current := n.balances[tx.To]
				if current == nil {
					current = new(big.Int)
				}
				n.balances[tx.To] = new(big.Int).Add(current, tx.Value)
			}
		}
	}
	n.block++
	return &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash,
		GasUsed:     21000,
		Logs:        []*types.Log{},
		BlockNumber: new(big.Int).SetUint64(n.block),
	}
}

type chainService struct{ n *Node }

func (s *chainService) ChainId() *hexutil.Big {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	s.n.record("eth_chainId")
	return (*hexutil.Big)(new(big.Int).SetUint64(s.n.chainID))
}

func (s *chainService) BlockNumber() hexutil.Uint64 {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	s.n.record("eth_blockNumber")
	return hexutil.Uint64(s.n.block)
}

func (s *chainService) GetBalance(addr common.Address, block string) *hexutil.Big {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	s.n.record("eth_getBalance")
	s.n.balanceHits[addr]++
	if s.n.balanceFn != nil {
		if v := s.n.balanceFn(addr, s.n.balanceHits[addr]); v != nil {
			return (*hexutil.Big)(v)
		}
	}
	if v, ok := s.n.balances[addr]; ok {
		return (*hexutil.Big)(new(big.Int).Set(v))
	}
	return (*hexutil.Big)(new(big.Int))
}

func (s *chainService) Call(args map[string]any, block string) (hexutil.Bytes, error) {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	s.n.record("eth_call")
	if s.n.callErr != nil {
		return nil, s.n.callErr
	}
	raw, _ := args["input"].(string)
	if raw == "" {
		raw, _ = args["data"].(string)
	}
	data, err := hexutil.Decode(raw)
	if err != nil || len(data) < 4 {
		return nil, fmt.Errorf("bad call input %q", raw)
	}
	switch string(data[:4]) {
	case string(selectorDelegations):
		owner := common.BytesToAddress(data[4:36])
		return common.LeftPadBytes(s.n.delegations[owner].Bytes(), 32), nil
	case string(selectorAllowance):
		owner := common.BytesToAddress(data[4:36])
		spender := common.BytesToAddress(data[36:68])
		amount := s.n.allowances[[2]common.Address{owner, spender}]
		if amount == nil {
			amount = new(big.Int)
		}
		return common.LeftPadBytes(amount.Bytes(), 32), nil
	}
	return nil, fmt.Errorf("execution reverted")
}

func (s *chainService) GetTransactionReceipt(hash common.Hash) (*types.Receipt, error) {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	s.n.record("eth_getTransactionReceipt")
	return s.n.receipts[hash], nil
}

type walletEthService struct{ n *Node }

func (s *walletEthService) ChainId() *hexutil.Big {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	s.n.record("wallet:eth_chainId")
	return (*hexutil.Big)(new(big.Int).SetUint64(s.n.walletChainID))
}

func (s *walletEthService) RequestAccounts() ([]common.Address, error) {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	s.n.record("eth_requestAccounts")
	if s.n.rejectSends > 0 {
		s.n.rejectSends--
		return nil, &RPCError{Code: CodeUserRejected, Msg: "User rejected the request."}
	}
	return s.n.accounts, nil
}

func (s *walletEthService) Accounts() []common.Address {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	s.n.record("eth_accounts")
	return s.n.accounts
}

func (s *walletEthService) SendTransaction(args map[string]any) (common.Hash, error) {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	s.n.record("eth_sendTransaction")
	if s.n.rejectSends > 0 {
		s.n.rejectSends--
		return common.Hash{}, &RPCError{Code: CodeUserRejected, Msg: "MetaMask Tx Signature: User denied transaction signature."}
	}
	if s.n.sendErr != nil {
		return common.Hash{}, s.n.sendErr
	}
	tx, err := decodeSend(args)
	if err != nil {
		return common.Hash{}, err
	}
	if s.n.walletChainID != s.n.chainID {
		return common.Hash{}, &RPCError{Code: -32000, Msg: "wallet on wrong chain"}
	}
	s.n.nonce++
	tx.Hash = crypto.Keccak256Hash(tx.From.Bytes(), tx.Data, new(big.Int).SetUint64(s.n.nonce).Bytes())
	s.n.sent = append(s.n.sent, tx)
	if s.n.holdMining {
		s.n.held = append(s.n.held, tx)
		return tx.Hash, nil
	}
	s.n.receipts[tx.Hash] = s.n.apply(tx)
	return tx.Hash, nil
}

type walletService struct{ n *Node }

func (s *walletService) SwitchEthereumChain(params map[string]string) error {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	s.n.record("wallet_switchEthereumChain")
	id, err := hexutil.DecodeUint64(params["chainId"])
	if err != nil {
		return &RPCError{Code: -32602, Msg: "invalid chainId"}
	}
	if !s.n.knownChains[id] {
		return &RPCError{Code: CodeUnrecognizedChain, Msg: fmt.Sprintf("Unrecognized chain ID %q. Try adding the chain using wallet_addEthereumChain first.", params["chainId"])}
	}
	s.n.walletChainID = id
	return nil
}

func decodeSend(args map[string]any) (SentTx, error) {
	var tx SentTx
	from, _ := args["from"].(string)
	to, _ := args["to"].(string)
	if !common.IsHexAddress(from) || !common.IsHexAddress(to) {
		return tx, &RPCError{Code: -32602, Msg: "invalid from/to"}
	}
	tx.From = common.HexToAddress(from)
	tx.To = common.HexToAddress(to)
	if raw, ok := args["data"].(string); ok && raw != "" {
		data, err := hexutil.Decode(raw)
		if err != nil {
			return tx, &RPCError{Code: -32602, Msg: "invalid data"}
		}
		tx.Data = data
	}
	tx.Value = new(big.Int)
	if raw, ok := args["value"].(string); ok && raw != "" {
		v, err := hexutil.DecodeBig(strings.ToLower(raw))
		if err != nil {
			return tx, &RPCError{Code: -32602, Msg: "invalid value"}
		}
		tx.Value = v
	}
	if raw, ok := args["gas"].(string); ok && raw != "" {
		gas, err := hexutil.DecodeUint64(raw)
		if err != nil {
			return tx, &RPCError{Code: -32602, Msg: "invalid gas"}
		}
		tx.Gas = gas
	}
	return tx, nil
}
