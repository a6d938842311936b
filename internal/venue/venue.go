// Package venue adapts the on-chain side of a trading venue: it builds the
// delegation, allowance and funding transactions and reads back the facts
// that tell whether each of them already happened.
package venue

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/wallet"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/web3"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Supported venues.
const (
	Ostium = "ostium"
	Aster  = "aster"
)

const delegationABI = `[
	{"type":"function","name":"setDelegate","stateMutability":"nonpayable",
	 "inputs":[{"name":"delegate","type":"address"}],"outputs":[]},
	{"type":"function","name":"delegations","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"address"}]}
]`

const erc20ABI = `[
	{"type":"function","name":"approve","stateMutability":"nonpayable",
	 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"allowance","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

var (
	delegationContract = mustParseABI(delegationABI)
	erc20Contract      = mustParseABI(erc20ABI)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// Venue binds a venue name to its chain definition for the active network.
type Venue struct {
	Name string
	Def  web3.ChainDefinition
}

// New validates the definition and returns the venue.
func New(name string, def web3.ChainDefinition) (Venue, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Venue{}, fmt.Errorf("venue name is required")
	}
	if err := def.Validate(); err != nil {
		return Venue{}, fmt.Errorf("venue %s: %w", name, err)
	}
	return Venue{Name: name, Def: def}, nil
}

// ChainID is the chain every transaction of the venue targets.
func (v Venue) ChainID() uint64 {
	return v.Def.ChainID
}

// NetworkName is the human readable chain name.
func (v Venue) NetworkName() string {
	if v.Def.NetworkName != "" {
		return v.Def.NetworkName
	}
	return fmt.Sprintf("chain %d", v.Def.ChainID)
}

// DelegateRequest builds setDelegate(agent) on the delegation contract.
func (v Venue) DelegateRequest(agent common.Address) (wallet.ActionRequest, error) {
	data, err := delegationContract.Pack("setDelegate", agent)
	if err != nil {
		return wallet.ActionRequest{}, fmt.Errorf("pack setDelegate: %w", err)
	}
	return wallet.ActionRequest{
		ChainID:  v.Def.ChainID,
		To:       v.Def.DelegationAddress(),
		Data:     data,
		GasLimit: new(big.Int).SetUint64(v.Def.DelegationGasLimit()),
	}, nil
}

// ApproveRequest builds approve(spender, amount) on the collateral token.
func (v Venue) ApproveRequest() (wallet.ActionRequest, error) {
	data, err := erc20Contract.Pack("approve", v.Def.SpenderAddress(), v.Def.ApproveAmountInt())
	if err != nil {
		return wallet.ActionRequest{}, fmt.Errorf("pack approve: %w", err)
	}
	return wallet.ActionRequest{
		ChainID: v.Def.ChainID,
		To:      v.Def.TokenAddress(),
		Data:    data,
	}, nil
}

// FundRequest builds a plain native transfer to the agent wallet. A nil or
// non-positive amount falls back to the venue default.
func (v Venue) FundRequest(agent common.Address, amount *big.Int) (wallet.ActionRequest, error) {
	if amount == nil || amount.Sign() <= 0 {
		amount = v.Def.DefaultFunding()
	}
	if amount.Sign() <= 0 {
		return wallet.ActionRequest{}, fmt.Errorf("funding amount must be positive")
	}
	return wallet.ActionRequest{
		ChainID: v.Def.ChainID,
		To:      agent,
		Value:   new(big.Int).Set(amount),
	}, nil
}
