package web3

import (
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"gopkg.in/yaml.v3"
)

// Definitions models the structure of configs/chain.yaml: for every venue a
// chain definition per network ("mainnet", "testnet").
type Definitions struct {
	Venues map[string]map[string]ChainDefinition `yaml:"venues"`
}

// ChainDefinition describes the chain a venue lives on and the contracts the
// onboarding flow talks to.
type ChainDefinition struct {
	ChainID      uint64 `yaml:"chain_id"`
	NetworkName  string `yaml:"network_name"`
	RPCURL       string `yaml:"rpc_url"`
	BackupRPCURL string `yaml:"backup_rpc_url"`
	ExplorerURL  string `yaml:"explorer_url"`
	NativeSymbol string `yaml:"native_symbol"`
	Description  string `yaml:"description"`

	// DelegationContract exposes setDelegate(address) and delegations(address).
	DelegationContract string `yaml:"delegation_contract"`
	// Token is the ERC-20 collateral, Spender the contract the allowance is granted to.
	Token         string `yaml:"token"`
	TokenSymbol   string `yaml:"token_symbol"`
	TokenDecimals uint8  `yaml:"token_decimals"`
	Spender       string `yaml:"spender"`

	ApproveAmount     string `yaml:"approve_amount"`
	MinAllowance      string `yaml:"min_allowance"`
	DefaultFundingWei string `yaml:"default_funding_wei"`
	DelegationGas     uint64 `yaml:"delegation_gas"`
}

// LoadDefinitions parses the YAML file containing venue chain metadata.
func LoadDefinitions(path string) (Definitions, error) {
	if strings.TrimSpace(path) == "" {
		return Definitions{Venues: map[string]map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs Definitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return Definitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Venues == nil {
		defs.Venues = map[string]map[string]ChainDefinition{}
	}
	for venue, networks := range defs.Venues {
		for network, def := range networks {
			if err := def.Validate(); err != nil {
				return Definitions{}, fmt.Errorf("场馆 %s/%s 配置无效: %w", venue, network, err)
			}
		}
	}
	return defs, nil
}

// Lookup returns the definition for venue on network.
func (d Definitions) Lookup(venue, network string) (ChainDefinition, bool) {
	networks, ok := d.Venues[strings.ToLower(venue)]
	if !ok {
		return ChainDefinition{}, false
	}
	def, ok := networks[strings.ToLower(network)]
	return def, ok
}

// VenueNames lists configured venues in a stable order.
func (d Definitions) VenueNames() []string {
	names := make([]string, 0, len(d.Venues))
	for name := range d.Venues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that addresses and amounts parse.
func (c ChainDefinition) Validate() error {
	if c.ChainID == 0 {
		return fmt.Errorf("chain_id 不能为空")
	}
	if strings.TrimSpace(c.RPCURL) == "" {
		return fmt.Errorf("rpc_url 不能为空")
	}
	for field, value := range map[string]string{
		"delegation_contract": c.DelegationContract,
		"token":               c.Token,
		"spender":             c.Spender,
	} {
		if !common.IsHexAddress(value) {
			return fmt.Errorf("%s 不是合法地址: %q", field, value)
		}
	}
	for field, value := range map[string]string{
		"approve_amount":      c.ApproveAmount,
		"min_allowance":       c.MinAllowance,
		"default_funding_wei": c.DefaultFundingWei,
	} {
		if value == "" {
			continue
		}
		if _, ok := new(big.Int).SetString(value, 10); !ok {
			return fmt.Errorf("%s 不是十进制整数: %q", field, value)
		}
	}
	return nil
}

// ChainIDHex returns the chain id in the 0x-prefixed form wallets expect.
func (c ChainDefinition) ChainIDHex() string {
	return hexutil.EncodeUint64(c.ChainID)
}

// DelegationAddress returns the parsed delegation contract address.
func (c ChainDefinition) DelegationAddress() common.Address {
	return common.HexToAddress(c.DelegationContract)
}

// TokenAddress returns the parsed ERC-20 token address.
func (c ChainDefinition) TokenAddress() common.Address {
	return common.HexToAddress(c.Token)
}

// SpenderAddress returns the parsed allowance spender.
func (c ChainDefinition) SpenderAddress() common.Address {
	return common.HexToAddress(c.Spender)
}

// ApproveAmountInt is the allowance requested by the approve transaction.
// Empty means the maximum uint256.
func (c ChainDefinition) ApproveAmountInt() *big.Int {
	if v, ok := new(big.Int).SetString(c.ApproveAmount, 10); ok {
		return v
	}
	return new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
}

// MinAllowanceInt is the allowance at which the approval counts as done.
// Empty means any non-zero allowance.
func (c ChainDefinition) MinAllowanceInt() *big.Int {
	if v, ok := new(big.Int).SetString(c.MinAllowance, 10); ok && v.Sign() > 0 {
		return v
	}
	return big.NewInt(1)
}

// DefaultFunding is the pre-filled native amount offered for agent funding.
func (c ChainDefinition) DefaultFunding() *big.Int {
	if v, ok := new(big.Int).SetString(c.DefaultFundingWei, 10); ok {
		return v
	}
	return new(big.Int)
}

// DelegationGasLimit falls back to 200000 when the definition omits it.
func (c ChainDefinition) DelegationGasLimit() uint64 {
	if c.DelegationGas == 0 {
		return 200_000
	}
	return c.DelegationGas
}
