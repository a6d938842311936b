package venue

import (
	"context"
	"fmt"
	"math/big"

	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// Facts are the three on-chain conditions of a venue setup.
type Facts struct {
	Delegated bool `json:"delegated"`
	Allowance bool `json:"allowance"`
	Funded    bool `json:"funded"`
}

// FactReader answers the on-chain questions through a plain chain reader.
type FactReader struct {
	venue  Venue
	reader web3.ChainReader
}

// NewFactReader binds a reader to the venue.
func NewFactReader(v Venue, reader web3.ChainReader) *FactReader {
	return &FactReader{venue: v, reader: reader}
}

// Reader exposes the underlying chain reader.
func (f *FactReader) Reader() web3.ChainReader {
	return f.reader
}

// IsDelegated reports whether owner delegated trading to agent.
func (f *FactReader) IsDelegated(ctx context.Context, owner, agent common.Address) (bool, error) {
	data, err := delegationContract.Pack("delegations", owner)
	if err != nil {
		return false, fmt.Errorf("pack delegations: %w", err)
	}
	out, err := f.call(ctx, f.venue.Def.DelegationAddress(), data)
	if err != nil {
		return false, err
	}
	values, err := delegationContract.Unpack("delegations", out)
	if err != nil || len(values) == 0 {
		return false, fmt.Errorf("decode delegations: %w", errOrEmpty(err))
	}
	delegate, ok := values[0].(common.Address)
	if !ok {
		return false, fmt.Errorf("decode delegations: unexpected type %T", values[0])
	}
	return delegate == agent, nil
}

// Allowance returns the collateral allowance owner granted to the spender.
func (f *FactReader) Allowance(ctx context.Context, owner common.Address) (*big.Int, error) {
	data, err := erc20Contract.Pack("allowance", owner, f.venue.Def.SpenderAddress())
	if err != nil {
		return nil, fmt.Errorf("pack allowance: %w", err)
	}
	out, err := f.call(ctx, f.venue.Def.TokenAddress(), data)
	if err != nil {
		return nil, err
	}
	values, err := erc20Contract.Unpack("allowance", out)
	if err != nil || len(values) == 0 {
		return nil, fmt.Errorf("decode allowance: %w", errOrEmpty(err))
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("decode allowance: unexpected type %T", values[0])
	}
	return amount, nil
}

// HasAllowance reports whether the allowance reaches the configured minimum.
func (f *FactReader) HasAllowance(ctx context.Context, owner common.Address) (bool, error) {
	amount, err := f.Allowance(ctx, owner)
	if err != nil {
		return false, err
	}
	return amount.Cmp(f.venue.Def.MinAllowanceInt()) >= 0, nil
}

// IsFunded reports whether the agent holds a non-zero native balance.
func (f *FactReader) IsFunded(ctx context.Context, agent common.Address) (bool, error) {
	balance, err := f.reader.BalanceAt(ctx, agent)
	if err != nil {
		return false, fmt.Errorf("read agent balance: %w", err)
	}
	return balance.Sign() > 0, nil
}

func (f *FactReader) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := f.reader.CallContract(ctx, gethcore.CallMsg{To: &to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", to.Hex(), err)
	}
	return out, nil
}

func errOrEmpty(err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("empty result")
}
