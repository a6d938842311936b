package web3

import (
	"context"
	"math/big"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainSnapshot represents summarized network metadata for UI/reporting.
type ChainSnapshot struct {
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Endpoint    string `json:"endpoint"`
	Notes       string `json:"notes,omitempty"`
}

// ChainReader is the read-only chain access used for on-chain facts and
// confirmations. It never signs.
type ChainReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	CallContract(ctx context.Context, msg gethcore.CallMsg) ([]byte, error)
	// WaitForReceipt blocks until the transaction is mined. It returns a nil
	// receipt and nil error when the wait times out.
	WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	Snapshot(ctx context.Context) (ChainSnapshot, error)
	Close()
}
