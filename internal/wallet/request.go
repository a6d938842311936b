package wallet

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ActionRequest is one unsigned transaction intent. It is passed by value
// and consumed by a single Dispatch call.
type ActionRequest struct {
	ChainID  uint64
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit *big.Int
	GasPrice *big.Int
	Nonce    *uint64
}

// sendArgs encodes the request for eth_sendTransaction with hex quantities.
func (r ActionRequest) sendArgs(from common.Address) map[string]any {
	args := map[string]any{
		"from":  from.Hex(),
		"to":    r.To.Hex(),
		"value": hexutil.EncodeBig(bigOrZero(r.Value)),
	}
	if len(r.Data) > 0 {
		args["data"] = hexutil.Encode(r.Data)
	}
	if r.GasLimit != nil {
		args["gas"] = hexutil.EncodeBig(r.GasLimit)
	}
	if r.GasPrice != nil {
		args["gasPrice"] = hexutil.EncodeBig(r.GasPrice)
	}
	if r.Nonce != nil {
		args["nonce"] = hexutil.EncodeUint64(*r.Nonce)
	}
	return args
}

// CrossAppTransaction is the payload of the cross-app send capability.
// Quantities are plain integers rather than hex strings.
type CrossAppTransaction struct {
	ChainID  uint64   `json:"chainId"`
	To       string   `json:"to"`
	Data     string   `json:"data"`
	Value    *big.Int `json:"value"`
	GasLimit *big.Int `json:"gasLimit,omitempty"`
	GasPrice *big.Int `json:"gasPrice,omitempty"`
	Nonce    *uint64  `json:"nonce,omitempty"`
}

func (r ActionRequest) crossApp() CrossAppTransaction {
	tx := CrossAppTransaction{
		ChainID: r.ChainID,
		To:      r.To.Hex(),
		Data:    hexutil.Encode(r.Data),
		Value:   bigOrZero(r.Value),
		Nonce:   r.Nonce,
	}
	if r.GasLimit != nil {
		tx.GasLimit = new(big.Int).Set(r.GasLimit)
	}
	if r.GasPrice != nil {
		tx.GasPrice = new(big.Int).Set(r.GasPrice)
	}
	return tx
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
