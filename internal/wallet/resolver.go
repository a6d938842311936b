package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	xerrors "github.com/Maxxit-ai/maxxit-latest-sub005/internal/errors"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/observability/metrics"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/web3"
	"github.com/Maxxit-ai/maxxit-latest-sub005/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

// ReaderSource hands out chain readers for confirmation endpoints.
type ReaderSource interface {
	ForURL(ctx context.Context, rpcURL string) (web3.ChainReader, error)
}

// Resolver is the single chokepoint for identity and on-chain writes.
type Resolver struct {
	inputs        Inputs
	providerAppID string
	crossApp      CrossAppSender
	readers       ReaderSource
	chainNames    map[uint64]string
	log           *slog.Logger
}

// Option customises the resolver.
type Option func(*Resolver)

// WithProviderAppID selects among several cross-app accounts.
func WithProviderAppID(id string) Option {
	return func(r *Resolver) {
		r.providerAppID = id
	}
}

// WithCrossAppSender installs the cross-app send capability.
func WithCrossAppSender(sender CrossAppSender) Option {
	return func(r *Resolver) {
		r.crossApp = sender
	}
}

// WithReaders installs the chain reader source used for confirmations.
func WithReaders(readers ReaderSource) Option {
	return func(r *Resolver) {
		r.readers = readers
	}
}

// WithChainNames labels chain ids in user-facing network messages.
func WithChainNames(names map[uint64]string) Option {
	return func(r *Resolver) {
		for id, name := range names {
			r.chainNames[id] = name
		}
	}
}

// NewResolver builds a resolver over the given inputs.
func NewResolver(inputs Inputs, opts ...Option) *Resolver {
	r := &Resolver{
		inputs:     inputs,
		chainNames: make(map[uint64]string),
		log:        logger.Named("wallet"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Identity resolves the current signer identity.
func (r *Resolver) Identity() Identity {
	return Resolve(r.inputs.Snapshot(), r.providerAppID)
}

// SigningProvider returns the provider for low-level calls. It is looked up
// fresh on every call.
func (r *Resolver) SigningProvider() (Provider, error) {
	return SigningProvider(r.inputs.Snapshot())
}

// RequestAccounts asks the injected provider for account access and binds
// the first granted account to the session.
func (r *Resolver) RequestAccounts(ctx context.Context) (common.Address, error) {
	snap := r.inputs.Snapshot()
	if snap.Injected == nil {
		return common.Address{}, ErrNoProvider
	}
	var accounts []common.Address
	if err := snap.Injected.CallContext(ctx, &accounts, "eth_requestAccounts"); err != nil {
		return common.Address{}, classify(err, "request accounts")
	}
	if len(accounts) == 0 {
		return common.Address{}, ErrNoWallet
	}
	r.inputs.BindInjected(accounts[0])
	r.log.Info("injected wallet connected", slog.String("address", accounts[0].Hex()))
	return accounts[0], nil
}

// EnsureChain makes sure the signing provider is on chainID, asking the
// wallet to switch when it is not and re-validating afterwards.
func (r *Resolver) EnsureChain(ctx context.Context, chainID uint64) error {
	provider, err := r.SigningProvider()
	if err != nil {
		return err
	}
	return r.ensureChain(ctx, provider, chainID)
}

func (r *Resolver) ensureChain(ctx context.Context, provider Provider, chainID uint64) error {
	current, err := providerChainID(ctx, provider)
	if err != nil {
		return err
	}
	if current == chainID {
		return nil
	}

	label := strconv.FormatUint(chainID, 10)
	name := r.chainName(chainID)
	r.log.Info("wallet on wrong network, requesting switch",
		slog.Uint64("current_chain", current),
		slog.Uint64("target_chain", chainID))

	switchErr := provider.CallContext(ctx, nil, "wallet_switchEthereumChain",
		map[string]string{"chainId": hexutil.EncodeUint64(chainID)})
	if switchErr != nil {
		classified := classify(switchErr, "switch network")
		metrics.ChainSwitches.WithLabelValues(label, string(xerrors.CodeOf(classified))).Inc()
		switch xerrors.CodeOf(classified) {
		case xerrors.CodeChainNotAdded:
			return xerrors.Wrap(xerrors.CodeChainNotAdded, switchErr,
				fmt.Sprintf("Please add %s to your wallet and try again", name))
		case xerrors.CodeUserRejected:
			return classified
		default:
			return xerrors.Wrap(xerrors.CodeWrongNetwork, switchErr,
				fmt.Sprintf("Please switch your wallet to %s", name))
		}
	}

	after, err := providerChainID(ctx, provider)
	if err != nil {
		return err
	}
	if after != chainID {
		metrics.ChainSwitches.WithLabelValues(label, "mismatch").Inc()
		return xerrors.New(xerrors.CodeWrongNetwork,
			fmt.Sprintf("Please switch your wallet to %s", name),
			xerrors.WithMetadata("current_chain", strconv.FormatUint(after, 10)))
	}
	metrics.ChainSwitches.WithLabelValues(label, "ok").Inc()
	return nil
}

func (r *Resolver) chainName(chainID uint64) string {
	if name, ok := r.chainNames[chainID]; ok && name != "" {
		return name
	}
	return fmt.Sprintf("chain %d", chainID)
}

func providerChainID(ctx context.Context, provider Provider) (uint64, error) {
	var raw hexutil.Big
	if err := provider.CallContext(ctx, &raw, "eth_chainId"); err != nil {
		return 0, classify(err, "read wallet chain")
	}
	return (*big.Int)(&raw).Uint64(), nil
}

// Dispatch sends req through the mechanism backing the resolved identity and
// returns the transaction hash.
func (r *Resolver) Dispatch(ctx context.Context, req ActionRequest) (common.Hash, error) {
	snap := r.inputs.Snapshot()
	id := Resolve(snap, r.providerAppID)
	if id.Address == nil {
		metrics.WalletDispatches.WithLabelValues(string(id.Source), "no_wallet").Inc()
		return common.Hash{}, ErrNoWallet
	}

	var (
		hash common.Hash
		err  error
	)
	if id.Source == SourceCrossApp {
		// The relay signs on the chain named by req.ChainID; there is no
		// wallet network to switch.
		hash, err = r.dispatchCrossApp(ctx, *id.Address, req)
	} else {
		hash, err = r.dispatchProvider(ctx, snap, *id.Address, req)
	}

	if err != nil {
		metrics.WalletDispatches.WithLabelValues(string(id.Source), string(xerrors.CodeOf(err))).Inc()
		logger.Audit().Warn("transaction dispatch failed",
			slog.String("source", string(id.Source)),
			slog.String("from", id.Address.Hex()),
			slog.String("to", req.To.Hex()),
			slog.Uint64("chain_id", req.ChainID),
			slog.String("error_code", string(xerrors.CodeOf(err))),
			slog.String("error", err.Error()))
		return common.Hash{}, err
	}

	metrics.WalletDispatches.WithLabelValues(string(id.Source), "ok").Inc()
	logger.Audit().Info("transaction dispatched",
		slog.String("source", string(id.Source)),
		slog.String("from", id.Address.Hex()),
		slog.String("to", req.To.Hex()),
		slog.Uint64("chain_id", req.ChainID),
		slog.String("tx_hash", hash.Hex()))
	return hash, nil
}

func (r *Resolver) dispatchCrossApp(ctx context.Context, signer common.Address, req ActionRequest) (common.Hash, error) {
	if r.crossApp == nil {
		return common.Hash{}, xerrors.New(xerrors.CodeNoProvider, "cross-app wallet relay is not configured")
	}
	hash, err := r.crossApp.SendTransaction(ctx, signer, req.crossApp())
	if err != nil {
		return common.Hash{}, classify(err, "cross-app send")
	}
	return hash, nil
}

func (r *Resolver) dispatchProvider(ctx context.Context, snap Snapshot, from common.Address, req ActionRequest) (common.Hash, error) {
	provider, err := SigningProvider(snap)
	if err != nil {
		return common.Hash{}, err
	}
	if err := r.ensureChain(ctx, provider, req.ChainID); err != nil {
		return common.Hash{}, err
	}
	var hash common.Hash
	if err := provider.CallContext(ctx, &hash, "eth_sendTransaction", req.sendArgs(from)); err != nil {
		return common.Hash{}, classify(err, "send transaction")
	}
	return hash, nil
}

// WaitForConfirmation waits for hash on a plain JSON-RPC endpoint. It
// returns a nil receipt when the wait times out.
func (r *Resolver) WaitForConfirmation(ctx context.Context, hash common.Hash, rpcURL string) (*coretypes.Receipt, error) {
	if r.readers == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "chain readers are not configured")
	}
	reader, err := r.readers.ForURL(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRPCFailure, err, "open confirmation endpoint")
	}
	started := time.Now()
	receipt, err := reader.WaitForReceipt(ctx, hash)
	switch {
	case err != nil:
		metrics.ConfirmationDuration.WithLabelValues("error").Observe(time.Since(started).Seconds())
		return nil, xerrors.Wrap(xerrors.CodeRPCFailure, err, "wait for confirmation")
	case receipt == nil:
		metrics.ConfirmationDuration.WithLabelValues("timeout").Observe(time.Since(started).Seconds())
		r.log.Warn("confirmation timed out", slog.String("tx_hash", hash.Hex()))
		return nil, nil
	}
	metrics.ConfirmationDuration.WithLabelValues("mined").Observe(time.Since(started).Seconds())
	return receipt, nil
}
