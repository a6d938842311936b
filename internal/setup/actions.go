package setup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	xerrors "github.com/Maxxit-ai/maxxit-latest-sub005/internal/errors"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/events"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/journal"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/progress"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/venue"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/wallet"
)

type verifyFunc func(ctx context.Context) (bool, error)

// ensure brings one on-chain fact about. A journaled transaction that is not
// terminal yet (pending or timed out) is awaited again and never resent; a
// fact already visible on chain sends nothing. Otherwise the request is
// dispatched, journaled and confirmed. With strict, a confirmed transaction
// whose fact is still not visible is an error.
func (o *Orchestrator) ensure(ctx context.Context, action journal.Action, req wallet.ActionRequest, verify verifyFunc, strict bool) (common.Hash, error) {
	userWallet := o.wallet()
	var awaited common.Hash
	prev, err := o.journal.Latest(ctx, o.venue.Name, userWallet, action)
	switch {
	case err == nil && !prev.Status.Terminal():
		awaited = common.HexToHash(prev.TxHash)
		o.log.Info("waiting on journaled transaction",
			slog.String("action", string(action)),
			slog.String("status", string(prev.Status)),
			slog.String("tx_hash", prev.TxHash))
		o.mu.Lock()
		o.state.LastTxHash = awaited.Hex()
		o.mu.Unlock()
		if err := o.confirm(ctx, prev, awaited); err != nil {
			return awaited, err
		}
	case err != nil && !xerrors.Is(err, xerrors.CodeNotFound):
		o.log.Warn("read journal failed", slog.String("action", string(action)), slog.Any("error", err))
	}

	ok, err := verify(ctx)
	if err != nil {
		return awaited, xerrors.Wrap(xerrors.CodeRPCFailure, err, "read on-chain state")
	}
	if ok {
		return awaited, nil
	}

	hash, err := o.signer.Dispatch(ctx, req)
	if err != nil {
		return common.Hash{}, err
	}
	o.mu.Lock()
	o.state.LastTxHash = hash.Hex()
	o.mu.Unlock()

	entry := &journal.Entry{
		Venue:      o.venue.Name,
		UserWallet: userWallet,
		Action:     action,
		ChainID:    req.ChainID,
		TxHash:     hash.Hex(),
	}
	if err := o.journal.Record(ctx, entry); err != nil {
		o.log.Warn("journal transaction failed", slog.String("tx_hash", hash.Hex()), slog.Any("error", err))
		entry = nil
	}
	e := events.New(events.TypeTransaction, o.venue.Name, userWallet)
	e.Operation = string(action)
	e.TxHash = hash.Hex()
	o.publish(ctx, e)

	if err := o.confirm(ctx, entry, hash); err != nil {
		return hash, err
	}
	if !strict {
		return hash, nil
	}
	ok, err = verify(ctx)
	if err != nil {
		return hash, xerrors.Wrap(xerrors.CodeRPCFailure, err, "read on-chain state")
	}
	if !ok {
		return hash, xerrors.New(xerrors.CodeRPCFailure,
			fmt.Sprintf("%s confirmed but not visible on chain", action),
			xerrors.WithMetadata("tx_hash", hash.Hex()))
	}
	return hash, nil
}

// confirm waits for the receipt of hash and moves the journal entry to its
// terminal status. entry may be nil when journaling failed.
func (o *Orchestrator) confirm(ctx context.Context, entry *journal.Entry, hash common.Hash) error {
	receipt, err := o.signer.WaitForConfirmation(ctx, hash, o.venue.Def.RPCURL)
	if err != nil {
		return err
	}
	var (
		status  journal.Status
		outcome error
	)
	switch {
	case receipt == nil:
		status = journal.StatusTimeout
		outcome = xerrors.New(xerrors.CodeTimeout, "Transaction not confirmed yet, check again shortly",
			xerrors.WithMetadata("tx_hash", hash.Hex()))
	case receipt.Status != coretypes.ReceiptStatusSuccessful:
		status = journal.StatusReverted
		outcome = xerrors.New(xerrors.CodeRPCFailure, "transaction reverted",
			xerrors.WithMetadata("tx_hash", hash.Hex()))
	default:
		status = journal.StatusConfirmed
	}
	if entry != nil {
		msg := ""
		if outcome != nil {
			msg = outcome.Error()
		}
		if err := o.journal.UpdateStatus(ctx, entry.ID, status, msg); err != nil {
			o.log.Warn("update journal failed", slog.String("tx_hash", hash.Hex()), slog.Any("error", err))
		}
	}
	return outcome
}

// refreshFacts reads the facts not known yet. Facts already true are never
// re-read; known carries flags the backend reported.
func (o *Orchestrator) refreshFacts(ctx context.Context, owner, agent common.Address, known venue.Facts) error {
	cur := o.view()
	delegated := known.Delegated || cur.Facts.Delegated || cur.Progress.DelegationComplete
	allowance := known.Allowance || cur.Facts.Allowance || cur.Progress.AllowanceComplete
	funded := known.Funded || cur.Facts.Funded || cur.Progress.AgentFunded

	g, gctx := errgroup.WithContext(ctx)
	if !delegated {
		g.Go(func() error {
			ok, err := o.facts.IsDelegated(gctx, owner, agent)
			delegated = ok
			return err
		})
	}
	if !allowance {
		g.Go(func() error {
			ok, err := o.facts.HasAllowance(gctx, owner)
			allowance = ok
			return err
		})
	}
	if !funded {
		g.Go(func() error {
			ok, err := o.facts.IsFunded(gctx, agent)
			funded = ok
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return xerrors.Wrap(xerrors.CodeRPCFailure, err, "read on-chain state")
	}
	return o.applyFacts(ctx, venue.Facts{Delegated: delegated, Allowance: allowance, Funded: funded})
}

// applyFacts merges facts into the state and marks what they prove. Funding
// only counts once both permissions are in place.
func (o *Orchestrator) applyFacts(ctx context.Context, f venue.Facts) error {
	o.mu.Lock()
	o.state.Facts.Delegated = o.state.Facts.Delegated || f.Delegated
	o.state.Facts.Allowance = o.state.Facts.Allowance || f.Allowance
	o.state.Facts.Funded = o.state.Facts.Funded || f.Funded
	merged := o.state.Facts
	o.mu.Unlock()

	if merged.Delegated {
		if err := o.mark(ctx, progress.DelegationComplete); err != nil {
			return err
		}
	}
	if merged.Allowance {
		if err := o.mark(ctx, progress.AllowanceComplete); err != nil {
			return err
		}
	}
	if merged.Funded && merged.Delegated && merged.Allowance {
		return o.mark(ctx, progress.AgentFunded)
	}
	return nil
}

// recordApproval tells the backend about the allowance transaction. A failure
// is audited and alerted but never surfaced to the user.
func (o *Orchestrator) recordApproval(ctx context.Context, hash common.Hash) {
	userWallet := o.wallet()
	err := o.backend.MarkApproval(ctx, o.venue.Name, userWallet, hash.Hex())
	if err == nil {
		return
	}
	inconsistency := xerrors.Wrap(xerrors.CodeBackendInconsistency, err, "backend did not record the allowance",
		xerrors.WithMetadata("tx_hash", hash.Hex()))
	o.log.Warn("mark approval failed", slog.String("tx_hash", hash.Hex()), slog.Any("error", err))
	o.publish(ctx, events.Failure(o.venue.Name, userWallet, "mark-approval", inconsistency))
}
