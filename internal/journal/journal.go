// Package journal records every transaction the setup flow dispatches. The
// orchestrator consults it before prompting for a signature so a transaction
// that is already in flight or confirmed is waited on instead of re-sent.
package journal

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "github.com/Maxxit-ai/maxxit-latest-sub005/internal/errors"
)

// Action is the kind of transaction.
type Action string

// Journaled actions.
const (
	ActionDelegate Action = "delegate"
	ActionApprove  Action = "approve"
	ActionFund     Action = "fund"
)

// Status is the confirmation state of a transaction.
type Status string

// Transaction states.
const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusReverted  Status = "reverted"
	StatusTimeout   Status = "timeout"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status will not change anymore.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusReverted || s == StatusFailed
}

// Entry is one dispatched transaction.
type Entry struct {
	ID         string `json:"id"`
	Venue      string `json:"venue"`
	UserWallet string `json:"user_wallet"`
	Action     Action `json:"action"`
	ChainID    uint64 `json:"chain_id"`
	TxHash     string `json:"tx_hash"`
	Status     Status `json:"status"`
	Error      string `json:"error,omitempty"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
}

// Store persists journal entries.
type Store interface {
	// Record inserts a new entry. A duplicate transaction hash yields CodeConflict.
	Record(ctx context.Context, entry *Entry) error
	// UpdateStatus moves an entry to status.
	UpdateStatus(ctx context.Context, id string, status Status, errMsg string) error
	// Latest returns the most recent entry of action, CodeNotFound if none.
	Latest(ctx context.Context, venue, userWallet string, action Action) (*Entry, error)
	// List returns the newest entries first.
	List(ctx context.Context, venue, userWallet string, limit int) ([]Entry, error)
	// Clear drops the entries of a venue setup.
	Clear(ctx context.Context, venue, userWallet string) error
	Close() error
}

// Prepare fills identifiers and timestamps and normalises keys.
func Prepare(entry *Entry) error {
	if entry == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "交易记录不能为空")
	}
	if strings.TrimSpace(entry.TxHash) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "交易哈希不能为空")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.Venue = strings.ToLower(strings.TrimSpace(entry.Venue))
	entry.UserWallet = NormaliseWallet(entry.UserWallet)
	entry.TxHash = strings.ToLower(entry.TxHash)
	if entry.Status == "" {
		entry.Status = StatusPending
	}
	now := time.Now().Unix()
	if entry.CreatedAt == 0 {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	return nil
}

// NormaliseWallet lower-cases an address so lookups are case-insensitive.
func NormaliseWallet(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func notFound(venue, userWallet string, action Action) error {
	return xerrors.New(xerrors.CodeNotFound, "未找到交易记录",
		xerrors.WithMetadata("venue", venue),
		xerrors.WithMetadata("user_wallet", userWallet),
		xerrors.WithMetadata("action", string(action)))
}
