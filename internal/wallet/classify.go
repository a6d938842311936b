package wallet

import (
	"context"
	"errors"
	"strings"

	xerrors "github.com/Maxxit-ai/maxxit-latest-sub005/internal/errors"
)

// Wallet error codes (EIP-1193, EIP-3326).
const (
	codeUserRejected      = 4001
	codeUnrecognizedChain = 4902
)

var rejectionPhrases = []string{
	"user rejected",
	"user denied",
	"rejected by user",
	"user cancelled",
	"user canceled",
	"request rejected",
}

// classify maps a raw provider error onto the wallet error taxonomy.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if _, ok := xerrors.From(err); ok {
		return err
	}
	switch walletCode(err) {
	case codeUserRejected:
		return xerrors.Wrap(xerrors.CodeUserRejected, err, "")
	case codeUnrecognizedChain:
		return xerrors.Wrap(xerrors.CodeChainNotAdded, err, "")
	}
	lower := strings.ToLower(err.Error())
	for _, phrase := range rejectionPhrases {
		if strings.Contains(lower, phrase) {
			return xerrors.Wrap(xerrors.CodeUserRejected, err, "")
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, op)
	}
	return xerrors.Wrap(xerrors.CodeRPCFailure, err, op)
}

// walletCode extracts the wallet error code, looking into the error data
// for wallets that wrap the original error in an internal error.
func walletCode(err error) int {
	var coded interface{ ErrorCode() int }
	if !errors.As(err, &coded) {
		return 0
	}
	code := coded.ErrorCode()
	if code == codeUserRejected || code == codeUnrecognizedChain {
		return code
	}
	var withData interface{ ErrorData() any }
	if errors.As(err, &withData) {
		if nested := nestedCode(withData.ErrorData()); nested != 0 {
			return nested
		}
	}
	return code
}

func nestedCode(data any) int {
	m, ok := data.(map[string]any)
	if !ok {
		return 0
	}
	if original, ok := m["originalError"]; ok {
		if code := nestedCode(original); code != 0 {
			return code
		}
	}
	if raw, ok := m["code"].(float64); ok {
		return int(raw)
	}
	return 0
}
