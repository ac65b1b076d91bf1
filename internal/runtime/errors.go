package runtime

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/tokenledger/internal/ledger"
	"github.com/Klingon-tech/tokenledger/internal/token"
)

// Runtime errors.
var (
	ErrBatchKnown        = errors.New("batch already processed")
	ErrNotRentExempt     = errors.New("lamports below existence minimum")
	ErrInsufficientFunds = errors.New("payer has insufficient lamports")
	ErrAccountExists     = errors.New("account already exists")
	ErrInvalidPayer      = errors.New("payer must be a system account without data")
	ErrAccountTooLarge   = errors.New("account space exceeds maximum")
	ErrLamportsOverflow  = errors.New("lamports overflow")
	ErrFaucetDisabled    = errors.New("faucet is disabled on this network")
	ErrAirdropTooLarge   = errors.New("airdrop exceeds faucet maximum")
)

// InstructionError reports the instruction that aborted a batch.
type InstructionError struct {
	Index int
	Kind  string
	Err   error
}

func (e *InstructionError) Error() string {
	return fmt.Sprintf("instruction %d failed (%s): %v", e.Index, e.Kind, e.Err)
}

func (e *InstructionError) Unwrap() error {
	return e.Err
}

// ErrorKind names the failed precondition behind err.
func ErrorKind(err error) string {
	if kind := token.ErrorKind(err); kind != "" {
		return kind
	}
	switch {
	case errors.Is(err, ErrNotRentExempt):
		return "NotRentExempt"
	case errors.Is(err, ErrInsufficientFunds):
		return "InsufficientFunds"
	case errors.Is(err, ErrAccountExists):
		return "AccountExists"
	case errors.Is(err, ErrInvalidPayer):
		return "InvalidPayer"
	case errors.Is(err, ErrAccountTooLarge):
		return "AccountTooLarge"
	case errors.Is(err, ErrLamportsOverflow):
		return "Overflow"
	default:
		return "Failed"
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, ledger.ErrAccountNotFound)
}
