package token

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/tokenledger/internal/ledger"
)

// Processor errors. ErrMissingSignature is a kind of ErrUnauthorized.
var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrMissingSignature    = fmt.Errorf("%w: missing signature", ErrUnauthorized)
	ErrAlreadyInitialized  = errors.New("account already initialized")
	ErrWrongTokenClass     = errors.New("holding belongs to a different token class")
	ErrTokenClassMismatch  = errors.New("holdings belong to different token classes")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrOverflow            = errors.New("amount overflows")
	ErrMalformedAddress    = errors.New("holding address is not derived from owner and token class")
	ErrAccountNotFound     = ledger.ErrAccountNotFound
	ErrNotTokenClass       = ledger.ErrNotTokenClass
	ErrNotHolding          = errors.New("account is not a holding")
	ErrInvalidAccountOwner = errors.New("account is not owned by the token program")
	ErrInvalidAccountSize  = errors.New("account space does not match record size")
)

// errorKinds is ordered so the most specific match wins.
var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrMissingSignature, "MissingSignature"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrAlreadyInitialized, "AlreadyInitialized"},
	{ErrWrongTokenClass, "WrongTokenClass"},
	{ErrTokenClassMismatch, "TokenClassMismatch"},
	{ErrInsufficientBalance, "InsufficientBalance"},
	{ErrOverflow, "Overflow"},
	{ErrMalformedAddress, "MalformedAddress"},
	{ErrAccountNotFound, "AccountNotFound"},
	{ErrNotTokenClass, "NotTokenClass"},
	{ErrNotHolding, "NotHolding"},
	{ErrInvalidAccountOwner, "InvalidAccountOwner"},
	{ErrInvalidAccountSize, "InvalidAccountSize"},
}

// ErrorKind names the failed precondition behind err, or "" when err is
// not a processor error.
func ErrorKind(err error) string {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return ""
}
