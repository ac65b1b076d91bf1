// Package ledger holds token ledger accounts and the store they live in.
package ledger

import "github.com/Klingon-tech/tokenledger/pkg/types"

// Serialized sizes of initialized token program accounts. Account space
// must match these for the existence minimum to be computed correctly.
const (
	TokenClassSize = 82
	HoldingSize    = 165
)

// Kind classifies an account by the record it carries.
type Kind uint8

const (
	KindUninitialized Kind = iota
	KindTokenClass
	KindHolding
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindTokenClass:
		return "token_class"
	case KindHolding:
		return "holding"
	default:
		return "uninitialized"
	}
}

// Account is one addressable record in the store.
//
// Payer accounts and freshly created accounts carry neither a TokenClass
// nor a Holding. At most one of the two is set.
type Account struct {
	Address    types.Address `json:"address"`
	Lamports   uint64        `json:"lamports"`
	Space      uint64        `json:"space"`
	Owner      types.Address `json:"owner"`
	TokenClass *TokenClass   `json:"token_class,omitempty"`
	Holding    *Holding      `json:"holding,omitempty"`
}

// TokenClass describes a fungible token.
type TokenClass struct {
	Authority types.Identity `json:"authority"`
	Decimals  uint8          `json:"decimals"`
	// Minted is the cumulative amount ever minted. It bounds total supply
	// and lets conservation be audited against the holdings.
	Minted uint64 `json:"minted"`
}

// Holding records one owner's balance of one token class.
type Holding struct {
	Owner      types.Identity `json:"owner"`
	TokenClass types.Address  `json:"token_class"`
	Balance    uint64         `json:"balance"`
}

// Kind reports which record the account carries.
func (a *Account) Kind() Kind {
	switch {
	case a.TokenClass != nil:
		return KindTokenClass
	case a.Holding != nil:
		return KindHolding
	default:
		return KindUninitialized
	}
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	c := *a
	if a.TokenClass != nil {
		tc := *a.TokenClass
		c.TokenClass = &tc
	}
	if a.Holding != nil {
		h := *a.Holding
		c.Holding = &h
	}
	return &c
}

// validate rejects records that could never have been produced by the
// ledger itself.
func (a *Account) validate() error {
	if a.TokenClass != nil && a.Holding != nil {
		return ErrInvalidAccount
	}
	return nil
}
