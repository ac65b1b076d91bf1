// Package instruction defines ledger instructions and signed batches.
package instruction

import (
	"encoding/binary"

	"github.com/Klingon-tech/tokenledger/pkg/types"
)

// DefaultMintAmount is the amount minted when a client does not choose one.
const DefaultMintAmount uint64 = 10

// Kind names an instruction variant.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindCreateAccount
	KindCreateHolding
	KindCreateTokenClass
	KindMint
	KindTransfer
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindCreateAccount:
		return "create_account"
	case KindCreateHolding:
		return "create_holding"
	case KindCreateTokenClass:
		return "create_token_class"
	case KindMint:
		return "mint"
	case KindTransfer:
		return "transfer"
	default:
		return "invalid"
	}
}

// IsSystem reports whether the kind is handled outside the token program.
func (k Kind) IsSystem() bool {
	return k == KindCreateAccount || k == KindCreateHolding
}

// Instruction is a tagged union. Exactly one body is set.
type Instruction struct {
	CreateAccount    *CreateAccount    `json:"create_account,omitempty"`
	CreateHolding    *CreateHolding    `json:"create_holding,omitempty"`
	CreateTokenClass *CreateTokenClass `json:"create_token_class,omitempty"`
	Mint             *Mint             `json:"mint,omitempty"`
	Transfer         *Transfer         `json:"transfer,omitempty"`
}

// CreateAccount allocates a fresh account funded by Payer.
type CreateAccount struct {
	Payer    types.Address `json:"payer"`
	Address  types.Address `json:"address"`
	Lamports uint64        `json:"lamports"`
	Space    uint64        `json:"space"`
	Owner    types.Address `json:"owner"`
}

// CreateHolding allocates the derived holding of Owner for TokenClass.
type CreateHolding struct {
	Payer      types.Address  `json:"payer"`
	Owner      types.Identity `json:"owner"`
	TokenClass types.Address  `json:"token_class"`
	Idempotent bool           `json:"idempotent,omitempty"`
}

// CreateTokenClass initializes a token class account.
type CreateTokenClass struct {
	TokenClass types.Address  `json:"token_class"`
	Decimals   uint8          `json:"decimals"`
	Authority  types.Identity `json:"authority"`
}

// Mint issues new units of a class into a holding.
type Mint struct {
	TokenClass  types.Address  `json:"token_class"`
	Destination types.Address  `json:"destination"`
	Amount      uint64         `json:"amount"`
	Authority   types.Identity `json:"authority"`
}

// Transfer moves units between two holdings of the same class.
type Transfer struct {
	From          types.Address  `json:"from"`
	To            types.Address  `json:"to"`
	Amount        uint64         `json:"amount"`
	FromAuthority types.Identity `json:"from_authority"`
}

// Kind returns the populated variant, or KindInvalid when zero or
// several bodies are set.
func (ix *Instruction) Kind() Kind {
	kind, n := KindInvalid, 0
	if ix.CreateAccount != nil {
		kind, n = KindCreateAccount, n+1
	}
	if ix.CreateHolding != nil {
		kind, n = KindCreateHolding, n+1
	}
	if ix.CreateTokenClass != nil {
		kind, n = KindCreateTokenClass, n+1
	}
	if ix.Mint != nil {
		kind, n = KindMint, n+1
	}
	if ix.Transfer != nil {
		kind, n = KindTransfer, n+1
	}
	if n != 1 {
		return KindInvalid
	}
	return kind
}

// appendSigningBytes appends the canonical encoding of the instruction.
// Format: kind(1) | fields in declaration order, integers little-endian.
func (ix *Instruction) appendSigningBytes(buf []byte) []byte {
	kind := ix.Kind()
	buf = append(buf, byte(kind))
	switch kind {
	case KindCreateAccount:
		b := ix.CreateAccount
		buf = append(buf, b.Payer[:]...)
		buf = append(buf, b.Address[:]...)
		buf = binary.LittleEndian.AppendUint64(buf, b.Lamports)
		buf = binary.LittleEndian.AppendUint64(buf, b.Space)
		buf = append(buf, b.Owner[:]...)
	case KindCreateHolding:
		b := ix.CreateHolding
		buf = append(buf, b.Payer[:]...)
		buf = append(buf, b.Owner[:]...)
		buf = append(buf, b.TokenClass[:]...)
		buf = append(buf, boolByte(b.Idempotent))
	case KindCreateTokenClass:
		b := ix.CreateTokenClass
		buf = append(buf, b.TokenClass[:]...)
		buf = append(buf, b.Decimals)
		buf = append(buf, b.Authority[:]...)
	case KindMint:
		b := ix.Mint
		buf = append(buf, b.TokenClass[:]...)
		buf = append(buf, b.Destination[:]...)
		buf = binary.LittleEndian.AppendUint64(buf, b.Amount)
		buf = append(buf, b.Authority[:]...)
	case KindTransfer:
		b := ix.Transfer
		buf = append(buf, b.From[:]...)
		buf = append(buf, b.To[:]...)
		buf = binary.LittleEndian.AppendUint64(buf, b.Amount)
		buf = append(buf, b.FromAuthority[:]...)
	}
	return buf
}

// Accounts returns every address the instruction names, in field order.
func (ix *Instruction) Accounts() []types.Address {
	switch ix.Kind() {
	case KindCreateAccount:
		b := ix.CreateAccount
		return []types.Address{b.Payer, b.Address}
	case KindCreateHolding:
		b := ix.CreateHolding
		return []types.Address{b.Payer, b.TokenClass}
	case KindCreateTokenClass:
		return []types.Address{ix.CreateTokenClass.TokenClass}
	case KindMint:
		b := ix.Mint
		return []types.Address{b.TokenClass, b.Destination}
	case KindTransfer:
		b := ix.Transfer
		return []types.Address{b.From, b.To}
	}
	return nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
