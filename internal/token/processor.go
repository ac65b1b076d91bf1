// Package token implements the token program: token classes, derived
// holdings, minting by the class authority and transfers between holdings
// of the same class.
//
// The processor borrows accounts from an Accounts overlay for a single
// instruction and writes them back only after every precondition holds,
// so a failed instruction leaves the overlay untouched.
package token

import (
	"fmt"
	"math"

	"github.com/Klingon-tech/tokenledger/internal/ledger"
	"github.com/Klingon-tech/tokenledger/pkg/derive"
	"github.com/Klingon-tech/tokenledger/pkg/instruction"
	"github.com/Klingon-tech/tokenledger/pkg/types"
)

// Accounts is the account overlay the processor reads and writes.
// ledger.View implements it.
type Accounts interface {
	Get(addr types.Address) (*ledger.Account, error)
	Put(acct *ledger.Account)
}

// Processor executes token program instructions.
type Processor struct {
	programID types.Address
}

// NewProcessor returns a processor for the standard token program ID.
func NewProcessor() *Processor {
	return &Processor{programID: derive.TokenProgramID}
}

// ProgramID returns the program that must own every account it touches.
func (p *Processor) ProgramID() types.Address {
	return p.programID
}

// Process validates and applies one token instruction.
func (p *Processor) Process(accts Accounts, ix *instruction.Instruction, signers instruction.SignerSet) error {
	switch ix.Kind() {
	case instruction.KindCreateTokenClass:
		return p.createTokenClass(accts, ix.CreateTokenClass)
	case instruction.KindMint:
		return p.mint(accts, ix.Mint, signers)
	case instruction.KindTransfer:
		return p.transfer(accts, ix.Transfer, signers)
	default:
		return fmt.Errorf("%s: %w", ix.Kind(), instruction.ErrMalformedInstruction)
	}
}

func (p *Processor) createTokenClass(accts Accounts, ix *instruction.CreateTokenClass) error {
	acct, err := p.load(accts, ix.TokenClass)
	if err != nil {
		return err
	}
	if acct.Kind() != ledger.KindUninitialized {
		return fmt.Errorf("%w: %s", ErrAlreadyInitialized, ix.TokenClass)
	}
	if acct.Space != ledger.TokenClassSize {
		return fmt.Errorf("%w: %s has %d bytes, token class needs %d",
			ErrInvalidAccountSize, ix.TokenClass, acct.Space, ledger.TokenClassSize)
	}

	acct.TokenClass = &ledger.TokenClass{
		Authority: ix.Authority,
		Decimals:  ix.Decimals,
	}
	accts.Put(acct)
	return nil
}

func (p *Processor) mint(accts Accounts, ix *instruction.Mint, signers instruction.SignerSet) error {
	if err := RequireSigner(ix.Authority, signers); err != nil {
		return err
	}

	class, err := p.loadTokenClass(accts, ix.TokenClass)
	if err != nil {
		return err
	}
	if class.TokenClass.Authority != ix.Authority {
		return fmt.Errorf("%w: %s is not the authority of %s", ErrUnauthorized, ix.Authority, ix.TokenClass)
	}

	dest, err := p.loadHolding(accts, ix.Destination)
	if err != nil {
		return err
	}
	if dest.Holding.TokenClass != ix.TokenClass {
		return fmt.Errorf("%w: %s holds %s, not %s",
			ErrWrongTokenClass, ix.Destination, dest.Holding.TokenClass, ix.TokenClass)
	}
	if err := checkDerived(dest, ix.TokenClass); err != nil {
		return err
	}

	if dest.Holding.Balance > math.MaxUint64-ix.Amount {
		return fmt.Errorf("%w: balance of %s", ErrOverflow, ix.Destination)
	}
	if class.TokenClass.Minted > math.MaxUint64-ix.Amount {
		return fmt.Errorf("%w: supply of %s", ErrOverflow, ix.TokenClass)
	}

	dest.Holding.Balance += ix.Amount
	class.TokenClass.Minted += ix.Amount
	accts.Put(dest)
	accts.Put(class)
	return nil
}

func (p *Processor) transfer(accts Accounts, ix *instruction.Transfer, signers instruction.SignerSet) error {
	if err := RequireSigner(ix.FromAuthority, signers); err != nil {
		return err
	}

	from, err := p.loadHolding(accts, ix.From)
	if err != nil {
		return err
	}
	if from.Holding.Owner != ix.FromAuthority {
		return fmt.Errorf("%w: %s does not own %s", ErrUnauthorized, ix.FromAuthority, ix.From)
	}

	// Both sides resolve to one record on self-transfer, so the debit and
	// credit below can never both land.
	to := from
	if ix.To != ix.From {
		to, err = p.loadHolding(accts, ix.To)
		if err != nil {
			return err
		}
	}

	if from.Holding.TokenClass != to.Holding.TokenClass {
		return fmt.Errorf("%w: %s holds %s, %s holds %s", ErrTokenClassMismatch,
			ix.From, from.Holding.TokenClass, ix.To, to.Holding.TokenClass)
	}
	class := from.Holding.TokenClass
	if err := checkDerived(from, class); err != nil {
		return err
	}
	if err := checkDerived(to, class); err != nil {
		return err
	}
	if from.Holding.Balance < ix.Amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientBalance, ix.From, from.Holding.Balance, ix.Amount)
	}

	if to == from {
		return nil
	}
	if to.Holding.Balance > math.MaxUint64-ix.Amount {
		return fmt.Errorf("%w: balance of %s", ErrOverflow, ix.To)
	}

	from.Holding.Balance -= ix.Amount
	to.Holding.Balance += ix.Amount
	accts.Put(from)
	accts.Put(to)
	return nil
}

// load fetches an account and checks the program owns it.
func (p *Processor) load(accts Accounts, addr types.Address) (*ledger.Account, error) {
	acct, err := accts.Get(addr)
	if err != nil {
		return nil, err
	}
	if acct.Owner != p.programID {
		return nil, fmt.Errorf("%w: %s owned by %s", ErrInvalidAccountOwner, addr, acct.Owner)
	}
	return acct, nil
}

func (p *Processor) loadTokenClass(accts Accounts, addr types.Address) (*ledger.Account, error) {
	acct, err := p.load(accts, addr)
	if err != nil {
		return nil, err
	}
	if acct.Kind() != ledger.KindTokenClass {
		return nil, fmt.Errorf("%w: %s", ErrNotTokenClass, addr)
	}
	return acct, nil
}

func (p *Processor) loadHolding(accts Accounts, addr types.Address) (*ledger.Account, error) {
	acct, err := p.load(accts, addr)
	if err != nil {
		return nil, err
	}
	if acct.Kind() != ledger.KindHolding {
		return nil, fmt.Errorf("%w: %s", ErrNotHolding, addr)
	}
	return acct, nil
}

// checkDerived verifies a holding sits at Derive(owner, class).
func checkDerived(acct *ledger.Account, class types.Address) error {
	want := derive.Derive(acct.Holding.Owner, class)
	if acct.Address != want {
		return fmt.Errorf("%w: %s, expected %s", ErrMalformedAddress, acct.Address, want)
	}
	return nil
}
