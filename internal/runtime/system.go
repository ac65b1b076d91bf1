package runtime

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/tokenledger/internal/ledger"
	"github.com/Klingon-tech/tokenledger/internal/token"
	"github.com/Klingon-tech/tokenledger/pkg/derive"
	"github.com/Klingon-tech/tokenledger/pkg/instruction"
	"github.com/Klingon-tech/tokenledger/pkg/types"
)

// MaxAccountSpace bounds the data size of a single account.
const MaxAccountSpace = 10 * 1024 * 1024

// processSystem executes CreateAccount and CreateHolding against the view.
func (r *Runtime) processSystem(view *ledger.View, ix *instruction.Instruction, signers instruction.SignerSet) error {
	switch ix.Kind() {
	case instruction.KindCreateAccount:
		return r.createAccount(view, ix.CreateAccount, signers)
	case instruction.KindCreateHolding:
		return r.createHolding(view, ix.CreateHolding, signers)
	default:
		return fmt.Errorf("%s: %w", ix.Kind(), instruction.ErrMalformedInstruction)
	}
}

func (r *Runtime) createAccount(view *ledger.View, ix *instruction.CreateAccount, signers instruction.SignerSet) error {
	if err := token.RequireSigner(ix.Payer, signers); err != nil {
		return fmt.Errorf("payer: %w", err)
	}
	if err := token.RequireSigner(ix.Address, signers); err != nil {
		return fmt.Errorf("new account: %w", err)
	}
	if ix.Space > MaxAccountSpace {
		return fmt.Errorf("%w: %d > %d", ErrAccountTooLarge, ix.Space, MaxAccountSpace)
	}
	if err := r.checkFresh(view, ix.Address); err != nil {
		return err
	}
	if !r.rent.IsExempt(ix.Lamports, ix.Space) {
		return fmt.Errorf("%w: %d lamports for %d bytes, need %d",
			ErrNotRentExempt, ix.Lamports, ix.Space, r.rent.MinimumBalance(ix.Space))
	}

	payer, err := r.debitPayer(view, ix.Payer, ix.Lamports)
	if err != nil {
		return err
	}
	view.Put(payer)
	view.Put(&ledger.Account{
		Address:  ix.Address,
		Lamports: ix.Lamports,
		Space:    ix.Space,
		Owner:    ix.Owner,
	})
	return nil
}

func (r *Runtime) createHolding(view *ledger.View, ix *instruction.CreateHolding, signers instruction.SignerSet) error {
	if err := token.RequireSigner(ix.Payer, signers); err != nil {
		return fmt.Errorf("payer: %w", err)
	}

	class, err := view.Get(ix.TokenClass)
	if err != nil {
		return err
	}
	if class.Owner != r.token.ProgramID() {
		return fmt.Errorf("%w: %s", token.ErrInvalidAccountOwner, ix.TokenClass)
	}
	if class.Kind() != ledger.KindTokenClass {
		return fmt.Errorf("%w: %s", token.ErrNotTokenClass, ix.TokenClass)
	}

	addr := derive.Derive(ix.Owner, ix.TokenClass)
	existing, err := view.Get(addr)
	switch {
	case err == nil:
		if ix.Idempotent && isHolding(existing, r.token.ProgramID(), ix.Owner, ix.TokenClass) {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrAccountExists, addr)
	case !errors.Is(err, ledger.ErrAccountNotFound):
		return err
	}

	lamports := r.rent.MinimumBalance(ledger.HoldingSize)
	payer, err := r.debitPayer(view, ix.Payer, lamports)
	if err != nil {
		return err
	}
	view.Put(payer)
	view.Put(&ledger.Account{
		Address:  addr,
		Lamports: lamports,
		Space:    ledger.HoldingSize,
		Owner:    r.token.ProgramID(),
		Holding:  &ledger.Holding{Owner: ix.Owner, TokenClass: ix.TokenClass},
	})
	return nil
}

func isHolding(acct *ledger.Account, program types.Address, owner types.Identity, class types.Address) bool {
	return acct.Owner == program &&
		acct.Holding != nil &&
		acct.Holding.Owner == owner &&
		acct.Holding.TokenClass == class
}

func (r *Runtime) checkFresh(view *ledger.View, addr types.Address) error {
	exists, err := view.Has(addr)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrAccountExists, addr)
	}
	return nil
}

// debitPayer returns a copy of the payer with lamports removed.
func (r *Runtime) debitPayer(view *ledger.View, addr types.Address, lamports uint64) (*ledger.Account, error) {
	payer, err := view.Get(addr)
	if err != nil {
		return nil, fmt.Errorf("payer: %w", err)
	}
	if payer.Owner != derive.SystemProgramID || payer.Kind() != ledger.KindUninitialized || payer.Space != 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPayer, addr)
	}
	if payer.Lamports < lamports {
		return nil, fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, addr, payer.Lamports, lamports)
	}
	payer.Lamports -= lamports
	return payer, nil
}
