package instruction

import "github.com/Klingon-tech/tokenledger/pkg/types"

// NewCreateAccount returns a CreateAccount instruction.
func NewCreateAccount(payer, address types.Address, lamports, space uint64, owner types.Address) Instruction {
	return Instruction{CreateAccount: &CreateAccount{
		Payer:    payer,
		Address:  address,
		Lamports: lamports,
		Space:    space,
		Owner:    owner,
	}}
}

// NewCreateHolding returns a CreateHolding instruction.
func NewCreateHolding(payer types.Address, owner types.Identity, tokenClass types.Address, idempotent bool) Instruction {
	return Instruction{CreateHolding: &CreateHolding{
		Payer:      payer,
		Owner:      owner,
		TokenClass: tokenClass,
		Idempotent: idempotent,
	}}
}

// NewCreateTokenClass returns a CreateTokenClass instruction.
func NewCreateTokenClass(tokenClass types.Address, decimals uint8, authority types.Identity) Instruction {
	return Instruction{CreateTokenClass: &CreateTokenClass{
		TokenClass: tokenClass,
		Decimals:   decimals,
		Authority:  authority,
	}}
}

// NewMint returns a Mint instruction.
func NewMint(tokenClass, destination types.Address, amount uint64, authority types.Identity) Instruction {
	return Instruction{Mint: &Mint{
		TokenClass:  tokenClass,
		Destination: destination,
		Amount:      amount,
		Authority:   authority,
	}}
}

// NewTransfer returns a Transfer instruction.
func NewTransfer(from, to types.Address, amount uint64, fromAuthority types.Identity) Instruction {
	return Instruction{Transfer: &Transfer{
		From:          from,
		To:            to,
		Amount:        amount,
		FromAuthority: fromAuthority,
	}}
}

// NewBatch wraps instructions in an unsigned batch.
func NewBatch(nonce uint64, ixs ...Instruction) *Batch {
	return &Batch{Nonce: nonce, Instructions: ixs}
}
