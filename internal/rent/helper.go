package rent

import (
	"github.com/Klingon-tech/tokenledger/internal/ledger"
	"github.com/Klingon-tech/tokenledger/pkg/derive"
	"github.com/Klingon-tech/tokenledger/pkg/instruction"
	"github.com/Klingon-tech/tokenledger/pkg/types"
)

// Helper builds account-creation instructions funded with the existence
// minimum under a fixed set of rent parameters.
type Helper struct {
	rent Rent
}

// NewHelper creates a helper for the given parameters.
func NewHelper(r Rent) *Helper {
	return &Helper{rent: r}
}

// Rent returns the helper's parameters.
func (h *Helper) Rent() Rent {
	return h.rent
}

// CreateTokenClassAccount allocates a token-class-sized account at class,
// owned by the token program and paid for by payer. Both payer and class
// must sign the batch that carries it.
func (h *Helper) CreateTokenClassAccount(payer, class types.Address) instruction.Instruction {
	return instruction.NewCreateAccount(
		payer,
		class,
		h.rent.MinimumBalance(ledger.TokenClassSize),
		ledger.TokenClassSize,
		derive.TokenProgramID,
	)
}

// CreateHoldingAccount allocates the derived holding of owner for class,
// paid for by payer. The runtime funds it with the existence minimum.
func (h *Helper) CreateHoldingAccount(payer types.Address, owner types.Identity, class types.Address, idempotent bool) (instruction.Instruction, types.Address) {
	return instruction.NewCreateHolding(payer, owner, class, idempotent), derive.Derive(owner, class)
}

// TokenClassSetup returns the two instructions that create and initialize
// a token class in one batch.
func (h *Helper) TokenClassSetup(payer, class types.Address, decimals uint8, authority types.Identity) []instruction.Instruction {
	return []instruction.Instruction{
		h.CreateTokenClassAccount(payer, class),
		instruction.NewCreateTokenClass(class, decimals, authority),
	}
}
