package token

import (
	"fmt"

	"github.com/Klingon-tech/tokenledger/pkg/instruction"
	"github.com/Klingon-tech/tokenledger/pkg/types"
)

// RequireSigner fails with ErrMissingSignature unless id signed the batch.
func RequireSigner(id types.Identity, signers instruction.SignerSet) error {
	if !signers.Has(id) {
		return fmt.Errorf("%w: %s", ErrMissingSignature, id)
	}
	return nil
}
