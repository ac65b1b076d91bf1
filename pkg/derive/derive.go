// Package derive computes program-derived addresses.
//
// A derived address is a BLAKE3 hash of caller-chosen seeds, a bump byte,
// the owning program ID and a fixed marker. Bumps are tried from 255 down
// and the first result that does not decode to an ed25519 point is kept,
// so no Ed25519 key can ever sign for a derived address.
package derive

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/tokenledger/pkg/crypto"
	"github.com/Klingon-tech/tokenledger/pkg/types"
)

// Seed limits.
const (
	MaxSeeds   = 16
	MaxSeedLen = 32
)

// pdaMarker is appended after the program ID.
var pdaMarker = []byte("ProgramDerivedAddress")

// holdingTag separates holding addresses from any other seed layout.
var holdingTag = []byte("holding")

// Well-known program IDs.
var (
	// SystemProgramID owns payer and freshly created accounts.
	SystemProgramID = types.Address{}
	// TokenProgramID owns token classes and holdings.
	TokenProgramID = types.MustParseAddress("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
)

// Derivation errors.
var (
	ErrTooManySeeds = errors.New("too many seeds")
	ErrSeedTooLong  = errors.New("seed too long")
	ErrOnCurve      = errors.New("derived address lies on the ed25519 curve")
)

// CreateProgramAddress hashes seeds under program and rejects on-curve results.
// Address = BLAKE3(seed_0 || ... || seed_n || program || "ProgramDerivedAddress").
func CreateProgramAddress(seeds [][]byte, program types.Address) (types.Address, error) {
	if len(seeds) > MaxSeeds {
		return types.Address{}, fmt.Errorf("%w: %d > %d", ErrTooManySeeds, len(seeds), MaxSeeds)
	}
	for i, s := range seeds {
		if len(s) > MaxSeedLen {
			return types.Address{}, fmt.Errorf("seed %d: %w: %d > %d", i, ErrSeedTooLong, len(s), MaxSeedLen)
		}
	}

	parts := make([][]byte, 0, len(seeds)+2)
	parts = append(parts, seeds...)
	parts = append(parts, program[:], pdaMarker)
	h := crypto.HashParts(parts...)

	if crypto.IsOnCurve(h[:]) {
		return types.Address{}, ErrOnCurve
	}
	return types.Address(h), nil
}

// FindProgramAddress searches bumps 255..0 for the first off-curve address.
// ok is false only if every bump lands on the curve.
func FindProgramAddress(seeds [][]byte, program types.Address) (addr types.Address, bump uint8, ok bool) {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for b := 255; b >= 0; b-- {
		withBump[len(seeds)] = []byte{byte(b)}
		a, err := CreateProgramAddress(withBump, program)
		if err == nil {
			return a, byte(b), true
		}
		if !errors.Is(err, ErrOnCurve) {
			return types.Address{}, 0, false
		}
	}
	return types.Address{}, 0, false
}

// Derive returns the holding address for (owner, tokenClass).
// It is pure and never fails.
func Derive(owner types.Identity, tokenClass types.Address) types.Address {
	addr, _ := DeriveWithBump(owner, tokenClass)
	return addr
}

// DeriveWithBump is Derive plus the bump that produced the address.
func DeriveWithBump(owner types.Identity, tokenClass types.Address) (types.Address, uint8) {
	seeds := holdingSeeds(owner, tokenClass)
	if addr, bump, ok := FindProgramAddress(seeds, TokenProgramID); ok {
		return addr, bump
	}
	// Every one of 256 bumps on-curve: not reachable in practice, but the
	// function must stay total, so fall back to the unchecked bump-0 hash.
	h := crypto.HashParts(holdingTag, owner[:], tokenClass[:], []byte{0}, TokenProgramID[:], pdaMarker)
	return types.Address(h), 0
}

func holdingSeeds(owner types.Identity, tokenClass types.Address) [][]byte {
	return [][]byte{holdingTag, owner[:], tokenClass[:]}
}
