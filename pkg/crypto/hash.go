// Package crypto provides cryptographic primitives for the token ledger.
package crypto

import (
	"github.com/Klingon-tech/tokenledger/pkg/types"
	"github.com/zeebo/blake3"
)

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// HashParts hashes the concatenation of parts without allocating the joined slice.
func HashParts(parts ...[]byte) types.Hash {
	h := blake3.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// IdentityFromPubKey derives the signer identity for a public key.
//
//	Ed25519: identity = the 32-byte public key itself.
//	Schnorr: identity = BLAKE3(compressed_pubkey).
//
// Returns false if the key length does not match the scheme.
func IdentityFromPubKey(scheme Scheme, pubKey []byte) (types.Identity, bool) {
	var id types.Identity
	switch scheme {
	case SchemeEd25519:
		if len(pubKey) != Ed25519PubKeySize {
			return id, false
		}
		copy(id[:], pubKey)
		return id, true
	case SchemeSchnorr:
		if len(pubKey) != CompressedPubKeySize {
			return id, false
		}
		return types.Identity(Hash(pubKey)), true
	default:
		return id, false
	}
}
