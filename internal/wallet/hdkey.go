package wallet

import (
	"fmt"

	"github.com/tyler-smith/go-bip32"

	"github.com/Klingon-tech/tokenledger/pkg/crypto"
)

// BIP-44 derivation path constants.
// Full path: m/44'/CoinType'/account'/0/0
const (
	// PurposeBIP44 is the BIP-44 purpose field (hardened).
	PurposeBIP44 = bip32.FirstHardenedChild + 44

	// CoinType is the (unregistered) coin type of ledger keys (hardened).
	CoinType = bip32.FirstHardenedChild + 7171
)

// ed25519Domain separates Ed25519 seeds from the secp256k1 secret they are
// derived from.
var ed25519Domain = []byte("tokenledger/ed25519")

// HDKey represents a hierarchical deterministic key (BIP-32).
type HDKey struct {
	key *bip32.Key
}

// NewMasterKey creates a master HD key from a 64-byte seed.
func NewMasterKey(seed []byte) (*HDKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	return &HDKey{key: master}, nil
}

// DerivePath derives a key along a sequence of indices. Add
// bip32.FirstHardenedChild to an index for hardened derivation.
func (k *HDKey) DerivePath(indices ...uint32) (*HDKey, error) {
	current := k.key
	for _, idx := range indices {
		child, err := current.NewChildKey(idx)
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", idx, err)
		}
		current = child
	}
	return &HDKey{key: current}, nil
}

// PrivateKeyBytes returns the raw 32-byte private key.
func (k *HDKey) PrivateKeyBytes() []byte {
	// bip32 Key.Key is 33 bytes with a leading 0x00 for private keys.
	raw := k.key.Key
	if len(raw) == 33 && raw[0] == 0 {
		return raw[1:]
	}
	return raw
}

// Depth returns the derivation depth (0 for master).
func (k *HDKey) Depth() uint8 {
	return k.key.Depth
}

// DeriveSigner derives the signing key of account from a BIP-39 seed.
// Schnorr keys use the BIP-32 secret at m/44'/7171'/account'/0/0 directly;
// Ed25519 keys hash that secret into a seed.
func DeriveSigner(seed []byte, scheme crypto.Scheme, account uint32) (crypto.Signer, error) {
	if account >= bip32.FirstHardenedChild {
		return nil, fmt.Errorf("account index %d out of range", account)
	}
	master, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	child, err := master.DerivePath(PurposeBIP44, CoinType, bip32.FirstHardenedChild+account, 0, 0)
	if err != nil {
		return nil, err
	}
	secret := child.PrivateKeyBytes()

	switch scheme {
	case crypto.SchemeSchnorr:
		return crypto.PrivateKeyFromBytes(secret)
	case crypto.SchemeEd25519:
		edSeed := crypto.HashParts(ed25519Domain, secret)
		return crypto.Ed25519KeyFromSeed(edSeed[:])
	default:
		return nil, fmt.Errorf("unsupported scheme %s", scheme)
	}
}
