package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Klingon-tech/tokenledger/pkg/types"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

// Key sizes.
const (
	CompressedPubKeySize = 33
	Ed25519PubKeySize    = ed25519.PublicKeySize
)

// Scheme identifies a signature scheme accepted by the ledger.
type Scheme uint8

const (
	SchemeSchnorr Scheme = 1 // Schnorr over secp256k1
	SchemeEd25519 Scheme = 2
)

// String returns the scheme name used in key files and JSON.
func (s Scheme) String() string {
	switch s {
	case SchemeSchnorr:
		return "schnorr"
	case SchemeEd25519:
		return "ed25519"
	default:
		return fmt.Sprintf("scheme(%d)", uint8(s))
	}
}

// ParseScheme is the inverse of Scheme.String.
func ParseScheme(s string) (Scheme, error) {
	switch strings.ToLower(s) {
	case "schnorr":
		return SchemeSchnorr, nil
	case "ed25519":
		return SchemeEd25519, nil
	default:
		return 0, fmt.Errorf("unknown signature scheme %q", s)
	}
}

// Signer signs 32-byte message hashes.
type Signer interface {
	// Sign produces a signature over a 32-byte hash.
	Sign(hash []byte) ([]byte, error)
	// PublicKey returns the serialized public key.
	PublicKey() []byte
	// Scheme reports which scheme produced the key.
	Scheme() Scheme
	// Identity returns the ledger identity of the key.
	Identity() types.Identity
}

// Verifier verifies signatures for any supported scheme.
type Verifier interface {
	Verify(scheme Scheme, hash, signature, publicKey []byte) bool
}

// PrivateKey wraps a secp256k1 private key for Schnorr signing.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// GenerateKey creates a new random secp256k1 private key.
func GenerateKey() (*PrivateKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromBytes creates a PrivateKey from a 32-byte secret.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}
	key := secp256k1.PrivKeyFromBytes(b)
	return &PrivateKey{key: key}, nil
}

// Sign produces a Schnorr signature over a 32-byte hash.
func (pk *PrivateKey) Sign(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	sig, err := schnorr.Sign(pk.key, hash)
	if err != nil {
		return nil, fmt.Errorf("schnorr sign: %w", err)
	}
	return sig.Serialize(), nil
}

// PublicKey returns the compressed 33-byte public key.
func (pk *PrivateKey) PublicKey() []byte {
	return pk.key.PubKey().SerializeCompressed()
}

// Scheme returns SchemeSchnorr.
func (pk *PrivateKey) Scheme() Scheme { return SchemeSchnorr }

// Identity returns BLAKE3 of the compressed public key.
func (pk *PrivateKey) Identity() types.Identity {
	id, _ := IdentityFromPubKey(SchemeSchnorr, pk.PublicKey())
	return id
}

// Serialize returns the 32-byte private key scalar.
func (pk *PrivateKey) Serialize() []byte {
	return pk.key.Serialize()
}

// Zero securely zeroes the private key memory.
func (pk *PrivateKey) Zero() {
	pk.key.Zero()
}

// Ed25519Key is an Ed25519 signing key.
type Ed25519Key struct {
	key ed25519.PrivateKey
}

// GenerateEd25519Key creates a new random Ed25519 key.
func GenerateEd25519Key() (*Ed25519Key, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &Ed25519Key{key: priv}, nil
}

// Ed25519KeyFromSeed restores a key from its 32-byte seed.
func Ed25519KeyFromSeed(seed []byte) (*Ed25519Key, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &Ed25519Key{key: ed25519.NewKeyFromSeed(seed)}, nil
}

// Sign produces an Ed25519 signature over a 32-byte hash.
func (k *Ed25519Key) Sign(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	return ed25519.Sign(k.key, hash), nil
}

// PublicKey returns the 32-byte public key.
func (k *Ed25519Key) PublicKey() []byte {
	pub := k.key.Public().(ed25519.PublicKey)
	out := make([]byte, len(pub))
	copy(out, pub)
	return out
}

// Scheme returns SchemeEd25519.
func (k *Ed25519Key) Scheme() Scheme { return SchemeEd25519 }

// Identity returns the public key as an identity.
func (k *Ed25519Key) Identity() types.Identity {
	var id types.Identity
	copy(id[:], k.PublicKey())
	return id
}

// Seed returns the 32-byte seed.
func (k *Ed25519Key) Seed() []byte {
	return k.key.Seed()
}

// VerifySignature checks a Schnorr signature against a 32-byte hash
// and a compressed public key. Returns false on any error.
func VerifySignature(hash, signature, publicKey []byte) bool {
	pubKey, err := secp256k1.ParsePubKey(publicKey)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(signature)
	if err != nil {
		return false
	}
	return sig.Verify(hash, pubKey)
}

// Verify checks a signature under the given scheme. Returns false on any error.
func Verify(scheme Scheme, hash, signature, publicKey []byte) bool {
	switch scheme {
	case SchemeSchnorr:
		return VerifySignature(hash, signature, publicKey)
	case SchemeEd25519:
		if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(publicKey), hash, signature)
	default:
		return false
	}
}

// MultiVerifier implements Verifier for every supported scheme.
type MultiVerifier struct{}

// Verify checks a signature under the given scheme.
func (MultiVerifier) Verify(scheme Scheme, hash, signature, publicKey []byte) bool {
	return Verify(scheme, hash, signature, publicKey)
}

// EncodeKey renders a signer as "<scheme>:<hex secret>" for key files.
func EncodeKey(s Signer) (string, error) {
	switch k := s.(type) {
	case *PrivateKey:
		return "schnorr:" + hex.EncodeToString(k.Serialize()), nil
	case *Ed25519Key:
		return "ed25519:" + hex.EncodeToString(k.Seed()), nil
	default:
		return "", fmt.Errorf("unsupported signer %T", s)
	}
}

// DecodeKey parses the output of EncodeKey.
func DecodeKey(s string) (Signer, error) {
	name, secretHex, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return nil, fmt.Errorf("key must be <scheme>:<hex>")
	}
	scheme, err := ParseScheme(name)
	if err != nil {
		return nil, err
	}
	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("invalid key hex: %w", err)
	}
	if scheme == SchemeEd25519 {
		return Ed25519KeyFromSeed(secret)
	}
	return PrivateKeyFromBytes(secret)
}
