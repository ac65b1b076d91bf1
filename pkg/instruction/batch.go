package instruction

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/Klingon-tech/tokenledger/pkg/crypto"
	"github.com/Klingon-tech/tokenledger/pkg/types"
)

// Batch limits.
const (
	MaxInstructions = 64
	MaxSignatures   = 16
)

// Batch errors.
var (
	ErrNoInstructions       = errors.New("batch has no instructions")
	ErrTooManyInstructions  = errors.New("too many instructions")
	ErrTooManySignatures    = errors.New("too many signatures")
	ErrMalformedInstruction = errors.New("instruction must set exactly one body")
	ErrBadSignature         = errors.New("invalid signature")
)

// Batch is an ordered, all-or-nothing group of instructions plus the
// signatures of every identity that authorizes them.
type Batch struct {
	Nonce        uint64        `json:"nonce"`
	Instructions []Instruction `json:"instructions"`
	Signatures   []Signature   `json:"signatures"`
}

// Signature is one signer's signature over the batch hash.
type Signature struct {
	Scheme crypto.Scheme
	PubKey []byte
	Sig    []byte
}

type signatureJSON struct {
	Scheme string `json:"scheme"`
	PubKey string `json:"pubkey"`
	Sig    string `json:"signature"`
}

// MarshalJSON encodes the signature with a named scheme and hex bytes.
func (s Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(signatureJSON{
		Scheme: s.Scheme.String(),
		PubKey: hex.EncodeToString(s.PubKey),
		Sig:    hex.EncodeToString(s.Sig),
	})
}

// UnmarshalJSON decodes the output of MarshalJSON.
func (s *Signature) UnmarshalJSON(data []byte) error {
	var j signatureJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	scheme, err := crypto.ParseScheme(j.Scheme)
	if err != nil {
		return err
	}
	pub, err := hex.DecodeString(j.PubKey)
	if err != nil {
		return fmt.Errorf("pubkey: %w", err)
	}
	sig, err := hex.DecodeString(j.Sig)
	if err != nil {
		return fmt.Errorf("signature: %w", err)
	}
	s.Scheme, s.PubKey, s.Sig = scheme, pub, sig
	return nil
}

// SigningBytes returns the canonical byte representation used for signing.
// Format: nonce(8) | instruction_count(4) | [instruction]...
func (b *Batch) SigningBytes() []byte {
	var buf []byte
	buf = binary.LittleEndian.AppendUint64(buf, b.Nonce)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b.Instructions)))
	for i := range b.Instructions {
		buf = b.Instructions[i].appendSigningBytes(buf)
	}
	return buf
}

// Hash computes the batch ID. Signatures are excluded.
func (b *Batch) Hash() types.Hash {
	return crypto.Hash(b.SigningBytes())
}

// Sign adds the signer's signature, replacing an earlier one by the same key.
func (b *Batch) Sign(signer crypto.Signer) error {
	hash := b.Hash()
	sig, err := signer.Sign(hash[:])
	if err != nil {
		return fmt.Errorf("sign batch: %w", err)
	}
	entry := Signature{Scheme: signer.Scheme(), PubKey: signer.PublicKey(), Sig: sig}
	for i := range b.Signatures {
		if b.Signatures[i].Scheme == entry.Scheme && bytes.Equal(b.Signatures[i].PubKey, entry.PubKey) {
			b.Signatures[i] = entry
			return nil
		}
	}
	b.Signatures = append(b.Signatures, entry)
	return nil
}

// Validate checks batch structure. It does not verify signatures.
func (b *Batch) Validate() error {
	if len(b.Instructions) == 0 {
		return ErrNoInstructions
	}
	if len(b.Instructions) > MaxInstructions {
		return fmt.Errorf("%w: %d instructions, max %d", ErrTooManyInstructions, len(b.Instructions), MaxInstructions)
	}
	if len(b.Signatures) > MaxSignatures {
		return fmt.Errorf("%w: %d signatures, max %d", ErrTooManySignatures, len(b.Signatures), MaxSignatures)
	}
	for i := range b.Instructions {
		if b.Instructions[i].Kind() == KindInvalid {
			return fmt.Errorf("instruction %d: %w", i, ErrMalformedInstruction)
		}
	}
	return nil
}

// Signers verifies every signature and returns the identities that signed.
// A single invalid signature rejects the batch.
func (b *Batch) Signers() (SignerSet, error) {
	return b.SignersWith(crypto.MultiVerifier{})
}

// SignersWith is Signers with a caller-supplied verifier.
func (b *Batch) SignersWith(v crypto.Verifier) (SignerSet, error) {
	hash := b.Hash()
	set := make(SignerSet, len(b.Signatures))
	for i, s := range b.Signatures {
		id, ok := crypto.IdentityFromPubKey(s.Scheme, s.PubKey)
		if !ok {
			return nil, fmt.Errorf("signature %d: %w: bad %s public key", i, ErrBadSignature, s.Scheme)
		}
		if !v.Verify(s.Scheme, hash[:], s.Sig, s.PubKey) {
			return nil, fmt.Errorf("signature %d: %w", i, ErrBadSignature)
		}
		set[id] = struct{}{}
	}
	return set, nil
}

// SignerSet holds the identities that signed a batch.
type SignerSet map[types.Identity]struct{}

// NewSignerSet builds a set from identities.
func NewSignerSet(ids ...types.Identity) SignerSet {
	set := make(SignerSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Has reports whether id signed.
func (s SignerSet) Has(id types.Identity) bool {
	_, ok := s[id]
	return ok
}

// List returns the identities in byte order.
func (s SignerSet) List() []types.Identity {
	out := make([]types.Identity, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
