package instruction

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/Klingon-tech/tokenledger/pkg/crypto"
	"github.com/Klingon-tech/tokenledger/pkg/types"
)

func testBatch() *Batch {
	class := types.Address{0x01}
	holding := types.Address{0x02}
	authority := types.Identity{0x03}
	return NewBatch(7,
		NewCreateTokenClass(class, 6, authority),
		NewMint(class, holding, DefaultMintAmount, authority),
	)
}

func TestBatch_Hash_Deterministic(t *testing.T) {
	b := testBatch()
	h1 := b.Hash()
	h2 := b.Hash()
	if h1 != h2 {
		t.Error("Hash() should be deterministic")
	}
	if h1.IsZero() {
		t.Error("Hash() should not be zero")
	}
}

func TestBatch_Hash_ChangesWithContent(t *testing.T) {
	tests := []struct {
		name   string
		modify func(b *Batch)
	}{
		{"nonce", func(b *Batch) { b.Nonce++ }},
		{"amount", func(b *Batch) { b.Instructions[1].Mint.Amount++ }},
		{"decimals", func(b *Batch) { b.Instructions[0].CreateTokenClass.Decimals = 9 }},
		{"authority", func(b *Batch) { b.Instructions[1].Mint.Authority = types.Identity{0xff} }},
		{"extra instruction", func(b *Batch) {
			b.Instructions = append(b.Instructions, NewTransfer(types.Address{1}, types.Address{2}, 1, types.Identity{3}))
		}},
		{"order", func(b *Batch) {
			b.Instructions[0], b.Instructions[1] = b.Instructions[1], b.Instructions[0]
		}},
	}
	base := testBatch().Hash()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testBatch()
			tt.modify(b)
			if b.Hash() == base {
				t.Error("hash did not change")
			}
		})
	}
}

func TestBatch_Hash_IgnoresSignatures(t *testing.T) {
	b := testBatch()
	h1 := b.Hash()
	key, _ := crypto.GenerateKey()
	if err := b.Sign(key); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if b.Hash() != h1 {
		t.Error("Hash() should not change when signatures are added")
	}
}

func TestBatch_Hash_IdempotentFlag(t *testing.T) {
	a := NewBatch(1, NewCreateHolding(types.Address{1}, types.Identity{2}, types.Address{3}, false))
	b := NewBatch(1, NewCreateHolding(types.Address{1}, types.Identity{2}, types.Address{3}, true))
	if a.Hash() == b.Hash() {
		t.Error("idempotent flag should be covered by the hash")
	}
}

func TestBatch_Validate(t *testing.T) {
	tooMany := make([]Instruction, MaxInstructions+1)
	for i := range tooMany {
		tooMany[i] = NewTransfer(types.Address{1}, types.Address{2}, 1, types.Identity{3})
	}

	tests := []struct {
		name  string
		batch *Batch
		want  error
	}{
		{"valid", testBatch(), nil},
		{"empty", NewBatch(1), ErrNoInstructions},
		{"too many instructions", NewBatch(1, tooMany...), ErrTooManyInstructions},
		{"too many signatures", &Batch{
			Instructions: testBatch().Instructions,
			Signatures:   make([]Signature, MaxSignatures+1),
		}, ErrTooManySignatures},
		{"no body", NewBatch(1, Instruction{}), ErrMalformedInstruction},
		{"two bodies", NewBatch(1, Instruction{
			Mint:     &Mint{},
			Transfer: &Transfer{},
		}), ErrMalformedInstruction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.batch.Validate()
			if tt.want == nil {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestBatch_Signers(t *testing.T) {
	schnorrKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	edKey, err := crypto.GenerateEd25519Key()
	if err != nil {
		t.Fatal(err)
	}

	b := testBatch()
	if err := b.Sign(schnorrKey); err != nil {
		t.Fatalf("Sign schnorr: %v", err)
	}
	if err := b.Sign(edKey); err != nil {
		t.Fatalf("Sign ed25519: %v", err)
	}

	set, err := b.Signers()
	if err != nil {
		t.Fatalf("Signers: %v", err)
	}
	if len(set) != 2 {
		t.Fatalf("signer count = %d, want 2", len(set))
	}
	if !set.Has(schnorrKey.Identity()) || !set.Has(edKey.Identity()) {
		t.Error("signer set missing an identity")
	}
	if set.Has(types.Identity{0x01}) {
		t.Error("signer set should not contain unrelated identity")
	}
}

func TestBatch_Sign_ReplacesSameKey(t *testing.T) {
	key, _ := crypto.GenerateKey()
	b := testBatch()
	_ = b.Sign(key)
	_ = b.Sign(key)
	if len(b.Signatures) != 1 {
		t.Errorf("signature count = %d, want 1", len(b.Signatures))
	}
}

func TestBatch_Signers_RejectsTampered(t *testing.T) {
	key, _ := crypto.GenerateKey()
	b := testBatch()
	if err := b.Sign(key); err != nil {
		t.Fatal(err)
	}
	b.Instructions[1].Mint.Amount = 1_000_000

	if _, err := b.Signers(); !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected ErrBadSignature, got %v", err)
	}
}

func TestBatch_Signers_RejectsBadPubKey(t *testing.T) {
	b := testBatch()
	b.Signatures = []Signature{{Scheme: crypto.SchemeEd25519, PubKey: []byte{1, 2, 3}, Sig: make([]byte, 64)}}
	if _, err := b.Signers(); !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected ErrBadSignature, got %v", err)
	}
}

func TestBatch_JSON(t *testing.T) {
	key, _ := crypto.GenerateEd25519Key()
	b := testBatch()
	if err := b.Sign(key); err != nil {
		t.Fatal(err)
	}

	data, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Batch
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Hash() != b.Hash() {
		t.Error("hash changed across JSON")
	}
	if _, err := got.Signers(); err != nil {
		t.Errorf("Signers after JSON: %v", err)
	}
}

func TestSignerSet_List(t *testing.T) {
	set := NewSignerSet(types.Identity{3}, types.Identity{1}, types.Identity{2})
	list := set.List()
	if len(list) != 3 {
		t.Fatalf("len = %d", len(list))
	}
	for i := range list {
		if list[i][0] != byte(i+1) {
			t.Errorf("list[%d] = %x, want sorted", i, list[i][0])
		}
	}
}
