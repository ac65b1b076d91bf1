package ledger

import (
	"errors"
	"math"
	"testing"

	"github.com/Klingon-tech/tokenledger/internal/storage"
	"github.com/Klingon-tech/tokenledger/pkg/types"
)

var (
	testProgram = types.Address{0xee}
	testClass   = types.Address{0x10}
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(storage.NewMemory())
}

func classAccount(addr types.Address, minted uint64) *Account {
	return &Account{
		Address:    addr,
		Lamports:   1,
		Space:      TokenClassSize,
		Owner:      testProgram,
		TokenClass: &TokenClass{Authority: types.Identity{0x01}, Decimals: 2, Minted: minted},
	}
}

func holdingAccount(addr types.Address, owner types.Identity, class types.Address, balance uint64) *Account {
	return &Account{
		Address: addr,
		Space:   HoldingSize,
		Owner:   testProgram,
		Holding: &Holding{Owner: owner, TokenClass: class, Balance: balance},
	}
}

func TestStore_PutGet(t *testing.T) {
	s := newTestStore(t)
	acct := classAccount(testClass, 0)
	if err := s.Put(acct); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(testClass)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Kind() != KindTokenClass {
		t.Errorf("Kind = %v, want token_class", got.Kind())
	}
	if got.TokenClass.Decimals != 2 || got.Space != TokenClassSize {
		t.Errorf("unexpected account: %+v", got)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(types.Address{0x99})
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("Get missing = %v, want ErrAccountNotFound", err)
	}
	ok, err := s.Has(types.Address{0x99})
	if err != nil || ok {
		t.Fatalf("Has missing = %v, %v", ok, err)
	}
}

func TestStore_PutInvalid(t *testing.T) {
	s := newTestStore(t)
	acct := classAccount(testClass, 0)
	acct.Holding = &Holding{}
	if err := s.Put(acct); !errors.Is(err, ErrInvalidAccount) {
		t.Fatalf("Put = %v, want ErrInvalidAccount", err)
	}
	if ok, _ := s.Has(testClass); ok {
		t.Fatal("invalid account should not be stored")
	}
}

func TestStore_Commit_Atomic(t *testing.T) {
	s := newTestStore(t)
	good := classAccount(testClass, 0)
	bad := classAccount(types.Address{0x11}, 0)
	bad.Holding = &Holding{}

	if err := s.Commit([]*Account{good, bad}); err == nil {
		t.Fatal("Commit should fail on invalid account")
	}
	if ok, _ := s.Has(testClass); ok {
		t.Fatal("no account should be written when Commit fails")
	}
}

func TestStore_HoldingIndexes(t *testing.T) {
	s := newTestStore(t)
	alice := types.Identity{0xa1}
	bob := types.Identity{0xb0}
	other := types.Address{0x20}

	accts := []*Account{
		classAccount(testClass, 30),
		holdingAccount(types.Address{0x01}, alice, testClass, 10),
		holdingAccount(types.Address{0x02}, bob, testClass, 20),
		holdingAccount(types.Address{0x03}, alice, other, 5),
	}
	if err := s.Commit(accts); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	byClass, err := s.HoldingsOf(testClass)
	if err != nil {
		t.Fatalf("HoldingsOf: %v", err)
	}
	if len(byClass) != 2 {
		t.Errorf("HoldingsOf = %d holdings, want 2", len(byClass))
	}

	byOwner, err := s.HoldingsByOwner(alice)
	if err != nil {
		t.Fatalf("HoldingsByOwner: %v", err)
	}
	if len(byOwner) != 2 {
		t.Errorf("HoldingsByOwner = %d holdings, want 2", len(byOwner))
	}

	// Balance updates do not duplicate index entries.
	accts[1].Holding.Balance = 11
	accts[2].Holding.Balance = 19
	if err := s.Commit(accts[1:3]); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	byClass, _ = s.HoldingsOf(testClass)
	if len(byClass) != 2 {
		t.Errorf("HoldingsOf after update = %d, want 2", len(byClass))
	}

	supply, err := s.Supply(testClass)
	if err != nil {
		t.Fatalf("Supply: %v", err)
	}
	if supply != 30 {
		t.Errorf("Supply = %d, want 30", supply)
	}
	if err := s.VerifyConservation(testClass); err != nil {
		t.Errorf("VerifyConservation: %v", err)
	}
}

func TestStore_SupplyOverflow(t *testing.T) {
	s := newTestStore(t)
	s.Commit([]*Account{
		holdingAccount(types.Address{0x01}, types.Identity{1}, testClass, math.MaxUint64),
		holdingAccount(types.Address{0x02}, types.Identity{2}, testClass, 1),
	})
	if _, err := s.Supply(testClass); !errors.Is(err, ErrOverflow) {
		t.Fatalf("Supply = %v, want ErrOverflow", err)
	}
}

func TestStore_VerifyConservation(t *testing.T) {
	s := newTestStore(t)
	s.Commit([]*Account{
		classAccount(testClass, 15),
		holdingAccount(types.Address{0x01}, types.Identity{1}, testClass, 10),
	})
	if err := s.VerifyConservation(testClass); !errors.Is(err, ErrConservation) {
		t.Fatalf("VerifyConservation = %v, want ErrConservation", err)
	}

	holder := types.Address{0x01}
	if err := s.VerifyConservation(holder); !errors.Is(err, ErrNotTokenClass) {
		t.Fatalf("VerifyConservation on holding = %v, want ErrNotTokenClass", err)
	}
}

func TestStore_ForEach(t *testing.T) {
	s := newTestStore(t)
	s.Commit([]*Account{
		classAccount(types.Address{0x02}, 0),
		classAccount(types.Address{0x01}, 0),
		holdingAccount(types.Address{0x03}, types.Identity{1}, types.Address{0x01}, 0),
	})
	var seen []types.Address
	err := s.ForEach(func(a *Account) error {
		seen = append(seen, a.Address)
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if len(seen) != 3 || seen[0][0] != 0x01 || seen[2][0] != 0x03 {
		t.Errorf("ForEach order = %v", seen)
	}
}

func TestStore_SlotAndReceipts(t *testing.T) {
	s := newTestStore(t)
	slot, err := s.Slot()
	if err != nil || slot != 0 {
		t.Fatalf("initial Slot = %d, %v", slot, err)
	}

	type receipt struct {
		Slot uint64 `json:"slot"`
	}
	hash := types.Hash{0xab}

	w := s.NewWriter()
	if err := w.PutAccount(classAccount(testClass, 0)); err != nil {
		t.Fatal(err)
	}
	if err := w.PutReceipt(hash, receipt{Slot: 4}); err != nil {
		t.Fatal(err)
	}
	if err := w.SetSlot(4); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.HasReceipt(hash); ok {
		t.Fatal("receipt visible before Commit")
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	slot, _ = s.Slot()
	if slot != 4 {
		t.Errorf("Slot = %d, want 4", slot)
	}
	var got receipt
	if err := s.GetReceipt(hash, &got); err != nil {
		t.Fatalf("GetReceipt: %v", err)
	}
	if got.Slot != 4 {
		t.Errorf("receipt slot = %d, want 4", got.Slot)
	}
	if err := s.GetReceipt(types.Hash{0x01}, &got); !errors.Is(err, ErrReceiptNotFound) {
		t.Errorf("GetReceipt missing = %v, want ErrReceiptNotFound", err)
	}
}

func TestStore_Badger(t *testing.T) {
	db, err := storage.NewBadger(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	s := NewStore(db)
	if err := s.Commit([]*Account{
		classAccount(testClass, 7),
		holdingAccount(types.Address{0x01}, types.Identity{1}, testClass, 7),
	}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := s.VerifyConservation(testClass); err != nil {
		t.Fatalf("VerifyConservation: %v", err)
	}
}

func TestStore_BindGenesis(t *testing.T) {
	s := newTestStore(t)
	a := types.Hash{0x01}
	b := types.Hash{0x02}

	if err := s.BindGenesis(a); err != nil {
		t.Fatalf("first bind: %v", err)
	}
	if err := s.BindGenesis(a); err != nil {
		t.Fatalf("rebind same genesis: %v", err)
	}
	if err := s.BindGenesis(b); !errors.Is(err, ErrGenesisMismatch) {
		t.Fatalf("bind other genesis: got %v, want ErrGenesisMismatch", err)
	}
}
