package ledger

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/Klingon-tech/tokenledger/internal/storage"
	"github.com/Klingon-tech/tokenledger/pkg/types"
)

// Store errors.
var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrReceiptNotFound  = errors.New("receipt not found")
	ErrInvalidAccount   = errors.New("account carries both a token class and a holding")
	ErrOverflow         = errors.New("supply exceeds uint64")
	ErrConservation     = errors.New("holdings do not sum to minted amount")
	ErrNotTokenClass    = errors.New("account is not a token class")
	ErrGenesisMismatch  = errors.New("ledger was created from a different genesis")
	errUnexpectedLength = errors.New("unexpected key length")
)

// Key prefixes for the ledger store.
var (
	prefixAccount = []byte("a/") // a/<address> -> account JSON
	prefixOwner   = []byte("o/") // o/<owner><holding> -> empty (owner index)
	prefixClass   = []byte("c/") // c/<class><holding> -> empty (class index)
	prefixReceipt = []byte("r/") // r/<hash> -> receipt JSON
	prefixMeta    = []byte("m/")
)

var (
	keySlot    = []byte("slot")    // m/slot -> uint64 big-endian
	keyGenesis = []byte("genesis") // m/genesis -> genesis hash
)

// Store maps addresses to accounts on top of a storage.DB.
type Store struct {
	db       storage.DB
	accounts *storage.PrefixDB
	owners   *storage.PrefixDB
	classes  *storage.PrefixDB
	receipts *storage.PrefixDB
	meta     *storage.PrefixDB
}

// NewStore creates a ledger store backed by db.
func NewStore(db storage.DB) *Store {
	return &Store{
		db:       db,
		accounts: storage.NewPrefixDB(db, prefixAccount),
		owners:   storage.NewPrefixDB(db, prefixOwner),
		classes:  storage.NewPrefixDB(db, prefixClass),
		receipts: storage.NewPrefixDB(db, prefixReceipt),
		meta:     storage.NewPrefixDB(db, prefixMeta),
	}
}

func indexKey(a, b types.Address) []byte {
	key := make([]byte, 2*types.AddressSize)
	copy(key, a[:])
	copy(key[types.AddressSize:], b[:])
	return key
}

// Get returns the account at addr, or ErrAccountNotFound.
func (s *Store) Get(addr types.Address) (*Account, error) {
	data, err := s.accounts.Get(addr[:])
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("account get: %w", err)
	}
	return decodeAccount(data)
}

// Has reports whether an account exists at addr.
func (s *Store) Has(addr types.Address) (bool, error) {
	return s.accounts.Has(addr[:])
}

// Put writes a single account.
func (s *Store) Put(acct *Account) error {
	return s.Commit([]*Account{acct})
}

// Commit writes every account atomically.
func (s *Store) Commit(accts []*Account) error {
	w := s.NewWriter()
	for _, a := range accts {
		if err := w.PutAccount(a); err != nil {
			return err
		}
	}
	return w.Commit()
}

// ForEach calls fn for every account in address order.
func (s *Store) ForEach(fn func(*Account) error) error {
	return s.accounts.ForEach(nil, func(_, value []byte) error {
		acct, err := decodeAccount(value)
		if err != nil {
			return err
		}
		return fn(acct)
	})
}

// HoldingsOf returns every holding of the token class.
func (s *Store) HoldingsOf(class types.Address) ([]*Account, error) {
	return s.indexed(s.classes, class)
}

// HoldingsByOwner returns every holding that belongs to owner.
func (s *Store) HoldingsByOwner(owner types.Identity) ([]*Account, error) {
	return s.indexed(s.owners, owner)
}

func (s *Store) indexed(idx *storage.PrefixDB, key types.Address) ([]*Account, error) {
	var addrs []types.Address
	err := idx.ForEach(key[:], func(k, _ []byte) error {
		if len(k) != 2*types.AddressSize {
			return errUnexpectedLength
		}
		var a types.Address
		copy(a[:], k[types.AddressSize:])
		addrs = append(addrs, a)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("holding index: %w", err)
	}
	out := make([]*Account, 0, len(addrs))
	for _, a := range addrs {
		acct, err := s.Get(a)
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, nil
}

// Supply returns the sum of all holding balances of the class.
func (s *Store) Supply(class types.Address) (uint64, error) {
	holdings, err := s.HoldingsOf(class)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, h := range holdings {
		if total > math.MaxUint64-h.Holding.Balance {
			return 0, ErrOverflow
		}
		total += h.Holding.Balance
	}
	return total, nil
}

// VerifyConservation checks that the holdings of a class sum to its
// cumulative minted amount.
func (s *Store) VerifyConservation(class types.Address) error {
	acct, err := s.Get(class)
	if err != nil {
		return err
	}
	if acct.TokenClass == nil {
		return fmt.Errorf("%w: %s", ErrNotTokenClass, class)
	}
	supply, err := s.Supply(class)
	if err != nil {
		return err
	}
	if supply != acct.TokenClass.Minted {
		return fmt.Errorf("%w: class %s holdings %d, minted %d", ErrConservation, class, supply, acct.TokenClass.Minted)
	}
	return nil
}

// Slot returns the last committed slot, zero for an empty ledger.
func (s *Store) Slot() (uint64, error) {
	data, err := s.meta.Get(keySlot)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("slot get: %w", err)
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("slot: %w", errUnexpectedLength)
	}
	return binary.BigEndian.Uint64(data), nil
}

// BindGenesis records hash as the ledger's genesis on first use and fails
// with ErrGenesisMismatch if a different genesis was recorded before.
func (s *Store) BindGenesis(hash types.Hash) error {
	data, err := s.meta.Get(keyGenesis)
	if errors.Is(err, storage.ErrNotFound) {
		return s.meta.Put(keyGenesis, hash[:])
	}
	if err != nil {
		return fmt.Errorf("genesis get: %w", err)
	}
	if !bytes.Equal(data, hash[:]) {
		return fmt.Errorf("%w: stored %x, have %s", ErrGenesisMismatch, data, hash)
	}
	return nil
}

// HasReceipt reports whether a receipt is stored for hash.
func (s *Store) HasReceipt(hash types.Hash) (bool, error) {
	return s.receipts.Has(hash[:])
}

// GetReceipt decodes the receipt stored for hash into v.
func (s *Store) GetReceipt(hash types.Hash, v any) error {
	data, err := s.receipts.Get(hash[:])
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrReceiptNotFound, hash)
	}
	if err != nil {
		return fmt.Errorf("receipt get: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("receipt unmarshal: %w", err)
	}
	return nil
}

func decodeAccount(data []byte) (*Account, error) {
	var a Account
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("account unmarshal: %w", err)
	}
	return &a, nil
}

// Writer stages accounts, a receipt and the slot for one atomic commit.
type Writer struct {
	s *Store
	b storage.Batch
}

// NewWriter starts a new atomic write.
func (s *Store) NewWriter() *Writer {
	return &Writer{s: s, b: storage.NewBatch(s.db)}
}

// PutAccount stages an account and its holding index entries.
func (w *Writer) PutAccount(acct *Account) error {
	if err := acct.validate(); err != nil {
		return fmt.Errorf("account %s: %w", acct.Address, err)
	}
	data, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("account marshal: %w", err)
	}
	if err := w.b.Put(w.s.accounts.Key(acct.Address[:]), data); err != nil {
		return err
	}
	if h := acct.Holding; h != nil {
		if err := w.b.Put(w.s.owners.Key(indexKey(h.Owner, acct.Address)), nil); err != nil {
			return err
		}
		if err := w.b.Put(w.s.classes.Key(indexKey(h.TokenClass, acct.Address)), nil); err != nil {
			return err
		}
	}
	return nil
}

// PutReceipt stages a JSON receipt under hash.
func (w *Writer) PutReceipt(hash types.Hash, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("receipt marshal: %w", err)
	}
	return w.b.Put(w.s.receipts.Key(hash[:]), data)
}

// SetSlot stages the last committed slot.
func (w *Writer) SetSlot(slot uint64) error {
	return w.b.Put(w.s.meta.Key(keySlot), binary.BigEndian.AppendUint64(nil, slot))
}

// Commit applies every staged write.
func (w *Writer) Commit() error {
	if err := w.b.Commit(); err != nil {
		return fmt.Errorf("ledger commit: %w", err)
	}
	return nil
}
