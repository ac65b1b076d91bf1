package index

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/Klingon-tech/tokenledger/internal/ledger"
	"github.com/Klingon-tech/tokenledger/internal/runtime"
	"github.com/Klingon-tech/tokenledger/pkg/types"
)

// TokenClass is an indexed token class row.
type TokenClass struct {
	Address   types.Address
	Authority types.Identity
	Decimals  uint8
	Minted    uint64
	Slot      uint64
}

// Holding is an indexed holding row.
type Holding struct {
	Address    types.Address
	Owner      types.Identity
	TokenClass types.Address
	Balance    uint64
	Slot       uint64
}

// Store reads and writes the projection.
type Store struct {
	pool *Pool
}

// NewStore creates a Store over pool.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Rows only move forward: an update from an older slot never overwrites
// a newer one.
const (
	upsertTokenClass = `
		INSERT INTO token_classes (address, authority, decimals, minted, slot)
		VALUES ($1, $2, $3, $4::numeric, $5)
		ON CONFLICT (address) DO UPDATE SET
			authority = EXCLUDED.authority,
			decimals = EXCLUDED.decimals,
			minted = EXCLUDED.minted,
			slot = EXCLUDED.slot,
			updated_at = now()
		WHERE token_classes.slot <= EXCLUDED.slot
	`
	upsertHolding = `
		INSERT INTO holdings (address, owner, token_class, balance, slot)
		VALUES ($1, $2, $3, $4::numeric, $5)
		ON CONFLICT (address) DO UPDATE SET
			balance = EXCLUDED.balance,
			slot = EXCLUDED.slot,
			updated_at = now()
		WHERE holdings.slot <= EXCLUDED.slot
	`
	insertReceipt = `
		INSERT INTO receipts (hash, slot, instructions, accounts)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (hash) DO NOTHING
	`
)

// Apply writes one committed batch in a single transaction.
func (s *Store) Apply(ctx context.Context, c *runtime.Commit) error {
	slot := c.Receipt.Slot
	return pgx.BeginFunc(ctx, s.pool.Pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, acct := range c.Accounts {
			queueAccount(batch, acct, slot)
		}
		accounts := make([]string, len(c.Receipt.Accounts))
		for i, a := range c.Receipt.Accounts {
			accounts[i] = a.String()
		}
		batch.Queue(insertReceipt, c.Receipt.Hash.String(), int64(slot), c.Receipt.Instructions, accounts)

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("apply slot %d: %w", slot, err)
		}
		return nil
	})
}

// Sync writes every token class and holding in the ledger at slot. It is
// used to backfill an empty or stale index.
func (s *Store) Sync(ctx context.Context, store *ledger.Store, slot uint64) (int, error) {
	batch := &pgx.Batch{}
	err := store.ForEach(func(acct *ledger.Account) error {
		queueAccount(batch, acct, slot)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan ledger: %w", err)
	}
	if batch.Len() == 0 {
		return 0, nil
	}

	err = pgx.BeginFunc(ctx, s.pool.Pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return 0, fmt.Errorf("sync index: %w", err)
	}
	return batch.Len(), nil
}

// queueAccount queues the upsert for acct. Accounts without token data are
// not indexed.
func queueAccount(batch *pgx.Batch, acct *ledger.Account, slot uint64) {
	switch {
	case acct.TokenClass != nil:
		tc := acct.TokenClass
		batch.Queue(upsertTokenClass,
			acct.Address.String(), tc.Authority.String(), int16(tc.Decimals),
			strconv.FormatUint(tc.Minted, 10), int64(slot))
	case acct.Holding != nil:
		h := acct.Holding
		batch.Queue(upsertHolding,
			acct.Address.String(), h.Owner.String(), h.TokenClass.String(),
			strconv.FormatUint(h.Balance, 10), int64(slot))
	}
}

// TokenClass returns the indexed token class at addr.
func (s *Store) TokenClass(ctx context.Context, addr types.Address) (*TokenClass, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT address, authority, decimals, minted::text, slot
		FROM token_classes
		WHERE address = $1
	`, addr.String())

	var (
		address, authority, minted string
		decimals                   int16
		slot                       int64
	)
	if err := row.Scan(&address, &authority, &decimals, &minted, &slot); err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("token class %s: %w", addr, ErrNotFound)
		}
		return nil, fmt.Errorf("get token class: %w", err)
	}

	tc := &TokenClass{Address: addr, Decimals: uint8(decimals), Slot: uint64(slot)}
	var err error
	if tc.Authority, err = types.ParseAddress(authority); err != nil {
		return nil, fmt.Errorf("token class authority: %w", err)
	}
	if tc.Minted, err = strconv.ParseUint(minted, 10, 64); err != nil {
		return nil, fmt.Errorf("token class minted: %w", err)
	}
	return tc, nil
}

// HoldingsByOwner returns every holding owned by owner, largest balance
// first.
func (s *Store) HoldingsByOwner(ctx context.Context, owner types.Identity) ([]*Holding, error) {
	return s.queryHoldings(ctx, `
		SELECT address, owner, token_class, balance::text, slot
		FROM holdings
		WHERE owner = $1
		ORDER BY balance DESC, address
	`, owner.String())
}

// Holders returns the holdings of a token class with a non-zero balance,
// largest first, at most limit rows.
func (s *Store) Holders(ctx context.Context, class types.Address, limit int) ([]*Holding, error) {
	return s.queryHoldings(ctx, `
		SELECT address, owner, token_class, balance::text, slot
		FROM holdings
		WHERE token_class = $1 AND balance > 0
		ORDER BY balance DESC, address
		LIMIT $2
	`, class.String(), limit)
}

// LastSlot returns the highest slot written to the index, zero when empty.
func (s *Store) LastSlot(ctx context.Context) (uint64, error) {
	var slot int64
	err := s.pool.QueryRow(ctx, `
		SELECT GREATEST(
			COALESCE((SELECT MAX(slot) FROM token_classes), 0),
			COALESCE((SELECT MAX(slot) FROM holdings), 0),
			COALESCE((SELECT MAX(slot) FROM receipts), 0)
		)
	`).Scan(&slot)
	if err != nil {
		return 0, fmt.Errorf("last slot: %w", err)
	}
	return uint64(slot), nil
}

func (s *Store) queryHoldings(ctx context.Context, query string, args ...any) ([]*Holding, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query holdings: %w", err)
	}
	defer rows.Close()

	var result []*Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate holdings: %w", err)
	}
	return result, nil
}

func scanHolding(rows pgx.Rows) (*Holding, error) {
	var (
		address, owner, class, balance string
		slot                           int64
	)
	if err := rows.Scan(&address, &owner, &class, &balance, &slot); err != nil {
		return nil, fmt.Errorf("scan holding: %w", err)
	}

	h := &Holding{Slot: uint64(slot)}
	var err error
	if h.Address, err = types.ParseAddress(address); err != nil {
		return nil, err
	}
	if h.Owner, err = types.ParseAddress(owner); err != nil {
		return nil, err
	}
	if h.TokenClass, err = types.ParseAddress(class); err != nil {
		return nil, err
	}
	if h.Balance, err = strconv.ParseUint(balance, 10, 64); err != nil {
		return nil, err
	}
	return h, nil
}
