package index

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Klingon-tech/tokenledger/internal/ledger"
	"github.com/Klingon-tech/tokenledger/internal/metrics"
	"github.com/Klingon-tech/tokenledger/internal/rent"
	"github.com/Klingon-tech/tokenledger/internal/runtime"
	"github.com/Klingon-tech/tokenledger/internal/storage"
	"github.com/Klingon-tech/tokenledger/pkg/crypto"
	"github.com/Klingon-tech/tokenledger/pkg/instruction"
	"github.com/Klingon-tech/tokenledger/pkg/types"
)

// fixture is a runtime with one token class and a funded holding.
type fixture struct {
	rt        *runtime.Runtime
	authority *crypto.Ed25519Key
	class     types.Address
	holdA     types.Address
	holdB     types.Address
	ownerB    types.Identity
	nonce     uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	rt, err := runtime.New(ledger.NewStore(storage.NewMemory()),
		runtime.Config{Rent: rent.Default(), FaucetMax: 1_000_000_000}, metrics.New())
	require.NoError(t, err)

	authority, err := crypto.GenerateEd25519Key()
	require.NoError(t, err)
	classKey, err := crypto.GenerateEd25519Key()
	require.NoError(t, err)
	bob, err := crypto.GenerateKey()
	require.NoError(t, err)

	f := &fixture{rt: rt, authority: authority, class: classKey.Identity(), ownerB: bob.Identity()}

	_, err = rt.Airdrop(authority.Identity(), 1_000_000_000)
	require.NoError(t, err)

	helper := rent.NewHelper(rent.Default())
	payer := authority.Identity()
	ixs := helper.TokenClassSetup(payer, f.class, 6, authority.Identity())
	ixA, holdA := helper.CreateHoldingAccount(payer, authority.Identity(), f.class, false)
	ixB, holdB := helper.CreateHoldingAccount(payer, f.ownerB, f.class, false)
	f.holdA, f.holdB = holdA, holdB
	ixs = append(ixs, ixA, ixB, instruction.NewMint(f.class, holdA, 100, authority.Identity()))
	f.submit(t, []crypto.Signer{authority, classKey}, ixs...)
	return f
}

func (f *fixture) submit(t *testing.T, signers []crypto.Signer, ixs ...instruction.Instruction) {
	t.Helper()
	f.nonce++
	b := instruction.NewBatch(f.nonce, ixs...)
	for _, s := range signers {
		require.NoError(t, b.Sign(s))
	}
	_, err := f.rt.Submit(b)
	require.NoError(t, err)
}

func TestMigrate_Idempotent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, pool.Migrate(ctx))

	var n int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestStore_SyncAndQuery(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	f := newFixture(t)
	store := NewStore(pool)

	n, err := store.Sync(ctx, f.rt.Store(), f.rt.Slot())
	require.NoError(t, err)
	assert.Equal(t, 3, n, "one class and two holdings")

	tc, err := store.TokenClass(ctx, f.class)
	require.NoError(t, err)
	assert.Equal(t, f.authority.Identity(), tc.Authority)
	assert.Equal(t, uint8(6), tc.Decimals)
	assert.Equal(t, uint64(100), tc.Minted)
	assert.Equal(t, f.rt.Slot(), tc.Slot)

	holders, err := store.Holders(ctx, f.class, 10)
	require.NoError(t, err)
	require.Len(t, holders, 1, "zero balances are not holders")
	assert.Equal(t, f.holdA, holders[0].Address)
	assert.Equal(t, uint64(100), holders[0].Balance)

	owned, err := store.HoldingsByOwner(ctx, f.ownerB)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, f.holdB, owned[0].Address)
	assert.Equal(t, f.class, owned[0].TokenClass)
	assert.Zero(t, owned[0].Balance)

	_, err = store.TokenClass(ctx, types.Address{0x01})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_ApplyCommit(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	f := newFixture(t)
	store := NewStore(pool)

	var commits []*runtime.Commit
	f.rt.OnCommit(func(c *runtime.Commit) { commits = append(commits, c) })

	f.submit(t, []crypto.Signer{f.authority},
		instruction.NewTransfer(f.holdA, f.holdB, 40, f.authority.Identity()))
	require.Len(t, commits, 1)
	require.NoError(t, store.Apply(ctx, commits[0]))
	// Applying twice is harmless.
	require.NoError(t, store.Apply(ctx, commits[0]))

	owned, err := store.HoldingsByOwner(ctx, f.ownerB)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, uint64(40), owned[0].Balance)

	last, err := store.LastSlot(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.rt.Slot(), last)

	var instructions []string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT instructions FROM receipts WHERE hash = $1`, commits[0].Receipt.Hash.String(),
	).Scan(&instructions))
	assert.Equal(t, []string{"transfer"}, instructions)
}

func TestStore_OlderSlotDoesNotOverwrite(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	f := newFixture(t)
	store := NewStore(pool)

	var commits []*runtime.Commit
	f.rt.OnCommit(func(c *runtime.Commit) { commits = append(commits, c) })
	f.submit(t, []crypto.Signer{f.authority},
		instruction.NewTransfer(f.holdA, f.holdB, 10, f.authority.Identity()))
	f.submit(t, []crypto.Signer{f.authority},
		instruction.NewTransfer(f.holdA, f.holdB, 10, f.authority.Identity()))
	require.Len(t, commits, 2)

	require.NoError(t, store.Apply(ctx, commits[1]))
	require.NoError(t, store.Apply(ctx, commits[0]))

	owned, err := store.HoldingsByOwner(ctx, f.ownerB)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, uint64(20), owned[0].Balance)
}

func TestIndexer_ConsumesCommits(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	f := newFixture(t)
	store := NewStore(pool)
	m := metrics.New()

	ix := NewIndexer(store, f.rt.Store(), m, 16)
	f.rt.OnCommit(ix.Enqueue)
	require.NoError(t, ix.Start(ctx, f.rt.Slot()))
	defer ix.Stop()

	f.submit(t, []crypto.Signer{f.authority},
		instruction.NewMint(f.class, f.holdB, 7, f.authority.Identity()))

	require.Eventually(t, func() bool {
		tc, err := store.TokenClass(ctx, f.class)
		return err == nil && tc.Minted == 107
	}, 10*time.Second, 50*time.Millisecond)
}
