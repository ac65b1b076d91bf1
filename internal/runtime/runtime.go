// Package runtime executes signed instruction batches against the ledger.
//
// Batches run one at a time. Each batch executes against a ledger.View and
// is committed together with its receipt and the new slot in a single
// storage batch, so a failing instruction discards every earlier write of
// the same batch.
package runtime

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/tokenledger/internal/ledger"
	"github.com/Klingon-tech/tokenledger/internal/log"
	"github.com/Klingon-tech/tokenledger/internal/metrics"
	"github.com/Klingon-tech/tokenledger/internal/rent"
	"github.com/Klingon-tech/tokenledger/internal/token"
	"github.com/Klingon-tech/tokenledger/pkg/crypto"
	"github.com/Klingon-tech/tokenledger/pkg/derive"
	"github.com/Klingon-tech/tokenledger/pkg/instruction"
	"github.com/Klingon-tech/tokenledger/pkg/types"
)

// Receipt records a committed batch.
type Receipt struct {
	Hash         types.Hash       `json:"hash"`
	Slot         uint64           `json:"slot"`
	Signers      []types.Identity `json:"signers"`
	Instructions []string         `json:"instructions"`
	Accounts     []types.Address  `json:"accounts"`
}

// Commit is handed to commit handlers after a batch is durable.
type Commit struct {
	Receipt  *Receipt
	Accounts []*ledger.Account
}

// CommitHandler is called after every commit, in slot order, while the
// runtime lock is held. Handlers must not block or submit batches.
type CommitHandler func(*Commit)

// Config holds runtime parameters.
type Config struct {
	Rent rent.Rent
	// FaucetMax caps a single airdrop. Zero disables the faucet.
	FaucetMax uint64
}

// Runtime is the single commit point of the ledger.
type Runtime struct {
	mu       sync.Mutex
	store    *ledger.Store
	rent     rent.Rent
	token    *token.Processor
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	faucet   uint64
	slot     uint64
	handlers []CommitHandler
}

// New creates a runtime over store and recovers the last committed slot.
func New(store *ledger.Store, cfg Config, m *metrics.Metrics) (*Runtime, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger store is nil")
	}
	if m == nil {
		m = metrics.New()
	}
	slot, err := store.Slot()
	if err != nil {
		return nil, fmt.Errorf("recover slot: %w", err)
	}
	m.Slot.Set(float64(slot))
	return &Runtime{
		store:   store,
		rent:    cfg.Rent,
		token:   token.NewProcessor(),
		metrics: m,
		logger:  log.Runtime,
		faucet:  cfg.FaucetMax,
		slot:    slot,
	}, nil
}

// Store returns the underlying ledger store.
func (r *Runtime) Store() *ledger.Store {
	return r.store
}

// Rent returns the existence-minimum parameters.
func (r *Runtime) Rent() rent.Rent {
	return r.rent
}

// FaucetMax returns the airdrop cap, zero when the faucet is off.
func (r *Runtime) FaucetMax() uint64 {
	return r.faucet
}

// Slot returns the last committed slot.
func (r *Runtime) Slot() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slot
}

// OnCommit registers a handler for committed batches.
func (r *Runtime) OnCommit(h CommitHandler) {
	r.mu.Lock()
	r.handlers = append(r.handlers, h)
	r.metrics.CommitSubscribers.Set(float64(len(r.handlers)))
	r.mu.Unlock()
}

// Receipt returns the receipt of a committed batch.
func (r *Runtime) Receipt(hash types.Hash) (*Receipt, error) {
	var rc Receipt
	if err := r.store.GetReceipt(hash, &rc); err != nil {
		return nil, err
	}
	return &rc, nil
}

// Submit validates, executes and commits a batch.
// Instruction failures are reported as *InstructionError.
func (r *Runtime) Submit(b *instruction.Batch) (*Receipt, error) {
	started := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	receipt, err := r.execute(b)
	if err != nil {
		r.metrics.ObserveBatch(metrics.StatusRejected, started)
		return nil, err
	}
	r.metrics.ObserveBatch(metrics.StatusCommitted, started)
	return receipt, nil
}

func (r *Runtime) execute(b *instruction.Batch) (*Receipt, error) {
	hash := b.Hash()

	known, err := r.store.HasReceipt(hash)
	if err != nil {
		return nil, fmt.Errorf("check batch: %w", err)
	}
	if known {
		return nil, fmt.Errorf("%w: %s", ErrBatchKnown, hash)
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	signers, err := b.Signers()
	if err != nil {
		return nil, err
	}

	view := r.store.NewView()
	kinds := make([]string, len(b.Instructions))
	for i := range b.Instructions {
		ix := &b.Instructions[i]
		kind := ix.Kind()
		kinds[i] = kind.String()

		if kind.IsSystem() {
			err = r.processSystem(view, ix, signers)
		} else {
			err = r.token.Process(view, ix, signers)
		}
		if err != nil {
			r.metrics.ObserveInstruction(kinds[i], "error")
			ixErr := &InstructionError{Index: i, Kind: ErrorKind(err), Err: err}
			r.logger.Info().
				Str("batch", hash.String()).
				Int("index", i).
				Str("instruction", kinds[i]).
				Str("kind", ixErr.Kind).
				Err(err).
				Msg("Batch rejected")
			return nil, ixErr
		}
		r.metrics.ObserveInstruction(kinds[i], "ok")
	}

	receipt := &Receipt{
		Hash:         hash,
		Signers:      signers.List(),
		Instructions: kinds,
	}
	if err := r.commit(view, receipt); err != nil {
		return nil, err
	}
	r.logger.Debug().
		Str("batch", hash.String()).
		Uint64("slot", receipt.Slot).
		Int("instructions", len(kinds)).
		Int("accounts", len(receipt.Accounts)).
		Msg("Batch committed")
	return receipt, nil
}

// commit writes the view, receipt and next slot atomically, then notifies
// handlers. Caller holds r.mu.
func (r *Runtime) commit(view *ledger.View, receipt *Receipt) error {
	touched := view.Touched()
	receipt.Slot = r.slot + 1
	receipt.Accounts = make([]types.Address, len(touched))
	for i, a := range touched {
		receipt.Accounts[i] = a.Address
	}

	w := r.store.NewWriter()
	for _, a := range touched {
		if err := w.PutAccount(a); err != nil {
			return err
		}
	}
	if err := w.PutReceipt(receipt.Hash, receipt); err != nil {
		return err
	}
	if err := w.SetSlot(receipt.Slot); err != nil {
		return err
	}
	if err := w.Commit(); err != nil {
		return err
	}

	r.slot = receipt.Slot
	r.metrics.Slot.Set(float64(r.slot))

	c := &Commit{Receipt: receipt, Accounts: touched}
	for _, h := range r.handlers {
		h(c)
	}
	return nil
}

// Airdrop credits lamports to addr from the faucet, creating a system
// account when none exists.
func (r *Runtime) Airdrop(addr types.Address, lamports uint64) (*Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.faucet == 0 {
		return nil, ErrFaucetDisabled
	}
	if lamports > r.faucet {
		return nil, fmt.Errorf("%w: %d > %d", ErrAirdropTooLarge, lamports, r.faucet)
	}
	return r.credit("airdrop", map[types.Address]uint64{addr: lamports})
}

// ApplyGenesis credits the initial allocations once, on an empty ledger.
// It reports whether the allocations were applied.
func (r *Runtime) ApplyGenesis(alloc map[types.Address]uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.slot != 0 || len(alloc) == 0 {
		return false, nil
	}
	if _, err := r.credit("genesis", alloc); err != nil {
		return false, fmt.Errorf("apply genesis: %w", err)
	}
	return true, nil
}

// credit adds lamports to each address as one commit. Caller holds r.mu.
func (r *Runtime) credit(reason string, alloc map[types.Address]uint64) (*Receipt, error) {
	addrs := make([]types.Address, 0, len(alloc))
	for a := range alloc {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return string(addrs[i][:]) < string(addrs[j][:]) })

	parts := [][]byte{[]byte(reason), binary.LittleEndian.AppendUint64(nil, r.slot+1)}
	view := r.store.NewView()
	var total uint64
	for _, addr := range addrs {
		lamports := alloc[addr]
		acct, err := view.Get(addr)
		if err != nil {
			if !isNotFound(err) {
				return nil, err
			}
			if !r.rent.IsExempt(lamports, 0) {
				return nil, fmt.Errorf("%w: new account %s needs %d lamports",
					ErrNotRentExempt, addr, r.rent.MinimumBalance(0))
			}
			acct = &ledger.Account{Address: addr, Owner: derive.SystemProgramID}
		}
		if acct.Lamports > math.MaxUint64-lamports {
			return nil, fmt.Errorf("%w: %s", ErrLamportsOverflow, addr)
		}
		acct.Lamports += lamports
		view.Put(acct)
		total += lamports
		parts = append(parts, addr[:], binary.LittleEndian.AppendUint64(nil, lamports))
	}

	receipt := &Receipt{
		Hash:         crypto.HashParts(parts...),
		Instructions: []string{reason},
	}
	if err := r.commit(view, receipt); err != nil {
		return nil, err
	}
	r.metrics.AirdroppedTotal.Add(float64(total))
	r.logger.Debug().
		Str("reason", reason).
		Int("accounts", len(addrs)).
		Uint64("lamports", total).
		Uint64("slot", receipt.Slot).
		Msg("Lamports credited")
	return receipt, nil
}
