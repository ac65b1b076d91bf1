package index

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/tokenledger/internal/ledger"
	klog "github.com/Klingon-tech/tokenledger/internal/log"
	"github.com/Klingon-tech/tokenledger/internal/metrics"
	"github.com/Klingon-tech/tokenledger/internal/runtime"
)

// DefaultQueueSize bounds the commits waiting to be written.
const DefaultQueueSize = 4096

// writeTimeout bounds a single Apply.
const writeTimeout = 10 * time.Second

// Indexer consumes runtime commits and writes them to the Store in slot
// order from a single goroutine.
type Indexer struct {
	store   *Store
	ledger  *ledger.Store
	metrics *metrics.Metrics
	logger  zerolog.Logger

	queue  chan *runtime.Commit
	mu     sync.Mutex
	stale  bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewIndexer creates an Indexer. The ledger store is used to resync after
// a dropped commit.
func NewIndexer(store *Store, l *ledger.Store, m *metrics.Metrics, queueSize int) *Indexer {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if m == nil {
		m = metrics.New()
	}
	return &Indexer{
		store:   store,
		ledger:  l,
		metrics: m,
		logger:  klog.Index,
		queue:   make(chan *runtime.Commit, queueSize),
	}
}

// Enqueue is a runtime.CommitHandler. It never blocks: when the queue is
// full the commit is dropped and the index is marked stale, to be
// resynced from the ledger once the queue drains.
func (ix *Indexer) Enqueue(c *runtime.Commit) {
	select {
	case ix.queue <- c:
		ix.metrics.IndexQueueDepth.Set(float64(len(ix.queue)))
	default:
		ix.mu.Lock()
		ix.stale = true
		ix.mu.Unlock()
		ix.metrics.IndexWrites.WithLabelValues("dropped").Inc()
		ix.logger.Warn().Uint64("slot", c.Receipt.Slot).Msg("Index queue full, commit dropped")
	}
}

// Start syncs the index from the ledger at slot and begins consuming
// commits. Commits queued before Start are written after the sync.
func (ix *Indexer) Start(ctx context.Context, slot uint64) error {
	n, err := ix.store.Sync(ctx, ix.ledger, slot)
	if err != nil {
		return err
	}
	ix.logger.Info().Int("accounts", n).Uint64("slot", slot).Msg("Index synced")

	ctx, ix.cancel = context.WithCancel(ctx)
	ix.wg.Add(1)
	go ix.run(ctx)
	return nil
}

// Stop stops the consumer and waits for it to exit. Commits still queued
// are discarded; the next Start resyncs them from the ledger.
func (ix *Indexer) Stop() {
	if ix.cancel != nil {
		ix.cancel()
	}
	ix.wg.Wait()
}

func (ix *Indexer) run(ctx context.Context) {
	defer ix.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-ix.queue:
			ix.metrics.IndexQueueDepth.Set(float64(len(ix.queue)))
			ix.write(ctx, c)
			if len(ix.queue) == 0 {
				ix.resyncIfStale(ctx, c.Receipt.Slot)
			}
		}
	}
}

func (ix *Indexer) write(ctx context.Context, c *runtime.Commit) {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := ix.store.Apply(wctx, c); err != nil {
		ix.metrics.IndexWrites.WithLabelValues("error").Inc()
		ix.logger.Error().Err(err).Uint64("slot", c.Receipt.Slot).Msg("Index write failed")
		ix.mu.Lock()
		ix.stale = true
		ix.mu.Unlock()
		return
	}
	ix.metrics.IndexWrites.WithLabelValues("ok").Inc()
}

// resyncIfStale rewrites the projection from the ledger after a dropped or
// failed commit. The ledger may be ahead of slot, which is harmless since
// later commits carry higher slots.
func (ix *Indexer) resyncIfStale(ctx context.Context, slot uint64) {
	ix.mu.Lock()
	stale := ix.stale
	ix.stale = false
	ix.mu.Unlock()
	if !stale {
		return
	}

	n, err := ix.store.Sync(ctx, ix.ledger, slot)
	if err != nil {
		ix.mu.Lock()
		ix.stale = true
		ix.mu.Unlock()
		ix.logger.Error().Err(err).Msg("Index resync failed")
		return
	}
	ix.logger.Info().Int("accounts", n).Uint64("slot", slot).Msg("Index resynced")
}
