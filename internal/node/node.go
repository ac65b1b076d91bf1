// Package node assembles a token ledger node from its configuration so it
// can be embedded in any binary.
package node

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/tokenledger/config"
	"github.com/Klingon-tech/tokenledger/internal/index"
	"github.com/Klingon-tech/tokenledger/internal/ledger"
	klog "github.com/Klingon-tech/tokenledger/internal/log"
	"github.com/Klingon-tech/tokenledger/internal/metrics"
	"github.com/Klingon-tech/tokenledger/internal/rpc"
	"github.com/Klingon-tech/tokenledger/internal/runtime"
	"github.com/Klingon-tech/tokenledger/internal/storage"
	"github.com/Klingon-tech/tokenledger/pkg/types"
)

// Node is a fully-initialized ledger node.
type Node struct {
	cfg         *config.Config
	genesis     *config.Genesis
	genesisHash types.Hash
	logger      zerolog.Logger

	// Core
	db      storage.DB
	ledger  *ledger.Store
	rt      *runtime.Runtime
	metrics *metrics.Metrics

	// RPC
	rpcServer *rpc.Server

	// Holdings index
	pool    *index.Pool
	indexer *index.Indexer

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// New creates and initializes a new Node. It performs all setup steps
// (logger, genesis, storage, runtime, index, RPC) but does NOT start
// serving. Call Start() for that.
func New(cfg *config.Config) (*Node, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// ── 1. Init logger ──────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile == "" {
		logsDir := cfg.LogsDir()
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			return nil, fmt.Errorf("creating logs dir: %w", err)
		}
		logFile = filepath.Join(logsDir, "tokenledger.log")
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.WithNetwork(string(cfg.Network))

	// ── 2. Genesis ──────────────────────────────────────────────────
	genesis, err := resolveGenesis(cfg)
	if err != nil {
		return nil, err
	}
	genesisHash, err := genesis.Hash()
	if err != nil {
		return nil, fmt.Errorf("hash genesis: %w", err)
	}
	alloc, err := genesis.Allocations()
	if err != nil {
		return nil, fmt.Errorf("genesis allocations: %w", err)
	}

	logger.Info().
		Str("genesis", genesisHash.String()[:16]+"...").
		Uint64("rent_per_byte_year", genesis.Rent.LamportsPerByteYear).
		Int("allocations", len(alloc)).
		Msg("Starting token ledger node")

	// ── 3. Open storage ─────────────────────────────────────────────
	db, err := storage.Open(cfg.Storage.Engine, cfg.LedgerDir())
	if err != nil {
		return nil, fmt.Errorf("open %s database at %s: %w", cfg.Storage.Engine, cfg.LedgerDir(), err)
	}
	logger.Info().
		Str("engine", cfg.Storage.Engine).
		Str("path", cfg.LedgerDir()).
		Msg("Database opened")

	store := ledger.NewStore(db)
	if err := store.BindGenesis(genesisHash); err != nil {
		db.Close()
		return nil, err
	}

	// ── 4. Runtime ──────────────────────────────────────────────────
	m := metrics.New()
	rt, err := runtime.New(store, runtime.Config{
		Rent:      genesis.Rent,
		FaucetMax: cfg.FaucetMax(),
	}, m)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create runtime: %w", err)
	}

	applied, err := rt.ApplyGenesis(alloc)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("apply genesis: %w", err)
	}
	if applied {
		logger.Info().Msg("Ledger initialized from genesis")
	} else {
		logger.Info().Uint64("slot", rt.Slot()).Msg("Ledger resumed from database")
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:         cfg,
		genesis:     genesis,
		genesisHash: genesisHash,
		logger:      logger,
		db:          db,
		ledger:      store,
		rt:          rt,
		metrics:     m,
		ctx:         ctx,
		cancel:      cancel,
	}

	// ── 5. Holdings index ───────────────────────────────────────────
	if cfg.Index.Enabled {
		if err := n.setupIndex(); err != nil {
			n.Stop()
			return nil, err
		}
	}

	// ── 6. RPC ──────────────────────────────────────────────────────
	if cfg.RPC.Enabled {
		n.rpcServer = rpc.New(cfg.RPCListenAddr(), rt, genesis, cfg.RPC)
		n.rpcServer.SetMetrics(m, cfg.Metrics.Enabled)
		if n.indexer != nil {
			n.rpcServer.SetIndex(index.NewStore(n.pool))
		}
	}

	return n, nil
}

// setupIndex connects to Postgres, applies migrations and subscribes the
// indexer to runtime commits.
func (n *Node) setupIndex() error {
	pool, err := index.NewPool(n.ctx, n.cfg.Index.DSN)
	if err != nil {
		return fmt.Errorf("connect index: %w", err)
	}
	n.pool = pool
	if err := pool.Migrate(n.ctx); err != nil {
		return fmt.Errorf("migrate index: %w", err)
	}
	n.indexer = index.NewIndexer(index.NewStore(pool), n.ledger, n.metrics, n.cfg.Index.QueueSize)
	n.rt.OnCommit(n.indexer.Enqueue)
	n.logger.Info().Int("queue", n.cfg.Index.QueueSize).Msg("Holdings index enabled")
	return nil
}

// Start begins serving RPC and indexing.
func (n *Node) Start() error {
	if n.indexer != nil {
		if err := n.indexer.Start(n.ctx, n.rt.Slot()); err != nil {
			return fmt.Errorf("start indexer: %w", err)
		}
	}

	if n.rpcServer != nil {
		if err := n.rpcServer.Start(); err != nil {
			return fmt.Errorf("start rpc: %w", err)
		}
		n.logger.Info().
			Str("addr", n.rpcServer.Addr()).
			Bool("ws", n.cfg.RPC.WS).
			Bool("metrics", n.cfg.Metrics.Enabled).
			Msg("RPC server started")
	}

	n.logger.Info().
		Uint64("slot", n.rt.Slot()).
		Bool("faucet", n.cfg.Faucet.Enabled).
		Bool("index", n.indexer != nil).
		Msg("Node started successfully")

	return nil
}

// Stop shuts the node down. It is safe to call more than once.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		if n.rpcServer != nil {
			n.rpcServer.Stop()
		}
		n.cancel()
		if n.indexer != nil {
			n.indexer.Stop()
		}
		if n.pool != nil {
			n.pool.Close()
		}
		if n.db != nil {
			n.db.Close()
		}
		n.logger.Info().Msg("Goodbye!")
	})
}

// RPCAddr returns the RPC listen address, or "" when RPC is disabled.
func (n *Node) RPCAddr() string {
	if n.rpcServer != nil {
		return n.rpcServer.Addr()
	}
	return ""
}

// Slot returns the last committed slot.
func (n *Node) Slot() uint64 {
	return n.rt.Slot()
}

// Runtime returns the node's runtime.
func (n *Node) Runtime() *runtime.Runtime {
	return n.rt
}

// Genesis returns the genesis the node runs on.
func (n *Node) Genesis() *config.Genesis {
	return n.genesis
}
