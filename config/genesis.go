package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/Klingon-tech/tokenledger/internal/rent"
	"github.com/Klingon-tech/tokenledger/pkg/crypto"
	"github.com/Klingon-tech/tokenledger/pkg/types"
)

// =============================================================================
// Ledger Rules (fixed at genesis)
// =============================================================================

// LamportsPerSOL is the number of lamports in one native unit.
const LamportsPerSOL = 1_000_000_000

// Genesis holds the initial state and fixed parameters of a ledger.
type Genesis struct {
	// Ledger identity
	Network   string `json:"network"`
	Timestamp uint64 `json:"timestamp"`
	ExtraData string `json:"extra_data,omitempty"`

	// Existence minimum parameters.
	Rent rent.Rent `json:"rent"`

	// Initial allocations (address -> lamports). Each becomes a system
	// account, so every value must meet the existence minimum of an empty
	// account.
	Alloc map[string]uint64 `json:"alloc"`
}

// =============================================================================
// Testnet Identity
//
// Derived from a well-known Ed25519 seed (DO NOT use on mainnet). The key
// funds the testnet genesis allocation so local tools can sign without a
// faucet round trip.
// =============================================================================

// TestnetSeed is the hex Ed25519 seed of the testnet genesis account.
const TestnetSeed = "746f6b656e6c65646765722d746573746e65742d67656e657369732d6b657900"

// TestnetKey returns the well-known testnet genesis key.
func TestnetKey() *crypto.Ed25519Key {
	seed, err := hex.DecodeString(TestnetSeed)
	if err != nil {
		panic(fmt.Sprintf("config: bad testnet seed: %v", err))
	}
	key, err := crypto.Ed25519KeyFromSeed(seed)
	if err != nil {
		panic(fmt.Sprintf("config: bad testnet seed: %v", err))
	}
	return key
}

// =============================================================================
// Pre-defined genesis configurations
// =============================================================================

// MainnetGenesis returns the mainnet genesis configuration.
func MainnetGenesis() *Genesis {
	return &Genesis{
		Network:   string(Mainnet),
		Timestamp: 1791590400, // 2026-10-10
		ExtraData: "Token Ledger Genesis",
		Rent:      rent.Default(),
		Alloc:     map[string]uint64{},
	}
}

// TestnetGenesis returns the testnet genesis configuration.
func TestnetGenesis() *Genesis {
	g := MainnetGenesis()
	g.Network = string(Testnet)
	g.ExtraData = "Token Ledger Testnet Genesis"
	g.Alloc = map[string]uint64{
		TestnetKey().Identity().String(): 1_000_000 * LamportsPerSOL,
	}
	return g
}

// GenesisFor returns the genesis config for the given network.
func GenesisFor(network NetworkType) *Genesis {
	switch network {
	case Testnet:
		return TestnetGenesis()
	default:
		return MainnetGenesis()
	}
}

// =============================================================================
// Genesis file I/O
// =============================================================================

// LoadGenesis loads genesis configuration from a file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading genesis file: %w", err)
	}

	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parsing genesis file: %w", err)
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis: %w", err)
	}

	return &g, nil
}

// Save writes the genesis configuration to a file.
func (g *Genesis) Save(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding genesis: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing genesis file: %w", err)
	}

	return nil
}

// Validate checks that the genesis configuration is valid.
func (g *Genesis) Validate() error {
	if g.Network == "" {
		return fmt.Errorf("network is required")
	}

	if g.Rent.LamportsPerByteYear == 0 {
		return fmt.Errorf("rent.lamports_per_byte_year must be positive")
	}
	if g.Rent.ExemptionThreshold == 0 {
		return fmt.Errorf("rent.exemption_threshold must be positive")
	}
	minBalance := g.Rent.MinimumBalance(0)
	if minBalance == math.MaxUint64 {
		return fmt.Errorf("rent parameters overflow the existence minimum")
	}

	// Validate alloc addresses and check the total fits in a uint64.
	var totalAlloc uint64
	for addrStr, v := range g.Alloc {
		if _, err := types.ParseAddress(addrStr); err != nil {
			return fmt.Errorf("invalid alloc address %q: %w", addrStr, err)
		}
		if v < minBalance {
			return fmt.Errorf("alloc %s: %d lamports is below the existence minimum %d",
				addrStr, v, minBalance)
		}
		if totalAlloc > math.MaxUint64-v {
			return fmt.Errorf("genesis allocations overflow")
		}
		totalAlloc += v
	}

	return nil
}

// Allocations returns the parsed initial allocations.
func (g *Genesis) Allocations() (map[types.Address]uint64, error) {
	alloc := make(map[types.Address]uint64, len(g.Alloc))
	for addrStr, v := range g.Alloc {
		addr, err := types.ParseAddress(addrStr)
		if err != nil {
			return nil, fmt.Errorf("invalid alloc address %q: %w", addrStr, err)
		}
		alloc[addr] = v
	}
	return alloc, nil
}

// Hash returns a BLAKE3 hash of the genesis configuration.
// Used to identify the ledger and detect genesis mismatches.
func (g *Genesis) Hash() (types.Hash, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Hash(data), nil
}
