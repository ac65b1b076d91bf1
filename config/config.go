// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Ledger rules: defined in genesis, fixed for the lifetime of a ledger
//   - Node settings: runtime configuration, can vary per node
package config

import (
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// =============================================================================
// Node Configuration (runtime, per-node settings)
// =============================================================================

// Config holds node-specific runtime configuration.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`
	// Genesis file overriding the built-in genesis of the network.
	Genesis string `conf:"genesis"`

	Storage StorageConfig
	RPC     RPCConfig
	Metrics MetricsConfig
	Index   IndexConfig
	Faucet  FaucetConfig
	Log     LogConfig
}

// StorageConfig selects the key-value engine backing the ledger.
type StorageConfig struct {
	Engine string `conf:"storage.engine"` // badger, pebble or memory
}

// RPCConfig holds RPC server settings.
type RPCConfig struct {
	Enabled     bool     `conf:"rpc.enabled"`
	Addr        string   `conf:"rpc.addr"`
	Port        int      `conf:"rpc.port"`
	AllowedIPs  []string `conf:"rpc.allowed"`
	CORSOrigins []string `conf:"rpc.cors"` // Allowed CORS origins ("*" = all).
	WS          bool     `conf:"rpc.ws"`   // Serve account subscriptions on /ws.
}

// MetricsConfig controls the Prometheus endpoint on the RPC listener.
type MetricsConfig struct {
	Enabled bool `conf:"metrics.enabled"`
}

// IndexConfig holds the optional Postgres holdings index settings.
type IndexConfig struct {
	Enabled   bool   `conf:"index.enabled"`
	DSN       string `conf:"index.dsn"`
	QueueSize int    `conf:"index.queue"`
}

// FaucetConfig controls ledger_requestAirdrop.
type FaucetConfig struct {
	Enabled bool   `conf:"faucet.enabled"`
	Max     uint64 `conf:"faucet.max"` // Lamports per request.
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.tokenledger
//	macOS:   ~/Library/Application Support/TokenLedger
//	Windows: %APPDATA%\TokenLedger
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tokenledger"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "TokenLedger")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "TokenLedger")
		}
		return filepath.Join(home, "AppData", "Roaming", "TokenLedger")
	default:
		return filepath.Join(home, ".tokenledger")
	}
}

// NetworkDataDir returns the network-specific data directory.
func (c *Config) NetworkDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// LedgerDir returns the account database directory.
func (c *Config) LedgerDir() string {
	return filepath.Join(c.NetworkDataDir(), "ledger")
}

// KeysDir returns the directory the CLI keeps key files in.
func (c *Config) KeysDir() string {
	return filepath.Join(c.NetworkDataDir(), "keys")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "tokenledger.conf")
}

// RPCListenAddr returns the host:port the RPC server binds.
func (c *Config) RPCListenAddr() string {
	return net.JoinHostPort(c.RPC.Addr, strconv.Itoa(c.RPC.Port))
}
