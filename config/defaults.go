package config

import "github.com/Klingon-tech/tokenledger/internal/storage"

// DefaultFaucetMax caps a single testnet airdrop.
const DefaultFaucetMax uint64 = 10_000_000_000

// DefaultMainnet returns the default node configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		Storage: StorageConfig{
			Engine: storage.EngineBadger,
		},
		RPC: RPCConfig{
			Enabled:    true,
			Addr:       "127.0.0.1",
			Port:       8899,
			AllowedIPs: []string{"127.0.0.1"},
			WS:         true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Index: IndexConfig{
			Enabled: false,
		},
		Faucet: FaucetConfig{
			Enabled: false,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultTestnet returns the default node configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.RPC.Port = 8999
	cfg.Faucet = FaucetConfig{Enabled: true, Max: DefaultFaucetMax}
	return cfg
}

// Default returns the default node configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	default:
		return DefaultMainnet()
	}
}
