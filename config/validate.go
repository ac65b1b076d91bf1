package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/Klingon-tech/tokenledger/internal/storage"
)

// Validate checks runtime node config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}
	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [0, 65535]")
	}

	cfg.Storage.Engine = strings.ToLower(strings.TrimSpace(cfg.Storage.Engine))
	switch cfg.Storage.Engine {
	case "":
		cfg.Storage.Engine = storage.EngineBadger
	case storage.EngineBadger, storage.EnginePebble, storage.EngineMemory:
	default:
		return fmt.Errorf("storage.engine must be %s, %s or %s",
			storage.EngineBadger, storage.EnginePebble, storage.EngineMemory)
	}

	for i, entry := range cfg.RPC.AllowedIPs {
		if _, _, err := net.ParseCIDR(entry); err == nil {
			continue
		}
		if net.ParseIP(entry) == nil {
			return fmt.Errorf("rpc.allowed[%d] %q is not an IP or CIDR", i, entry)
		}
	}

	if cfg.Index.Enabled && cfg.Index.DSN == "" {
		return fmt.Errorf("index.enabled requires index.dsn")
	}
	if cfg.Index.QueueSize < 0 {
		return fmt.Errorf("index.queue must not be negative")
	}

	if cfg.Faucet.Enabled && cfg.Faucet.Max == 0 {
		return fmt.Errorf("faucet.enabled requires faucet.max > 0")
	}
	if cfg.Faucet.Enabled && cfg.Network == Mainnet {
		return fmt.Errorf("faucet cannot be enabled on %s", Mainnet)
	}

	return nil
}

// FaucetMax returns the airdrop cap handed to the runtime, zero when the
// faucet is off.
func (c *Config) FaucetMax() uint64 {
	if !c.Faucet.Enabled {
		return 0
	}
	return c.Faucet.Max
}
