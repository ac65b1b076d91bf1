package node

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Klingon-tech/tokenledger/config"
)

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// resolveGenesis loads the configured genesis file, or the built-in genesis
// of the network when none is set.
func resolveGenesis(cfg *config.Config) (*config.Genesis, error) {
	if cfg.Genesis == "" {
		return config.GenesisFor(cfg.Network), nil
	}

	path := expandHome(cfg.Genesis)
	g, err := config.LoadGenesis(path)
	if err != nil {
		return nil, fmt.Errorf("load genesis %s: %w", path, err)
	}
	if g.Network != string(cfg.Network) {
		return nil, fmt.Errorf("genesis %s is for %q, node runs %q", path, g.Network, cfg.Network)
	}
	return g, nil
}
