package config

import (
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/ligun0805/mempool-searcher/internal/domain"
)

// File is the optional TOML network file:
//
//	[networks.ETH]
//	url = "https://eth.llamarpc.com"
//	chain_id = 1
//	gas_limit = 21000
//	relay_url = "https://relay.flashbots.net"
type File struct {
	Networks map[string]NetworkFile `toml:"networks"`
}

type NetworkFile struct {
	URL      string `toml:"url"`
	ChainID  int64  `toml:"chain_id"`
	GasLimit uint64 `toml:"gas_limit"`
	RelayURL string `toml:"relay_url"`
}

// LoadFile decodes a TOML network file.
func LoadFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	var f File
	if err := toml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &f, nil
}

// merge overlays file networks on top of env networks. A file entry with an
// empty url only refines an env-configured network and never adds one.
func (f *File) merge(base []domain.NetworkConfig) []domain.NetworkConfig {
	byID := make(map[string]domain.NetworkConfig, len(base)+len(f.Networks))
	for _, n := range base {
		byID[n.ID] = n
	}
	for name, nf := range f.Networks {
		id := strings.ToUpper(strings.TrimSpace(name))
		n, exists := byID[id]
		if !exists && strings.TrimSpace(nf.URL) == "" {
			continue
		}
		n.ID = id
		if u := strings.TrimSpace(nf.URL); u != "" {
			n.URL = u
		}
		if nf.ChainID > 0 {
			n.ChainID = big.NewInt(nf.ChainID)
		}
		if nf.GasLimit > 0 {
			n.GasLimit = nf.GasLimit
		}
		if u := strings.TrimSpace(nf.RelayURL); u != "" {
			n.RelayURL = u
		}
		byID[id] = n
	}
	out := make([]domain.NetworkConfig, 0, len(byID))
	for _, n := range byID {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
