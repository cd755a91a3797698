package domain

import (
	"fmt"
	"math/big"
)

// ConnState is the connectivity state of a configured network.
type ConnState int

const (
	Unknown ConnState = iota
	Live
	Dead
)

func (s ConnState) String() string {
	switch s {
	case Unknown:
		return "Unknown"
	case Live:
		return "Live"
	case Dead:
		return "Dead"
	default:
		return fmt.Sprintf("ConnState(%d)", s)
	}
}

// NetworkConfig is the static description of one network, as loaded from configuration.
type NetworkConfig struct {
	ID       string
	URL      string
	ChainID  *big.Int // optional; discovered via eth_chainId when nil
	GasLimit uint64   // gas-limit estimate used by the profitability check
	RelayURL string   // optional per-network relay override
}

// Network is a configured network together with its connectivity state.
type Network struct {
	NetworkConfig
	State  ConnState
	Reason string // why the network is Dead
}
