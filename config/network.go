package config

import (
	"fmt"
	"strings"
)

// Network identifies which chain a daemon serves. It only picks default ports
// and the section of a node conf file; nothing else depends on it.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Signet  Network = "signet"
	Regtest Network = "regtest"
)

var defaultPorts = map[Network]int{
	Mainnet: 8332,
	Testnet: 18332,
	Signet:  38332,
	Regtest: 18443,
}

// ParseNetwork accepts the canonical names plus the aliases bitcoind uses
// ("main", "test", "testnet3").
func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "main", "mainnet":
		return Mainnet, nil
	case "test", "testnet", "testnet3":
		return Testnet, nil
	case "signet":
		return Signet, nil
	case "regtest":
		return Regtest, nil
	}
	return "", fmt.Errorf("unknown network %q", s)
}

// DefaultPort is the RPC port the daemon listens on when none is configured.
func (n Network) DefaultPort() int {
	if p, ok := defaultPorts[n]; ok {
		return p
	}
	return defaultPorts[Mainnet]
}

// section is the conf file section holding per-network overrides. Mainnet
// settings live at the top level.
func (n Network) section() string {
	switch n {
	case Testnet:
		return "test"
	case Signet, Regtest:
		return string(n)
	}
	return ""
}

func (n Network) String() string { return string(n) }
