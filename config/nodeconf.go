package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"

	"gopkg.in/ini.v1"
)

// LoadNodeConf reads a bitcoind-style conf file and extracts the RPC settings
// for network. Keys in the network's section ([test], [signet], [regtest])
// override top-level ones, matching how the daemon itself reads the file.
func LoadNodeConf(path string, network Network) (RPCConfig, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		AllowBooleanKeys:    true,
		AllowShadows:        true,
		IgnoreInlineComment: true,
	}, path)
	if err != nil {
		return RPCConfig{}, fmt.Errorf("error reading node conf: %w", err)
	}

	top := f.Section(ini.DefaultSection)
	if network == "" {
		switch {
		case top.Key("regtest").MustBool(false):
			network = Regtest
		case top.Key("signet").MustBool(false):
			network = Signet
		case top.Key("testnet").MustBool(false):
			network = Testnet
		default:
			network = Mainnet
		}
	}

	lookup := func(key string) string {
		if name := network.section(); name != "" && f.HasSection(name) {
			if k, err := f.Section(name).GetKey(key); err == nil {
				return k.String()
			}
		}
		return top.Key(key).String()
	}

	host := lookup("rpcconnect")
	if host == "" {
		host = "127.0.0.1"
	}
	port := network.DefaultPort()
	if p := lookup("rpcport"); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return RPCConfig{}, fmt.Errorf("node conf: invalid rpcport %q", p)
		}
	}

	return RPCConfig{
		URI:      &url.URL{Scheme: "http", Host: net.JoinHostPort(host, strconv.Itoa(port))},
		Username: lookup("rpcuser"),
		Password: lookup("rpcpassword"),
		Network:  network,
	}, nil
}
