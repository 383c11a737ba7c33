// Package config resolves the connection settings a client needs to reach a
// daemon.
//
// Settings come from three places, later ones winning:
//
//	defaults (localhost, network default port)
//	    |
//	config file (YAML/TOML via viper)  or  node conf (key=value via ini)
//	    |
//	DAEMONRPC_* environment variables
//
// Whatever the source, consumers only ever see an RPCConfig value.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides, e.g. DAEMONRPC_URL.
const EnvPrefix = "DAEMONRPC"

// RPCConfig is an immutable description of one daemon endpoint.
type RPCConfig struct {
	URI      *url.URL
	Username string
	Password string
	Network  Network
}

// New builds a config from a raw URL. Credentials embedded in the URL take
// precedence over user and password.
func New(rawURL, user, password string, network Network) (RPCConfig, error) {
	if network == "" {
		network = Mainnet
	}
	if rawURL == "" {
		rawURL = fmt.Sprintf("http://127.0.0.1:%d", network.DefaultPort())
	}
	u, err := ParseURL(rawURL, network)
	if err != nil {
		return RPCConfig{}, err
	}
	if u.User != nil {
		user = u.User.Username()
		password, _ = u.User.Password()
		u.User = nil
	}
	return RPCConfig{URI: u, Username: user, Password: password, Network: network}, nil
}

// ParseURL validates an endpoint URL. A bare host or host:port is accepted and
// given the http scheme; a missing port becomes the network default.
func ParseURL(raw string, network Network) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "tcp":
	default:
		return nil, fmt.Errorf("invalid url %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("invalid url %q: missing host", raw)
	}
	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(network.DefaultPort()))
	}
	return u, nil
}

// Endpoint returns a copy of the URI so callers cannot mutate the config.
func (c RPCConfig) Endpoint() *url.URL {
	if c.URI == nil {
		return nil
	}
	u := *c.URI
	return &u
}

// Validate reports whether the config can be used to dial a daemon.
func (c RPCConfig) Validate() error {
	if c.URI == nil {
		return errors.New("config: missing endpoint")
	}
	if c.URI.Host == "" {
		return errors.New("config: endpoint has no host")
	}
	return nil
}

// File is the on-disk shape read by Load.
type File struct {
	URL      string        `mapstructure:"url"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	Network  string        `mapstructure:"network"`
	NodeConf string        `mapstructure:"node_conf"` // optional bitcoin.conf to read credentials from
	Timeout  time.Duration `mapstructure:"timeout"`
	Log      Log           `mapstructure:"log"`
	Server   Server        `mapstructure:"server"`
}

// Log configures the logs package.
type Log struct {
	Level  string `mapstructure:"level"`
	JSON   bool   `mapstructure:"json"`
	Output string `mapstructure:"output"` // "stdout", "stderr" or a directory for rotated files
}

// Server configures the demo daemon.
type Server struct {
	Address        string        `mapstructure:"address"`
	StreamAddress  string        `mapstructure:"stream_address"`
	MaxConns       int           `mapstructure:"max_conns"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateBurst      int           `mapstructure:"rate_burst"`
	CORSOrigins    []string      `mapstructure:"cors_origins"`
	Etcd           []string      `mapstructure:"etcd"`
	ServiceName    string        `mapstructure:"service_name"`
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("url", "")
	v.SetDefault("user", "")
	v.SetDefault("password", "")
	v.SetDefault("node_conf", "")
	v.SetDefault("network", string(Mainnet))
	v.SetDefault("timeout", "60s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("log.output", "stderr")
	v.SetDefault("server.address", "127.0.0.1:18444")
	v.SetDefault("server.max_conns", 256)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.rate_burst", 50)
	v.SetDefault("server.service_name", "daemon-rpc")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (any format viper understands, chosen by extension). An
// empty path yields defaults plus environment overrides.
func Load(path string) (*File, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}
	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &f, nil
}

// RPC resolves the file into an RPCConfig. When NodeConf is set, credentials
// and port missing from the file are taken from it.
func (f *File) RPC() (RPCConfig, error) {
	network, err := ParseNetwork(f.Network)
	if err != nil {
		return RPCConfig{}, err
	}
	if f.NodeConf != "" && (f.URL == "" || f.User == "") {
		nc, err := LoadNodeConf(f.NodeConf, network)
		if err != nil {
			return RPCConfig{}, err
		}
		rawURL, user, pass := f.URL, f.User, f.Password
		if rawURL == "" {
			rawURL = nc.URI.String()
		}
		if user == "" {
			user, pass = nc.Username, nc.Password
		}
		return New(rawURL, user, pass, network)
	}
	return New(f.URL, f.User, f.Password, network)
}
