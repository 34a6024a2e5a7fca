package coremain

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pmkol/mosproxy/mlog"
)

// ErrInvalidConfig is wrapped by every Validate error.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the top level config of mosproxy.
type Config struct {
	Log mlog.LogConfig `yaml:"log"`

	// Origin is the host requests are forwarded to over https.
	// It must not contain a scheme, a port or a path.
	Origin string `yaml:"origin"`

	// Listen is the address of the proxy http server.
	Listen string `yaml:"listen"`

	Cache    CacheConfig    `yaml:"cache"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Server   ServerConfig   `yaml:"server"`
	API      APIConfig      `yaml:"api"`
}

type CacheConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	CleanerInterval time.Duration `yaml:"cleaner_interval"`
	Shards          int           `yaml:"shards"`
	MaxEntries      int           `yaml:"max_entries"`
}

type UpstreamConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	MaxBodySize int64         `yaml:"max_body_size"`
	HTTP3       bool          `yaml:"http3"`
}

type ServerConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	HealthPath    string        `yaml:"health_path"`
	ProxyProtocol bool          `yaml:"proxy_protocol"`
	MaxConns      int           `yaml:"max_conns"`
}

type APIConfig struct {
	HTTP string `yaml:"http"`
}

const (
	defaultTTL  = 30 * time.Second
	defaultPort = "8080"
)

// DefaultConfig returns the config used when no config file is found.
func DefaultConfig() *Config {
	return &Config{
		Log:    mlog.LogConfig{Level: "info"},
		Listen: net.JoinHostPort("localhost", defaultPort),
		Cache: CacheConfig{
			TTL:             defaultTTL,
			CleanerInterval: time.Minute,
			Shards:          16,
		},
		Upstream: UpstreamConfig{
			Timeout:     10 * time.Second,
			MaxBodySize: 32 << 20,
		},
	}
}

// Validate reports the first invalid field of c.
func (c *Config) Validate() error {
	if err := validateOrigin(c.Origin); err != nil {
		return fmt.Errorf("%w: origin %q: %v", ErrInvalidConfig, c.Origin, err)
	}
	if err := validateListen(c.Listen); err != nil {
		return fmt.Errorf("%w: listen %q: %v", ErrInvalidConfig, c.Listen, err)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("%w: cache.ttl must be positive, got %s", ErrInvalidConfig, c.Cache.TTL)
	}
	if n := c.Cache.Shards; n <= 0 || n&(n-1) != 0 {
		return fmt.Errorf("%w: cache.shards must be a power of 2, got %d", ErrInvalidConfig, n)
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("%w: cache.max_entries must not be negative", ErrInvalidConfig)
	}
	if c.Upstream.Timeout < 0 {
		return fmt.Errorf("%w: upstream.timeout must not be negative", ErrInvalidConfig)
	}
	if c.Server.MaxConns < 0 {
		return fmt.Errorf("%w: server.max_conns must not be negative", ErrInvalidConfig)
	}
	return nil
}

func validateOrigin(o string) error {
	switch {
	case len(o) == 0:
		return errors.New("empty")
	case strings.Contains(o, "://"):
		return errors.New("must not contain a scheme")
	case strings.ContainsAny(o, "/?#@ \t"):
		return errors.New("must be a bare host")
	}

	// [v6 literal] or name/v4, without port.
	if strings.HasPrefix(o, "[") {
		if !strings.HasSuffix(o, "]") {
			return errors.New("must not contain a port")
		}
		if ip := net.ParseIP(o[1 : len(o)-1]); ip == nil {
			return errors.New("invalid ipv6 literal")
		}
		return nil
	}
	if strings.Contains(o, ":") {
		return errors.New("must not contain a port")
	}
	return nil
}

func validateListen(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}
