// Package config manages the sinkdns configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/semihalev/sinkdns/upstream"
)

// Config type
type Config struct {
	Listen  string
	Port    int
	Workers int

	Blacklist            string
	ZoneBlacklist        string
	BlacklistDomains     []string `toml:"blacklist_domains"`
	ZoneBlacklistDomains []string `toml:"zone_blacklist_domains"`

	DefaultIP string `toml:"default_ip"`

	DNSServer string `toml:"dns_server"`

	TLS            bool
	TLSPort        int    `toml:"tls_port"`
	H2             bool
	H2Port         int    `toml:"h2_port"`
	TLSCertificate string `toml:"tls_certificate"`
	TLSPrivateKey  string `toml:"tls_private_key"`

	Metrics    string
	AccessList []string `toml:"access_list"`
	RateLimit  int      `toml:"rate_limit"`
	AccessLog  string   `toml:"access_log"`

	QueryTimeout Duration `toml:"query_timeout"`
	LogLevel     string   `toml:"log_level"`
}

// Duration type
type Duration struct {
	time.Duration
}

// UnmarshalText for duration type
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// Default returns a config carrying the documented defaults.
func Default() *Config {
	return &Config{
		Listen:       "0.0.0.0",
		Port:         53,
		Workers:      4,
		DNSServer:    "cloudflare:h2",
		TLSPort:      853,
		H2Port:       443,
		QueryTimeout: Duration{5 * time.Second},
		LogLevel:     "warn",
	}
}

// Load reads a TOML config file over the defaults. An empty path is not an
// error, the defaults stand; a path that cannot be read is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config file read failed: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config file parse failed: %w", err)
	}

	return cfg, nil
}

// Validate rejects configurations the server cannot start with. It runs
// before any listener binds so a bad config never serves a single query.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}

	if net.ParseIP(c.Listen) == nil {
		return fmt.Errorf("invalid listen address %q", c.Listen)
	}

	if c.DefaultIP != "" {
		ip := net.ParseIP(c.DefaultIP)
		if ip == nil || ip.To4() == nil {
			return fmt.Errorf("default ip %q is not an IPv4 address", c.DefaultIP)
		}
	}

	if _, err := upstream.Parse(c.DNSServer); err != nil {
		return fmt.Errorf("invalid dns server %q: %w", c.DNSServer, err)
	}

	if c.TLS || c.H2 {
		if c.TLSCertificate == "" || c.TLSPrivateKey == "" {
			return fmt.Errorf("tls certificate and private key are required when tls or h2 listeners are enabled")
		}
	}

	if c.Blacklist != "" {
		if _, err := os.Stat(c.Blacklist); err != nil {
			return fmt.Errorf("blacklist file: %w", err)
		}
	}

	if c.ZoneBlacklist != "" {
		if _, err := os.Stat(c.ZoneBlacklist); err != nil {
			return fmt.Errorf("zone blacklist file: %w", err)
		}
	}

	if c.QueryTimeout.Duration <= 0 {
		c.QueryTimeout = Duration{5 * time.Second}
	}

	return nil
}

// SinkholeIP returns the configured sinkhole address, nil when blocked names
// should get an empty NOERROR instead.
func (c *Config) SinkholeIP() net.IP {
	if c.DefaultIP == "" {
		return nil
	}

	return net.ParseIP(c.DefaultIP).To4()
}

// UDPAddr returns the plain DNS listen address.
func (c *Config) UDPAddr() string {
	return net.JoinHostPort(c.Listen, strconv.Itoa(c.Port))
}

// TLSAddr returns the DoT listen address.
func (c *Config) TLSAddr() string {
	return net.JoinHostPort(c.Listen, strconv.Itoa(c.TLSPort))
}

// H2Addr returns the DoH listen address.
func (c *Config) H2Addr() string {
	return net.JoinHostPort(c.Listen, strconv.Itoa(c.H2Port))
}
