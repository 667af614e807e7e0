package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/moneyfestation-dev/manifest-wall/internal/protocol"
)

const (
	DriverBadger   = "badger"
	DriverPostgres = "postgres"
)

type StorageConfig struct {
	Driver      string `yaml:"driver"`
	BadgerPath  string `yaml:"badger_path"`
	InMemory    bool   `yaml:"in_memory"`
	PostgresDSN string `yaml:"postgres_dsn"`
	MaxConns    int32  `yaml:"max_conns"`
	MinConns    int32  `yaml:"min_conns"`
}

// RelayConfigSection configures publication of the event log to a Redis stream.
type RelayConfigSection struct {
	Enabled             bool   `yaml:"enabled"`
	RedisAddr           string `yaml:"redis_addr"`
	RedisPassword       string `yaml:"redis_password"`
	RedisDB             int    `yaml:"redis_db"`
	RedisTLS            bool   `yaml:"redis_tls"`
	Stream              string `yaml:"stream"`
	CursorKey           string `yaml:"cursor_key"`
	BatchSize           int    `yaml:"batch_size"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	MaxBackoffSeconds   int    `yaml:"max_backoff_seconds"`
}

type LoggingConfig struct {
	Service string `yaml:"service"`
	Version string `yaml:"version"`
	Commit  string `yaml:"commit"`
	Region  string `yaml:"region"`
}

// NodeConfig captures the settings of a single wall ledger node.
type NodeConfig struct {
	Server struct {
		Listen                 string `yaml:"listen"`
		ReadTimeoutSeconds     int    `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds    int    `yaml:"write_timeout_seconds"`
		ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
	} `yaml:"server"`

	Storage StorageConfig `yaml:"storage"`

	Runtime struct {
		TxFeeLamports      *uint64 `yaml:"tx_fee_lamports"`
		MaxConflictRetries int     `yaml:"max_conflict_retries"`
	} `yaml:"runtime"`

	Keys struct {
		SigningPrivateKeyPath string `yaml:"signing_private_key_path"`
		SigningPublicKeyPath  string `yaml:"signing_public_key_path"`
	} `yaml:"keys"`

	Security struct {
		AdminToken       string `yaml:"admin_token"`
		EnableAirdrop    *bool  `yaml:"enable_airdrop"`
		EnforceSecureTLS *bool  `yaml:"enforce_secure_transport"`
	} `yaml:"security"`

	Relay RelayConfigSection `yaml:"relay"`

	Logging LoggingConfig `yaml:"logging"`
}

// LoadNode reads and validates node config from disk.
func LoadNode(path string) (*NodeConfig, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read node config: %w", err)
	}
	var cfg NodeConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("parse node config yaml: %w", err)
	}
	cfg.expandEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *NodeConfig) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8899"
	}
	if c.Server.ReadTimeoutSeconds <= 0 {
		c.Server.ReadTimeoutSeconds = 10
	}
	if c.Server.WriteTimeoutSeconds <= 0 {
		c.Server.WriteTimeoutSeconds = 20
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 15
	}
	c.Storage.applyDefaults()
	if c.Runtime.TxFeeLamports == nil {
		fee := uint64(5000)
		c.Runtime.TxFeeLamports = &fee
	}
	if c.Runtime.MaxConflictRetries <= 0 {
		c.Runtime.MaxConflictRetries = 8
	}
	if c.Security.EnableAirdrop == nil {
		c.Security.EnableAirdrop = boolPtr(false)
	}
	if c.Security.EnforceSecureTLS == nil {
		c.Security.EnforceSecureTLS = boolPtr(true)
	}
	c.Relay.applyDefaults()
	c.Logging.applyDefaults("manifest-wall-node", "ledger")
}

func (c *NodeConfig) validate() error {
	if err := c.Storage.validate(*c.Security.EnforceSecureTLS); err != nil {
		return err
	}
	if c.Keys.SigningPrivateKeyPath == "" {
		return errors.New("keys.signing_private_key_path is required")
	}
	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		return fmt.Errorf("server.listen is invalid: %w", err)
	}
	if *c.Runtime.TxFeeLamports > protocol.TxFeeBuffer {
		return fmt.Errorf("runtime.tx_fee_lamports cannot exceed %d", protocol.TxFeeBuffer)
	}
	if *c.Security.EnableAirdrop && strings.TrimSpace(c.Security.AdminToken) == "" {
		return errors.New("security.admin_token is required when airdrop is enabled")
	}
	if c.Relay.Enabled {
		if err := c.Relay.validate(*c.Security.EnforceSecureTLS); err != nil {
			return err
		}
	}
	return nil
}

func (c *NodeConfig) expandEnv() {
	c.Storage.expandEnv()
	c.Keys.SigningPrivateKeyPath = os.ExpandEnv(strings.TrimSpace(c.Keys.SigningPrivateKeyPath))
	c.Keys.SigningPublicKeyPath = os.ExpandEnv(strings.TrimSpace(c.Keys.SigningPublicKeyPath))
	c.Security.AdminToken = os.ExpandEnv(strings.TrimSpace(c.Security.AdminToken))
	c.Relay.expandEnv()
}

func (s *StorageConfig) applyDefaults() {
	s.Driver = strings.TrimSpace(strings.ToLower(s.Driver))
	if s.Driver == "" {
		s.Driver = DriverBadger
	}
	if s.Driver == DriverBadger && s.BadgerPath == "" && !s.InMemory {
		s.BadgerPath = "data/wall"
	}
	if s.MaxConns <= 0 {
		s.MaxConns = 12
	}
	if s.MinConns < 0 {
		s.MinConns = 0
	}
}

func (s *StorageConfig) validate(enforceTLS bool) error {
	switch s.Driver {
	case DriverBadger:
		if s.BadgerPath == "" && !s.InMemory {
			return errors.New("storage.badger_path is required unless storage.in_memory is set")
		}
	case DriverPostgres:
		if s.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required")
		}
		if enforceTLS && dsnUsesInsecureSSL(s.PostgresDSN) {
			return errors.New("storage.postgres_dsn must use sslmode=require|verify-ca|verify-full when enforce_secure_transport is enabled")
		}
	default:
		return errors.New("storage.driver must be one of badger|postgres")
	}
	if s.MinConns > s.MaxConns {
		return errors.New("storage.min_conns cannot exceed storage.max_conns")
	}
	return nil
}

func (s *StorageConfig) expandEnv() {
	s.BadgerPath = os.ExpandEnv(strings.TrimSpace(s.BadgerPath))
	s.PostgresDSN = os.ExpandEnv(strings.TrimSpace(s.PostgresDSN))
}

func (r *RelayConfigSection) applyDefaults() {
	if r.RedisAddr == "" {
		r.RedisAddr = "127.0.0.1:6379"
	}
	if r.Stream == "" {
		r.Stream = "manifest-wall:events"
	}
	if r.CursorKey == "" {
		r.CursorKey = r.Stream + ":cursor"
	}
	if r.BatchSize <= 0 {
		r.BatchSize = 100
	}
	if r.PollIntervalSeconds <= 0 {
		r.PollIntervalSeconds = 2
	}
	if r.MaxBackoffSeconds <= 0 {
		r.MaxBackoffSeconds = 300
	}
}

func (r *RelayConfigSection) validate(enforceTLS bool) error {
	host, _, err := net.SplitHostPort(r.RedisAddr)
	if err != nil {
		return fmt.Errorf("relay.redis_addr is invalid: %w", err)
	}
	if r.RedisDB < 0 {
		return errors.New("relay.redis_db must not be negative")
	}
	if enforceTLS && !r.RedisTLS && !isLoopbackHost(host) && !strings.EqualFold(host, "localhost") {
		return fmt.Errorf("relay.redis_tls is required for non-loopback redis host %q when enforce_secure_transport is enabled", host)
	}
	if r.Stream == r.CursorKey {
		return errors.New("relay.cursor_key must differ from relay.stream")
	}
	return nil
}

func (r *RelayConfigSection) expandEnv() {
	r.RedisAddr = os.ExpandEnv(strings.TrimSpace(r.RedisAddr))
	r.RedisPassword = os.ExpandEnv(strings.TrimSpace(r.RedisPassword))
	r.Stream = strings.TrimSpace(r.Stream)
	r.CursorKey = strings.TrimSpace(r.CursorKey)
}

func (l *LoggingConfig) applyDefaults(service, region string) {
	if l.Service == "" {
		l.Service = service
	}
	if l.Version == "" {
		l.Version = "dev"
	}
	if l.Commit == "" {
		l.Commit = "unknown"
	}
	if l.Region == "" {
		l.Region = region
	}
}

func boolPtr(v bool) *bool {
	return &v
}
