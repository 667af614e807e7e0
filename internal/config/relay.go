package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RelayConfig configures the standalone relay process. It shares the event
// log with running nodes, so only the postgres driver is accepted.
type RelayConfig struct {
	Storage StorageConfig `yaml:"storage"`

	Security struct {
		EnforceSecureTLS *bool `yaml:"enforce_secure_transport"`
	} `yaml:"security"`

	Relay RelayConfigSection `yaml:"relay"`

	Logging LoggingConfig `yaml:"logging"`
}

func LoadRelay(path string) (*RelayConfig, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read relay config: %w", err)
	}
	var cfg RelayConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("parse relay config yaml: %w", err)
	}
	cfg.expandEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *RelayConfig) applyDefaults() {
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverPostgres
	}
	c.Storage.applyDefaults()
	if c.Security.EnforceSecureTLS == nil {
		c.Security.EnforceSecureTLS = boolPtr(true)
	}
	c.Relay.applyDefaults()
	c.Logging.applyDefaults("manifest-wall-relay", "relay")
}

func (c *RelayConfig) validate() error {
	if c.Storage.Driver != DriverPostgres {
		return errors.New("storage.driver must be postgres for the standalone relay; badger nodes run the relay in-process")
	}
	if err := c.Storage.validate(*c.Security.EnforceSecureTLS); err != nil {
		return err
	}
	return c.Relay.validate(*c.Security.EnforceSecureTLS)
}

func (c *RelayConfig) expandEnv() {
	c.Storage.expandEnv()
	c.Relay.expandEnv()
}
