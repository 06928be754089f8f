package config

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/chassis-manager/pkg/dispatch"
	"github.com/chassis-manager/pkg/ipmi"
)

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// FanConfig addresses one fan of a chassis controller
type FanConfig struct {
	Number uint8 `yaml:"number"`
	Sensor uint8 `yaml:"sensor"`
}

// TargetConfig holds the connection settings of one management controller
type TargetConfig struct {
	Name        string      `yaml:"name"`
	Host        string      `yaml:"host"`
	Port        int         `yaml:"port,omitempty"`
	Version     string      `yaml:"version,omitempty"` // auto, 1.5, 2.0
	User        string      `yaml:"user"`
	Password    string      `yaml:"password,omitempty"` // Prompted for when empty
	Privilege   string      `yaml:"privilege,omitempty"`
	CipherSuite uint8       `yaml:"cipher_suite"`
	AuthType    string      `yaml:"auth_type,omitempty"` // Preferred v1.5 authentication type
	BMCKey      string      `yaml:"bmc_key,omitempty"`   // K_g, hex encoded
	Fans        []FanConfig `yaml:"fans,omitempty"`
	Sockets     []uint8     `yaml:"sockets,omitempty"`
}

// CommandConfig holds the dispatch policy of device commands
type CommandConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	Retries           int           `yaml:"retries"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	SocketSettleDelay time.Duration `yaml:"socket_settle_delay"`
}

// MetricsConfig holds the monitor settings
type MetricsConfig struct {
	Listen   string        `yaml:"listen"`
	Interval time.Duration `yaml:"interval"`
}

// Config holds the complete configuration of the chassis manager
type Config struct {
	Targets   []TargetConfig   `yaml:"targets"`
	Commands  CommandConfig    `yaml:"commands"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Logging   LogConfig        `yaml:"logging,omitempty"`
	Simulator *SimulatorConfig `yaml:"simulator,omitempty"`
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	return &Config{
		Logging: LogConfig{
			Level: "info", // default log level
		},
		Commands: CommandConfig{
			Timeout:           2 * time.Second,
			Retries:           2,
			RetryInterval:     500 * time.Millisecond,
			SocketSettleDelay: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Listen:   ":9290",
			Interval: 30 * time.Second,
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := NewConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// UnmarshalYAML applies the target defaults before decoding.
func (t *TargetConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain TargetConfig

	p := plain{CipherSuite: ipmi.DefaultCipherSuite}
	if err := value.Decode(&p); err != nil {
		return err
	}

	*t = TargetConfig(p)

	return nil
}

// GetLogLevel returns the log level as a logrus.Level
func (c *Config) GetLogLevel() logrus.Level {
	switch c.Logging.Level {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Target returns the target called name, or the first one when name is empty.
func (c *Config) Target(name string) (*TargetConfig, error) {
	if len(c.Targets) == 0 {
		return nil, fmt.Errorf("no targets configured")
	}

	if name == "" {
		return &c.Targets[0], nil
	}

	for i := range c.Targets {
		if c.Targets[i].Name == name {
			return &c.Targets[i], nil
		}
	}

	return nil, fmt.Errorf("unknown target %q", name)
}

// Policy returns the dispatch policy of device commands.
func (c *Config) Policy() dispatch.Policy {
	return dispatch.Policy{
		Timeout:       c.Commands.Timeout,
		Retries:       c.Commands.Retries,
		RetryInterval: c.Commands.RetryInterval,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	names := make(map[string]bool)
	for i := range c.Targets {
		t := &c.Targets[i]
		if err := t.Validate(); err != nil {
			return fmt.Errorf("targets[%d]: %w", i, err)
		}

		if names[t.Name] {
			return fmt.Errorf("targets[%d]: duplicate name %q", i, t.Name)
		}
		names[t.Name] = true
	}

	if c.Commands.Timeout <= 0 {
		return fmt.Errorf("commands.timeout must be positive")
	}
	if c.Commands.Retries < 0 {
		return fmt.Errorf("commands.retries must not be negative")
	}
	if c.Commands.RetryInterval < 0 {
		return fmt.Errorf("commands.retry_interval must not be negative")
	}
	if c.Commands.SocketSettleDelay < 0 {
		return fmt.Errorf("commands.socket_settle_delay must not be negative")
	}

	if c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			return fmt.Errorf("invalid metrics.listen: %w", err)
		}
	}
	if c.Metrics.Interval <= 0 {
		return fmt.Errorf("metrics.interval must be positive")
	}

	if c.Simulator != nil {
		if err := c.Simulator.Validate(); err != nil {
			return fmt.Errorf("simulator: %w", err)
		}
	}

	return nil
}

// Validate checks the settings of one target
func (t *TargetConfig) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	if t.Host == "" {
		return fmt.Errorf("host is required")
	}
	if t.Port < 0 || t.Port > 65535 {
		return fmt.Errorf("invalid port: %d", t.Port)
	}
	if len(t.User) > 16 {
		return fmt.Errorf("user must be at most 16 characters")
	}
	if len(t.Password) > 20 {
		return fmt.Errorf("password must be at most 20 characters")
	}

	if _, err := ipmi.ParseVersion(t.Version); err != nil {
		return err
	}
	if _, err := ipmi.ParsePrivilegeLevel(t.Privilege); err != nil {
		return err
	}
	if t.AuthType != "" {
		if _, err := ipmi.ParseAuthType(t.AuthType); err != nil {
			return err
		}
	}
	if _, err := ipmi.LookupCipherSuite(t.CipherSuite); err != nil {
		return err
	}
	if _, err := hex.DecodeString(t.BMCKey); err != nil {
		return fmt.Errorf("invalid bmc_key: %w", err)
	}

	return nil
}

// Endpoint returns the network address of the target.
func (t *TargetConfig) Endpoint() ipmi.Target {
	return ipmi.Target{Host: t.Host, Port: t.Port}
}

// Credentials returns the login of the target.
func (t *TargetConfig) Credentials() ipmi.Credentials {
	creds := ipmi.Credentials{
		Username: t.User,
		Password: t.Password,
	}

	if t.BMCKey != "" {
		kg, _ := hex.DecodeString(t.BMCKey)
		creds.KG = string(kg)
	}

	if t.AuthType != "" {
		a, _ := ipmi.ParseAuthType(t.AuthType)
		creds.AuthTypes = []ipmi.AuthType{a}
	}

	return creds
}

// PrivilegeLevel returns the requested session privilege.
func (t *TargetConfig) PrivilegeLevel() ipmi.PrivilegeLevel {
	p, _ := ipmi.ParsePrivilegeLevel(t.Privilege)
	return p
}

// ProtocolVersion returns the requested session protocol.
func (t *TargetConfig) ProtocolVersion() ipmi.Version {
	v, _ := ipmi.ParseVersion(t.Version)
	return v
}
