package rig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

const DefaultConfigFile = "haptic.json"

// Config holds the rig configuration
type Config struct {
	Transport   LinkConfig  `json:"transport"`
	Actuator    LinkConfig  `json:"actuator"`
	Calibration Calibration `json:"calibration"`

	AckTimeoutMS   int    `json:"ack_timeout_ms,omitempty"`
	PollIntervalMS int    `json:"poll_interval_ms,omitempty"`
	ProbeTimeoutMS int    `json:"probe_timeout_ms,omitempty"`
	HistoryDB      string `json:"history_db,omitempty"`
}

// LinkConfig holds configuration for a single controller link
type LinkConfig struct {
	Port    string      `json:"port"`
	Options PortOptions `json:"options,omitempty"`
}

// Defaults applied when a field is left unset.
const (
	DefaultAckTimeout   = 10 * time.Second
	DefaultPollInterval = 10 * time.Millisecond
	DefaultProbeTimeout = 2 * time.Second
	DefaultHistoryDB    = "haptic-history.db"
)

// DefaultConfig returns a configuration with no ports assigned.
func DefaultConfig() *Config {
	return &Config{
		Calibration: DefaultCalibration(),
	}
}

// Link returns the link configuration for role.
func (c *Config) Link(role Role) *LinkConfig {
	if role == Actuator {
		return &c.Actuator
	}
	return &c.Transport
}

// IsConfigured returns true if both controllers have a port assigned
func (c *Config) IsConfigured() bool {
	return c.Transport.Port != "" && c.Actuator.Port != ""
}

// Validate checks that the rig can be opened with this configuration.
func (c *Config) Validate() error {
	if !c.IsConfigured() {
		return errors.New("transport and actuator ports must both be set")
	}
	if c.Transport.Port == c.Actuator.Port {
		return fmt.Errorf("transport and actuator share port %s", c.Transport.Port)
	}
	for _, role := range AllRoles() {
		if _, err := c.Link(role).Options.Normalize(); err != nil {
			return fmt.Errorf("%s options: %w", role, err)
		}
	}
	return c.Calibration.Validate()
}

// AckTimeout returns the configured acknowledgment timeout. A negative
// value disables the timeout.
func (c *Config) AckTimeout() time.Duration {
	switch {
	case c.AckTimeoutMS < 0:
		return 0
	case c.AckTimeoutMS == 0:
		return DefaultAckTimeout
	default:
		return time.Duration(c.AckTimeoutMS) * time.Millisecond
	}
}

// PollInterval returns the engine tick interval.
func (c *Config) PollInterval() time.Duration {
	if c.PollIntervalMS <= 0 {
		return DefaultPollInterval
	}
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// ProbeTimeout returns how long to wait for a readiness reply.
func (c *Config) ProbeTimeout() time.Duration {
	if c.ProbeTimeoutMS <= 0 {
		return DefaultProbeTimeout
	}
	return time.Duration(c.ProbeTimeoutMS) * time.Millisecond
}

// HistoryPath returns the run history database path.
func (c *Config) HistoryPath() string {
	if c.HistoryDB == "" {
		return DefaultHistoryDB
	}
	return c.HistoryDB
}

// LoadConfig loads configuration from the default config file
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(DefaultConfigFile)
}

// LoadConfigFrom loads configuration from a specific file
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save saves configuration to the default config file
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the default config file exists
func ConfigExists() bool {
	_, err := os.Stat(DefaultConfigFile)
	return err == nil
}

// Open opens both links and returns their protocol clients.
func (c *Config) Open() (transport, actuator *Client, err error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}
	tl, err := OpenSerial(c.Transport.Port, c.Transport.Options)
	if err != nil {
		return nil, nil, fmt.Errorf("open transport: %w", err)
	}
	al, err := OpenSerial(c.Actuator.Port, c.Actuator.Options)
	if err != nil {
		tl.Close()
		return nil, nil, fmt.Errorf("open actuator: %w", err)
	}
	return NewClient(Transport, tl), NewClient(Actuator, al), nil
}
