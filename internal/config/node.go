// Package config loads the JSON node configuration shared by the commands.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mbalug7/tiny-lora/ebyte"
	"github.com/mbalug7/tiny-lora/radio"
)

const maxFileSize = 64 * 1024

// NodeConfig describes one node. Every field is optional; the Get* methods
// and RadioConfig fall back to defaults for unset values.
type NodeConfig struct {
	// Radio params
	Region          *string  `json:"region,omitempty"`
	FrequencyMHz    *float64 `json:"frequency_mhz,omitempty"`
	SpreadingFactor *int     `json:"spreading_factor,omitempty"`
	BandwidthHz     *int     `json:"bandwidth_hz,omitempty"`
	TxPowerDBm      *int     `json:"tx_power_dbm,omitempty"`
	Address         *int     `json:"address,omitempty"`
	Destination     *int     `json:"destination,omitempty"`

	// E22 wiring
	SerialPort *string            `json:"serial_port,omitempty"`
	Serial     *ebyte.PortOptions `json:"serial,omitempty"`
	M0Pin      *string            `json:"m0_pin,omitempty"`
	M1Pin      *string            `json:"m1_pin,omitempty"`
	AUXPin     *string            `json:"aux_pin,omitempty"`

	// Receive loop
	PollInterval *string `json:"poll_interval,omitempty"` // duration string like "1s"
	Database     *string `json:"database,omitempty"`
}

// LoadNodeConfig reads and validates a .json config file.
func LoadNodeConfig(path string) (*NodeConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &NodeConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks every set field.
func (c *NodeConfig) Validate() error {
	if _, err := c.RadioConfig(); err != nil {
		return err
	}
	if c.Serial != nil {
		if _, err := c.Serial.Normalize(); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
	}
	if c.PollInterval != nil && *c.PollInterval != "" {
		d, err := time.ParseDuration(*c.PollInterval)
		if err != nil {
			return fmt.Errorf("invalid poll_interval '%s': %w", *c.PollInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("poll_interval must be positive, got %s", d)
		}
	}
	if (c.M0Pin == nil) != (c.M1Pin == nil) {
		return fmt.Errorf("m0_pin and m1_pin must be set together")
	}
	return nil
}

func checkAddress(name string, v *int) (uint16, error) {
	if *v < 0 || *v > 0xFFFF {
		return 0, fmt.Errorf("%s must be between 0 and 65535, got %d", name, *v)
	}
	return uint16(*v), nil
}

// RadioConfig returns the normalized radio setup.
func (c *NodeConfig) RadioConfig() (radio.Config, error) {
	region := radio.US915
	if c.Region != nil {
		r, err := radio.ParseRegion(*c.Region)
		if err != nil {
			return radio.Config{}, err
		}
		region = r
	}
	cfg := radio.DefaultConfig(region)
	if c.FrequencyMHz != nil {
		cfg.FrequencyMHz = *c.FrequencyMHz
	}
	if c.SpreadingFactor != nil {
		cfg.SpreadingFactor = *c.SpreadingFactor
	}
	if c.BandwidthHz != nil {
		cfg.BandwidthHz = *c.BandwidthHz
	}
	if c.TxPowerDBm != nil {
		cfg.TxPowerDBm = *c.TxPowerDBm
	}
	if c.Address != nil {
		a, err := checkAddress("address", c.Address)
		if err != nil {
			return radio.Config{}, err
		}
		cfg.Address = a
	}
	if c.Destination != nil {
		d, err := checkAddress("destination", c.Destination)
		if err != nil {
			return radio.Config{}, err
		}
		cfg.Destination = d
	}
	return cfg.Normalize()
}

// HWConfig returns the E22 wiring, or false when no serial port is set.
func (c *NodeConfig) HWConfig() (ebyte.HWConfig, bool) {
	if c.SerialPort == nil || *c.SerialPort == "" {
		return ebyte.HWConfig{}, false
	}
	hw := ebyte.HWConfig{Port: *c.SerialPort}
	if c.Serial != nil {
		hw.Serial = *c.Serial
	}
	if c.M0Pin != nil {
		hw.M0 = *c.M0Pin
	}
	if c.M1Pin != nil {
		hw.M1 = *c.M1Pin
	}
	if c.AUXPin != nil {
		hw.AUX = *c.AUXPin
	}
	return hw, true
}

func (c *NodeConfig) GetPollInterval() time.Duration {
	if c.PollInterval == nil || *c.PollInterval == "" {
		return time.Second
	}
	d, err := time.ParseDuration(*c.PollInterval)
	if err != nil {
		return time.Second
	}
	return d
}

func (c *NodeConfig) GetDatabase() string {
	if c.Database == nil {
		return ""
	}
	return *c.Database
}
