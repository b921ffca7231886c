package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbalug7/tiny-lora/ebyte"
	"github.com/mbalug7/tiny-lora/radio"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

func TestLoadNodeConfig(t *testing.T) {
	path := writeConfig(t, "node.json", `{
		"region": "EU868",
		"frequency_mhz": 868.1,
		"address": 1,
		"destination": 2,
		"serial_port": "/dev/ttyS0",
		"serial": {"baud_rate": 9600},
		"m0_pin": "GPIO22",
		"m1_pin": "GPIO27",
		"aux_pin": "GPIO17",
		"poll_interval": "500ms",
		"database": "frames.db"
	}`)

	cfg, err := LoadNodeConfig(path)
	require.NoError(t, err)

	rc, err := cfg.RadioConfig()
	require.NoError(t, err)
	assert.Equal(t, radio.EU868, rc.Region)
	assert.Equal(t, 868.1, rc.FrequencyMHz)
	assert.Equal(t, uint16(1), rc.Address)
	assert.Equal(t, uint16(2), rc.Destination)

	hw, ok := cfg.HWConfig()
	require.True(t, ok)
	assert.Equal(t, ebyte.HWConfig{
		Port:   "/dev/ttyS0",
		Serial: ebyte.PortOptions{BaudRate: 9600},
		M0:     "GPIO22",
		M1:     "GPIO27",
		AUX:    "GPIO17",
	}, hw)

	assert.Equal(t, 500*time.Millisecond, cfg.GetPollInterval())
	assert.Equal(t, "frames.db", cfg.GetDatabase())
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := &NodeConfig{}
	require.NoError(t, cfg.Validate())

	rc, err := cfg.RadioConfig()
	require.NoError(t, err)
	assert.Equal(t, radio.US915, rc.Region)
	assert.Equal(t, radio.Broadcast, rc.Destination)

	_, ok := cfg.HWConfig()
	assert.False(t, ok)
	assert.Equal(t, time.Second, cfg.GetPollInterval())
	assert.Equal(t, "", cfg.GetDatabase())
}

func TestLoadNodeConfigRejects(t *testing.T) {
	_, err := LoadNodeConfig(writeConfig(t, "node.yaml", "{}"))
	assert.ErrorContains(t, err, ".json")

	_, err = LoadNodeConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = LoadNodeConfig(writeConfig(t, "bad.json", "{"))
	assert.ErrorContains(t, err, "parse")

	_, err = LoadNodeConfig(writeConfig(t, "big.json", `{"database":"`+strings.Repeat("x", maxFileSize)+`"}`))
	assert.ErrorContains(t, err, "too large")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  NodeConfig
	}{
		{"region", NodeConfig{Region: ptrString("XX123")}},
		{"frequency outside band", NodeConfig{FrequencyMHz: func() *float64 { v := 868.1; return &v }()}},
		{"address", NodeConfig{Address: ptrInt(70000)}},
		{"destination", NodeConfig{Destination: ptrInt(-1)}},
		{"spreading factor", NodeConfig{SpreadingFactor: ptrInt(13)}},
		{"serial", NodeConfig{Serial: &ebyte.PortOptions{BaudRate: 1234}}},
		{"poll interval", NodeConfig{PollInterval: ptrString("soon")}},
		{"negative poll interval", NodeConfig{PollInterval: ptrString("-1s")}},
		{"half the mode pins", NodeConfig{M0Pin: ptrString("GPIO22")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cfg.Validate())
		})
	}
}
