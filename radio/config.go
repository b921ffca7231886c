// Package radio exposes a LoRa transceiver as a raw datagram socket: the
// driver delivers whole frames, the socket queues them and hands their bytes
// to the caller with blocking or non-blocking reads.
package radio

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects the radio stack. Only raw LoRa is served by a Socket.
type Mode int

const (
	ModeLoRa Mode = iota
	ModeLoRaWAN
)

func (m Mode) String() string {
	switch m {
	case ModeLoRa:
		return "LORA"
	case ModeLoRaWAN:
		return "LORAWAN"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Region is a regulatory frequency plan.
type Region int

const (
	US915 Region = iota
	EU868
	AU915
	AS923
)

// Band describes the frequency range and power limit of a region.
type Band struct {
	MinMHz, MaxMHz, DefaultMHz float64
	MaxTxPowerDBm              int
}

var bands = map[Region]Band{
	US915: {MinMHz: 902, MaxMHz: 928, DefaultMHz: 903.9, MaxTxPowerDBm: 20},
	EU868: {MinMHz: 863, MaxMHz: 870, DefaultMHz: 868.1, MaxTxPowerDBm: 14},
	AU915: {MinMHz: 915, MaxMHz: 928, DefaultMHz: 915.2, MaxTxPowerDBm: 20},
	AS923: {MinMHz: 915, MaxMHz: 928, DefaultMHz: 923.2, MaxTxPowerDBm: 14},
}

var regionNames = map[Region]string{
	US915: "US915",
	EU868: "EU868",
	AU915: "AU915",
	AS923: "AS923",
}

func (r Region) String() string {
	if n, ok := regionNames[r]; ok {
		return n
	}
	return fmt.Sprintf("Region(%d)", int(r))
}

// Band returns the region's frequency plan. ok is false for unknown regions.
func (r Region) Band() (b Band, ok bool) {
	b, ok = bands[r]
	return b, ok
}

// ParseRegion accepts the names printed by Region.String, case-insensitively.
func ParseRegion(s string) (Region, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for r, n := range regionNames {
		if n == want {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown region %q: expected one of US915, EU868, AU915, AS923", s)
}

// Broadcast is the destination address every node accepts.
const Broadcast uint16 = 0xFFFF

const (
	MinTxPowerDBm  = 2
	defaultSF      = 7
	defaultBW      = 125000
	defaultTxPower = 14
	minSF, maxSF   = 7, 12
)

var ErrUnsupportedMode = errors.New("radio: mode not supported by raw sockets")

// Config is the radio setup applied by a Driver.
type Config struct {
	Mode            Mode
	Region          Region
	FrequencyMHz    float64
	SpreadingFactor int
	BandwidthHz     int
	TxPowerDBm      int
	// Address is this node's address, Destination where Send goes.
	Address     uint16
	Destination uint16
}

// DefaultConfig returns a raw LoRa setup for region that broadcasts.
func DefaultConfig(region Region) Config {
	return Config{
		Mode:        ModeLoRa,
		Region:      region,
		Destination: Broadcast,
	}
}

// Normalize validates c and fills unset fields from the region defaults.
func (c Config) Normalize() (Config, error) {
	out := c
	if out.Mode != ModeLoRa {
		return out, fmt.Errorf("%w: %s", ErrUnsupportedMode, out.Mode)
	}
	band, ok := out.Region.Band()
	if !ok {
		return out, fmt.Errorf("unknown region %s", out.Region)
	}

	if out.FrequencyMHz == 0 {
		out.FrequencyMHz = band.DefaultMHz
	}
	if out.FrequencyMHz < band.MinMHz || out.FrequencyMHz > band.MaxMHz {
		return out, fmt.Errorf("frequency %.3f MHz outside %s band (%.0f-%.0f MHz)",
			out.FrequencyMHz, out.Region, band.MinMHz, band.MaxMHz)
	}

	if out.SpreadingFactor == 0 {
		out.SpreadingFactor = defaultSF
	}
	if out.SpreadingFactor < minSF || out.SpreadingFactor > maxSF {
		return out, fmt.Errorf("invalid spreading factor %d: must be between %d and %d", out.SpreadingFactor, minSF, maxSF)
	}

	if out.BandwidthHz == 0 {
		out.BandwidthHz = defaultBW
	}
	switch out.BandwidthHz {
	case 125000, 250000, 500000:
	default:
		return out, fmt.Errorf("invalid bandwidth %d Hz: expected 125000, 250000 or 500000", out.BandwidthHz)
	}

	if out.TxPowerDBm == 0 {
		out.TxPowerDBm = defaultTxPower
	}
	if out.TxPowerDBm < MinTxPowerDBm || out.TxPowerDBm > band.MaxTxPowerDBm {
		return out, fmt.Errorf("invalid tx power %d dBm: %s allows %d to %d",
			out.TxPowerDBm, out.Region, MinTxPowerDBm, band.MaxTxPowerDBm)
	}
	return out, nil
}
