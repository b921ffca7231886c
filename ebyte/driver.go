package ebyte

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/mbalug7/go-ebyte-lora/pkg/e22"
	"github.com/mbalug7/go-ebyte-lora/pkg/hal"
	"github.com/mbalug7/tiny-lora/internal/monitoring"
	"github.com/mbalug7/tiny-lora/radio"
)

const (
	// BaseFrequencyMHz is channel 0 of the E22-900 series.
	BaseFrequencyMHz = 850.125
	MaxChannel       = 80
	// MaxPayload is a 240 byte sub-packet minus the fixed transmission header.
	MaxPayload = 237
)

var ErrNotConfigured = errors.New("ebyte: driver not configured")

// unchangedSetup is how the library reports a write that matches the chip.
const unchangedSetup = "same as the setup on the chip"

// Transmit power steps of the E22-900 series, strongest first.
var powerLevels = []int{22, 17, 13, 10}

// PowerLevelDBm returns the strongest module power step at or below dBm.
// Requests under the weakest step get the weakest step.
func PowerLevelDBm(dBm int) int {
	for _, p := range powerLevels {
		if dBm >= p {
			return p
		}
	}
	return powerLevels[len(powerLevels)-1]
}

func withPower(b *e22.ConfigBuilder, dBm int) *e22.ConfigBuilder {
	switch PowerLevelDBm(dBm) {
	case 22:
		return b.TransmittingPower(e22.TP_22_DBM)
	case 17:
		return b.TransmittingPower(e22.TP_17_DBM)
	case 13:
		return b.TransmittingPower(e22.TP_13_DBM)
	default:
		return b.TransmittingPower(e22.TP_10_DBM)
	}
}

// ChannelForFrequency returns the module channel closest to mhz.
func ChannelForFrequency(mhz float64) (uint8, error) {
	ch := math.Round(mhz - BaseFrequencyMHz)
	if ch < 0 || ch > MaxChannel {
		return 0, fmt.Errorf("frequency %.3f MHz has no E22 channel (%.3f-%.3f MHz)",
			mhz, BaseFrequencyMHz, BaseFrequencyMHz+MaxChannel)
	}
	return uint8(ch), nil
}

// RSSIDBm converts the RSSI byte appended to received data into dBm. Zero
// means the module did not report one.
func RSSIDBm(raw uint8) int {
	if raw == 0 {
		return 0
	}
	return -(256 - int(raw))
}

// Driver is a radio.Driver backed by an E22 module.
type Driver struct {
	hw     *HWHandler
	module *e22.Module

	mu         sync.Mutex
	cfg        radio.Config
	channel    uint8
	configured bool
	sink       func(radio.Frame)
}

// NewDriver reads the module registers and adopts the UART setup stored on
// the chip.
func NewDriver(hw *HWHandler) (*Driver, error) {
	d := &Driver{hw: hw}
	module, err := e22.NewModule(hw, d.messageEvent)
	if err != nil {
		return nil, fmt.Errorf("could not configure module: %w", err)
	}
	d.module = module
	return d, nil
}

func (obj *Driver) messageEvent(msg e22.Message, err error) {
	if err != nil {
		monitoring.Logf("message event error: %s", err)
		return
	}
	obj.mu.Lock()
	sink := obj.sink
	obj.mu.Unlock()
	if sink == nil {
		monitoring.Logf("dropping %d byte message, not listening", len(msg.Payload))
		return
	}
	sink(radio.Frame{
		Payload: append([]byte(nil), msg.Payload...),
		RSSI:    RSSIDBm(msg.RSSI),
	})
}

// Configure writes address, channel, transmit power, RSSI reporting and
// fixed transmission to the module and returns it to normal mode. A setup
// identical to the chip's is not rewritten. On a failed write the previous
// configuration stays in effect.
func (obj *Driver) Configure(cfg radio.Config) error {
	if cfg.Mode != radio.ModeLoRa {
		return fmt.Errorf("%w: %s", radio.ErrUnsupportedMode, cfg.Mode)
	}
	ch, err := ChannelForFrequency(cfg.FrequencyMHz)
	if err != nil {
		return err
	}

	b := e22.NewConfigBuilder(obj.module).
		Address(byte(cfg.Address>>8), byte(cfg.Address)).
		Channel(ch).
		AirDataRate(e22.ADR_2400).
		RSSIState(e22.RSSI_ENABLE).
		TransmissionMethod(e22.TRANSMISSION_FIXED)
	err = withPower(b, cfg.TxPowerDBm).WritePermanentConfig()
	switch {
	case err == nil:
		monitoring.Logf("module configuration: %s", obj.module.GetModuleConfiguration())
	case strings.Contains(err.Error(), unchangedSetup):
		monitoring.Logf("module already configured")
	default:
		// the library can leave the chip in configuration mode
		if merr := obj.hw.SetMode(hal.ModeNormal); merr != nil {
			monitoring.Logf("failed to restore normal mode: %v", merr)
		}
		return fmt.Errorf("config write error: %w", err)
	}
	if err := obj.hw.SetMode(hal.ModeNormal); err != nil {
		return fmt.Errorf("failed to set normal mode: %w", err)
	}

	obj.mu.Lock()
	obj.cfg = cfg
	obj.channel = ch
	obj.configured = true
	obj.mu.Unlock()
	monitoring.Logf("E22 on channel %d (%.3f MHz), address 0x%04x, %d dBm",
		ch, BaseFrequencyMHz+float64(ch), cfg.Address, PowerLevelDBm(cfg.TxPowerDBm))
	return nil
}

// Send transmits payload to the configured destination on the configured
// channel.
func (obj *Driver) Send(payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("payload of %d bytes exceeds %d", len(payload), MaxPayload)
	}
	obj.mu.Lock()
	dest, ch, ok := obj.cfg.Destination, obj.channel, obj.configured
	obj.mu.Unlock()
	if !ok {
		return ErrNotConfigured
	}
	if err := obj.module.SendFixedMessage(byte(dest>>8), byte(dest), ch, string(payload)); err != nil {
		return fmt.Errorf("failed to send: %w", err)
	}
	return nil
}

// Listen runs the UART reader until ctx is done.
func (obj *Driver) Listen(ctx context.Context, fn func(radio.Frame)) error {
	obj.mu.Lock()
	obj.sink = fn
	obj.mu.Unlock()
	defer func() {
		obj.mu.Lock()
		obj.sink = nil
		obj.mu.Unlock()
	}()
	return obj.hw.Run(ctx)
}

func (obj *Driver) Close() error {
	return obj.hw.Close()
}

var _ radio.Driver = (*Driver)(nil)
