// Package p2p is a point-to-point LoRa link between a base and a sensor
// node: acknowledged datagrams, a two-phase radio settings change with
// automatic revert, packet error tracking and a serial debug console.
package p2p

import (
	"errors"
	"fmt"

	"github.com/mbalug7/tiny-lora/radio"
)

// MaxMessageLen bounds a message buffer, type byte included.
const MaxMessageLen = 128

var ErrInvalidSetting = errors.New("p2p: invalid setting")

// MsgType is the first byte of every message buffer.
type MsgType uint8

const (
	MsgUndefined MsgType = iota
	MsgDataReq
	MsgDataRsp
	MsgLinkChangeReq
	MsgLinkChangeRsp
	MsgWakeRequest
	MsgSleepRequest
	MsgHeartbeatReq
	MsgHeartbeatRsp
	MsgProCVDataReq
	MsgProCVDataRsp
	MsgSeaphoxDataReq
	MsgSeaphoxDataRsp
	NumMsgTypes
)

var msgTypeNames = [NumMsgTypes]string{
	"undefined message type",
	"dataReq",
	"dataRsp",
	"linkChangeReq",
	"linkChangeRsp",
	"wakeRequest",
	"sleepRequest",
	"heartbeatReq",
	"heartbeatRsp",
	"procvDataReq",
	"procvDataRsp",
	"seaphoxDataReq",
	"seaphoxDataRsp",
}

func (t MsgType) String() string {
	if t >= NumMsgTypes {
		return fmt.Sprintf("unknown message type %d", uint8(t))
	}
	return msgTypeNames[t]
}

// SpreadingFactor indexes spreadingFactors.
type SpreadingFactor uint8

const (
	SF7 SpreadingFactor = iota
	SF8
	SF9
	SF10
	SF11
	SF12
	NumSpreadingFactors
)

var spreadingFactors = [NumSpreadingFactors]int{7, 8, 9, 10, 11, 12}

func (s SpreadingFactor) Valid() bool { return s < NumSpreadingFactors }

// Value returns the LoRa spreading factor, 0 if s is invalid.
func (s SpreadingFactor) Value() int {
	if !s.Valid() {
		return 0
	}
	return spreadingFactors[s]
}

// Next returns the following setting, wrapping from SF12 to SF7.
func (s SpreadingFactor) Next() SpreadingFactor {
	return (s + 1) % NumSpreadingFactors
}

// Bandwidth indexes bandwidths.
type Bandwidth uint8

const (
	BW125kHz Bandwidth = iota
	BW250kHz
	BW500kHz
	NumBandwidths
)

var bandwidths = [NumBandwidths]int{125000, 250000, 500000}

func (b Bandwidth) Valid() bool { return b < NumBandwidths }

// Hz returns the signal bandwidth, 0 if b is invalid.
func (b Bandwidth) Hz() int {
	if !b.Valid() {
		return 0
	}
	return bandwidths[b]
}

func (b Bandwidth) Next() Bandwidth {
	return (b + 1) % NumBandwidths
}

// Channel indexes the US915 500 kHz channels: eight uplink then eight
// downlink.
type Channel uint8

const (
	Uplink0 Channel = iota
	Uplink1
	Uplink2
	Uplink3
	Uplink4
	Uplink5
	Uplink6
	Uplink7
	Downlink0
	Downlink1
	Downlink2
	Downlink3
	Downlink4
	Downlink5
	Downlink6
	Downlink7
	NumChannels
)

// channelTenthsMHz holds centre frequencies in 100 kHz steps.
var channelTenthsMHz = [NumChannels]int{
	9030, 9046, 9062, 9078, 9094, 9110, 9126, 9142,
	9233, 9239, 9245, 9251, 9257, 9263, 9269, 9275,
}

func (c Channel) Valid() bool { return c < NumChannels }

// MHz returns the centre frequency, 0 if c is invalid.
func (c Channel) MHz() float64 {
	if !c.Valid() {
		return 0
	}
	return float64(channelTenthsMHz[c]) / 10
}

func (c Channel) Next() Channel {
	return (c + 1) % NumChannels
}

const (
	MinTxPowerDBm = 2
	MaxTxPowerDBm = 20
)

// Settings is one radio setup both ends of the link must share.
type Settings struct {
	SpreadingFactor SpreadingFactor
	Bandwidth       Bandwidth
	Channel         Channel
	TxPowerDBm      int8
}

// DefaultSettings is the setup a node starts on.
func DefaultSettings() Settings {
	return Settings{
		SpreadingFactor: SF7,
		Bandwidth:       BW500kHz,
		Channel:         Uplink0,
		TxPowerDBm:      MinTxPowerDBm,
	}
}

func validTxPower(p int8) bool {
	return p >= MinTxPowerDBm && p <= MaxTxPowerDBm
}

func (s Settings) Validate() error {
	switch {
	case !s.SpreadingFactor.Valid():
		return fmt.Errorf("%w: spreading factor %d", ErrInvalidSetting, s.SpreadingFactor)
	case !s.Bandwidth.Valid():
		return fmt.Errorf("%w: signal bandwidth %d", ErrInvalidSetting, s.Bandwidth)
	case !s.Channel.Valid():
		return fmt.Errorf("%w: frequency channel %d", ErrInvalidSetting, s.Channel)
	case !validTxPower(s.TxPowerDBm):
		return fmt.Errorf("%w: tx power %d dBm", ErrInvalidSetting, s.TxPowerDBm)
	}
	return nil
}

func (s Settings) String() string {
	return fmt.Sprintf("SF %d, BW %d Hz, channel %.1f MHz, TX power %d dBm",
		s.SpreadingFactor.Value(), s.Bandwidth.Hz(), s.Channel.MHz(), s.TxPowerDBm)
}

// RadioConfig applies s on top of base. The channel table is US915 only.
func (s Settings) RadioConfig(base radio.Config) radio.Config {
	cfg := base
	cfg.Mode = radio.ModeLoRa
	cfg.Region = radio.US915
	cfg.FrequencyMHz = s.Channel.MHz()
	cfg.SpreadingFactor = s.SpreadingFactor.Value()
	cfg.BandwidthHz = s.Bandwidth.Hz()
	cfg.TxPowerDBm = int(s.TxPowerDBm)
	return cfg
}

// encode lays s out as the link change request and response bodies carry it.
func (s Settings) encode(t MsgType) []byte {
	return []byte{byte(t), byte(s.SpreadingFactor), byte(s.Bandwidth), byte(s.Channel), byte(s.TxPowerDBm)}
}

func decodeSettings(buf []byte) (Settings, error) {
	if len(buf) < 5 {
		return Settings{}, fmt.Errorf("settings body is %d bytes, want 5", len(buf))
	}
	return Settings{
		SpreadingFactor: SpreadingFactor(buf[1]),
		Bandwidth:       Bandwidth(buf[2]),
		Channel:         Channel(buf[3]),
		TxPowerDBm:      int8(buf[4]),
	}, nil
}

// Message is one datagram with its header.
type Message struct {
	Src   uint8
	Dest  uint8
	ID    uint8
	Flags uint8
	Buf   []byte
}

// Type reads the message type from the first buffer byte.
func (m Message) Type() MsgType {
	if len(m.Buf) == 0 {
		return MsgUndefined
	}
	return MsgType(m.Buf[0])
}

// Body is the buffer after the type byte.
func (m Message) Body() []byte {
	if len(m.Buf) == 0 {
		return nil
	}
	return m.Buf[1:]
}
