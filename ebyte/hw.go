// Package ebyte runs an Ebyte E22 LoRa module attached to a Linux host: UART
// through go.bug.st/serial, M0/M1 (and optionally AUX) through periph.io.
package ebyte

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/mbalug7/go-ebyte-lora/pkg/hal"
	hosthal "github.com/mbalug7/tiny-lora/hal"
	"github.com/mbalug7/tiny-lora/internal/monitoring"
	"github.com/mbalug7/tiny-lora/internal/timeutil"
)

const (
	// MaxFrameSize is one E22 sub-packet plus the optional RSSI byte.
	MaxFrameSize = 241

	defaultSilence    = 20 * time.Millisecond
	defaultReplyWait  = time.Second
	defaultModeSettle = 40 * time.Millisecond
	defaultAUXTimeout = time.Second
	auxPollInterval   = 2 * time.Millisecond
	configPausePoll   = 10 * time.Millisecond
)

var ErrAUXTimeout = errors.New("ebyte: AUX did not go high")

// modePins maps chip modes to (M0, M1). Register access, which the driver
// library requests as ModeSleep, is the E22 configuration mode.
var modePins = map[hal.ChipMode][2]gpio.Level{
	hal.ModeNormal:    {gpio.Low, gpio.Low},
	hal.ModeWakeUp:    {gpio.High, gpio.Low},
	hal.ModeSleep:     {gpio.Low, gpio.High},
	hal.ModePowerSave: {gpio.High, gpio.High},
}

// HWHandler implements hal.HWHandler for go-ebyte-lora.
type HWHandler struct {
	port  hosthal.Port
	m0    hosthal.OutputPin
	m1    hosthal.OutputPin
	aux   hosthal.InputPin
	clock timeutil.Clock

	silence    time.Duration
	replyWait  time.Duration
	modeSettle time.Duration

	mu     sync.Mutex
	mode   hal.ChipMode
	opts   PortOptions
	staged *PortOptions
	cb     hal.OnMessageCb
}

type HWOption func(*HWHandler)

// WithClock replaces the clock used for mode switch delays.
func WithClock(c timeutil.Clock) HWOption {
	return func(h *HWHandler) { h.clock = c }
}

// WithSilence sets the inter-byte gap that ends a received frame.
func WithSilence(d time.Duration) HWOption {
	return func(h *HWHandler) { h.silence = d }
}

// WithReplyWait bounds how long ReadSerial waits for a register reply.
func WithReplyWait(d time.Duration) HWOption {
	return func(h *HWHandler) { h.replyWait = d }
}

// NewHWHandler puts the module in normal mode. aux may be nil, in which case
// mode switches wait a fixed settle time instead.
func NewHWHandler(m0, m1 hosthal.OutputPin, aux hosthal.InputPin, port hosthal.Port, opts PortOptions, hwOpts ...HWOption) (*HWHandler, error) {
	norm, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	h := &HWHandler{
		port:       port,
		m0:         m0,
		m1:         m1,
		aux:        aux,
		clock:      timeutil.RealClock{},
		silence:    defaultSilence,
		replyWait:  defaultReplyWait,
		modeSettle: defaultModeSettle,
		opts:       norm,
	}
	for _, o := range hwOpts {
		o(h)
	}
	if err := h.SetMode(hal.ModeNormal); err != nil {
		return nil, err
	}
	return h, nil
}

// HWConfig names the host resources of one module.
type HWConfig struct {
	Port   string
	Serial PortOptions
	M0     string
	M1     string
	// AUX is optional.
	AUX string
}

// OpenHW opens the serial port and GPIO lines named in cfg.
func OpenHW(cfg HWConfig, opener hosthal.PortOpener, hwOpts ...HWOption) (*HWHandler, error) {
	if opener == nil {
		opener = hosthal.OpenSerial
	}
	mode, err := cfg.Serial.SerialMode()
	if err != nil {
		return nil, err
	}
	m0, err := hosthal.OutputPinByName(cfg.M0)
	if err != nil {
		return nil, err
	}
	m1, err := hosthal.OutputPinByName(cfg.M1)
	if err != nil {
		return nil, err
	}
	var aux hosthal.InputPin
	if cfg.AUX != "" {
		if aux, err = hosthal.InputPinByName(cfg.AUX); err != nil {
			return nil, err
		}
	}
	port, err := opener(cfg.Port, mode)
	if err != nil {
		return nil, err
	}
	h, err := NewHWHandler(m0, m1, aux, port, cfg.Serial, hwOpts...)
	if err != nil {
		port.Close()
		return nil, err
	}
	return h, nil
}

// ReadSerial returns the module's reply to a register command.
func (obj *HWHandler) ReadSerial() ([]byte, error) {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	data, err := obj.readFrame(obj.replyWait)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("no reply from module within %s", obj.replyWait)
	}
	return data, nil
}

func (obj *HWHandler) WriteSerial(msg []byte) error {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if _, err := obj.port.Write(msg); err != nil {
		return fmt.Errorf("failed to write %d bytes: %w", len(msg), err)
	}
	return nil
}

// StageSerialPortConfig records the UART setup the module reports. It is
// applied the next time the module leaves configuration mode.
func (obj *HWHandler) StageSerialPortConfig(baudRate int, parityBit hal.Parity) {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	opts, err := portOptionsFor(baudRate, parityBit).Normalize()
	if err != nil {
		monitoring.Logf("ignoring module serial config: %v", err)
		return
	}
	obj.staged = &opts
}

func (obj *HWHandler) SetMode(mode hal.ChipMode) error {
	levels, ok := modePins[mode]
	if !ok {
		return fmt.Errorf("unknown chip mode %d", mode)
	}
	obj.mu.Lock()
	defer obj.mu.Unlock()

	if err := obj.m0.Out(levels[0]); err != nil {
		return fmt.Errorf("failed to drive M0: %w", err)
	}
	if err := obj.m1.Out(levels[1]); err != nil {
		return fmt.Errorf("failed to drive M1: %w", err)
	}
	if err := obj.waitReady(); err != nil {
		return err
	}

	opts := obj.opts
	if mode == hal.ModeSleep {
		opts = PortOptions{BaudRate: DefaultBaudRate}
	} else if obj.staged != nil {
		opts = *obj.staged
		obj.opts = opts
		obj.staged = nil
	}
	serialMode, err := opts.SerialMode()
	if err != nil {
		return err
	}
	if err := obj.port.SetMode(serialMode); err != nil {
		return fmt.Errorf("failed to apply serial mode: %w", err)
	}
	obj.mode = mode
	return nil
}

func (obj *HWHandler) waitReady() error {
	if obj.aux == nil {
		obj.clock.Sleep(obj.modeSettle)
		return nil
	}
	start := obj.clock.Now()
	for obj.aux.Read() != gpio.High {
		if obj.clock.Since(start) >= defaultAUXTimeout {
			return ErrAUXTimeout
		}
		obj.clock.Sleep(auxPollInterval)
	}
	obj.clock.Sleep(auxPollInterval)
	return nil
}

func (obj *HWHandler) GetMode() (hal.ChipMode, error) {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return obj.mode, nil
}

func (obj *HWHandler) RegisterOnMessageCb(cb hal.OnMessageCb) error {
	if cb == nil {
		return errors.New("message callback must not be nil")
	}
	obj.mu.Lock()
	defer obj.mu.Unlock()
	obj.cb = cb
	return nil
}

// PortOptions returns the UART setup currently in use outside configuration
// mode.
func (obj *HWHandler) PortOptions() PortOptions {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return obj.opts
}

// Run reads frames off the UART and hands them to the registered callback
// until ctx is done. Reading pauses while the module is in configuration
// mode so register replies reach ReadSerial.
func (obj *HWHandler) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		obj.mu.Lock()
		if obj.mode == hal.ModeSleep {
			obj.mu.Unlock()
			if err := obj.clock.SleepContext(ctx, configPausePoll); err != nil {
				return err
			}
			continue
		}
		frame, err := obj.readFrame(0)
		cb := obj.cb
		obj.mu.Unlock()

		if err != nil {
			if cb != nil {
				cb(nil, err)
			}
			return err
		}
		if len(frame) > 0 && cb != nil {
			cb(frame, nil)
		}
	}
}

// readFrame collects bytes until the line has been silent for obj.silence.
// With wait > 0 it keeps polling up to wait for the first byte; otherwise a
// silent line returns an empty frame.
func (obj *HWHandler) readFrame(wait time.Duration) ([]byte, error) {
	if err := obj.port.SetReadTimeout(obj.silence); err != nil {
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	var frame []byte
	buf := make([]byte, MaxFrameSize)
	deadline := obj.clock.Now().Add(wait)
	for len(frame) < MaxFrameSize {
		n, err := obj.port.Read(buf[:MaxFrameSize-len(frame)])
		if err != nil {
			return frame, fmt.Errorf("failed to read serial: %w", err)
		}
		if n == 0 {
			if len(frame) > 0 || !obj.clock.Now().Before(deadline) {
				break
			}
			continue
		}
		frame = append(frame, buf[:n]...)
	}
	return frame, nil
}

func (obj *HWHandler) Close() error {
	return obj.port.Close()
}

var _ hal.HWHandler = (*HWHandler)(nil)
