// Package hal hides the host hardware (serial ports and GPIO lines) behind the
// small interfaces the radio and LED code needs.
package hal

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Port is the part of a serial port the radio handlers use.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	SetMode(mode *serial.Mode) error
}

// PortOpener opens a serial port. Tests swap it for one returning a fake.
type PortOpener func(path string, mode *serial.Mode) (Port, error)

// OpenSerial is the PortOpener backed by go.bug.st/serial.
func OpenSerial(path string, mode *serial.Mode) (Port, error) {
	p, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	return p, nil
}

type OutputPin interface {
	Out(l gpio.Level) error
}

type InputPin interface {
	Read() gpio.Level
}

var (
	initOnce sync.Once
	initErr  error
)

// Init loads the periph host drivers once per process.
func Init() error {
	initOnce.Do(func() {
		_, initErr = host.Init()
	})
	return initErr
}

// OutputPinByName looks up a GPIO line and drives it low.
func OutputPinByName(name string) (gpio.PinIO, error) {
	p, err := pinByName(name)
	if err != nil {
		return nil, err
	}
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("failed to configure %s as output: %w", name, err)
	}
	return p, nil
}

// InputPinByName looks up a GPIO line and configures it as a floating input.
func InputPinByName(name string) (gpio.PinIO, error) {
	p, err := pinByName(name)
	if err != nil {
		return nil, err
	}
	if err := p.In(gpio.Float, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("failed to configure %s as input: %w", name, err)
	}
	return p, nil
}

func pinByName(name string) (gpio.PinIO, error) {
	if err := Init(); err != nil {
		return nil, fmt.Errorf("failed to initialise host drivers: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("no GPIO line named %q", name)
	}
	return p, nil
}
