//go:build tinygo

package ws2812led

import (
	"image/color"
	"machine"
	"runtime/interrupt"

	"tinygo.org/x/drivers/ws2812"

	"github.com/mbalug7/tiny-lora/rgb"
)

type LED struct {
	dev ws2812.Device
	buf [1]color.RGBA
}

// New configures pin as an output and returns the pixel on it.
func New(pin machine.Pin) *LED {
	pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	return &LED{dev: ws2812.New(pin)}
}

func (l *LED) SetRGB(c rgb.Color) error {
	r, g, b := c.Channels()
	l.buf[0] = color.RGBA{R: r, G: g, B: b, A: 0xFF}
	state := interrupt.Disable()
	err := l.dev.WriteColors(l.buf[:])
	interrupt.Restore(state)
	return err
}
