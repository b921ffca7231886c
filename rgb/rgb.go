// Package rgb drives a single RGB status LED from a packed 24-bit colour.
package rgb

import "fmt"

// Color is a 24-bit packed RGB value, 0xRRGGBB.
type Color uint32

const (
	Off   Color = 0x000000
	Red   Color = 0x080000
	Green Color = 0x001100
)

// Pack shifts the three channel values into one Color.
func Pack(red, green, blue uint8) Color {
	var c Color
	c |= Color(red)<<16 | Color(green)<<8 | Color(blue)
	return c
}

// Channels splits c back into its red, green and blue values.
func (c Color) Channels() (red, green, blue uint8) {
	return uint8(c >> 16), uint8(c >> 8), uint8(c)
}

func (c Color) String() string {
	return fmt.Sprintf("#%06x", uint32(c)&0xFFFFFF)
}

// LED is anything that can show a packed colour.
type LED interface {
	SetRGB(c Color) error
}

// Heartbeater is implemented by boards whose firmware blinks the LED on its
// own until told otherwise.
type Heartbeater interface {
	Heartbeat(enabled bool) error
}

// Set packs the channels and hands the result to the LED.
func Set(led LED, red, green, blue uint8) error {
	return led.SetRGB(Pack(red, green, blue))
}

// DisableHeartbeat turns off the board heartbeat when the LED supports one.
func DisableHeartbeat(led LED) error {
	if hb, ok := led.(Heartbeater); ok {
		return hb.Heartbeat(false)
	}
	return nil
}
