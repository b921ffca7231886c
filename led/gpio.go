package led

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"

	"github.com/mbalug7/tiny-lora/hal"
	"github.com/mbalug7/tiny-lora/rgb"
)

// GPIO drives a common-cathode RGB LED wired to three output lines. The lines
// cannot dim, so any non-zero channel turns its line on.
type GPIO struct {
	red, green, blue hal.OutputPin
	// ActiveLow inverts the levels for common-anode LEDs.
	ActiveLow bool
}

// NewGPIO wraps three already opened pins.
func NewGPIO(red, green, blue hal.OutputPin) *GPIO {
	return &GPIO{red: red, green: green, blue: blue}
}

// OpenGPIO looks the three pins up by name, e.g. "GPIO17".
func OpenGPIO(redName, greenName, blueName string) (*GPIO, error) {
	var pins [3]hal.OutputPin
	for i, name := range []string{redName, greenName, blueName} {
		p, err := hal.OutputPinByName(name)
		if err != nil {
			return nil, fmt.Errorf("failed to open LED pin: %w", err)
		}
		pins[i] = p
	}
	return NewGPIO(pins[0], pins[1], pins[2]), nil
}

func (g *GPIO) SetRGB(c rgb.Color) error {
	r, gr, b := c.Channels()
	for _, ch := range []struct {
		name string
		pin  hal.OutputPin
		on   bool
	}{
		{"red", g.red, r != 0},
		{"green", g.green, gr != 0},
		{"blue", g.blue, b != 0},
	} {
		level := gpio.Level(ch.on != g.ActiveLow)
		if err := ch.pin.Out(level); err != nil {
			return fmt.Errorf("failed to drive %s line: %w", ch.name, err)
		}
	}
	return nil
}
