package led

import (
	"fmt"

	"github.com/mbalug7/tiny-lora/rgb"
)

// Pins names the GPIO lines of an RGB LED.
type Pins struct {
	Red, Green, Blue string
	ActiveLow        bool
}

// Open returns the backend called kind: "console", "gpio" or "none".
func Open(kind string, pins Pins) (rgb.LED, error) {
	switch kind {
	case "", "console":
		return &Console{Name: "led"}, nil
	case "gpio":
		g, err := OpenGPIO(pins.Red, pins.Green, pins.Blue)
		if err != nil {
			return nil, err
		}
		g.ActiveLow = pins.ActiveLow
		return g, nil
	case "none":
		return NewRecorder(), nil
	default:
		return nil, fmt.Errorf("unknown LED backend %q", kind)
	}
}
