//go:build tinygo

// Command picoblink is the blink demo for boards with a WS2812 status pixel.
// Build it with tinygo, e.g. tinygo flash -target pico ./cmd/picoblink.
package main

import (
	"context"
	"machine"

	"github.com/mbalug7/tiny-lora/led/ws2812led"
	"github.com/mbalug7/tiny-lora/rgb"
)

func main() {
	pixel := ws2812led.New(machine.GPIO16)
	err := rgb.Blink(context.Background(), pixel, rgb.BlinkOptions{Color: rgb.Pack(0x08, 0x00, 0x00)})
	println("blink stopped:", err.Error())
}
