// Command blink holds the status LED at a dim red, rewriting it every 10 ms.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbalug7/tiny-lora/led"
	"github.com/mbalug7/tiny-lora/rgb"
)

var (
	ledKind   = flag.String("led", "console", "LED backend: console, gpio or none")
	ledRed    = flag.String("led-red", "GPIO17", "Red LED pin")
	ledGreen  = flag.String("led-green", "GPIO27", "Green LED pin")
	ledBlue   = flag.String("led-blue", "GPIO22", "Blue LED pin")
	activeLow = flag.Bool("active-low", false, "Common-anode LED")
	cycle     = flag.Bool("cycle", false, "Walk the colour wheel instead of holding red")
	cycleMax  = flag.Uint("cycle-max", uint(rgb.DefaultCycleMax), "Channel ceiling for -cycle")
	interval  = flag.Duration("interval", rgb.DefaultBlinkInterval, "Pause between LED writes")
)

func turnOff(l rgb.LED) error {
	return rgb.Set(l, 0, 0, 0)
}

func main() {
	flag.Parse()

	l, err := led.Open(*ledKind, led.Pins{Red: *ledRed, Green: *ledGreen, Blue: *ledBlue, ActiveLow: *activeLow})
	if err != nil {
		log.Fatalf("could not open LED: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := rgb.BlinkOptions{
		Color:    rgb.Pack(0x08, 0x00, 0x00),
		Interval: *interval,
	}
	if *cycle {
		if *cycleMax > 0xFF {
			log.Fatalf("cycle-max must fit in a byte, got %d", *cycleMax)
		}
		opts.Cycle = rgb.NewCycle(uint8(*cycleMax))
	}

	start := time.Now()
	if err := rgb.Blink(ctx, l, opts); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("blink failed: %v", err)
	}
	log.Printf("stopped after %s", time.Since(start).Round(time.Millisecond))
	if err := turnOff(l); err != nil {
		log.Printf("failed to turn LED off: %v", err)
	}
}
