// Command lorarx polls a raw LoRa socket once a second, prints what arrived
// and toggles the status LED.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mbalug7/tiny-lora/ebyte"
	"github.com/mbalug7/tiny-lora/internal/config"
	"github.com/mbalug7/tiny-lora/internal/rxlog"
	"github.com/mbalug7/tiny-lora/led"
	"github.com/mbalug7/tiny-lora/listen"
	"github.com/mbalug7/tiny-lora/radio"
)

var (
	devMode    = flag.Bool("dev", false, "Use the loopback radio instead of an E22 module")
	fixtures   = flag.String("fixtures", "testdata/frames.txt", "Payloads replayed in dev mode")
	configFile = flag.String("config", "", "Node config (.json)")
	port       = flag.String("port", "/dev/ttyS0", "E22 serial port (ignored in dev mode)")
	region     = flag.String("region", "", "LoRa region, US915 when unset")
	m0Pin      = flag.String("m0", "GPIO23", "E22 M0 pin")
	m1Pin      = flag.String("m1", "GPIO24", "E22 M1 pin")
	auxPin     = flag.String("aux", "", "E22 AUX pin (optional)")
	dbFile     = flag.String("db", "", "SQLite frame log, disabled when empty")
	ledKind    = flag.String("led", "console", "LED backend: console, gpio or none")
	ledRed     = flag.String("led-red", "GPIO17", "Red LED pin")
	ledGreen   = flag.String("led-green", "GPIO27", "Green LED pin")
	ledBlue    = flag.String("led-blue", "GPIO22", "Blue LED pin")
)

func loadConfig() *config.NodeConfig {
	cfg := &config.NodeConfig{}
	if *configFile != "" {
		var err error
		if cfg, err = config.LoadNodeConfig(*configFile); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	// explicit flags win over the file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "region":
			cfg.Region = region
		case "port":
			cfg.SerialPort = port
		case "m0":
			cfg.M0Pin = m0Pin
		case "m1":
			cfg.M1Pin = m1Pin
		case "aux":
			cfg.AUXPin = auxPin
		case "db":
			cfg.Database = dbFile
		}
	})
	if cfg.SerialPort == nil {
		cfg.SerialPort = port
	}
	if cfg.M0Pin == nil {
		cfg.M0Pin = m0Pin
	}
	if cfg.M1Pin == nil {
		cfg.M1Pin = m1Pin
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	return cfg
}

func openDriver(ctx context.Context, cfg *config.NodeConfig, wg *sync.WaitGroup) (radio.Driver, error) {
	if *devMode {
		lb := radio.NewLoopback()
		payloads, err := radio.LoadFixtures(*fixtures)
		if err != nil {
			log.Printf("no fixtures, loopback stays silent: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := lb.Replay(ctx, payloads, 3*time.Second, nil); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("fixture replay stopped: %v", err)
			}
		}()
		return lb, nil
	}

	hwCfg, _ := cfg.HWConfig()
	log.Printf("creating HW handler on %s", hwCfg.Port)
	hw, err := ebyte.OpenHW(hwCfg, nil)
	if err != nil {
		return nil, err
	}
	log.Printf("creating a new module")
	d, err := ebyte.NewDriver(hw)
	if err != nil {
		hw.Close()
		return nil, err
	}
	return d, nil
}

func main() {
	flag.Parse()
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	radioCfg, err := cfg.RadioConfig()
	if err != nil {
		log.Fatalf("invalid radio config: %v", err)
	}

	statusLED, err := led.Open(*ledKind, led.Pins{Red: *ledRed, Green: *ledGreen, Blue: *ledBlue})
	if err != nil {
		log.Fatalf("could not open LED: %v", err)
	}

	driver, err := openDriver(ctx, cfg, &wg)
	if err != nil {
		log.Fatalf("could not open radio: %v", err)
	}

	sock, err := radio.Open(ctx, driver, radioCfg)
	if err != nil {
		driver.Close()
		log.Fatalf("could not open socket: %v", err)
	}
	defer sock.Close()
	log.Printf("listening on %.3f MHz (%s)", radioCfg.FrequencyMHz, radioCfg.Region)

	opts := listen.Options{
		Socket:   sock,
		LED:      statusLED,
		Interval: cfg.GetPollInterval(),
	}
	if path := cfg.GetDatabase(); path != "" {
		store, err := rxlog.Open(path)
		if err != nil {
			log.Fatalf("could not open frame log: %v", err)
		}
		defer store.Close()
		opts.Store = store
	}

	if err := listen.Run(ctx, opts); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("receive loop failed: %v", err)
	}
	log.Printf("shutting down")
}
