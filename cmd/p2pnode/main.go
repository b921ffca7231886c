// Command p2pnode runs one end of the point-to-point link. Lines typed on
// stdin are sent as data requests; "!S<d>", "!B<d>", "!C<dd>" and "!P<dd>"
// change the local radio settings.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/mbalug7/tiny-lora/ebyte"
	"github.com/mbalug7/tiny-lora/internal/config"
	"github.com/mbalug7/tiny-lora/p2p"
	"github.com/mbalug7/tiny-lora/procv"
	"github.com/mbalug7/tiny-lora/radio"
)

var (
	devMode    = flag.Bool("dev", false, "Talk to an in-process peer over the loopback radio")
	configFile = flag.String("config", "", "Node config (.json); its serial settings select the E22 module")
	addr       = flag.Uint("addr", 1, "Local link address")
	dest       = flag.Uint("dest", 2, "Peer link address")
	procvFile  = flag.String("procv", "", "Pro CV log whose records are sent to the peer at startup")
	ascii      = flag.Bool("ascii", true, "Print received buffers as text instead of hex")

	changeSF  = flag.Int("sf", -1, "Request a link change to this spreading factor index")
	changeBW  = flag.Int("bw", -1, "Request a link change to this bandwidth index")
	changeCh  = flag.Int("ch", -1, "Request a link change to this channel index")
	changePwr = flag.Int("pwr", -1, "Request a link change to this tx power (dBm)")
)

func callbacks(name string) p2p.Callbacks {
	return p2p.Callbacks{
		TxInd: func(buf []byte, to uint8, acked bool) {
			log.Printf("[%s] TX to %d acked=%t: %s", name, to, acked, p2p.FormatBuffer(buf, *ascii))
		},
		RxInd: func(msg p2p.Message) {
			log.Printf("[%s] RX %s from %d: %s", name, msg.Type(), msg.Src, p2p.FormatBuffer(msg.Body(), *ascii))
		},
		LinkChangeInd: func(s p2p.Settings) {
			log.Printf("[%s] link settings now %s", name, s)
		},
		ProCVInd: func(src uint8, r procv.Record) {
			log.Printf("[%s] procv from %d: %s", name, src, r)
		},
	}
}

func checkAddr(name string, v uint) uint8 {
	if v > 0xFE {
		log.Fatalf("%s must be between 0 and 254, got %d", name, v)
	}
	return uint8(v)
}

// requestedChange overlays the -sf/-bw/-ch/-pwr flags on cur.
func requestedChange(cur p2p.Settings) (p2p.Settings, bool) {
	next, changed := cur, false
	if *changeSF >= 0 {
		next.SpreadingFactor, changed = p2p.SpreadingFactor(*changeSF), true
	}
	if *changeBW >= 0 {
		next.Bandwidth, changed = p2p.Bandwidth(*changeBW), true
	}
	if *changeCh >= 0 {
		next.Channel, changed = p2p.Channel(*changeCh), true
	}
	if *changePwr >= 0 {
		next.TxPowerDBm, changed = int8(*changePwr), true
	}
	return next, changed
}

// runLink services l until ctx is done.
func runLink(ctx context.Context, name string, l *p2p.Link, input <-chan []byte, console *p2p.Console, to uint8) {
	for ctx.Err() == nil {
		select {
		case line := <-input:
			if console.Write(line) {
				log.Printf("[%s] ready to send", name)
				if err := l.ServiceTx(to); err != nil {
					log.Printf("[%s] send failed: %v", name, err)
				}
			}
		default:
		}
		if err := l.ServiceRx(); err != nil {
			if errors.Is(err, radio.ErrClosed) {
				return
			}
			log.Printf("[%s] receive failed: %v", name, err)
		}
	}
}

func openRadio(ctx context.Context, wg *sync.WaitGroup, local, peer uint8) (radio.Driver, radio.Config) {
	cfg := &config.NodeConfig{}
	if *configFile != "" {
		var err error
		if cfg, err = config.LoadNodeConfig(*configFile); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	radioCfg, err := cfg.RadioConfig()
	if err != nil {
		log.Fatalf("invalid radio config: %v", err)
	}
	radioCfg = p2p.DefaultSettings().RadioConfig(radioCfg)

	if *devMode {
		a, b := radio.Pair()
		peerSock, err := radio.Open(ctx, b, radioCfg)
		if err != nil {
			log.Fatalf("could not open peer socket: %v", err)
		}
		peerLink := p2p.NewLink(p2p.NewSocketTransport(peerSock, peer), callbacks("peer"))
		if err := peerLink.Setup(); err != nil {
			log.Fatalf("peer setup failed: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer peerSock.Close()
			runLink(ctx, "peer", peerLink, nil, p2p.NewConsole(peerLink), local)
		}()
		return a, radioCfg
	}

	hwCfg, ok := cfg.HWConfig()
	if !ok {
		log.Fatalf("no serial_port in config; use -dev or -config")
	}
	hw, err := ebyte.OpenHW(hwCfg, nil)
	if err != nil {
		log.Fatalf("could not configure HWHandler: %v", err)
	}
	d, err := ebyte.NewDriver(hw)
	if err != nil {
		hw.Close()
		log.Fatalf("could not configure Module: %v", err)
	}
	return d, radioCfg
}

func sendProCV(l *p2p.Link, path string, to uint8) {
	f, err := os.Open(path)
	if err != nil {
		log.Printf("could not open procv log: %v", err)
		return
	}
	defer f.Close()
	scan := bufio.NewScanner(f)
	for scan.Scan() {
		r, err := procv.ParseRecord(scan.Text())
		if err != nil {
			continue
		}
		if err := l.SetProCVMessage(r); err != nil {
			log.Printf("skipping record %s: %v", r, err)
			continue
		}
		if err := l.ServiceTx(to); err != nil {
			log.Printf("procv send failed: %v", err)
		}
	}
}

func main() {
	flag.Parse()
	local := checkAddr("addr", *addr)
	peer := checkAddr("dest", *dest)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	driver, radioCfg := openRadio(ctx, &wg, local, peer)
	sock, err := radio.Open(ctx, driver, radioCfg)
	if err != nil {
		driver.Close()
		log.Fatalf("could not open socket: %v", err)
	}
	defer sock.Close()

	link := p2p.NewLink(p2p.NewSocketTransport(sock, local), callbacks("node"))
	if err := link.Setup(); err != nil {
		log.Fatalf("link setup failed: %v", err)
	}
	log.Printf("node %d talking to %d on %s", local, peer, link.Settings())

	if next, ok := requestedChange(link.Settings()); ok {
		acked, err := link.LinkChangeReq(peer, next)
		if err != nil {
			log.Printf("link change request failed: %v", err)
		} else {
			log.Printf("link change request acked=%t", acked)
		}
	}
	if *procvFile != "" {
		sendProCV(link, *procvFile, peer)
	}

	input := make(chan []byte)
	go func() {
		r := bufio.NewReader(os.Stdin)
		for {
			line, err := r.ReadBytes('\n')
			if len(line) > 0 {
				select {
				case input <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	runLink(ctx, "node", link, input, p2p.NewConsole(link), peer)
	log.Printf("shutting down")
}
