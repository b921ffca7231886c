package radio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mbalug7/tiny-lora/internal/timeutil"
)

// Loopback is an in-process Driver. Frames reach it through Inject, Replay or
// a peer created by Pair; everything sent is recorded.
type Loopback struct {
	mu         sync.Mutex
	cfg        Config
	configured int
	sent       [][]byte
	sink       func(Frame)
	pending    []Frame
	peer       *Loopback
	closed     bool

	// Echo feeds every sent payload back to this driver's own listener.
	Echo bool
	// ConfigureErr and SendErr are returned by the matching calls when set.
	ConfigureErr error
	SendErr      error
}

func NewLoopback() *Loopback {
	return &Loopback{}
}

// Pair returns two drivers that hear each other's transmissions.
func Pair() (*Loopback, *Loopback) {
	a, b := NewLoopback(), NewLoopback()
	a.peer, b.peer = b, a
	return a, b
}

func (l *Loopback) Configure(cfg Config) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ConfigureErr != nil {
		return l.ConfigureErr
	}
	l.cfg = cfg
	l.configured++
	return nil
}

func (l *Loopback) Send(payload []byte) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.SendErr != nil {
		err := l.SendErr
		l.mu.Unlock()
		return err
	}
	p := append([]byte(nil), payload...)
	l.sent = append(l.sent, p)
	peer, echo, src := l.peer, l.Echo, l.cfg.Address
	l.mu.Unlock()

	f := Frame{Payload: p, RSSI: -42, SNR: 9, Source: src}
	if peer != nil {
		peer.Inject(f)
	}
	if echo {
		l.Inject(f)
	}
	return nil
}

func (l *Loopback) Listen(ctx context.Context, fn func(Frame)) error {
	l.mu.Lock()
	l.sink = fn
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, f := range pending {
		fn(f)
	}
	<-ctx.Done()

	l.mu.Lock()
	l.sink = nil
	l.mu.Unlock()
	return ctx.Err()
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Inject delivers f as if it had been received over the air. Frames injected
// before Listen starts are held until it does.
func (l *Loopback) Inject(f Frame) {
	l.mu.Lock()
	sink := l.sink
	if sink == nil {
		l.pending = append(l.pending, f)
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	sink(f)
}

// Replay injects payloads in order, one every interval, wrapping around until
// ctx is done.
func (l *Loopback) Replay(ctx context.Context, payloads [][]byte, interval time.Duration, clock timeutil.Clock) error {
	if len(payloads) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	for i := 0; ; i = (i + 1) % len(payloads) {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.Inject(Frame{Payload: append([]byte(nil), payloads[i]...), RSSI: -60, SNR: 7})
		if err := clock.SleepContext(ctx, interval); err != nil {
			return err
		}
	}
}

// Sent returns copies of every payload passed to Send.
func (l *Loopback) Sent() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.sent))
	for i, p := range l.sent {
		out[i] = append([]byte(nil), p...)
	}
	return out
}

// Config returns the last applied configuration and how many times Configure
// succeeded.
func (l *Loopback) Config() (Config, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg, l.configured
}

// ParseFixtures reads one payload per line. Lines starting with "hex:" are
// hex decoded, blank lines and lines starting with '#' are skipped.
func ParseFixtures(data []byte) ([][]byte, error) {
	var out [][]byte
	scan := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; scan.Scan(); n++ {
		line := strings.TrimRight(scan.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if h, ok := strings.CutPrefix(line, "hex:"); ok {
			b, err := hex.DecodeString(strings.TrimSpace(h))
			if err != nil {
				return nil, fmt.Errorf("fixture line %d: %w", n, err)
			}
			out = append(out, b)
			continue
		}
		out = append(out, []byte(line))
	}
	return out, scan.Err()
}

// LoadFixtures reads a fixture file, see ParseFixtures.
func LoadFixtures(path string) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixtures file: %w", err)
	}
	return ParseFixtures(data)
}
