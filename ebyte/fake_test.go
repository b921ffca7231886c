package ebyte

import (
	"sync"
	"time"

	"go.bug.st/serial"
	"periph.io/x/conn/v3/gpio"

	"github.com/mbalug7/tiny-lora/internal/monitoring"
	"github.com/mbalug7/tiny-lora/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

// fakePort is an in-memory UART. Reads with nothing queued behave like a read
// timeout: they return 0 bytes and advance clock, when set, by the timeout.
type fakePort struct {
	clock    *timeutil.MockClock
	mu       sync.Mutex
	rx       [][]byte
	writes   [][]byte
	modes    []serial.Mode
	timeouts []time.Duration
	closed   bool
	readErr  error
	onWrite  func(p *fakePort, b []byte)
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.readErr != nil {
		p.mu.Unlock()
		return 0, p.readErr
	}
	if len(p.rx) == 0 {
		clock, timeout := p.clock, time.Millisecond
		if len(p.timeouts) > 0 {
			timeout = p.timeouts[len(p.timeouts)-1]
		}
		p.mu.Unlock()
		if clock != nil {
			clock.Advance(timeout)
		}
		return 0, nil
	}
	defer p.mu.Unlock()
	n := copy(b, p.rx[0])
	if n < len(p.rx[0]) {
		p.rx[0] = p.rx[0][n:]
	} else {
		p.rx = p.rx[1:]
	}
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.writes = append(p.writes, append([]byte(nil), b...))
	hook := p.onWrite
	p.mu.Unlock()
	if hook != nil {
		hook(p, b)
	}
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeouts = append(p.timeouts, t)
	return nil
}

func (p *fakePort) SetMode(m *serial.Mode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.modes = append(p.modes, *m)
	return nil
}

func (p *fakePort) queue(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rx = append(p.rx, append([]byte(nil), b...))
}

func (p *fakePort) pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rx)
}

func (p *fakePort) lastMode() serial.Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.modes[len(p.modes)-1]
}

func (p *fakePort) allWrites() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.writes...)
}

type fakePin struct {
	mu    sync.Mutex
	level gpio.Level
	err   error
}

func (p *fakePin) Out(l gpio.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.level = l
	return nil
}

func (p *fakePin) get() gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

type fakeAUX gpio.Level

func (a fakeAUX) Read() gpio.Level { return gpio.Level(a) }

// registerChip answers register commands like an E22 does: C1 reads reply
// with the requested registers, C0/C2 writes store them and echo them back.
func registerChip(regs []byte) func(p *fakePort, b []byte) {
	return func(p *fakePort, b []byte) {
		if len(b) < 3 {
			return
		}
		start, n := int(b[1]), int(b[2])
		switch b[0] {
		case 0xC1:
			reply := append([]byte{0xC1, b[1], b[2]}, regs[start:start+n]...)
			p.queue(reply)
		case 0xC0, 0xC2:
			copy(regs[start:], b[3:])
			p.queue(append([]byte{0xC1, b[1], b[2]}, b[3:]...))
		}
	}
}
