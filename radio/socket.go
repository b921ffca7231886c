package radio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mbalug7/tiny-lora/internal/monitoring"
	"github.com/mbalug7/tiny-lora/internal/timeutil"
)

// Frame is one datagram as delivered by the transceiver.
type Frame struct {
	Payload    []byte
	RSSI       int
	SNR        int
	Source     uint16
	ReceivedAt time.Time
}

// Driver is a LoRa transceiver.
type Driver interface {
	// Configure applies a normalized Config.
	Configure(cfg Config) error
	// Send transmits one datagram to cfg.Destination.
	Send(payload []byte) error
	// Listen delivers received frames to fn until ctx is done or the
	// transceiver fails.
	Listen(ctx context.Context, fn func(Frame)) error
	Close() error
}

// MaxQueuedFrames bounds the receive queue. When it is full the oldest frame
// is dropped.
const MaxQueuedFrames = 16

var (
	ErrTimeout    = errors.New("radio: receive timed out")
	ErrWouldBlock = errors.New("radio: no frame queued")
	ErrClosed     = errors.New("radio: socket closed")
)

// Socket is a raw radio socket. It is safe for one reader and any number of
// writers.
type Socket struct {
	driver Driver
	clock  timeutil.Clock
	frames chan Frame
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	cfg       Config
	blocking  bool
	timeout   time.Duration
	dropped   int
	closed    bool
	listenErr error
}

// Option customises Open.
type Option func(*Socket)

// WithClock replaces the clock used for receive timeouts.
func WithClock(c timeutil.Clock) Option {
	return func(s *Socket) { s.clock = c }
}

// Open configures the driver and starts listening. The socket is blocking
// with no timeout until told otherwise.
func Open(ctx context.Context, d Driver, cfg Config, opts ...Option) (*Socket, error) {
	norm, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}
	if err := d.Configure(norm); err != nil {
		return nil, fmt.Errorf("failed to configure radio: %w", err)
	}

	lctx, cancel := context.WithCancel(ctx)
	s := &Socket{
		driver:   d,
		clock:    timeutil.RealClock{},
		frames:   make(chan Frame, MaxQueuedFrames),
		cancel:   cancel,
		done:     make(chan struct{}),
		cfg:      norm,
		blocking: true,
	}
	for _, o := range opts {
		o(s)
	}

	go func() {
		defer close(s.done)
		err := d.Listen(lctx, s.deliver)
		if err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("radio listener stopped: %v", err)
		}
		s.mu.Lock()
		s.listenErr = err
		s.mu.Unlock()
	}()
	return s, nil
}

func (s *Socket) deliver(f Frame) {
	if f.ReceivedAt.IsZero() {
		f.ReceivedAt = s.clock.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.frames <- f:
		return
	default:
	}
	select {
	case <-s.frames:
		s.dropped++
	default:
	}
	select {
	case s.frames <- f:
	default:
		s.dropped++
	}
}

// SetBlocking switches between waiting for a frame and returning at once.
func (s *Socket) SetBlocking(blocking bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocking = blocking
}

// SetTimeout bounds blocking receives. Zero waits forever.
func (s *Socket) SetTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
}

// Recv returns up to n bytes of the next frame. A non-blocking socket with
// nothing queued returns an empty slice and no error. n <= 0 returns the
// whole frame.
func (s *Socket) Recv(n int) ([]byte, error) {
	f, err := s.RecvFrame()
	if errors.Is(err, ErrWouldBlock) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, err
	}
	p := f.Payload
	if n > 0 && len(p) > n {
		p = p[:n]
	}
	out := make([]byte, len(p))
	copy(out, p)
	return out, nil
}

// RecvFrame returns the next frame with its metadata. A non-blocking socket
// with nothing queued returns ErrWouldBlock.
func (s *Socket) RecvFrame() (Frame, error) {
	s.mu.Lock()
	blocking, timeout, closed := s.blocking, s.timeout, s.closed
	s.mu.Unlock()
	if closed {
		return Frame{}, ErrClosed
	}

	select {
	case f := <-s.frames:
		return f, nil
	default:
	}
	if !blocking {
		select {
		case <-s.done:
			return Frame{}, s.stoppedErr()
		default:
		}
		return Frame{}, ErrWouldBlock
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := s.clock.NewTimer(timeout)
		defer t.Stop()
		expired = t.C()
	}
	select {
	case f := <-s.frames:
		return f, nil
	case <-expired:
		return Frame{}, ErrTimeout
	case <-s.done:
		return Frame{}, s.stoppedErr()
	}
}

func (s *Socket) stoppedErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listenErr != nil && !errors.Is(s.listenErr, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrClosed, s.listenErr)
	}
	return ErrClosed
}

// Send transmits payload to the configured destination.
func (s *Socket) Send(payload []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	p := make([]byte, len(payload))
	copy(p, payload)
	if err := s.driver.Send(p); err != nil {
		return fmt.Errorf("failed to send %d bytes: %w", len(p), err)
	}
	return nil
}

// Reconfigure applies a new radio setup without reopening the socket.
func (s *Socket) Reconfigure(cfg Config) error {
	norm, err := cfg.Normalize()
	if err != nil {
		return err
	}
	if err := s.driver.Configure(norm); err != nil {
		return fmt.Errorf("failed to reconfigure radio: %w", err)
	}
	s.mu.Lock()
	s.cfg = norm
	s.mu.Unlock()
	return nil
}

// Config returns the setup currently applied.
func (s *Socket) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Dropped counts frames discarded because the queue was full.
func (s *Socket) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Queued reports how many frames are waiting to be read.
func (s *Socket) Queued() int {
	return len(s.frames)
}

// Close stops the listener and closes the driver.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	<-s.done
	return s.driver.Close()
}
