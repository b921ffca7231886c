package p2p

import (
	"errors"
	"fmt"
	"time"

	"github.com/mbalug7/tiny-lora/internal/monitoring"
	"github.com/mbalug7/tiny-lora/internal/timeutil"
	"github.com/mbalug7/tiny-lora/radio"
)

// Transport delivers acknowledged datagrams between 8 bit addresses.
type Transport interface {
	// SendToWait sends buf and reports whether dest acknowledged it.
	SendToWait(buf []byte, dest uint8) (bool, error)
	// RecvFromAckTimeout waits up to timeout for a message addressed to this
	// node, acknowledging it. ok is false when nothing arrived.
	RecvFromAckTimeout(timeout time.Duration) (msg Message, ok bool, err error)
	// LastSNR is the SNR of the last frame received, in dB.
	LastSNR() int
	ApplySettings(s Settings) error
}

const (
	HeaderLen        = 4
	FlagAck          = 0x80
	FlagRetry        = 0x40
	BroadcastAddress = 0xFF

	DefaultRetries    = 3
	DefaultAckTimeout = 200 * time.Millisecond
)

// SocketTransport implements Transport on a raw radio socket. Every frame
// starts with dest, src, id and flags. Acks carry FlagAck and echo the id.
// Broadcasts are sent once and never acknowledged.
type SocketTransport struct {
	sock  *radio.Socket
	addr  uint8
	clock timeutil.Clock

	Retries    int
	AckTimeout time.Duration

	seq     uint8
	lastSNR int
	seen    map[uint8]uint8
}

func NewSocketTransport(sock *radio.Socket, addr uint8) *SocketTransport {
	return &SocketTransport{
		sock:       sock,
		addr:       addr,
		clock:      timeutil.RealClock{},
		Retries:    DefaultRetries,
		AckTimeout: DefaultAckTimeout,
		seen:       make(map[uint8]uint8),
	}
}

// Address is this node's address.
func (obj *SocketTransport) Address() uint8 {
	return obj.addr
}

func encodeFrame(dest, src, id, flags uint8, buf []byte) []byte {
	out := make([]byte, 0, HeaderLen+len(buf))
	out = append(out, dest, src, id, flags)
	return append(out, buf...)
}

func decodeFrame(p []byte) (Message, bool) {
	if len(p) < HeaderLen {
		return Message{}, false
	}
	return Message{
		Dest:  p[0],
		Src:   p[1],
		ID:    p[2],
		Flags: p[3],
		Buf:   append([]byte(nil), p[HeaderLen:]...),
	}, true
}

func (obj *SocketTransport) SendToWait(buf []byte, dest uint8) (bool, error) {
	if len(buf) > MaxMessageLen {
		return false, fmt.Errorf("message of %d bytes exceeds %d", len(buf), MaxMessageLen)
	}
	obj.seq++
	id := obj.seq
	for attempt := 0; attempt <= obj.Retries; attempt++ {
		var flags uint8
		if attempt > 0 {
			flags |= FlagRetry
		}
		if err := obj.sock.Send(encodeFrame(dest, obj.addr, id, flags, buf)); err != nil {
			return false, err
		}
		if dest == BroadcastAddress {
			return true, nil
		}
		acked, err := obj.waitAck(dest, id)
		if err != nil {
			return false, err
		}
		if acked {
			return true, nil
		}
	}
	return false, nil
}

// waitAck drops anything that is not the expected ack.
func (obj *SocketTransport) waitAck(from, id uint8) (bool, error) {
	deadline := obj.clock.Now().Add(obj.AckTimeout)
	for {
		remaining := deadline.Sub(obj.clock.Now())
		if remaining <= 0 {
			return false, nil
		}
		f, err := obj.recv(remaining)
		if errors.Is(err, radio.ErrTimeout) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		m, ok := decodeFrame(f.Payload)
		if !ok || m.Dest != obj.addr {
			continue
		}
		if m.Flags&FlagAck != 0 && m.Src == from && m.ID == id {
			obj.lastSNR = f.SNR
			return true, nil
		}
		monitoring.Logf("dropping message %d from %d while waiting for ack", m.ID, m.Src)
	}
}

func (obj *SocketTransport) recv(timeout time.Duration) (radio.Frame, error) {
	obj.sock.SetBlocking(true)
	obj.sock.SetTimeout(timeout)
	return obj.sock.RecvFrame()
}

func (obj *SocketTransport) RecvFromAckTimeout(timeout time.Duration) (Message, bool, error) {
	deadline := obj.clock.Now().Add(timeout)
	for {
		remaining := deadline.Sub(obj.clock.Now())
		if remaining <= 0 {
			return Message{}, false, nil
		}
		f, err := obj.recv(remaining)
		if errors.Is(err, radio.ErrTimeout) {
			return Message{}, false, nil
		}
		if err != nil {
			return Message{}, false, err
		}
		m, ok := decodeFrame(f.Payload)
		if !ok || m.Flags&FlagAck != 0 {
			continue
		}
		if m.Dest != obj.addr && m.Dest != BroadcastAddress {
			continue
		}
		obj.lastSNR = f.SNR

		if m.Dest == obj.addr {
			ack := encodeFrame(m.Src, obj.addr, m.ID, FlagAck, []byte{'!'})
			if err := obj.sock.Send(ack); err != nil {
				return Message{}, false, fmt.Errorf("failed to ack message %d: %w", m.ID, err)
			}
		}
		if last, ok := obj.seen[m.Src]; ok && last == m.ID && m.Flags&FlagRetry != 0 {
			continue
		}
		obj.seen[m.Src] = m.ID
		return m, true, nil
	}
}

func (obj *SocketTransport) LastSNR() int {
	return obj.lastSNR
}

func (obj *SocketTransport) ApplySettings(s Settings) error {
	return obj.sock.Reconfigure(s.RadioConfig(obj.sock.Config()))
}

var _ Transport = (*SocketTransport)(nil)
