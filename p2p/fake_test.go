package p2p

import (
	"time"

	"github.com/mbalug7/tiny-lora/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

type sentMsg struct {
	buf  []byte
	dest uint8
}

// fakeTransport acks according to acks (true once it runs out) and serves
// queued messages from rx.
type fakeTransport struct {
	acks     []bool
	sendErr  error
	sent     []sentMsg
	rx       []Message
	applied  []Settings
	applyErr error
	snr      int
}

func (f *fakeTransport) SendToWait(buf []byte, dest uint8) (bool, error) {
	f.sent = append(f.sent, sentMsg{append([]byte(nil), buf...), dest})
	if f.sendErr != nil {
		return false, f.sendErr
	}
	if len(f.acks) == 0 {
		return true, nil
	}
	ack := f.acks[0]
	f.acks = f.acks[1:]
	return ack, nil
}

func (f *fakeTransport) RecvFromAckTimeout(time.Duration) (Message, bool, error) {
	if len(f.rx) == 0 {
		return Message{}, false, nil
	}
	m := f.rx[0]
	f.rx = f.rx[1:]
	return m, true, nil
}

func (f *fakeTransport) LastSNR() int { return f.snr }

func (f *fakeTransport) ApplySettings(s Settings) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, s)
	return nil
}
