package p2p

import (
	"fmt"
	"time"

	"github.com/mbalug7/tiny-lora/internal/monitoring"
	"github.com/mbalug7/tiny-lora/internal/timeutil"
	"github.com/mbalug7/tiny-lora/procv"
)

const (
	LinkChangeTimeout   = 3 * time.Second
	LinkChangeRspDelay  = 100 * time.Millisecond
	RecvTimeout         = 200 * time.Millisecond
	errorMovingAvgLimit = 100
)

// Callbacks are optional hooks into link events.
type Callbacks struct {
	TxInd         func(buf []byte, dest uint8, acked bool)
	RxInd         func(msg Message)
	LinkChangeInd func(s Settings)
	// ProCVInd receives sensor records carried by procvDataRsp messages.
	ProCVInd func(src uint8, r procv.Record)
}

// Link is one end of a point-to-point link. It is not safe for concurrent
// use; drive it from one loop calling ServiceRx and ServiceTx.
type Link struct {
	t     Transport
	cb    Callbacks
	clock timeutil.Clock

	current  Settings
	previous Settings

	tx []byte

	errFraction float64
	packetCount int
	ackSNR      int

	linkTimerRunning bool
	linkDeadline     time.Time
}

type LinkOption func(*Link)

func WithLinkClock(c timeutil.Clock) LinkOption {
	return func(l *Link) { l.clock = c }
}

// NewLink starts from DefaultSettings without touching the transport; call
// Setup to push them to the radio.
func NewLink(t Transport, cb Callbacks, opts ...LinkOption) *Link {
	l := &Link{
		t:        t,
		cb:       cb,
		clock:    timeutil.RealClock{},
		current:  DefaultSettings(),
		previous: DefaultSettings(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Setup applies the default settings one by one.
func (l *Link) Setup() error {
	return l.SetSettings(DefaultSettings())
}

func (l *Link) Settings() Settings { return l.current }

// PacketErrorFraction is the share of recent data messages that were not
// acknowledged, from 0 to 1.
func (l *Link) PacketErrorFraction() float64 { return l.errFraction }

// LastAckSNR is the SNR of the last acknowledgement received, in dB.
func (l *Link) LastAckSNR() int { return l.ackSNR }

// LinkChangePending reports whether a link change is waiting for its
// response.
func (l *Link) LinkChangePending() bool { return l.linkTimerRunning }

func (l *Link) apply(next Settings) error {
	if err := l.t.ApplySettings(next); err != nil {
		return fmt.Errorf("failed to apply %s: %w", next, err)
	}
	l.resetPacketErrorFraction()
	return nil
}

func (l *Link) notify() {
	if l.cb.LinkChangeInd != nil {
		l.cb.LinkChangeInd(l.current)
	}
}

func (l *Link) SetSpreadingFactor(sf SpreadingFactor) error {
	if !sf.Valid() {
		return fmt.Errorf("%w: spreading factor %d", ErrInvalidSetting, sf)
	}
	next := l.current
	next.SpreadingFactor = sf
	if err := l.apply(next); err != nil {
		return err
	}
	l.previous.SpreadingFactor = l.current.SpreadingFactor
	l.current = next
	l.notify()
	monitoring.Logf("Set SF to: %d", sf.Value())
	return nil
}

func (l *Link) SetBandwidth(bw Bandwidth) error {
	if !bw.Valid() {
		return fmt.Errorf("%w: signal bandwidth %d", ErrInvalidSetting, bw)
	}
	next := l.current
	next.Bandwidth = bw
	if err := l.apply(next); err != nil {
		return err
	}
	l.previous.Bandwidth = l.current.Bandwidth
	l.current = next
	l.notify()
	monitoring.Logf("Set BW to: %d", bw.Hz())
	return nil
}

func (l *Link) SetChannel(ch Channel) error {
	if !ch.Valid() {
		return fmt.Errorf("%w: frequency channel %d", ErrInvalidSetting, ch)
	}
	next := l.current
	next.Channel = ch
	if err := l.apply(next); err != nil {
		return err
	}
	l.previous.Channel = l.current.Channel
	l.current = next
	l.notify()
	monitoring.Logf("Set Freq to: %.1f", ch.MHz())
	return nil
}

func (l *Link) SetTxPower(dBm int8) error {
	if !validTxPower(dBm) {
		return fmt.Errorf("%w: tx power %d dBm", ErrInvalidSetting, dBm)
	}
	next := l.current
	next.TxPowerDBm = dBm
	if err := l.apply(next); err != nil {
		return err
	}
	l.previous.TxPowerDBm = l.current.TxPowerDBm
	l.current = next
	l.notify()
	monitoring.Logf("Set TX power to: %d", dBm)
	return nil
}

// SetSettings applies each field in turn. A rejected field is logged and the
// rest still applied; the first error is returned.
func (l *Link) SetSettings(s Settings) error {
	var first error
	for _, set := range []func() error{
		func() error { return l.SetSpreadingFactor(s.SpreadingFactor) },
		func() error { return l.SetBandwidth(s.Bandwidth) },
		func() error { return l.SetTxPower(s.TxPowerDBm) },
		func() error { return l.SetChannel(s.Channel) },
	} {
		if err := set(); err != nil {
			monitoring.Logf("%v", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (l *Link) revert() error {
	return l.SetSettings(l.previous)
}

func (l *Link) resetPacketErrorFraction() {
	l.errFraction = 0
	l.packetCount = 0
}

func (l *Link) updatePacketErrorFraction(acked bool) {
	l.packetCount++
	var failed float64
	if !acked {
		failed = 1
	}
	l.errFraction += (failed - l.errFraction) / float64(min(l.packetCount, errorMovingAvgLimit))
}

// SetTxMessage queues b as a dataReq for the next ServiceTx and returns how
// many bytes fit.
func (l *Link) SetTxMessage(b []byte) int {
	n := min(len(b), MaxMessageLen-1)
	l.tx = append([]byte{byte(MsgDataReq)}, b[:n]...)
	return n
}

// SetProCVMessage queues a packed sensor record as a procvDataRsp.
func (l *Link) SetProCVMessage(r procv.Record) error {
	packed, err := r.Pack()
	if err != nil {
		return err
	}
	l.tx = append([]byte{byte(MsgProCVDataRsp)}, packed...)
	return nil
}

// TxMessage returns the queued buffer, type byte included.
func (l *Link) TxMessage() []byte {
	return append([]byte(nil), l.tx...)
}

// ServiceTx sends the queued message to dest and clears it.
func (l *Link) ServiceTx(dest uint8) error {
	if len(l.tx) == 0 {
		monitoring.Logf("Nothing to transmit: TX buffer empty.")
		return nil
	}
	buf := l.tx
	monitoring.Logf("Attempting to transmit: %q", buf[1:])
	acked, err := l.t.SendToWait(buf, dest)
	if err != nil {
		acked = false
	}
	if acked {
		l.ackSNR = l.t.LastSNR()
		monitoring.Logf("Acknowledged! ACK SNR: %d", l.ackSNR)
	} else {
		monitoring.Logf("Not acknowledged.")
	}
	l.updatePacketErrorFraction(acked)
	if l.cb.TxInd != nil {
		l.cb.TxInd(buf, dest, acked)
	}
	l.tx = nil
	return err
}

// LinkChangeReq asks dest to move to s. Once dest acknowledges, this end
// moves too and waits LinkChangeTimeout for dest's response before
// reverting.
func (l *Link) LinkChangeReq(dest uint8, s Settings) (bool, error) {
	if err := s.Validate(); err != nil {
		return false, err
	}
	monitoring.Logf("Attempting to change link to: %s", s)
	acked, err := l.t.SendToWait(s.encode(MsgLinkChangeReq), dest)
	if err != nil {
		return false, err
	}
	if !acked {
		monitoring.Logf("Link change request not acknowledged.")
		return false, nil
	}
	monitoring.Logf("Link change request acknowledged!")
	if err := l.SetSettings(s); err != nil {
		return true, err
	}
	l.linkTimerRunning = true
	l.linkDeadline = l.clock.Now().Add(LinkChangeTimeout)
	return true, nil
}

// ServiceTimers reverts a link change whose response never came.
func (l *Link) ServiceTimers() error {
	if !l.linkTimerRunning || !l.clock.Now().After(l.linkDeadline) {
		return nil
	}
	l.linkTimerRunning = false
	monitoring.Logf("Link change request timed out.")
	return l.revert()
}

// ServiceRx services timers, then waits RecvTimeout for one message and
// handles it.
func (l *Link) ServiceRx() error {
	if err := l.ServiceTimers(); err != nil {
		return err
	}
	msg, ok, err := l.t.RecvFromAckTimeout(RecvTimeout)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if l.cb.RxInd != nil {
		l.cb.RxInd(msg)
	}
	monitoring.Logf("RX %s from %d, SNR: %d", msg.Type(), msg.Src, l.t.LastSNR())

	switch msg.Type() {
	case MsgDataReq:
		monitoring.Logf("Received: %q", msg.Body())
	case MsgLinkChangeReq:
		return l.serviceLinkChangeReq(msg)
	case MsgLinkChangeRsp:
		monitoring.Logf("Link change response received. Transmission OK on new settings!")
		l.linkTimerRunning = false
	case MsgProCVDataRsp:
		r, err := procv.Unpack(msg.Body())
		if err != nil {
			monitoring.Logf("bad procv record from %d: %v", msg.Src, err)
			return nil
		}
		if l.cb.ProCVInd != nil {
			l.cb.ProCVInd(msg.Src, r)
		}
	}
	return nil
}

func (l *Link) serviceLinkChangeReq(msg Message) error {
	s, err := decodeSettings(msg.Buf)
	if err != nil {
		monitoring.Logf("ignoring link change request: %v", err)
		return nil
	}
	monitoring.Logf("Link change request received. Attempting to change link to: %s", s)
	l.SetSettings(s)

	l.clock.Sleep(LinkChangeRspDelay)
	acked, err := l.t.SendToWait(l.current.encode(MsgLinkChangeRsp), msg.Src)
	if err == nil && acked {
		monitoring.Logf("Link change response acknowledged!")
		return nil
	}
	monitoring.Logf("Link change response not acknowledged.")
	if rerr := l.revert(); err == nil {
		err = rerr
	}
	return err
}
