package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbalug7/tiny-lora/radio"
)

func openNode(t *testing.T, d *radio.Loopback, addr uint8) *SocketTransport {
	t.Helper()
	sock, err := radio.Open(context.Background(), d, DefaultSettings().RadioConfig(radio.DefaultConfig(radio.US915)))
	require.NoError(t, err)
	t.Cleanup(func() { sock.Close() })
	tr := NewSocketTransport(sock, addr)
	tr.AckTimeout = 50 * time.Millisecond
	return tr
}

func TestSocketTransportSendAck(t *testing.T) {
	da, db := radio.Pair()
	a, b := openNode(t, da, 1), openNode(t, db, 2)

	got := make(chan Message, 1)
	go func() {
		m, ok, err := b.RecvFromAckTimeout(time.Second)
		if err == nil && ok {
			got <- m
		}
		close(got)
	}()

	acked, err := a.SendToWait([]byte{byte(MsgDataReq), 'h', 'i'}, 2)
	require.NoError(t, err)
	assert.True(t, acked)
	assert.Equal(t, 9, a.LastSNR())

	m, ok := <-got
	require.True(t, ok)
	assert.Equal(t, uint8(1), m.Src)
	assert.Equal(t, uint8(2), m.Dest)
	assert.Equal(t, uint8(1), m.ID)
	assert.Equal(t, []byte{byte(MsgDataReq), 'h', 'i'}, m.Buf)

	sent := db.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []byte{1, 2, 1, FlagAck, '!'}, sent[0])
}

func TestSocketTransportRetriesThenGivesUp(t *testing.T) {
	d := radio.NewLoopback()
	a := openNode(t, d, 1)
	a.AckTimeout = 5 * time.Millisecond

	acked, err := a.SendToWait([]byte{1}, 2)
	require.NoError(t, err)
	assert.False(t, acked)

	sent := d.Sent()
	require.Len(t, sent, DefaultRetries+1)
	assert.Equal(t, uint8(0), sent[0][3])
	for _, p := range sent[1:] {
		assert.Equal(t, uint8(FlagRetry), p[3])
		assert.Equal(t, sent[0][2], p[2], "retries keep the message id")
	}
}

func TestSocketTransportBroadcastIsNotAcked(t *testing.T) {
	d := radio.NewLoopback()
	a := openNode(t, d, 1)

	acked, err := a.SendToWait([]byte{1, 'x'}, BroadcastAddress)
	require.NoError(t, err)
	assert.True(t, acked)
	assert.Len(t, d.Sent(), 1)
}

func TestSocketTransportRejectsLongMessage(t *testing.T) {
	a := openNode(t, radio.NewLoopback(), 1)
	_, err := a.SendToWait(make([]byte, MaxMessageLen+1), 2)
	assert.Error(t, err)
}

func TestSocketTransportFiltersAndDeduplicates(t *testing.T) {
	d := radio.NewLoopback()
	b := openNode(t, d, 2)

	d.Inject(radio.Frame{Payload: []byte{2, 1}})                                    // runt
	d.Inject(radio.Frame{Payload: encodeFrame(3, 1, 1, 0, []byte{1})})              // not for us
	d.Inject(radio.Frame{Payload: encodeFrame(2, 1, 5, FlagAck, []byte{'!'})})      // stray ack
	d.Inject(radio.Frame{Payload: encodeFrame(2, 1, 6, 0, []byte{1, 'a'}), SNR: 4}) // delivered
	d.Inject(radio.Frame{Payload: encodeFrame(2, 1, 6, FlagRetry, []byte{1, 'a'})}) // duplicate
	d.Inject(radio.Frame{Payload: encodeFrame(BroadcastAddress, 1, 7, 0, []byte{1, 'b'})})

	m, ok, err := b.RecvFromAckTimeout(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 'a'}, m.Buf)
	assert.Equal(t, 4, b.LastSNR())

	m, ok, err = b.RecvFromAckTimeout(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 'b'}, m.Buf)
	assert.Equal(t, uint8(BroadcastAddress), m.Dest)

	_, ok, err = b.RecvFromAckTimeout(20 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	// The duplicate is acked again, the broadcast is not.
	assert.Len(t, d.Sent(), 2)
}

func TestSocketTransportApplySettings(t *testing.T) {
	d := radio.NewLoopback()
	a := openNode(t, d, 1)
	s := Settings{SpreadingFactor: SF12, Bandwidth: BW125kHz, Channel: Downlink7, TxPowerDBm: 20}
	require.NoError(t, a.ApplySettings(s))

	cfg, _ := d.Config()
	assert.Equal(t, 927.5, cfg.FrequencyMHz)
	assert.Equal(t, 12, cfg.SpreadingFactor)
	assert.Equal(t, 125000, cfg.BandwidthHz)
	assert.Equal(t, 20, cfg.TxPowerDBm)
}

func TestLinksOverSocketTransport(t *testing.T) {
	da, db := radio.Pair()
	base := NewLink(openNode(t, da, 1), Callbacks{})
	var got []Message
	sensor := NewLink(openNode(t, db, 2), Callbacks{RxInd: func(m Message) { got = append(got, m) }})

	done := make(chan error, 1)
	go func() { done <- sensor.ServiceRx() }()

	base.SetTxMessage([]byte("ping"))
	require.NoError(t, base.ServiceTx(2))
	require.NoError(t, <-done)
	require.Len(t, got, 1)
	assert.Equal(t, []byte("ping"), got[0].Body())
	assert.Equal(t, 0.0, base.PacketErrorFraction())
}
