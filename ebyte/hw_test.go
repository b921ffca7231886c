package ebyte

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"periph.io/x/conn/v3/gpio"

	"github.com/mbalug7/go-ebyte-lora/pkg/hal"
	hosthal "github.com/mbalug7/tiny-lora/hal"
	"github.com/mbalug7/tiny-lora/internal/timeutil"
)

func newTestHW(t *testing.T, aux hosthal.InputPin, opts ...HWOption) (*HWHandler, *fakePort, *fakePin, *fakePin, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	port := &fakePort{clock: clock}
	m0, m1 := &fakePin{level: gpio.High}, &fakePin{level: gpio.High}
	opts = append([]HWOption{WithClock(clock)}, opts...)
	h, err := NewHWHandler(m0, m1, aux, port, PortOptions{}, opts...)
	require.NoError(t, err)
	return h, port, m0, m1, clock
}

func TestNewHWHandlerStartsInNormalMode(t *testing.T) {
	h, port, m0, m1, clock := newTestHW(t, nil)

	mode, err := h.GetMode()
	require.NoError(t, err)
	assert.Equal(t, hal.ModeNormal, mode)
	assert.Equal(t, gpio.Low, m0.get())
	assert.Equal(t, gpio.Low, m1.get())
	assert.Equal(t, serial.Mode{BaudRate: 9600, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}, port.lastMode())
	assert.Equal(t, []time.Duration{defaultModeSettle}, clock.Sleeps())
}

func TestSetModePins(t *testing.T) {
	h, _, m0, m1, _ := newTestHW(t, nil)
	tests := []struct {
		mode   hal.ChipMode
		m0, m1 gpio.Level
	}{
		{hal.ModeWakeUp, gpio.High, gpio.Low},
		{hal.ModeSleep, gpio.Low, gpio.High},
		{hal.ModePowerSave, gpio.High, gpio.High},
		{hal.ModeNormal, gpio.Low, gpio.Low},
	}
	for _, tt := range tests {
		require.NoError(t, h.SetMode(tt.mode))
		assert.Equal(t, tt.m0, m0.get(), "M0 in mode %d", tt.mode)
		assert.Equal(t, tt.m1, m1.get(), "M1 in mode %d", tt.mode)
	}
	assert.Error(t, h.SetMode(hal.ChipMode(9)))
}

func TestStagedSerialConfigAppliedOutsideConfigMode(t *testing.T) {
	h, port, _, _, _ := newTestHW(t, nil)

	require.NoError(t, h.SetMode(hal.ModeSleep))
	h.StageSerialPortConfig(115200, hal.ParityEven)
	assert.Equal(t, 9600, port.lastMode().BaudRate)

	require.NoError(t, h.SetMode(hal.ModeNormal))
	assert.Equal(t, 115200, port.lastMode().BaudRate)
	assert.Equal(t, serial.EvenParity, port.lastMode().Parity)
	assert.Equal(t, 115200, h.PortOptions().BaudRate)

	// Register access is always at the factory rate.
	require.NoError(t, h.SetMode(hal.ModeSleep))
	assert.Equal(t, 9600, port.lastMode().BaudRate)
	require.NoError(t, h.SetMode(hal.ModeWakeUp))
	assert.Equal(t, 115200, port.lastMode().BaudRate)
}

func TestStageIgnoresUnsupportedBaud(t *testing.T) {
	h, _, _, _, _ := newTestHW(t, nil)
	h.StageSerialPortConfig(1234, hal.ParityNone)
	require.NoError(t, h.SetMode(hal.ModeNormal))
	assert.Equal(t, 9600, h.PortOptions().BaudRate)
}

func TestSetModeWaitsForAUX(t *testing.T) {
	_, _, _, _, clock := newTestHW(t, fakeAUX(gpio.High))
	assert.Equal(t, []time.Duration{auxPollInterval}, clock.Sleeps())

	port := &fakePort{}
	_, err := NewHWHandler(&fakePin{}, &fakePin{}, fakeAUX(gpio.Low), port, PortOptions{},
		WithClock(timeutil.NewMockClock(time.Unix(0, 0))))
	assert.ErrorIs(t, err, ErrAUXTimeout)
}

func TestSetModePinError(t *testing.T) {
	_, err := NewHWHandler(&fakePin{err: errors.New("busy")}, &fakePin{}, nil, &fakePort{}, PortOptions{},
		WithClock(timeutil.NewMockClock(time.Unix(0, 0))))
	assert.ErrorContains(t, err, "M0")
}

func TestReadSerialJoinsReply(t *testing.T) {
	h, port, _, _, _ := newTestHW(t, nil)
	port.queue([]byte{0xC1, 0x00, 0x02})
	port.queue([]byte{0x12, 0x34})

	data, err := h.ReadSerial()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xC1, 0x00, 0x02, 0x12, 0x34}, data)
}

func TestReadSerialNoReply(t *testing.T) {
	h, _, _, _, clock := newTestHW(t, nil, WithReplyWait(time.Second))
	start := clock.Now()
	_, err := h.ReadSerial()
	assert.ErrorContains(t, err, "no reply")
	// the wait is measured on the handler's clock, one read timeout per poll
	assert.GreaterOrEqual(t, clock.Since(start), time.Second)
	assert.Less(t, clock.Since(start), time.Second+2*defaultSilence)
}

func TestWriteSerial(t *testing.T) {
	h, port, _, _, _ := newTestHW(t, nil)
	require.NoError(t, h.WriteSerial([]byte{0xC1, 0x00, 0x06}))
	assert.Equal(t, [][]byte{{0xC1, 0x00, 0x06}}, port.allWrites())
}

func TestRegisterOnMessageCbRejectsNil(t *testing.T) {
	h, _, _, _, _ := newTestHW(t, nil)
	assert.Error(t, h.RegisterOnMessageCb(nil))
}

func TestRunDeliversFrames(t *testing.T) {
	h, port, _, _, _ := newTestHW(t, nil)

	var mu sync.Mutex
	var got [][]byte
	require.NoError(t, h.RegisterOnMessageCb(func(b []byte, err error) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, b)
	}))

	port.queue([]byte("hel"))
	port.queue([]byte("lo"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, []byte("hello"), got[0])
}

func TestRunPausesInConfigMode(t *testing.T) {
	port := &fakePort{}
	h, err := NewHWHandler(&fakePin{}, &fakePin{}, fakeAUX(gpio.High), port, PortOptions{})
	require.NoError(t, err)
	require.NoError(t, h.SetMode(hal.ModeSleep))
	port.queue([]byte("reply"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Run(ctx), context.DeadlineExceeded)
	assert.Equal(t, 1, port.pending())
}

func TestRunReadError(t *testing.T) {
	h, port, _, _, _ := newTestHW(t, nil)
	var cbErr error
	require.NoError(t, h.RegisterOnMessageCb(func(b []byte, err error) { cbErr = err }))
	port.readErr = errors.New("unplugged")

	err := h.Run(context.Background())
	assert.ErrorContains(t, err, "unplugged")
	assert.ErrorContains(t, cbErr, "unplugged")
}

func TestClose(t *testing.T) {
	h, port, _, _, _ := newTestHW(t, nil)
	require.NoError(t, h.Close())
	assert.True(t, port.closed)
}
