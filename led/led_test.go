package led

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"

	"github.com/mbalug7/tiny-lora/internal/monitoring"
	"github.com/mbalug7/tiny-lora/rgb"
)

type fakePin struct {
	levels []gpio.Level
	err    error
}

func (p *fakePin) Out(l gpio.Level) error {
	if p.err != nil {
		return p.err
	}
	p.levels = append(p.levels, l)
	return nil
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	assert.True(t, r.HeartbeatEnabled())
	require.NoError(t, rgb.DisableHeartbeat(r))
	assert.False(t, r.HeartbeatEnabled())

	var hooked []rgb.Color
	r.OnSet = func(c rgb.Color) { hooked = append(hooked, c) }
	require.NoError(t, rgb.Set(r, 0x08, 0, 0))
	require.NoError(t, r.SetRGB(rgb.Green))

	assert.Equal(t, []rgb.Color{0x080000, 0x001100}, r.Colors())
	assert.Equal(t, hooked, r.Colors())

	r.Err = errors.New("driver gone")
	assert.Error(t, r.SetRGB(rgb.Off))
	assert.Len(t, r.Colors(), 2)
}

func TestConsoleLogsChangesOnly(t *testing.T) {
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, format)
	})
	defer monitoring.SetLogger(nil)

	c := &Console{Name: "status"}
	require.NoError(t, c.SetRGB(rgb.Green))
	require.NoError(t, c.SetRGB(rgb.Green))
	require.NoError(t, c.SetRGB(rgb.Off))
	assert.Len(t, lines, 2)
}

func TestGPIOLevels(t *testing.T) {
	r, g, b := &fakePin{}, &fakePin{}, &fakePin{}
	l := NewGPIO(r, g, b)

	require.NoError(t, l.SetRGB(rgb.Green))
	require.NoError(t, l.SetRGB(rgb.Pack(1, 0, 0xFF)))

	assert.Equal(t, []gpio.Level{gpio.Low, gpio.High}, r.levels)
	assert.Equal(t, []gpio.Level{gpio.High, gpio.Low}, g.levels)
	assert.Equal(t, []gpio.Level{gpio.Low, gpio.High}, b.levels)
}

func TestGPIOActiveLow(t *testing.T) {
	r, g, b := &fakePin{}, &fakePin{}, &fakePin{}
	l := NewGPIO(r, g, b)
	l.ActiveLow = true

	require.NoError(t, l.SetRGB(rgb.Red))
	assert.Equal(t, []gpio.Level{gpio.Low}, r.levels)
	assert.Equal(t, []gpio.Level{gpio.High}, g.levels)
}

func TestGPIOPinError(t *testing.T) {
	l := NewGPIO(&fakePin{}, &fakePin{err: errors.New("busy")}, &fakePin{})
	err := l.SetRGB(rgb.Green)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "green")
}

func TestOpen(t *testing.T) {
	l, err := Open("console", Pins{})
	require.NoError(t, err)
	assert.IsType(t, &Console{}, l)

	l, err = Open("none", Pins{})
	require.NoError(t, err)
	assert.IsType(t, &Recorder{}, l)

	_, err = Open("neon", Pins{})
	assert.Error(t, err)
}
