// Package led provides the LED backends the commands can drive: an in-memory
// recorder, a console logger and three GPIO lines on a Linux host.
package led

import (
	"fmt"
	"sync"

	"github.com/mbalug7/tiny-lora/internal/monitoring"
	"github.com/mbalug7/tiny-lora/rgb"
)

// Recorder keeps every colour written to it.
type Recorder struct {
	mu        sync.Mutex
	colors    []rgb.Color
	heartbeat bool

	// Err, if set, is returned by SetRGB instead of recording.
	Err error
	// OnSet is called after each recorded write.
	OnSet func(rgb.Color)
}

// NewRecorder returns a Recorder with the heartbeat running, like a board
// fresh out of reset.
func NewRecorder() *Recorder {
	return &Recorder{heartbeat: true}
}

func (r *Recorder) SetRGB(c rgb.Color) error {
	r.mu.Lock()
	if r.Err != nil {
		r.mu.Unlock()
		return r.Err
	}
	r.colors = append(r.colors, c)
	hook := r.OnSet
	r.mu.Unlock()

	if hook != nil {
		hook(c)
	}
	return nil
}

func (r *Recorder) Heartbeat(enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heartbeat = enabled
	return nil
}

// HeartbeatEnabled reports the last heartbeat state.
func (r *Recorder) HeartbeatEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.heartbeat
}

// Colors returns a copy of every colour written so far.
func (r *Recorder) Colors() []rgb.Color {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]rgb.Color, len(r.colors))
	copy(out, r.colors)
	return out
}

// Console logs colour changes instead of driving hardware. Repeated writes of
// the same colour are logged once.
type Console struct {
	Name string
	last *rgb.Color
}

func (c *Console) SetRGB(col rgb.Color) error {
	if c.last != nil && *c.last == col {
		return nil
	}
	c.last = &col
	name := c.Name
	if name == "" {
		name = "led"
	}
	monitoring.Logf("%s: %s", name, col)
	return nil
}

func (c *Console) String() string {
	return fmt.Sprintf("console LED %q", c.Name)
}
