package rgb

import (
	"context"
	"fmt"
	"time"

	"github.com/mbalug7/tiny-lora/internal/timeutil"
)

// DefaultBlinkInterval is the pause between two LED writes.
const DefaultBlinkInterval = 10 * time.Millisecond

// BlinkOptions configures Blink.
type BlinkOptions struct {
	// Color is written on every iteration unless Cycle is set.
	Color Color
	// Cycle, when set, replaces Color with the next step of the walk.
	Cycle    *Cycle
	Interval time.Duration
	Clock    timeutil.Clock
}

// Blink disables the heartbeat, then sets the colour and sleeps until ctx is
// done.
func Blink(ctx context.Context, led LED, opts BlinkOptions) error {
	if opts.Interval <= 0 {
		opts.Interval = DefaultBlinkInterval
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if err := DisableHeartbeat(led); err != nil {
		return fmt.Errorf("failed to disable heartbeat: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c := opts.Color
		if opts.Cycle != nil {
			c = opts.Cycle.Next()
		}
		if err := led.SetRGB(c); err != nil {
			return fmt.Errorf("failed to set LED to %s: %w", c, err)
		}
		if err := opts.Clock.SleepContext(ctx, opts.Interval); err != nil {
			return err
		}
	}
}

// Toggle flips an LED between Off and an on colour.
type Toggle struct {
	On  Color
	cur Color
}

// NewToggle returns a Toggle that starts off.
func NewToggle(on Color) *Toggle {
	return &Toggle{On: on}
}

// Flip switches the state, writes it to led and returns the colour written.
func (t *Toggle) Flip(led LED) (Color, error) {
	if t.cur == Off {
		t.cur = t.On
	} else {
		t.cur = Off
	}
	return t.cur, led.SetRGB(t.cur)
}
