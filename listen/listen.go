// Package listen is the receive demo: poll a raw radio socket without
// blocking, print whatever arrived and blink the status LED once per pass.
package listen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mbalug7/tiny-lora/internal/monitoring"
	"github.com/mbalug7/tiny-lora/internal/timeutil"
	"github.com/mbalug7/tiny-lora/radio"
	"github.com/mbalug7/tiny-lora/rgb"
)

const (
	DefaultSize     = 64
	DefaultInterval = time.Second
)

// FrameRecorder persists received frames.
type FrameRecorder interface {
	Record(f radio.Frame) error
}

type Options struct {
	Socket *radio.Socket
	LED    rgb.LED
	// Out receives one line per pass. Defaults to os.Stdout.
	Out   io.Writer
	Clock timeutil.Clock
	// Size caps how many bytes of a frame are read.
	Size     int
	Interval time.Duration
	// OnColor is the colour the LED toggles to, rgb.Green by default.
	OnColor rgb.Color
	// Store, when set, records every non-empty frame.
	Store FrameRecorder
}

// Run loops until ctx is done. It returns ctx.Err() on cancellation and any
// socket or LED failure otherwise.
func Run(ctx context.Context, opts Options) error {
	if opts.Socket == nil || opts.LED == nil {
		return errors.New("listen: socket and LED are required")
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.OnColor == rgb.Off {
		opts.OnColor = rgb.Green
	}
	if err := rgb.DisableHeartbeat(opts.LED); err != nil {
		return fmt.Errorf("failed to disable heartbeat: %w", err)
	}

	toggle := rgb.NewToggle(opts.OnColor)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		opts.Socket.SetBlocking(false)
		f, err := opts.Socket.RecvFrame()
		switch {
		case errors.Is(err, radio.ErrWouldBlock):
			f = radio.Frame{}
		case err != nil:
			return fmt.Errorf("failed to receive: %w", err)
		}
		data := f.Payload
		if len(data) > opts.Size {
			data = data[:opts.Size]
		}
		fmt.Fprintln(opts.Out, FormatBytes(data))

		if len(data) > 0 && opts.Store != nil {
			f.Payload = data
			if err := opts.Store.Record(f); err != nil {
				monitoring.Logf("failed to record frame: %v", err)
			}
		}

		if _, err := toggle.Flip(opts.LED); err != nil {
			return fmt.Errorf("failed to toggle LED: %w", err)
		}
		if err := opts.Clock.SleepContext(ctx, opts.Interval); err != nil {
			return err
		}
	}
}

// FormatBytes renders b as a bytes literal (b'hi\x00'). Printable ASCII is kept
// as is and everything else is escaped.
func FormatBytes(b []byte) string {
	quote := byte('\'')
	if strings.IndexByte(string(b), '\'') >= 0 && strings.IndexByte(string(b), '"') < 0 {
		quote = '"'
	}

	var sb strings.Builder
	sb.WriteByte('b')
	sb.WriteByte(quote)
	for _, c := range b {
		switch {
		case c == '\\':
			sb.WriteString(`\\`)
		case c == quote:
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case c == '\t':
			sb.WriteString(`\t`)
		case c == '\n':
			sb.WriteString(`\n`)
		case c == '\r':
			sb.WriteString(`\r`)
		case c < 0x20 || c >= 0x7f:
			fmt.Fprintf(&sb, `\x%02x`, c)
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteByte(quote)
	return sb.String()
}
