package p2p

import (
	"fmt"

	"github.com/mbalug7/tiny-lora/internal/monitoring"
)

const escape = 27

// Console turns debug serial input into link commands and TX messages.
//
// "!" starts a command, ended by a newline:
//
//	S<d>      spreading factor index
//	B<d>      signal bandwidth index
//	C<d|dd>   frequency channel index
//	P<d|dd>   tx power in dBm
//
// Any other input is appended to the link's dataReq TX message. CR and LF
// are skipped, "$" is followed by an ESC byte, LF means the message is ready.
type Console struct {
	link        *Link
	commandMode bool
	cmd         []byte
}

func NewConsole(l *Link) *Console {
	return &Console{link: l}
}

// Write feeds p through Feed. It reports ready when any byte completed a
// message.
func (c *Console) Write(p []byte) (ready bool) {
	for _, b := range p {
		if c.Feed(b) {
			ready = true
		}
	}
	return ready
}

// Feed handles one input byte and reports whether the TX message is ready to
// send.
func (c *Console) Feed(b byte) bool {
	if b == '!' {
		c.commandMode = true
		monitoring.Logf("Entered command mode.")
	}
	if c.commandMode {
		if b != '\n' && b != '\r' && b != '!' && len(c.cmd) < MaxMessageLen {
			c.cmd = append(c.cmd, b)
		}
		if b == '\n' {
			if err := c.runCommand(); err != nil {
				monitoring.Logf("console command %q: %v", c.cmd, err)
			}
			c.cmd = c.cmd[:0]
			c.commandMode = false
		}
		return false
	}

	l := c.link
	if len(l.tx) == 0 {
		l.tx = append(l.tx, byte(MsgDataReq))
	}
	if b != '\n' && b != '\r' && len(l.tx) < MaxMessageLen {
		l.tx = append(l.tx, b)
	}
	if b == '$' && len(l.tx) < MaxMessageLen {
		l.tx = append(l.tx, escape)
	}
	return b == '\n'
}

func (c *Console) runCommand() error {
	if len(c.cmd) < 2 {
		return nil
	}
	arg := int(c.cmd[1]) - '0'
	if len(c.cmd) > 2 {
		arg = arg*10 + int(c.cmd[2]) - '0'
	}
	if arg < 0 || arg > 0xFF {
		return fmt.Errorf("%w: argument out of range", ErrInvalidSetting)
	}

	switch c.cmd[0] {
	case 'S':
		return c.link.SetSpreadingFactor(SpreadingFactor(int(c.cmd[1]) - '0'))
	case 'B':
		return c.link.SetBandwidth(Bandwidth(int(c.cmd[1]) - '0'))
	case 'C':
		return c.link.SetChannel(Channel(arg))
	case 'P':
		if arg > MaxTxPowerDBm {
			return fmt.Errorf("%w: tx power %d dBm", ErrInvalidSetting, arg)
		}
		return c.link.SetTxPower(int8(arg))
	}
	return nil
}
