package rgb

// DefaultCycleMax is the brightness ceiling the colour walk rotates under.
const DefaultCycleMax uint8 = 0x08

// Cycle walks the hue wheel red -> blue -> green -> red one channel step at a
// time, keeping every channel at or below Max.
type Cycle struct {
	Red, Green, Blue uint8
	Max              uint8
}

// NewCycle starts a walk at full red.
func NewCycle(max uint8) *Cycle {
	if max == 0 {
		max = DefaultCycleMax
	}
	return &Cycle{Red: max, Max: max}
}

// Next advances one step and returns the new colour.
func (c *Cycle) Next() Color {
	if c.Red >= c.Max {
		if c.Green > 0 {
			c.Green--
		} else {
			c.Blue++
		}
	}
	if c.Blue >= c.Max {
		if c.Red > 0 {
			c.Red--
		} else {
			c.Green++
		}
	}
	if c.Green >= c.Max {
		if c.Blue > 0 {
			c.Blue--
		} else {
			c.Red++
		}
	}
	return c.Color()
}

// Color returns the current colour without stepping.
func (c *Cycle) Color() Color {
	return Pack(c.Red, c.Green, c.Blue)
}
