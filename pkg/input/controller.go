// Package input implements the NES's two standard controller ports as
// seen through $4016/$4017: an 8-bit held button shadow per pad that the
// host updates on key events, and an 8-bit serial shift register per pad
// that the CPU actually reads one bit at a time.
package input

// Button indices into a controller's bitmask, matching the order the
// serial shift register reports them in (A first, Right last).
const (
	ButtonA = iota
	ButtonB
	ButtonSelect
	ButtonStart
	ButtonUp
	ButtonDown
	ButtonLeft
	ButtonRight
)

// port holds one controller's live button state and its shift register.
type port struct {
	held uint8
	data uint8
}

// Controllers implements both standard controller ports and the shared
// $4016 strobe line.
type Controllers struct {
	ports  [2]port
	strobe bool
}

// New creates a Controllers with both pads unpressed.
func New() *Controllers {
	return &Controllers{}
}

// Press updates controller's (0 or 1) held state for button. Pressing a
// D-pad direction clears its opposite: real hardware wires Up/Down and
// Left/Right so both can never be held at once, and leaving both bits
// set confuses games that assume that invariant. This is the only entry
// point that changes held state, so the invariant holds regardless of
// whether the caller is the interactive GUI or the headless driver.
func (c *Controllers) Press(controller int, button int, pressed bool) {
	if controller < 0 || controller > 1 {
		return
	}
	p := &c.ports[controller]
	mask := uint8(1) << uint(button)

	if pressed {
		p.held |= mask
		switch button {
		case ButtonUp:
			p.held &^= uint8(1) << ButtonDown
		case ButtonDown:
			p.held &^= uint8(1) << ButtonUp
		case ButtonLeft:
			p.held &^= uint8(1) << ButtonRight
		case ButtonRight:
			p.held &^= uint8(1) << ButtonLeft
		}
	} else {
		p.held &^= mask
	}

	// While strobe is high the shift register continuously reloads from
	// the held state, so a press during strobe must be visible on the
	// very next read rather than waiting for the falling edge.
	if c.strobe {
		p.data = p.held
	}
}

// IsPressed reports whether button is currently held on controller.
func (c *Controllers) IsPressed(controller int, button int) bool {
	if controller < 0 || controller > 1 {
		return false
	}
	return c.ports[controller].held&(uint8(1)<<uint(button)) != 0
}

// ReadPort1 services a $4016 read: controller 1's next serial bit.
func (c *Controllers) ReadPort1() uint8 {
	return c.readPort(0)
}

// ReadPort2 services a $4017 read: controller 2's next serial bit.
func (c *Controllers) ReadPort2() uint8 {
	return c.readPort(1)
}

func (c *Controllers) readPort(i int) uint8 {
	p := &c.ports[i]
	if c.strobe {
		p.data = p.held
	}
	bit := p.data & 1
	// Real pads shift in 1s once all 8 buttons have been read, rather
	// than repeating or going open-bus.
	p.data = p.data>>1 | 0x80
	return bit
}

// WriteStrobe services a $4016 write. Bit 0 is the strobe line shared by
// both ports; while it is held high both shift registers continuously
// reload from their held state, and the falling edge latches the data
// that subsequent reads will shift out.
func (c *Controllers) WriteStrobe(value uint8) {
	c.strobe = value&1 != 0
	if c.strobe {
		c.ports[0].data = c.ports[0].held
		c.ports[1].data = c.ports[1].held
	}
}

// GetButtons returns controller's raw held-button byte.
func (c *Controllers) GetButtons(controller int) uint8 {
	if controller < 0 || controller > 1 {
		return 0
	}
	return c.ports[controller].held
}
