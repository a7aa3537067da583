package cpu

import (
	"github.com/nes-gones/gones-core/internal/logger"
	"github.com/nes-gones/gones-core/pkg/bus"
)

// CPU represents the 6502-derivative processor ("2A03").
type CPU struct {
	// Registers
	A  uint8  // Accumulator
	X  uint8  // X register
	Y  uint8  // Y register
	SP uint8  // Stack pointer
	PC uint16 // Program counter
	P  uint8  // Status register

	Bus *bus.Bus

	// Cycles is the running total of CPU cycles since reset. Its parity
	// picks the OAM DMA stall length; NES.MasterClock is the system clock.
	Cycles int

	// tick counts down the cycles remaining in the instruction currently
	// executing. Cycle() only fetches+decodes a new opcode when tick
	// reaches zero, giving the bus a one-CPU-cycle-at-a-time interface
	// to interleave PPU/APU stepping against, even though instruction
	// *effects* are applied atomically the moment tick hits zero.
	tick int

	// Jammed is set when an unofficial opcode-jam (KIL) instruction is
	// hit; the CPU stops fetching further instructions until Reset.
	Jammed bool

	// Interrupt lines. NMI is edge-triggered (set once, consumed once);
	// IRQ is level-triggered and is the logical OR of every IRQ source
	// (APU frame/DMC IRQ, mapper IRQ) the host asserts.
	nmiPending bool
	IRQLine    bool

	lastPC       uint16
	stuckCounter int
}

// Status flag bits
const (
	FlagCarry     = 1 << 0 // C
	FlagZero      = 1 << 1 // Z
	FlagInterrupt = 1 << 2 // I
	FlagDecimal   = 1 << 3 // D
	FlagBreak     = 1 << 4 // B
	FlagUnused    = 1 << 5 // -
	FlagOverflow  = 1 << 6 // V
	FlagNegative  = 1 << 7 // N
)

// New creates a new CPU instance.
func New(b *bus.Bus) *CPU {
	return &CPU{
		Bus: b,
		SP:  0xFD,
		P:   FlagUnused | FlagInterrupt,
	}
}

// Reset resets the CPU to its power-on/reset state and loads PC from the
// reset vector at $FFFC/$FFFD.
func (c *CPU) Reset() {
	c.A = 0
	c.X = 0
	c.Y = 0
	c.SP = 0xFD
	c.P = FlagUnused | FlagInterrupt
	c.Jammed = false
	c.tick = 0

	c.PC = c.read16(0xFFFC)
	c.Cycles = 0
}

// Cycle advances the CPU by exactly one cycle. It returns true on the
// cycle where a new instruction begins (useful for instruction-boundary
// interrupt servicing and trace logging).
func (c *CPU) Cycle() bool {
	if c.tick > 0 {
		c.tick--
		c.Cycles++
		return false
	}

	if c.Jammed {
		c.Cycles++
		return false
	}

	if c.nmiPending {
		c.nmiPending = false
		cycles := c.handleNMI()
		c.tick = cycles - 1
		c.Cycles++
		return true
	}

	if c.IRQLine && !c.getFlag(FlagInterrupt) {
		cycles := c.handleIRQ()
		c.tick = cycles - 1
		c.Cycles++
		return true
	}

	opcode := c.read(c.PC)
	c.PC++

	// A $4014 write inside this instruction stalls one cycle longer if
	// this CPU cycle (the one the write happens on) is odd.
	c.Bus.SetOddCycle(c.Cycles%2 == 1)

	cycles := c.executeInstruction(opcode)
	if cycles <= 0 {
		cycles = 1
	}
	c.tick = cycles - 1
	c.Cycles++
	return true
}

// Step executes one whole instruction (or interrupt service routine) and
// returns the number of CPU cycles it took. Kept for callers and tests
// that want instruction-granularity stepping; internally it just drains
// Cycle() until the next instruction boundary.
func (c *CPU) Step() int {
	spent := 1
	c.Cycle() // begins the instruction (tick==0 guaranteed at entry)
	for c.tick > 0 {
		c.Cycle()
		spent++
	}
	return spent
}

// executeInstruction is implemented in instructions.go

func (c *CPU) handleNMI() int {
	logger.LogCPU("NMI triggered: PC=$%04X, pushing to stack", c.PC)
	c.push16(c.PC)
	c.push(c.P &^ FlagBreak)
	c.setFlag(FlagInterrupt, true)
	vector := c.read16(0xFFFA)
	logger.LogCPU("NMI vector: $%04X, jumping to handler", vector)
	c.PC = vector
	return 7
}

func (c *CPU) handleIRQ() int {
	c.push16(c.PC)
	c.push(c.P &^ FlagBreak)
	c.setFlag(FlagInterrupt, true)
	c.PC = c.read16(0xFFFE)
	return 7
}

// Flag operations
func (c *CPU) getFlag(flag uint8) bool {
	return c.P&flag != 0
}

func (c *CPU) setFlag(flag uint8, value bool) {
	if value {
		c.P |= flag
	} else {
		c.P &^= flag
	}
}

// Memory operations
func (c *CPU) read(addr uint16) uint8 {
	return c.Bus.Read(addr)
}

func (c *CPU) write(addr uint16, value uint8) {
	c.Bus.Write(addr, value)
}

func (c *CPU) read16(addr uint16) uint16 {
	lo := uint16(c.read(addr))
	hi := uint16(c.read(addr + 1))
	return hi<<8 | lo
}

// Stack operations
func (c *CPU) push(value uint8) {
	c.write(0x100|uint16(c.SP), value)
	c.SP--
}

func (c *CPU) pop() uint8 {
	c.SP++
	return c.read(0x100 | uint16(c.SP))
}

func (c *CPU) push16(value uint16) {
	c.push(uint8(value >> 8))
	c.push(uint8(value & 0xFF))
}

func (c *CPU) pop16() uint16 {
	lo := uint16(c.pop())
	hi := uint16(c.pop())
	return hi<<8 | lo
}

// TriggerNMI latches a pending Non-Maskable Interrupt.
func (c *CPU) TriggerNMI() {
	c.nmiPending = true
}

// SetIRQLine sets the level of the (shared, OR-of-sources) IRQ line.
// Callers that assert an IRQ must also clear it once their condition is
// no longer true; the CPU never auto-clears this line on its own.
func (c *CPU) SetIRQLine(asserted bool) {
	c.IRQLine = asserted
}

// TriggerIRQ is a convenience alias for SetIRQLine(true), kept for
// callers that fire a one-shot request rather than holding a line.
func (c *CPU) TriggerIRQ() {
	c.IRQLine = true
}

// GetFlag returns the state of a flag (exported for tests/inspection).
func (c *CPU) GetFlag(flag uint8) bool {
	return c.getFlag(flag)
}

// AtInstructionBoundary reports whether the next Cycle() call will begin
// fetching a new instruction.
func (c *CPU) AtInstructionBoundary() bool {
	return c.tick == 0 && !c.Jammed
}
