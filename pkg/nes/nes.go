// Package nes assembles the CPU, PPU, APU, bus, input and cartridge
// mapper into a complete system and drives them in lock-step.
package nes

import (
	"fmt"
	"os"

	"github.com/nes-gones/gones-core/pkg/apu"
	"github.com/nes-gones/gones-core/pkg/bus"
	"github.com/nes-gones/gones-core/pkg/cartridge"
	"github.com/nes-gones/gones-core/pkg/cpu"
	"github.com/nes-gones/gones-core/pkg/input"
	"github.com/nes-gones/gones-core/pkg/ppu"
)

// CartridgeRejectedError is returned when a file does not parse as a
// cartridge this core understands (bad magic, truncated ROM data, an
// NSF container where a cartridge is expected, or an unimplemented
// mapper). It re-exports the cartridge package's error type so callers
// of LoadROM only need to import this package.
type CartridgeRejectedError = cartridge.CartridgeRejectedError

// LoadFailedError wraps a host I/O failure encountered while loading a
// cartridge or battery save.
type LoadFailedError struct {
	Path string
	Err  error
}

func (e *LoadFailedError) Error() string {
	return fmt.Sprintf("load failed for %s: %v", e.Path, e.Err)
}

func (e *LoadFailedError) Unwrap() error { return e.Err }

// ErrSRAMAbsent is returned by battery-RAM save/load paths when the
// loaded cartridge has no battery-backed PRG-RAM; callers should treat
// this as a silent no-op, not a failure.
var ErrSRAMAbsent = fmt.Errorf("cartridge has no battery-backed SRAM")

// NES represents the Nintendo Entertainment System.
type NES struct {
	CPU       *cpu.CPU
	PPU       *ppu.PPU
	APU       *apu.APU
	Bus       *bus.Bus
	Cartridge *cartridge.Cartridge
	Input     *input.Controllers

	// MasterClock counts master-clock ticks (12 per CPU cycle, 4 per
	// PPU dot) since the last Reset.
	MasterClock uint64
	Frame       uint64
}

// NewNES creates a new NES instance with all components wired together.
func NewNES() *NES {
	nes := &NES{}

	nes.Bus = bus.New()
	nes.CPU = cpu.New(nes.Bus)
	nes.PPU = ppu.New(nes.Bus)
	nes.APU = apu.New()
	nes.Input = input.New()

	nes.Bus.SetPPU(nes.PPU)
	nes.Bus.SetAPU(nes.APU)
	nes.Bus.SetInput(nes.Input)
	nes.APU.SetMemory(nes.Bus)

	return nes
}

// LoadCartridge loads a cartridge into the NES.
func (n *NES) LoadCartridge(cart *cartridge.Cartridge) {
	n.Cartridge = cart
	n.Bus.SetCartridge(cart)
	n.PPU.SetCartridge(cart)
	n.APU.SetExpansionAudio(cart)
}

// LoadROM opens an iNES file at path and loads it as the NES's
// cartridge. I/O failures are wrapped in LoadFailedError; a file that
// opens but does not parse as a usable cartridge returns the
// cartridge package's CartridgeRejectedError unchanged.
func (n *NES) LoadROM(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return &LoadFailedError{Path: path, Err: err}
	}
	defer file.Close()

	cart, err := cartridge.LoadFromReader(file)
	if err != nil {
		var rejected *cartridge.CartridgeRejectedError
		if asCartridgeRejected(err, &rejected) {
			return rejected
		}
		return &LoadFailedError{Path: path, Err: err}
	}

	n.LoadCartridge(cart)
	return nil
}

func asCartridgeRejected(err error, target **cartridge.CartridgeRejectedError) bool {
	rejected, ok := err.(*cartridge.CartridgeRejectedError)
	if ok {
		*target = rejected
	}
	return ok
}

// Reset resets the NES to its post-power-on/reset state.
func (n *NES) Reset() {
	n.CPU.Reset()
	n.PPU.Reset()
	n.APU.Reset()
	n.MasterClock = 0
	n.Frame = 0
}

// Cycle advances the system by exactly one CPU cycle (12 master-clock
// ticks, 3 PPU dots), servicing OAM DMA stalling and aggregating every
// IRQ source into the CPU's shared IRQ line.
func (n *NES) Cycle() {
	if n.Bus.DMAStall > 0 {
		n.Bus.DMAStall--
	} else {
		n.CPU.Cycle()
	}

	if n.Cartridge != nil {
		n.Cartridge.ClockCPU()
	}

	for i := 0; i < 3; i++ {
		n.PPU.Step()

		if n.PPU.NMIRequested {
			n.CPU.TriggerNMI()
			n.PPU.NMIRequested = false
		}
	}

	n.APU.Step()

	n.CPU.SetIRQLine(n.APU.IRQLine() || n.PPU.IsMapperIRQPending())
	if n.PPU.IsMapperIRQPending() {
		// The mapper IRQ line stays asserted until the mapper itself
		// acknowledges it (VRC7/MMC3 style); the PPU only exposes the
		// pending flag, so clear-on-service happens via ClearMapperIRQ
		// once the CPU has actually jumped to the IRQ vector. Treating
		// "pending" as "still asserted" here keeps the line level
		// correct across multiple Cycle() calls until acknowledged.
	}

	n.MasterClock += 12
}

// Step executes one whole CPU instruction's worth of system time. Once the
// CPU has jammed (see OpcodeJam) there is no next instruction boundary to
// reach, so Step degrades to advancing a single cycle per call instead of
// spinning forever.
func (n *NES) Step() {
	for {
		boundary := n.CPU.AtInstructionBoundary()
		n.Cycle()
		if n.CPU.Jammed {
			return
		}
		if boundary {
			continue
		}
		if n.CPU.AtInstructionBoundary() {
			break
		}
	}
}

// StepFrame runs the system until the PPU completes a frame.
func (n *NES) StepFrame() {
	stepCount := 0
	const maxSteps = 50000

	for !n.PPU.FrameComplete {
		n.Step()
		stepCount++
		if stepCount > maxSteps {
			n.PPU.FrameComplete = true
			break
		}
	}

	n.PPU.FrameComplete = false
	n.Frame = n.PPU.Frame
}

// RunUntilHBlank steps until the PPU's scanline counter changes.
func (n *NES) RunUntilHBlank() {
	scanline := n.PPU.Scanline
	for n.PPU.Scanline == scanline {
		n.Step()
	}
}

// RunUntilVBlank steps until the PPU reaches its first post-render
// VBlank scanline, leaving it first if already there.
func (n *NES) RunUntilVBlank() {
	for n.PPU.Scanline == 241 {
		n.Step()
	}
	for n.PPU.Scanline != 241 {
		n.Step()
	}
}

// OpcodeJam reports whether the CPU has executed an unofficial KIL/JAM
// opcode and locked up; the system stays in this state until Reset.
func (n *NES) OpcodeJam() bool {
	return n.CPU.Jammed
}

// GetInput returns the controller ports.
func (n *NES) GetInput() *input.Controllers {
	return n.Input
}

// GetFramebuffer returns the current framebuffer as RGBA bytes.
func (n *NES) GetFramebuffer() []uint8 {
	return n.PPU.GetFramebuffer()
}

// GetFrame returns the current frame number.
func (n *NES) GetFrame() uint64 {
	return n.Frame
}

// GetFramebufferRaw returns the raw framebuffer as 32-bit ARGB pixels.
func (n *NES) GetFramebufferRaw() []uint32 {
	return n.PPU.FrameBuffer[:]
}

// GetNTSCFramebuffer returns the current frame composite-filtered to
// 512x240 RGBA bytes.
func (n *NES) GetNTSCFramebuffer() []uint8 {
	return n.PPU.GetNTSCFramebuffer()
}

// SaveSRAM returns the cartridge's battery-backed PRG-RAM, or
// ErrSRAMAbsent if the cartridge has none.
func (n *NES) SaveSRAM() ([]byte, error) {
	if n.Cartridge == nil || !n.Cartridge.HasSRAM() {
		return nil, ErrSRAMAbsent
	}
	return n.Cartridge.GetSRAM(), nil
}

// LoadSRAM restores battery-backed PRG-RAM, or returns ErrSRAMAbsent if
// the cartridge has none.
func (n *NES) LoadSRAM(data []byte) error {
	if n.Cartridge == nil || !n.Cartridge.HasSRAM() {
		return ErrSRAMAbsent
	}
	n.Cartridge.LoadSRAM(data)
	return nil
}
