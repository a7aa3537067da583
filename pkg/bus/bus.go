// Package bus implements the shared memory map that the CPU, PPU, APU,
// cartridge mapper and controller ports are wired onto.
package bus

import (
	"github.com/nes-gones/gones-core/internal/logger"
)

const recentAccessLen = 20

// Bus represents the NES CPU-visible memory map.
type Bus struct {
	// CPU RAM (2KB, mirrored to fill 8KB)
	RAM [2048]uint8

	// Test memory for high addresses (used when no cartridge is attached)
	HighMem [0xA000]uint8 // 0x6000-0xFFFF

	// PPU interface
	PPU interface {
		ReadRegister(addr uint16) uint8
		WriteRegister(addr uint16, value uint8)
	}

	// APU interface
	APU interface {
		ReadRegister(addr uint16) uint8
		WriteRegister(addr uint16, value uint8)
	}

	// Cartridge interface
	Cartridge interface {
		ReadPRG(addr uint16) uint8
		WritePRG(addr uint16, value uint8)
	}

	// Input interface: both standard controller ports and their shared
	// $4016 strobe line.
	Input interface {
		ReadPort1() uint8
		ReadPort2() uint8
		WriteStrobe(value uint8)
	}

	// OpenBus is the last byte that moved across the bus, returned for
	// reads of addresses nothing responds to.
	OpenBus uint8

	// DMAStall counts the CPU cycles OAM DMA is still holding the bus.
	DMAStall int

	// oddCycle mirrors the CPU's current-cycle parity, kept up to date by
	// the CPU on every Cycle() so performOAMDMA can apply the +1-cycle
	// penalty a $4014 write on an odd CPU cycle incurs.
	oddCycle bool

	recentReads  []uint16
	recentWrites []uint16
}

// New creates a new Bus instance.
func New() *Bus {
	return &Bus{}
}

// SetCartridge sets the cartridge reference.
func (b *Bus) SetCartridge(cart interface {
	ReadPRG(addr uint16) uint8
	WritePRG(addr uint16, value uint8)
}) {
	b.Cartridge = cart
}

// SetOddCycle records whether the CPU cycle currently in progress is odd,
// so a $4014 write landing on it stalls one cycle longer.
func (b *Bus) SetOddCycle(odd bool) {
	b.oddCycle = odd
}

// SetPPU sets the PPU reference.
func (b *Bus) SetPPU(ppu interface {
	ReadRegister(addr uint16) uint8
	WriteRegister(addr uint16, value uint8)
}) {
	b.PPU = ppu
}

// SetAPU sets the APU reference.
func (b *Bus) SetAPU(apu interface {
	ReadRegister(addr uint16) uint8
	WriteRegister(addr uint16, value uint8)
}) {
	b.APU = apu
}

// SetInput sets the input reference.
func (b *Bus) SetInput(input interface {
	ReadPort1() uint8
	ReadPort2() uint8
	WriteStrobe(value uint8)
}) {
	b.Input = input
}

func (b *Bus) noteRead(addr uint16) {
	b.recentReads = append(b.recentReads, addr)
	if len(b.recentReads) > recentAccessLen {
		b.recentReads = b.recentReads[len(b.recentReads)-recentAccessLen:]
	}
}

func (b *Bus) noteWrite(addr uint16) {
	b.recentWrites = append(b.recentWrites, addr)
	if len(b.recentWrites) > recentAccessLen {
		b.recentWrites = b.recentWrites[len(b.recentWrites)-recentAccessLen:]
	}
}

// RecentReads returns the most recent read addresses, oldest first.
func (b *Bus) RecentReads() []uint16 { return b.recentReads }

// RecentWrites returns the most recent write addresses, oldest first.
func (b *Bus) RecentWrites() []uint16 { return b.recentWrites }

// Read reads a byte from the given address, tracking the access for the
// debug ring and updating the open-bus latch.
func (b *Bus) Read(addr uint16) uint8 {
	value := b.PassiveRead(addr)
	b.noteRead(addr)
	b.OpenBus = value
	return value
}

// PassiveRead dispatches a read without recording it in the recent-read
// ring or updating the open-bus latch; Read wraps it. PPU register and
// controller port reads still have their usual side effects.
func (b *Bus) PassiveRead(addr uint16) uint8 {
	switch {
	case addr < 0x2000:
		return b.RAM[addr&0x7FF]

	case addr < 0x4000:
		if b.PPU != nil {
			return b.PPU.ReadRegister(0x2000 + (addr & 0x7))
		}
		return b.OpenBus

	case addr == 0x4016:
		if b.Input != nil {
			return b.Input.ReadPort1()
		}
		return b.OpenBus

	case addr == 0x4017:
		if b.Input != nil {
			return b.Input.ReadPort2()
		}
		return b.OpenBus

	case addr < 0x4020:
		if b.APU != nil {
			return b.APU.ReadRegister(addr)
		}
		return b.OpenBus

	case addr >= 0x6000:
		if b.Cartridge != nil {
			return b.Cartridge.ReadPRG(addr)
		}
		index := addr - 0x6000
		if int(index) >= len(b.HighMem) {
			return b.OpenBus
		}
		return b.HighMem[index]

	default:
		return b.OpenBus
	}
}

// Write writes a byte to the given address.
func (b *Bus) Write(addr uint16, value uint8) {
	b.noteWrite(addr)
	b.OpenBus = value

	switch {
	case addr < 0x2000:
		b.RAM[addr&0x7FF] = value

	case addr < 0x4000:
		if b.PPU != nil {
			ppuAddr := 0x2000 + (addr & 0x7)
			if ppuAddr == 0x2006 || ppuAddr == 0x2007 {
				logger.LogCPU("bus write PPU $%04X: value=$%02X", ppuAddr, value)
			}
			b.PPU.WriteRegister(ppuAddr, value)
		}

	case addr == 0x4014:
		b.performOAMDMA(value)

	case addr == 0x4016:
		if b.Input != nil {
			b.Input.WriteStrobe(value)
		}

	case addr < 0x4020:
		if b.APU != nil {
			b.APU.WriteRegister(addr, value)
		}

	case addr >= 0x6000:
		if b.Cartridge != nil {
			b.Cartridge.WritePRG(addr, value)
		} else {
			index := addr - 0x6000
			if int(index) < len(b.HighMem) {
				b.HighMem[index] = value
			}
		}

	default:
		// Unmapped $4020-$5FFF
	}
}

// performOAMDMA transfers 256 bytes from CPU memory to PPU OAM and stalls
// the CPU for 513 cycles, or 514 if the triggering write landed on an
// odd CPU cycle (the extra cycle real hardware spends synchronizing
// before the first dummy read).
func (b *Bus) performOAMDMA(page uint8) {
	baseAddr := uint16(page) << 8

	for i := 0; i < 256; i++ {
		value := b.Read(baseAddr + uint16(i))
		if b.PPU != nil {
			b.PPU.WriteRegister(0x2004, value)
		}
	}

	b.DMAStall = 513
	if b.oddCycle {
		b.DMAStall++
	}
}
