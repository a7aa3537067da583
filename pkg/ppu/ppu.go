package ppu

import (
	"github.com/nes-gones/gones-core/internal/logger"
	"github.com/nes-gones/gones-core/pkg/bus"
	"github.com/nes-gones/gones-core/pkg/ppu/ntsc"
)

// PPU represents the Picture Processing Unit: a dot-accurate renderer
// driven by the background/sprite shift-register pipeline real NES
// hardware uses, clocked 3 dots per CPU cycle.
type PPU struct {
	// Registers
	PPUCTRL   uint8 // $2000
	PPUMASK   uint8 // $2001
	PPUSTATUS uint8 // $2002
	OAMADDR   uint8 // $2003
	OAMDATA   uint8 // $2004
	PPUSCROLL uint8 // $2005
	PPUADDR   uint8 // $2006
	PPUDATA   uint8 // $2007

	// Internal "loopy" registers
	v uint16 // current VRAM address
	t uint16 // temporary VRAM address
	x uint8  // fine X scroll
	w uint8  // write toggle

	// VRAM (nametables; pattern tables and palette live elsewhere)
	VRAM [0x4000]uint8

	// OAM (Object Attribute Memory)
	OAM          [256]uint8
	secondaryOAM [32]uint8

	// Frame buffer (256x240, 0xAARRGGBB)
	FrameBuffer [256 * 240]uint32

	// FrameIndices holds the raw 6-bit master-palette index chosen for
	// each pixel of FrameBuffer, before ARGB resolution. The NTSC
	// composite filter (pkg/ppu/ntsc) consumes this per scanline;
	// nothing else needs it.
	FrameIndices [256 * 240]uint8

	// Timing
	Cycle         int // dot, 0-340
	Scanline      int // -1 (pre-render) .. 260
	Frame         uint64
	FrameComplete bool
	oddFrame      bool

	// NMI
	NMIRequested bool

	// Rendering pipeline state, see renderer.go
	bgShiftPatternLo uint16
	bgShiftPatternHi uint16
	bgShiftAttrLo    uint16
	bgShiftAttrHi    uint16

	nextTileID   uint8
	nextTileAttr uint8
	nextTileLo   uint8
	nextTileHi   uint8

	spriteCount         int
	spritePatternLo     [8]uint8
	spritePatternHi     [8]uint8
	spriteAttributes    [8]uint8
	spriteX             [8]uint8
	spriteIsZero        [8]bool
	spriteZeroOnLine    bool
	spriteZeroRendering bool

	PaletteManager *PaletteManager

	// PPU read buffer for $2007 reads
	readBuffer uint8

	Bus *bus.Bus

	Cartridge interface {
		ReadCHR(addr uint16) uint8
		WriteCHR(addr uint16, value uint8)
		Step() // called once per scanline for mapper IRQ
		IsIRQPending() bool
		ClearIRQ()
		GetMirroring() int
		NotifyA12(chrAddr uint16, renderingEnabled bool)
	}
}

// PPUCTRL flags
const (
	PPUCTRLNameTable   = 0x03
	PPUCTRLIncrement   = 0x04
	PPUCTRLSpriteTable = 0x08
	PPUCTRLBGTable     = 0x10
	PPUCTRLSpriteSize  = 0x20
	PPUCTRLMasterSlave = 0x40
	PPUCTRLNMIEnable   = 0x80
)

// PPUMASK flags
const (
	PPUMASKGreyscale      = 0x01
	PPUMASKBGLeft         = 0x02
	PPUMASKSpriteLeft     = 0x04
	PPUMASKBGShow         = 0x08
	PPUMASKSpriteShow     = 0x10
	PPUMASKRedEmphasize   = 0x20
	PPUMASKGreenEmphasize = 0x40
	PPUMASKBlueEmphasize  = 0x80
)

// PPUSTATUS flags
const (
	PPUSTATUSSpriteOverflow = 0x20
	PPUSTATUSSprite0Hit     = 0x40
	PPUSTATUSVBlank         = 0x80
)

// New creates a new PPU instance.
func New(b *bus.Bus) *PPU {
	return &PPU{
		Bus:            b,
		Scanline:       -1,
		PaletteManager: NewPaletteManager(),
	}
}

// Reset resets the PPU to its post-power-on state.
func (p *PPU) Reset() {
	p.PPUCTRL = 0
	p.PPUMASK = 0
	p.PPUSTATUS = 0
	p.OAMADDR = 0
	p.v = 0
	p.t = 0
	p.x = 0
	p.w = 0
	p.Cycle = 0
	p.Scanline = -1
	p.FrameComplete = false
}

// SetCartridge sets the cartridge reference.
func (p *PPU) SetCartridge(cart interface {
	ReadCHR(addr uint16) uint8
	WriteCHR(addr uint16, value uint8)
	Step()
	IsIRQPending() bool
	ClearIRQ()
	GetMirroring() int
	NotifyA12(chrAddr uint16, renderingEnabled bool)
}) {
	p.Cartridge = cart
}

func (p *PPU) renderingEnabled() bool {
	return p.PPUMASK&(PPUMASKBGShow|PPUMASKSpriteShow) != 0
}

// Step advances the PPU by one dot.
func (p *PPU) Step() {
	p.PaletteManager.SetEmphasis(p.PPUMASK & 0xE0)

	if p.Scanline >= -1 && p.Scanline < 240 {
		p.stepBackgroundPipeline()
		p.handleMMC3A12Timing()
	}

	if p.Scanline >= 0 && p.Scanline < 240 && p.Cycle == 257 {
		p.evaluateSprites()
	}

	if p.Scanline >= 0 && p.Scanline < 240 && p.Cycle >= 1 && p.Cycle <= 256 {
		p.renderPixel(p.Cycle-1, p.Scanline)
	}

	if p.Scanline == -1 {
		if p.Cycle == 1 {
			p.PPUSTATUS &^= PPUSTATUSVBlank | PPUSTATUSSprite0Hit | PPUSTATUSSpriteOverflow
		}
		if p.Cycle == 304 && p.renderingEnabled() {
			p.v = (p.v & 0x841F) | (p.t & 0x7BE0)
		}
	}

	if p.Scanline == 241 && p.Cycle == 1 {
		p.PPUSTATUS |= PPUSTATUSVBlank
		if p.PPUCTRL&PPUCTRLNMIEnable != 0 {
			p.NMIRequested = true
		}
	}

	if p.Scanline >= 0 && p.Scanline < 240 && p.Cycle == 257 && p.renderingEnabled() {
		p.v = (p.v & 0xFBE0) | (p.t & 0x041F)
	}

	p.Cycle++

	// Skip the idle dot on odd frames when rendering is enabled.
	if p.Scanline == -1 && p.Cycle == 340 && p.oddFrame && p.renderingEnabled() {
		p.Cycle = 341
	}

	if p.Cycle >= 341 {
		p.Cycle = 0
		p.Scanline++

		if p.Cartridge != nil && p.Scanline >= 0 && p.Scanline < 240 {
			p.Cartridge.Step()
		}

		if p.Scanline >= 261 {
			p.Scanline = -1
			p.FrameComplete = true
			p.Frame++
			p.oddFrame = !p.oddFrame
		}
	}
}

// ReadRegister reads from a PPU-mapped register.
func (p *PPU) ReadRegister(addr uint16) uint8 {
	switch addr {
	case 0x2002: // PPUSTATUS
		value := p.PPUSTATUS
		p.PPUSTATUS &^= PPUSTATUSVBlank
		p.w = 0
		return value
	case 0x2004: // OAMDATA
		return p.OAM[p.OAMADDR]
	case 0x2007: // PPUDATA
		var value uint8
		if p.v >= 0x3F00 {
			value = p.readVRAM(p.v)
			p.readBuffer = p.readVRAM(p.v - 0x1000)
		} else {
			value = p.readBuffer
			p.readBuffer = p.readVRAM(p.v)
		}
		p.incrementVRAMAddr()
		return value
	}
	return 0
}

// WriteRegister writes to a PPU-mapped register.
func (p *PPU) WriteRegister(addr uint16, value uint8) {
	switch addr {
	case 0x2000: // PPUCTRL
		p.PPUCTRL = value
		p.t = (p.t & 0xF3FF) | ((uint16(value) & 0x03) << 10)
	case 0x2001: // PPUMASK
		p.PPUMASK = value
	case 0x2003: // OAMADDR
		p.OAMADDR = value
	case 0x2004: // OAMDATA
		p.OAM[p.OAMADDR] = value
		p.OAMADDR++
	case 0x2005: // PPUSCROLL
		if p.w == 0 {
			p.t = (p.t & 0xFFE0) | (uint16(value) >> 3)
			p.x = value & 0x07
			p.w = 1
		} else {
			p.t = (p.t & 0x8FFF) | ((uint16(value) & 0x07) << 12)
			p.t = (p.t & 0xFC1F) | ((uint16(value) & 0xF8) << 2)
			p.w = 0
		}
	case 0x2006: // PPUADDR
		if p.w == 0 {
			p.t = (p.t & 0x80FF) | ((uint16(value) & 0x3F) << 8)
			p.w = 1
		} else {
			p.t = (p.t & 0xFF00) | uint16(value)
			p.v = p.t
			p.w = 0
		}
	case 0x2007: // PPUDATA
		p.writeVRAM(p.v, value)
		p.incrementVRAMAddr()
	}
}

func (p *PPU) incrementVRAMAddr() {
	if p.PPUCTRL&PPUCTRLIncrement != 0 {
		p.v += 32
	} else {
		p.v += 1
	}
}

// readVRAM reads from the PPU's address space: pattern tables via the
// mapper, nametables via mirroring, palette RAM directly.
func (p *PPU) readVRAM(addr uint16) uint8 {
	addr = addr % 0x4000

	switch {
	case addr < 0x2000:
		if p.Cartridge == nil {
			return 0
		}
		p.notifyA12(addr)
		return p.Cartridge.ReadCHR(addr)
	case addr < 0x3F00:
		return p.readNameTable(addr)
	default:
		return p.PaletteManager.ReadPalette(uint8(addr & 0x1F))
	}
}

func (p *PPU) writeVRAM(addr uint16, value uint8) {
	addr = addr % 0x4000

	switch {
	case addr < 0x2000:
		if p.Cartridge != nil {
			p.notifyA12(addr)
			p.Cartridge.WriteCHR(addr, value)
		}
	case addr < 0x3F00:
		p.writeNameTable(addr, value)
	default:
		p.PaletteManager.WritePalette(uint8(addr&0x1F), value)
	}
}

func (p *PPU) notifyA12(chrAddr uint16) {
	if p.Cartridge == nil {
		return
	}
	enabled := p.renderingEnabled()
	visible := p.Scanline >= 0 && p.Scanline < 240
	if enabled && visible {
		p.Cartridge.NotifyA12(chrAddr, enabled)
	}
}

// GetFramebuffer returns the current framebuffer as RGBA bytes.
func (p *PPU) GetFramebuffer() []uint8 {
	rgba := make([]uint8, 256*240*4)
	for i, pixel := range p.FrameBuffer {
		r := uint8((pixel >> 16) & 0xFF)
		g := uint8((pixel >> 8) & 0xFF)
		b := uint8(pixel & 0xFF)
		a := uint8((pixel >> 24) & 0xFF)
		rgba[i*4+0] = r
		rgba[i*4+1] = g
		rgba[i*4+2] = b
		rgba[i*4+3] = a
	}
	return rgba
}

// GetNTSCFramebuffer returns the current frame run through the NTSC
// composite filter as 512x240 RGBA bytes, one Filter call per
// scanline.
func (p *PPU) GetNTSCFramebuffer() []uint8 {
	rgba := make([]uint8, 512*240*4)
	emphasis := p.PPUMASK & 0xE0

	var row [256]uint8
	for y := 0; y < 240; y++ {
		copy(row[:], p.FrameIndices[y*256:(y+1)*256])
		filtered := ntsc.Filter(row, emphasis)
		base := y * 512 * 4
		for x, px := range filtered {
			rgba[base+x*4+0] = px.R
			rgba[base+x*4+1] = px.G
			rgba[base+x*4+2] = px.B
			rgba[base+x*4+3] = px.A
		}
	}
	return rgba
}

func (p *PPU) readNameTable(addr uint16) uint8 {
	return p.VRAM[p.mirrorNameTableAddress(addr)]
}

func (p *PPU) writeNameTable(addr uint16, value uint8) {
	p.VRAM[p.mirrorNameTableAddress(addr)] = value
}

func (p *PPU) mirrorNameTableAddress(addr uint16) uint16 {
	offset := addr - 0x2000

	if p.Cartridge == nil {
		return p.applyHorizontalMirroring(offset) + 0x2000
	}

	switch p.Cartridge.GetMirroring() {
	case 0: // Horizontal
		return p.applyHorizontalMirroring(offset) + 0x2000
	case 1: // Vertical
		return p.applyVerticalMirroring(offset) + 0x2000
	case 3: // Single-screen, lower bank (VRC7, MMC1)
		return p.applySingleScreenMirroring(offset, 0) + 0x2000
	case 4: // Single-screen, upper bank (VRC7, MMC1)
		return p.applySingleScreenMirroring(offset, 1) + 0x2000
	default:
		return addr
	}
}

func (p *PPU) applyHorizontalMirroring(offset uint16) uint16 {
	if offset >= 0x800 {
		return offset - 0x400
	}
	return offset & 0x7FF
}

func (p *PPU) applyVerticalMirroring(offset uint16) uint16 {
	return offset & 0x7FF
}

func (p *PPU) applySingleScreenMirroring(offset uint16, bank uint16) uint16 {
	return (offset & 0x3FF) + bank*0x400
}

// IsMapperIRQPending returns whether mapper IRQ is pending.
func (p *PPU) IsMapperIRQPending() bool {
	if p.Cartridge != nil {
		return p.Cartridge.IsIRQPending()
	}
	return false
}

// ClearMapperIRQ clears the mapper's pending IRQ.
func (p *PPU) ClearMapperIRQ() {
	if p.Cartridge != nil {
		p.Cartridge.ClearIRQ()
	}
}

// handleMMC3A12Timing notifies the mapper of A12 transitions implied by
// the current tile/sprite pattern fetch, for MMC3-style scanline IRQs.
func (p *PPU) handleMMC3A12Timing() {
	if p.Cartridge == nil || !p.renderingEnabled() {
		return
	}

	var a12Addr uint16
	notify := false

	switch {
	case (p.Cycle >= 0 && p.Cycle <= 255) || (p.Cycle >= 320 && p.Cycle <= 340):
		if p.PPUCTRL&PPUCTRLBGTable != 0 {
			a12Addr = 0x1000
		}
		notify = true
	case p.Cycle >= 256 && p.Cycle <= 319:
		if p.PPUCTRL&PPUCTRLSpriteTable != 0 {
			a12Addr = 0x1000
		}
		notify = true
	}

	if notify && p.Cycle%8 == 0 {
		logger.LogPPU("a12 notify scanline=%d cycle=%d addr=$%04X", p.Scanline, p.Cycle, a12Addr)
		p.Cartridge.NotifyA12(a12Addr, true)
	}
}
