package ppu

// SpriteData represents raw OAM sprite attribute data.
type SpriteData struct {
	Y          uint8
	TileIndex  uint8
	Attributes uint8
	X          uint8
}

// Sprite attribute flags
const (
	SpriteFlipHorizontal = 0x40
	SpriteFlipVertical   = 0x80
	SpritePriority       = 0x20 // 0=front of background, 1=behind background
	SpritePaletteMask    = 0x03
)

// stepBackgroundPipeline drives the two 16-bit pattern shift registers and
// two 8-bit-equivalent attribute shift registers through the canonical
// 8-dot {nametable, attribute, pattern-lo, pattern-hi} fetch sequence,
// shifting every dot during the fetch windows (1-256, 321-336) and
// reloading the low byte of each shift register every 8th dot.
func (p *PPU) stepBackgroundPipeline() {
	fetching := (p.Cycle >= 1 && p.Cycle <= 256) || (p.Cycle >= 321 && p.Cycle <= 336)

	if fetching {
		p.shiftBackgroundRegisters()

		switch p.Cycle % 8 {
		case 1:
			p.reloadShiftRegisters()
			p.nextTileID = p.fetchNametableByte()
		case 3:
			p.nextTileAttr = p.fetchAttributeByte()
		case 5:
			p.nextTileLo = p.fetchPatternByte(0)
		case 7:
			p.nextTileHi = p.fetchPatternByte(8)
		case 0:
			if p.renderingEnabled() {
				p.incrementCoarseX()
			}
		}
	}

	if p.Cycle == 256 && p.renderingEnabled() {
		p.incrementFineY()
	}
	if p.Cycle == 257 {
		p.reloadShiftRegisters()
	}

	// Two garbage nametable fetches at 337/339, harmless to emulate as
	// a nametable byte fetch without consuming it.
	if p.Cycle == 337 || p.Cycle == 339 {
		p.fetchNametableByte()
	}
}

func (p *PPU) fetchNametableByte() uint8 {
	addr := 0x2000 | (p.v & 0x0FFF)
	return p.readVRAM(addr)
}

func (p *PPU) fetchAttributeByte() uint8 {
	addr := 0x23C0 | (p.v & 0x0C00) | ((p.v >> 4) & 0x38) | ((p.v >> 2) & 0x07)
	attr := p.readVRAM(addr)
	shift := ((p.v >> 4) & 0x04) | (p.v & 0x02)
	return (attr >> shift) & 0x03
}

func (p *PPU) fetchPatternByte(plane uint16) uint8 {
	fineY := (p.v >> 12) & 0x07
	table := uint16(0)
	if p.PPUCTRL&PPUCTRLBGTable != 0 {
		table = 0x1000
	}
	addr := table + uint16(p.nextTileID)*16 + fineY + plane
	return p.readVRAM(addr)
}

// reloadShiftRegisters loads the low byte of each shift register with the
// tile data latched by the fetch pipeline, and expands the 2-bit palette
// selection into two 1-bit-per-pixel attribute shift registers.
func (p *PPU) reloadShiftRegisters() {
	p.bgShiftPatternLo = (p.bgShiftPatternLo & 0xFF00) | uint16(p.nextTileLo)
	p.bgShiftPatternHi = (p.bgShiftPatternHi & 0xFF00) | uint16(p.nextTileHi)

	var attrLo, attrHi uint16
	if p.nextTileAttr&0x01 != 0 {
		attrLo = 0xFF
	}
	if p.nextTileAttr&0x02 != 0 {
		attrHi = 0xFF
	}
	p.bgShiftAttrLo = (p.bgShiftAttrLo & 0xFF00) | attrLo
	p.bgShiftAttrHi = (p.bgShiftAttrHi & 0xFF00) | attrHi
}

func (p *PPU) shiftBackgroundRegisters() {
	if !p.renderingEnabled() {
		return
	}
	p.bgShiftPatternLo <<= 1
	p.bgShiftPatternHi <<= 1
	p.bgShiftAttrLo <<= 1
	p.bgShiftAttrHi <<= 1
}

func (p *PPU) incrementCoarseX() {
	if p.v&0x001F == 31 {
		p.v &^= 0x001F
		p.v ^= 0x0400
	} else {
		p.v++
	}
}

func (p *PPU) incrementFineY() {
	if p.v&0x7000 != 0x7000 {
		p.v += 0x1000
		return
	}
	p.v &^= 0x7000
	y := (p.v & 0x03E0) >> 5
	switch y {
	case 29:
		y = 0
		p.v ^= 0x0800
	case 31:
		y = 0
	default:
		y++
	}
	p.v = (p.v &^ 0x03E0) | (y << 5)
}

// backgroundPixel reads the current pixel out of the shift registers,
// selecting the bit fine-X scroll indicates.
func (p *PPU) backgroundPixel() (colorIndex, palette uint8) {
	if p.PPUMASK&PPUMASKBGShow == 0 {
		return 0, 0
	}
	mux := uint16(0x8000) >> p.x
	lo := uint8(0)
	if p.bgShiftPatternLo&mux != 0 {
		lo = 1
	}
	hi := uint8(0)
	if p.bgShiftPatternHi&mux != 0 {
		hi = 1
	}
	colorIndex = (hi << 1) | lo

	aLo := uint8(0)
	if p.bgShiftAttrLo&mux != 0 {
		aLo = 1
	}
	aHi := uint8(0)
	if p.bgShiftAttrHi&mux != 0 {
		aHi = 1
	}
	palette = (aHi << 1) | aLo
	return colorIndex, palette
}

// evaluateSprites scans primary OAM for up to 8 sprites visible on the
// NEXT scanline (evaluated at dot 257, matching hardware's sprite
// evaluation window) and fetches their pattern data into the per-sprite
// shift registers used during rendering of that scanline.
func (p *PPU) evaluateSprites() {
	targetScanline := p.Scanline + 1
	spriteHeight := 8
	if p.PPUCTRL&PPUCTRLSpriteSize != 0 {
		spriteHeight = 16
	}

	p.spriteCount = 0
	p.spriteZeroOnLine = false

	for i := 0; i < 64 && p.spriteCount < 8; i++ {
		spriteY := int(p.OAM[i*4])
		if targetScanline < spriteY || targetScanline >= spriteY+spriteHeight {
			continue
		}

		idx := p.spriteCount
		tileIndex := p.OAM[i*4+1]
		attrs := p.OAM[i*4+2]
		x := p.OAM[i*4+3]

		row := targetScanline - spriteY
		if attrs&SpriteFlipVertical != 0 {
			row = spriteHeight - 1 - row
		}

		var table uint16
		var tile uint8
		if spriteHeight == 16 {
			table = uint16(tileIndex&1) * 0x1000
			tile = tileIndex &^ 1
			if row >= 8 {
				tile++
				row -= 8
			}
		} else {
			if p.PPUCTRL&PPUCTRLSpriteTable != 0 {
				table = 0x1000
			}
			tile = tileIndex
		}

		addr := table + uint16(tile)*16 + uint16(row)
		lo := p.readVRAM(addr)
		hi := p.readVRAM(addr + 8)

		if attrs&SpriteFlipHorizontal != 0 {
			lo = reverseBits(lo)
			hi = reverseBits(hi)
		}

		p.spritePatternLo[idx] = lo
		p.spritePatternHi[idx] = hi
		p.spriteAttributes[idx] = attrs
		p.spriteX[idx] = x
		p.spriteIsZero[idx] = i == 0
		if i == 0 {
			p.spriteZeroOnLine = true
		}
		p.spriteCount++
	}

	// Continue scanning for the sprite-overflow flag (8+ sprites
	// matched); real hardware's buggy diagonal scan is not replicated,
	// only the flag's trigger condition.
	overflowCount := p.spriteCount
	for i := p.spriteCount; i < 64; i++ {
		spriteY := int(p.OAM[i*4])
		if targetScanline >= spriteY && targetScanline < spriteY+spriteHeight {
			overflowCount++
		}
	}
	if overflowCount > 8 {
		p.PPUSTATUS |= PPUSTATUSSpriteOverflow
	}
}

func reverseBits(b uint8) uint8 {
	var r uint8
	for i := 0; i < 8; i++ {
		r <<= 1
		r |= b & 1
		b >>= 1
	}
	return r
}

// spritePixel finds the highest-priority opaque sprite pixel at x on the
// current scanline.
func (p *PPU) spritePixel(x int) (colorIndex uint8, attrs uint8, isZero bool, found bool) {
	if p.PPUMASK&PPUMASKSpriteShow == 0 {
		return 0, 0, false, false
	}
	if x < 8 && p.PPUMASK&PPUMASKSpriteLeft == 0 {
		return 0, 0, false, false
	}

	for i := 0; i < p.spriteCount; i++ {
		offset := x - int(p.spriteX[i])
		if offset < 0 || offset > 7 {
			continue
		}
		bit := 7 - offset
		lo := (p.spritePatternLo[i] >> bit) & 1
		hi := (p.spritePatternHi[i] >> bit) & 1
		idx := (hi << 1) | lo
		if idx == 0 {
			continue
		}
		return idx, p.spriteAttributes[i], p.spriteIsZero[i], true
	}
	return 0, 0, false, false
}

// renderPixel composites the background and sprite pipelines into the
// framebuffer for screen position (x, y), applying priority and
// sprite-0-hit rules.
func (p *PPU) renderPixel(x, y int) {
	index := y*256 + x
	if index < 0 || index >= len(p.FrameBuffer) {
		return
	}

	bgColorIdx, bgPalette := p.backgroundPixel()
	if x < 8 && p.PPUMASK&PPUMASKBGLeft == 0 {
		bgColorIdx = 0
	}

	spriteColorIdx, spriteAttrs, spriteIsZero, spriteFound := p.spritePixel(x)

	bgOpaque := bgColorIdx != 0
	spriteOpaque := spriteFound

	var finalColor uint32
	var paletteAddr uint8
	switch {
	case !bgOpaque && !spriteOpaque:
		paletteAddr = 0
		finalColor = p.PaletteManager.GetBackgroundColor(0, 0)
	case !bgOpaque && spriteOpaque:
		paletteAddr = 0x10 + (spriteAttrs&SpritePaletteMask)*4 + spriteColorIdx
		finalColor = p.PaletteManager.GetSpriteColor(spriteAttrs&SpritePaletteMask, spriteColorIdx)
	case bgOpaque && !spriteOpaque:
		paletteAddr = bgPalette*4 + bgColorIdx
		finalColor = p.PaletteManager.GetBackgroundColor(bgPalette, bgColorIdx)
	default: // both opaque: priority bit decides, sprite-0-hit may fire
		if spriteAttrs&SpritePriority == 0 {
			paletteAddr = 0x10 + (spriteAttrs&SpritePaletteMask)*4 + spriteColorIdx
			finalColor = p.PaletteManager.GetSpriteColor(spriteAttrs&SpritePaletteMask, spriteColorIdx)
		} else {
			paletteAddr = bgPalette*4 + bgColorIdx
			finalColor = p.PaletteManager.GetBackgroundColor(bgPalette, bgColorIdx)
		}

		if spriteIsZero && x != 255 && p.PPUSTATUS&PPUSTATUSSprite0Hit == 0 {
			leftClipped := x < 8 && (p.PPUMASK&(PPUMASKSpriteLeft|PPUMASKBGLeft)) != (PPUMASKSpriteLeft|PPUMASKBGLeft)
			if !leftClipped {
				p.PPUSTATUS |= PPUSTATUSSprite0Hit
			}
		}
	}

	p.FrameBuffer[index] = finalColor
	p.FrameIndices[index] = p.PaletteManager.ReadPalette(paletteAddr) & 0x3F
}
