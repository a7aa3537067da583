package ppu

import "testing"

// fakeCHRCartridge backs pattern-table reads directly off a byte slice,
// standing in for a cartridge's CHR ROM/RAM in tests that exercise
// rendering without a full mapper/cartridge stack.
type fakeCHRCartridge struct {
	chr [0x2000]uint8
}

func (f *fakeCHRCartridge) ReadCHR(addr uint16) uint8          { return f.chr[addr&0x1FFF] }
func (f *fakeCHRCartridge) WriteCHR(addr uint16, value uint8)  { f.chr[addr&0x1FFF] = value }
func (f *fakeCHRCartridge) Step()                              {}
func (f *fakeCHRCartridge) IsIRQPending() bool                 { return false }
func (f *fakeCHRCartridge) ClearIRQ()                          {}
func (f *fakeCHRCartridge) GetMirroring() int                  { return 0 }
func (f *fakeCHRCartridge) NotifyA12(uint16, bool)              {}

// TestSpriteZeroHit exercises the exact scanline/dot at which an opaque
// sprite-0 pixel over an opaque background pixel sets PPUSTATUS bit 6,
// the signal games poll to time mid-frame scroll splits.
func TestSpriteZeroHit(t *testing.T) {
	ppu := createTestPPU()
	cart := &fakeCHRCartridge{}
	for row := 0; row < 8; row++ {
		cart.chr[row] = 0xFF // tile 0, bitplane 0: opaque (color index 1) on every row
	}
	ppu.SetCartridge(cart)

	ppu.PPUMASK = PPUMASKBGShow | PPUMASKSpriteShow | PPUMASKBGLeft | PPUMASKSpriteLeft

	const spriteX = 16
	ppu.OAM[0] = 0      // Y=0: enters the sprite buffer used to render scanline 1
	ppu.OAM[1] = 0      // tile 0, the same pattern the background uses
	ppu.OAM[2] = 0      // in front of the background, palette 0
	ppu.OAM[3] = spriteX

	// Step to the dot immediately before the sprite's leftmost column is
	// rendered on the first scanline it appears on.
	for !(ppu.Scanline == 1 && ppu.Cycle == spriteX+1) {
		ppu.Step()
		if ppu.Scanline > 2 {
			t.Fatal("sprite 0 never reached its rendering scanline")
		}
	}
	if ppu.PPUSTATUS&PPUSTATUSSprite0Hit != 0 {
		t.Fatal("sprite-0 hit fired before the sprite's opaque column was rendered")
	}

	ppu.Step() // renders x = spriteX on scanline 1

	if ppu.PPUSTATUS&PPUSTATUSSprite0Hit == 0 {
		t.Error("expected sprite-0 hit once the sprite's opaque pixel overlapped the opaque background pixel")
	}
}

// TestSpriteZeroHitRequiresBothShowFlags checks that sprite-0 hit cannot
// fire with sprite or background rendering disabled, even with an
// otherwise identical overlapping setup.
func TestSpriteZeroHitRequiresBothShowFlags(t *testing.T) {
	ppu := createTestPPU()
	cart := &fakeCHRCartridge{}
	for row := 0; row < 8; row++ {
		cart.chr[row] = 0xFF
	}
	ppu.SetCartridge(cart)

	ppu.PPUMASK = PPUMASKBGShow | PPUMASKBGLeft // sprites disabled

	ppu.OAM[0] = 0
	ppu.OAM[1] = 0
	ppu.OAM[2] = 0
	ppu.OAM[3] = 16

	for i := 0; i < 400; i++ {
		ppu.Step()
	}

	if ppu.PPUSTATUS&PPUSTATUSSprite0Hit != 0 {
		t.Error("sprite-0 hit should not fire while sprite rendering is disabled")
	}
}
