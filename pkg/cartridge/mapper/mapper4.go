package mapper

import (
	"github.com/nes-gones/gones-core/internal/logger"
)

// mmc3IRQ is the MMC3 scanline-counting IRQ: a counter clocked on filtered
// PPU A12 rising edges, reloaded either when it hits zero or on demand via
// $C001, and latched to a pending IRQ line the CPU reads through
// IsIRQPending/ClearIRQ.
type mmc3IRQ struct {
	reload  uint8
	counter uint8
	enabled bool
	pending bool
	reloadNext bool // set by a $C001 write; consumed on the next clock
}

// clock runs one scanline-counter tick, invoked from a qualified A12 rising
// edge. sharpVariant selects between the two MMC3 ASIC revisions: the Sharp
// part (most common) re-fires every time the counter bottoms out, the NEC
// part only does so while a nonzero reload value keeps the counter moving.
func (irq *mmc3IRQ) clock(sharpVariant bool) {
	if irq.reloadNext {
		irq.counter = irq.reload
		irq.reloadNext = false
	} else if irq.counter == 0 {
		irq.counter = irq.reload
	} else {
		irq.counter--
	}

	fires := irq.counter == 0 && irq.enabled
	if !sharpVariant {
		fires = fires && irq.reload > 0
	}
	if fires {
		irq.pending = true
	}
}

// a12EdgeFilter reconstructs qualified A12 rising edges from the raw CHR
// address stream the PPU emits while fetching tiles, matching the filtering
// real MMC3 ASICs apply: an edge only counts once A12 has sat low for at
// least three M2 (CPU clock) cycles, which rejects the brief low pulses
// sprite-then-background CHR fetches produce within a single scanline.
type a12EdgeFilter struct {
	low      bool
	history  [8]bool
	histPos  int
	filtered bool
}

// observe feeds one CHR address into the filter and reports whether this
// call constitutes a qualified rising edge.
func (f *a12EdgeFilter) observe(chrAddr uint16) bool {
	high := chrAddr&0x1000 != 0

	f.history[f.histPos] = high
	f.histPos = (f.histPos + 1) % len(f.history)

	if !high {
		lowRun := 0
		for _, h := range f.history {
			if h {
				break
			}
			lowRun++
		}
		if lowRun >= 6 {
			f.filtered = true
		}
		f.low = true
		return false
	}

	edge := false
	if f.low && f.filtered {
		edge = true
		for i := 1; i < 4; i++ {
			if f.history[(f.histPos-i+len(f.history))%len(f.history)] {
				edge = false
				break
			}
		}
	}
	f.low = false
	f.filtered = false
	return edge
}

// Mapper4 implements MMC3: 8 bank-select registers (6 CHR, 2 PRG) behind a
// bank-select/bank-data register pair, a scanline IRQ clocked off PPU A12,
// and runtime-switchable nametable mirroring.
type Mapper4 struct {
	data *CartridgeData

	banks      [8]uint8 // R0-R7: CHR banks R0-R5, PRG banks R6-R7
	bankSelect uint8    // $8000/$8001 select register: target index + PRG/CHR mode bits

	mirroring uint8 // 0=vertical, 1=horizontal, set via $A000
	ramProtect uint8 // $A001: bit7 enable, bit6 write-protect

	irq    mmc3IRQ
	a12    a12EdgeFilter
	sharp  bool // true selects the Sharp MMC3 IRQ variant, false the NEC one

	prgBanks uint8 // number of 8KB PRG banks in the cartridge
	chrBanks uint8 // number of 1KB CHR banks (ROM or RAM) in the cartridge
}

// NewMapper4 creates an MMC3 mapper wired to the cartridge's PRG/CHR data.
func NewMapper4(data *CartridgeData) *Mapper4 {
	m := &Mapper4{
		data:       data,
		prgBanks:   uint8(len(data.PRGROM) / 0x2000),
		ramProtect: 0x80,
		sharp:      true,
	}

	switch {
	case len(data.CHRROM) > 0:
		m.chrBanks = uint8(len(data.CHRROM) / 0x400)
	case len(data.CHRRAM) > 0:
		m.chrBanks = uint8(len(data.CHRRAM) / 0x400)
	default:
		m.chrBanks = 8
	}
	logger.LogMapper("MMC3: %d PRG banks, %d CHR banks", m.prgBanks, m.chrBanks)

	if m.prgBanks >= 2 {
		m.banks[6] = m.prgBanks - 2
		m.banks[7] = m.prgBanks - 1
	}
	for i := 0; i < 6; i++ {
		if m.chrBanks > 0 {
			m.banks[i] = uint8(i) % m.chrBanks
		} else {
			m.banks[i] = uint8(i)
		}
	}

	return m
}

// prgBankFor resolves which 8KB PRG bank backs a CPU address in $8000-$FFFF;
// R6 swaps between $8000 and $C000 depending on bankSelect bit 6, R7 always
// sits at $A000, and the last bank is always fixed at $E000 so the reset
// vector never moves under bank switching.
func (m *Mapper4) prgBankFor(addr uint16) uint8 {
	fixedSecondToLast := m.prgBanks - 2
	prgMode := (m.bankSelect >> 6) & 1

	var bank uint8
	switch {
	case addr < 0xA000:
		if prgMode == 0 {
			bank = m.banks[6]
		} else {
			bank = fixedSecondToLast
		}
	case addr < 0xC000:
		bank = m.banks[7]
	case addr < 0xE000:
		if prgMode == 0 {
			bank = fixedSecondToLast
		} else {
			bank = m.banks[6]
		}
	default:
		bank = m.prgBanks - 1
	}

	if bank >= m.prgBanks {
		bank = m.prgBanks - 1
	}
	return bank
}

// ReadPRG reads from PRG RAM ($6000-$7FFF) or banked PRG ROM ($8000-$FFFF).
func (m *Mapper4) ReadPRG(addr uint16) uint8 {
	switch {
	case addr >= 0x6000 && addr < 0x8000:
		if len(m.data.PRGRAM) > 0 && m.ramProtect&0x80 != 0 {
			return m.data.PRGRAM[addr-0x6000]
		}
	case addr >= 0x8000:
		bank := m.prgBankFor(addr)
		offset := uint32(bank)*0x2000 + uint32(addr&0x1FFF)
		if offset < uint32(len(m.data.PRGROM)) {
			return m.data.PRGROM[offset]
		}
	}
	return 0
}

// WritePRG writes PRG RAM or decodes a write into one of MMC3's eight
// even/odd register pairs at $8000-$FFFF.
func (m *Mapper4) WritePRG(addr uint16, value uint8) {
	switch {
	case addr >= 0x6000 && addr < 0x8000:
		if len(m.data.PRGRAM) > 0 && m.ramProtect&0x80 != 0 && m.ramProtect&0x40 == 0 {
			m.data.PRGRAM[addr-0x6000] = value
		}

	case addr >= 0x8000:
		switch addr & 0xE001 {
		case 0x8000:
			m.bankSelect = value

		case 0x8001:
			reg := m.bankSelect & 0x07
			switch {
			case reg >= 6:
				m.banks[reg] = value % m.prgBanks
			case m.chrBanks > 0:
				m.banks[reg] = value % m.chrBanks
			default:
				m.banks[reg] = value
			}

		case 0xA000:
			m.mirroring = value & 1

		case 0xA001:
			m.ramProtect = value

		case 0xC000:
			m.irq.reload = value

		case 0xC001:
			m.irq.reloadNext = true
			m.irq.counter = 0

		case 0xE000:
			m.irq.enabled = false
			m.irq.pending = false

		case 0xE001:
			m.irq.enabled = true
			logger.LogMapper("MMC3 IRQ armed: reload=%d", m.irq.reload)
		}
	}
}

// chrBankFor resolves the 1KB CHR bank backing a PPU address, per whichever
// of the two CHR-mode layouts bankSelect bit 7 selects: {R0,R1} cover 2KB
// pairs that ignore their register's low bit; {R2..R5} each cover 1KB.
func (m *Mapper4) chrBankFor(addr uint16) uint8 {
	lowHalf := addr < 0x1000
	chrMode := (m.bankSelect >> 7) & 1
	twoKBFirst := (chrMode == 0) == lowHalf

	if twoKBFirst {
		base := addr
		if !lowHalf {
			base -= 0x1000
		}
		reg := 0
		if base >= 0x800 {
			reg = 1
		}
		return (m.banks[reg] &^ 1) + uint8((base%0x800)/0x400)
	}

	base := addr
	if !lowHalf {
		base -= 0x1000
	}
	return m.banks[2+base/0x400]
}

// ReadCHR reads a banked CHR ROM/RAM byte.
func (m *Mapper4) ReadCHR(addr uint16) uint8 {
	if addr >= 0x2000 {
		return 0
	}
	bank := m.chrBankFor(addr)
	if m.chrBanks > 0 {
		bank %= m.chrBanks
	}
	offset := uint32(bank)*0x400 + uint32(addr&0x3FF)

	if len(m.data.CHRROM) > 0 && offset < uint32(len(m.data.CHRROM)) {
		return m.data.CHRROM[offset]
	}
	if len(m.data.CHRRAM) > 0 {
		if offset < uint32(len(m.data.CHRRAM)) {
			return m.data.CHRRAM[offset]
		}
		logger.LogMapper("MMC3 CHR read out of range: addr=$%04X bank=%d offset=$%06X", addr, bank, offset)
	}
	return 0
}

// WriteCHR writes banked CHR RAM; CHR ROM carts ignore the write.
func (m *Mapper4) WriteCHR(addr uint16, value uint8) {
	if addr >= 0x2000 || len(m.data.CHRRAM) == 0 {
		return
	}
	bank := m.chrBankFor(addr)
	if m.chrBanks > 0 {
		bank %= m.chrBanks
	}
	offset := uint32(bank)*0x400 + uint32(addr&0x3FF)
	if offset < uint32(len(m.data.CHRRAM)) {
		m.data.CHRRAM[offset] = value
	}
}

// Step clocks the IRQ counter directly, for callers driving MMC3 off a
// scanline count rather than A12 edges (e.g. a fast-forward PPU model).
func (m *Mapper4) Step() {
	m.irq.clock(m.sharp)
}

// NotifyA12 feeds a PPU CHR fetch address through the A12 edge filter and
// clocks the IRQ counter on every qualified rising edge, but only while the
// PPU is actually rendering (A12 toggles constantly during vblank from CPU
// reads, none of which should count as scanlines).
func (m *Mapper4) NotifyA12(chrAddr uint16, renderingEnabled bool) {
	if !renderingEnabled {
		return
	}
	if m.a12.observe(chrAddr) {
		m.irq.clock(m.sharp)
	}
}

// IsIRQPending reports whether MMC3's scanline counter has fired.
func (m *Mapper4) IsIRQPending() bool {
	return m.irq.pending
}

// ClearIRQ acknowledges the pending scanline IRQ.
func (m *Mapper4) ClearIRQ() {
	m.irq.pending = false
}

// GetMirroringMode returns the nametable mirroring $A000 last selected.
func (m *Mapper4) GetMirroringMode() uint8 {
	return m.mirroring
}

// GetBankRegisters returns the eight bank-select registers R0-R7, exposed
// for inspection/tests.
func (m *Mapper4) GetBankRegisters() [8]uint8 {
	return m.banks
}

// GetIRQState returns the scanline counter's current count, reload value,
// enable flag and pending flag, exposed for inspection/tests.
func (m *Mapper4) GetIRQState() (counter, reload uint8, enabled, pending bool) {
	return m.irq.counter, m.irq.reload, m.irq.enabled, m.irq.pending
}
