package mapper

// Mapper2 implements UxROM: a switchable 16KB PRG bank at $8000-$BFFF, the
// last 16KB bank fixed at $C000-$FFFF, and CHR RAM (a handful of UxROM
// boards shipped CHR ROM instead, which this also supports read-only).
type Mapper2 struct {
	cart *CartridgeData

	selected uint8 // bank currently latched at $8000, masked to banks
	banks    uint8 // number of 16KB PRG banks on the cartridge
}

// NewMapper2 creates a UxROM mapper over the given cartridge data.
func NewMapper2(data *CartridgeData) *Mapper2 {
	return &Mapper2{
		cart:  data,
		banks: uint8(len(data.PRGROM) / 0x4000),
	}
}

func (m *Mapper2) romAt(bank uint8, offsetInBank uint16) uint8 {
	addr := uint32(bank)*0x4000 + uint32(offsetInBank)
	if addr < uint32(len(m.cart.PRGROM)) {
		return m.cart.PRGROM[addr]
	}
	return 0
}

// ReadPRG reads PRG RAM ($6000-$7FFF) or banked PRG ROM: $8000-$BFFF
// follows the bank-select register, $C000-$FFFF is hardwired to the last
// bank regardless of what's selected.
func (m *Mapper2) ReadPRG(addr uint16) uint8 {
	switch {
	case addr >= 0xC000:
		return m.romAt(m.banks-1, addr-0xC000)
	case addr >= 0x8000:
		return m.romAt(m.selected%m.banks, addr-0x8000)
	case addr >= 0x6000 && len(m.cart.PRGRAM) > 0:
		if offset := int(addr - 0x6000); offset < len(m.cart.PRGRAM) {
			return m.cart.PRGRAM[offset]
		}
	}
	return 0
}

// WritePRG latches a new PRG bank on any write to $8000-$FFFF (UxROM
// decodes only the data byte, not the address) or writes PRG RAM when
// present at $6000-$7FFF.
func (m *Mapper2) WritePRG(addr uint16, value uint8) {
	switch {
	case addr >= 0x8000:
		m.selected = value & 0x0F
	case addr >= 0x6000 && len(m.cart.PRGRAM) > 0:
		if offset := int(addr - 0x6000); offset < len(m.cart.PRGRAM) {
			m.cart.PRGRAM[offset] = value
		}
	}
}

// ReadCHR reads CHR RAM, falling back to CHR ROM for the rare UxROM boards
// that ship it.
func (m *Mapper2) ReadCHR(addr uint16) uint8 {
	if ram := m.cart.CHRRAM; int(addr) < len(ram) {
		return ram[addr]
	}
	if rom := m.cart.CHRROM; int(addr) < len(rom) {
		return rom[addr]
	}
	return 0
}

// WriteCHR writes CHR RAM; there is no bank switching on this side.
func (m *Mapper2) WriteCHR(addr uint16, value uint8) {
	if ram := m.cart.CHRRAM; int(addr) < len(ram) {
		ram[addr] = value
	}
}

// Step is a no-op: UxROM has no per-cycle mapper state.
func (m *Mapper2) Step() {}

// GetCurrentPRGBank returns the bank latched at $8000, for tests and
// inspection tooling.
func (m *Mapper2) GetCurrentPRGBank() uint8 {
	return m.selected
}

// IsIRQPending always reports false: UxROM has no IRQ source.
func (m *Mapper2) IsIRQPending() bool { return false }

// ClearIRQ is a no-op: UxROM never asserts an IRQ.
func (m *Mapper2) ClearIRQ() {}
