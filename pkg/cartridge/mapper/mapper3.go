package mapper

// busConflict models whether a CNROM board's data bus fights the PRG ROM
// driving the same lines during a bank-select write; only the AND-type
// variant (NES 2.0 submapper 2) actually differs from "use the byte as
// written".
type busConflict uint8

const (
	busConflictUnknown busConflict = iota
	busConflictNone
	busConflictAND
)

// Mapper3 implements CNROM: PRG ROM fixed at $8000-$FFFF (32KB, no
// switching) and an 8KB CHR bank register writable from anywhere in that
// same PRG window.
type Mapper3 struct {
	cart *CartridgeData

	chrBank  uint8
	chrBanks uint8
	conflict busConflict
}

// NewMapper3 creates a CNROM mapper over the given cartridge data. Bus
// conflicts default to none, matching NES 2.0 submapper 1 (the common
// case); call SetBusConflictMode to opt into AND-type conflicts.
func NewMapper3(data *CartridgeData) *Mapper3 {
	m := &Mapper3{
		cart:     data,
		conflict: busConflictNone,
	}
	if len(data.CHRROM) > 0 {
		m.chrBanks = uint8(len(data.CHRROM) / 0x2000)
	}
	return m
}

// ReadPRG reads fixed PRG ROM ($8000-$FFFF) or PRG RAM ($6000-$7FFF).
func (m *Mapper3) ReadPRG(addr uint16) uint8 {
	switch {
	case addr >= 0x8000:
		if offset := int(addr - 0x8000); offset < len(m.cart.PRGROM) {
			return m.cart.PRGROM[offset]
		}
	case addr >= 0x6000 && len(m.cart.PRGRAM) > 0:
		if offset := int(addr - 0x6000); offset < len(m.cart.PRGRAM) {
			return m.cart.PRGRAM[offset]
		}
	}
	return 0
}

// WritePRG latches a new CHR bank on any write to $8000-$FFFF, applying a
// bus conflict against the PRG ROM byte at that address first if the
// cartridge's submapper calls for one, or writes PRG RAM at $6000-$7FFF.
func (m *Mapper3) WritePRG(addr uint16, value uint8) {
	switch {
	case addr >= 0x8000:
		if m.conflict == busConflictAND {
			value &= m.ReadPRG(addr)
		}
		m.chrBank = value & 0x03
	case addr >= 0x6000 && len(m.cart.PRGRAM) > 0:
		if offset := int(addr - 0x6000); offset < len(m.cart.PRGRAM) {
			m.cart.PRGRAM[offset] = value
		}
	}
}

// ReadCHR reads banked CHR ROM, or unbanked CHR RAM for the rare CNROM
// variant that ships it.
func (m *Mapper3) ReadCHR(addr uint16) uint8 {
	if rom := m.cart.CHRROM; len(rom) > 0 {
		offset := uint32(m.chrBank%m.chrBanks)*0x2000 + uint32(addr)
		if offset < uint32(len(rom)) {
			return rom[offset]
		}
		return 0
	}
	if ram := m.cart.CHRRAM; int(addr) < len(ram) {
		return ram[addr]
	}
	return 0
}

// WriteCHR writes CHR RAM; CHR ROM carts ignore the write.
func (m *Mapper3) WriteCHR(addr uint16, value uint8) {
	if ram := m.cart.CHRRAM; int(addr) < len(ram) {
		ram[addr] = value
	}
}

// Step is a no-op: CNROM has no per-cycle mapper state.
func (m *Mapper3) Step() {}

// GetCurrentCHRBank returns the CHR bank currently selected, for tests and
// inspection tooling.
func (m *Mapper3) GetCurrentCHRBank() uint8 {
	return m.chrBank
}

// IsIRQPending always reports false: CNROM has no IRQ source.
func (m *Mapper3) IsIRQPending() bool { return false }

// ClearIRQ is a no-op: CNROM never asserts an IRQ.
func (m *Mapper3) ClearIRQ() {}

// SetBusConflictMode selects how a bank-select write interacts with the
// PRG ROM byte at the same address: 0 (unknown, treated as none), 1 (no
// conflict, write as-is) or 2 (AND-type conflict).
func (m *Mapper3) SetBusConflictMode(mode uint8) {
	if mode <= 2 {
		m.conflict = busConflict(mode)
	}
}
