package mapper

import (
	"fmt"
	"math"

	"github.com/nes-gones/gones-core/pkg/apu"
)

// Mapper85 implements the VRC7 (Konami), as used by Lagrange Point and
// the Japanese release of Famicom Wars. Three switchable 8KB PRG banks
// plus a fixed last bank, eight switchable 1KB CHR banks, a
// register-selected mirroring mode, a dual-mode (cycle/scanline) IRQ
// counter, and a six-channel FM synthesizer that feeds the APU mix.
type Mapper85 struct {
	data *CartridgeData

	prgBanks [3]uint8 // R0-R2: $8000, $A000, $C000 8KB windows; $E000 is fixed to the last bank
	chrBanks [8]uint8 // 1KB CHR windows

	submapper uint8
	mirroring uint8 // PPU mirroring-mode encoding, see cartridge.GetMirroring

	prgBankCount uint8
	chrBankCount uint8

	audioRegister uint8
	audio         vrc7Audio

	irqLatch             uint8
	irqCounter           uint8
	irqScanlineMode      bool
	irqEnabled           bool
	irqEnableAfterAck    bool
	irqPending           bool
	irqScanlinePrescaler int16
}

// NewMapper85 creates a new VRC7 mapper instance.
func NewMapper85(data *CartridgeData) *Mapper85 {
	m := &Mapper85{
		data:      data,
		submapper: data.Submapper,
		audio:     newVRC7Audio(),
	}

	if len(data.PRGROM) > 0 {
		m.prgBankCount = uint8(len(data.PRGROM) / 0x2000)
	}
	if len(data.CHRROM) > 0 {
		m.chrBankCount = uint8(len(data.CHRROM) / 0x400)
	} else if len(data.CHRRAM) > 0 {
		m.chrBankCount = uint8(len(data.CHRRAM) / 0x400)
	}

	return m
}

// registerMask returns the address mask VRC7 boards use to decode
// register writes; it varies by submapper because some boards tie A3/A4
// together and others don't.
func (m *Mapper85) registerMask() uint16 {
	switch m.submapper {
	case 1:
		return 0xF028
	default:
		return 0xF030
	}
}

// ReadPRG reads from PRG ROM/RAM address space.
func (m *Mapper85) ReadPRG(addr uint16) uint8 {
	switch {
	case addr >= 0x6000 && addr <= 0x7FFF:
		if len(m.data.PRGRAM) > 0 {
			offset := int(addr - 0x6000)
			if offset < len(m.data.PRGRAM) {
				return m.data.PRGRAM[offset]
			}
		}
		return 0

	case addr >= 0x8000 && addr <= 0x9FFF:
		return m.readPRGBank(m.prgBanks[0], addr)
	case addr >= 0xA000 && addr <= 0xBFFF:
		return m.readPRGBank(m.prgBanks[1], addr)
	case addr >= 0xC000 && addr <= 0xDFFF:
		return m.readPRGBank(m.prgBanks[2], addr)
	case addr >= 0xE000:
		if m.prgBankCount == 0 {
			return 0
		}
		return m.readPRGBank(m.prgBankCount-1, addr)
	}
	return 0
}

func (m *Mapper85) readPRGBank(bank uint8, addr uint16) uint8 {
	if m.prgBankCount == 0 {
		return 0
	}
	bank %= m.prgBankCount
	offset := uint32(bank)*0x2000 + uint32(addr&0x1FFF)
	if offset < uint32(len(m.data.PRGROM)) {
		return m.data.PRGROM[offset]
	}
	return 0
}

// WritePRG writes to PRG RAM or decodes a VRC7 register write.
func (m *Mapper85) WritePRG(addr uint16, value uint8) {
	if addr >= 0x6000 && addr <= 0x7FFF {
		if len(m.data.PRGRAM) > 0 {
			offset := int(addr - 0x6000)
			if offset < len(m.data.PRGRAM) {
				m.data.PRGRAM[offset] = value
			}
		}
		return
	}

	if addr < 0x8000 {
		return
	}

	switch addr & m.registerMask() {
	case 0x8000:
		m.prgBanks[0] = value & 0x3F
	case 0x8008, 0x8010:
		m.prgBanks[1] = value & 0x3F
	case 0x9000:
		m.prgBanks[2] = value & 0x3F
	case 0xA000:
		m.chrBanks[0] = value
	case 0xA008, 0xA010:
		m.chrBanks[1] = value
	case 0xB000:
		m.chrBanks[2] = value
	case 0xB008, 0xB010:
		m.chrBanks[3] = value
	case 0xC000:
		m.chrBanks[4] = value
	case 0xC008, 0xC010:
		m.chrBanks[5] = value
	case 0xD000:
		m.chrBanks[6] = value
	case 0xD008, 0xD010:
		m.chrBanks[7] = value
	case 0x9010:
		m.audioRegister = value
	case 0x9030:
		m.audio.write(m.audioRegister, value)
	case 0xE000:
		switch value & 0x03 {
		case 0:
			m.mirroring = 1 // vertical
		case 1:
			m.mirroring = 0 // horizontal
		case 2:
			m.mirroring = 3 // single-screen, lower bank
		case 3:
			m.mirroring = 4 // single-screen, upper bank
		}
		// WRAM write-protect and the sound-chip reset bit are not
		// modeled; no commercial title relies on either.
	case 0xE008, 0xE010:
		m.irqLatch = value
	case 0xF000:
		m.irqScanlineMode = (value&0x04)>>2 == 0
		m.irqEnabled = value&0x02 != 0
		m.irqEnableAfterAck = value&0x01 != 0
		m.irqPending = false
		if m.irqEnabled {
			m.irqCounter = m.irqLatch
			m.irqScanlinePrescaler = 341
		}
	case 0xF008, 0xF010:
		m.irqPending = false
		m.irqEnabled = m.irqEnableAfterAck
	}
}

// ReadCHR reads from pattern-table space; VRC7 only supplies pattern
// data, nametables are the PPU's own VRAM mirrored per m.mirroring.
func (m *Mapper85) ReadCHR(addr uint16) uint8 {
	if addr >= 0x2000 {
		return 0
	}
	bank := m.chrBankFor(addr)
	if len(m.data.CHRROM) > 0 {
		return m.readCHRBank(m.data.CHRROM, bank, addr)
	}
	if len(m.data.CHRRAM) > 0 {
		return m.readCHRBank(m.data.CHRRAM, bank, addr)
	}
	return 0
}

// WriteCHR writes to CHR RAM only; CHR ROM boards ignore it.
func (m *Mapper85) WriteCHR(addr uint16, value uint8) {
	if addr >= 0x2000 || len(m.data.CHRRAM) == 0 {
		return
	}
	bank := m.chrBankFor(addr)
	if m.chrBankCount > 0 {
		bank %= m.chrBankCount
	}
	offset := uint32(bank)*0x400 + uint32(addr&0x3FF)
	if offset < uint32(len(m.data.CHRRAM)) {
		m.data.CHRRAM[offset] = value
	}
}

func (m *Mapper85) chrBankFor(addr uint16) uint8 {
	return m.chrBanks[(addr&0x1FFF)/0x400]
}

func (m *Mapper85) readCHRBank(mem []uint8, bank uint8, addr uint16) uint8 {
	if m.chrBankCount > 0 {
		bank %= m.chrBankCount
	}
	offset := uint32(bank)*0x400 + uint32(addr&0x3FF)
	if offset < uint32(len(mem)) {
		return mem[offset]
	}
	return 0
}

// Step does nothing for VRC7: its IRQ counter and expansion audio are
// clocked once per CPU cycle via ClockCPU, not once per scanline.
func (m *Mapper85) Step() {}

// ClockCPU advances the IRQ counter (cycle or scanline-prescaler mode)
// and the FM synthesizer by one CPU cycle.
func (m *Mapper85) ClockCPU() {
	if m.irqEnabled {
		if m.irqScanlineMode {
			m.clockIRQPrescaler()
		} else {
			m.clockIRQCounter()
		}
	}
	m.audio.clock()
}

func (m *Mapper85) clockIRQPrescaler() {
	m.irqScanlinePrescaler -= 3
	if m.irqScanlinePrescaler <= 0 {
		m.clockIRQCounter()
		m.irqScanlinePrescaler += 341
	}
}

func (m *Mapper85) clockIRQCounter() {
	if m.irqCounter == 0xFF {
		m.irqCounter = m.irqLatch
		m.irqPending = true
	} else {
		m.irqCounter++
	}
}

// IsIRQPending returns true once the IRQ counter has overflowed and has
// not yet been acknowledged.
func (m *Mapper85) IsIRQPending() bool {
	return m.irqPending
}

// ClearIRQ acknowledges the pending IRQ without touching the enable bit
// (writing $F008/$F010 is the normal acknowledge path; this exists for
// callers that only know the generic mapper interface).
func (m *Mapper85) ClearIRQ() {
	m.irqPending = false
}

// GetMirroringMode reports VRC7's register-selected mirroring mode.
func (m *Mapper85) GetMirroringMode() uint8 {
	return m.mirroring
}

// MixExpansionAudio adds the six-channel FM synthesizer's output to the
// APU's normalized sample, per spec.md's "divide by six, scale to
// [-1,+1]" mix rule.
func (m *Mapper85) MixExpansionAudio(sample float32) float32 {
	return sample + float32(m.audio.output())/256.0/6.0
}

// Channels exposes VRC7's six FM voices for inspection, satisfying the
// optional InspectableAudio interface (see mapper.go).
func (m *Mapper85) Channels() []apu.Channel {
	views := make([]apu.Channel, 6)
	for i := range m.audio.channels {
		views[i] = &vrc7ChannelView{index: i, ch: &m.audio.channels[i]}
	}
	return views
}

// vrc7MultiplierTable is VRC7's frequency-multiplier lookup (indexed by
// a 4-bit operator "multiplier" field). This carrier-only approximation
// never sets a channel's multiplier away from its zero default, so only
// MT[0]==1 is ever consulted; the full table is kept for fidelity to the
// hardware and as the hook for a future modulator-operator addition.
var vrc7MultiplierTable = [16]uint32{1, 2, 4, 6, 8, 10, 12, 14, 16, 18, 20, 20, 24, 24, 30, 30}

var vrc7LogSinTable [256]uint16
var vrc7ExpTable [256]uint16

func init() {
	for n := 0; n < 256; n++ {
		x := (float64(n) + 0.5) * math.Pi / 512.0
		vrc7LogSinTable[n] = uint16(-256.0 * math.Log2(math.Sin(x)))
	}
	for n := 0; n < 256; n++ {
		i := float64(n) / 256.0
		vrc7ExpTable[n] = uint16(math.Exp2(i)*1024.0 - 1024.0)
	}
}

func vrc7LookupLogSin(phase int) uint16 {
	quadrant := (phase & 0x300) >> 8
	index := phase & 0xFF
	switch quadrant {
	case 0:
		return vrc7LogSinTable[index]
	case 1:
		return vrc7LogSinTable[255-index]
	case 2:
		return 0x8000 | vrc7LogSinTable[index]
	default:
		return 0x8000 | vrc7LogSinTable[255-index]
	}
}

func vrc7LookupExp(i uint16) int16 {
	sign := i & 0x8000
	integralMagnitude := (i & 0x7F00) >> 8
	fractionalMagnitude := i & 0x00FF
	tValue := (vrc7ExpTable[255-fractionalMagnitude] + 1024) << 1
	result := int16(tValue >> integralMagnitude)
	if sign != 0 {
		result = ^result
	}
	return result >> 4
}

// vrc7ChannelRingSize is the length of the recent-output ring each FM
// voice keeps for Inspect(); a debug meter, not audio fidelity.
const vrc7ChannelRingSize = 20

// vrc7Channel is one of VRC7's six two-operator FM voices, simplified to
// the carrier operator only (see vrc7MultiplierTable's doc comment).
type vrc7Channel struct {
	fnum       uint32
	octave     uint32
	volume     uint16
	multiplier uint8 // always 0 in this carrier-only approximation
	phase      uint32
	keyOn      bool

	muted   bool
	samples [vrc7ChannelRingSize]float32
	next    int
}

func (c *vrc7Channel) update() {
	step := ((c.fnum * vrc7MultiplierTable[c.multiplier]) << c.octave) >> 1
	c.phase = (c.phase + step) & 0x7FFFF
}

func (c *vrc7Channel) output() int16 {
	var out int16
	if c.keyOn && !c.muted {
		phase := int(c.phase >> 9)
		out = vrc7LookupExp(vrc7LookupLogSin(phase) + 128*c.volume)
	}
	c.samples[c.next] = float32(out)
	c.next = (c.next + 1) % vrc7ChannelRingSize
	return out
}

func (c *vrc7Channel) recentSamples() []float32 {
	out := make([]float32, vrc7ChannelRingSize)
	for i := 0; i < vrc7ChannelRingSize; i++ {
		out[i] = c.samples[(c.next+i)%vrc7ChannelRingSize]
	}
	return out
}

// vrc7ChannelView adapts a vrc7Channel to apu.Channel.
type vrc7ChannelView struct {
	index int
	ch    *vrc7Channel
}

func (v *vrc7ChannelView) Inspect() apu.AudioChannelState {
	// f(Hz) = fnum * 49716 / 2^(19-octave), per the VRC7 datasheet's
	// master-clock-derived frequency formula.
	freq := float64(v.ch.fnum) * 49716.0 / float64(uint32(1)<<(19-v.ch.octave))
	return apu.AudioChannelState{
		Name:      fmt.Sprintf("FM %d", v.index+1),
		Muted:     v.ch.muted,
		Samples:   v.ch.recentSamples(),
		Frequency: freq,
		Volume:    15 - uint8(v.ch.volume), // VRC7 attenuation is inverted: 0 is loudest
		Timbre:    "FM carrier (carrier-only approximation)",
	}
}

func (v *vrc7ChannelView) SetMuted(muted bool) { v.ch.muted = muted }

// vrc7Audio is the six-channel FM engine. Only one channel advances per
// mapper clock, cycling 0..5 with a 5-tick delay between updates so the
// full period matches the hardware's 72 master-clock cadence.
type vrc7Audio struct {
	channels       [6]vrc7Channel
	currentChannel int
	delayCounter   uint8
}

func newVRC7Audio() vrc7Audio {
	return vrc7Audio{currentChannel: 1}
}

func (a *vrc7Audio) clock() {
	if a.delayCounter == 0 {
		a.channels[a.currentChannel].update()
		a.currentChannel = (a.currentChannel + 1) % 6
		a.delayCounter = 5
	} else {
		a.delayCounter--
	}
}

func (a *vrc7Audio) output() int16 {
	var sum int32
	for i := range a.channels {
		sum += int32(a.channels[i].output())
	}
	return int16(sum)
}

func (a *vrc7Audio) write(address uint8, data uint8) {
	switch {
	case address >= 0x10 && address <= 0x15:
		ch := &a.channels[address-0x10]
		ch.fnum = (ch.fnum & 0xFF00) | uint32(data)

	case address >= 0x20 && address <= 0x25:
		ch := &a.channels[address-0x20]
		ch.fnum = (ch.fnum & 0x00FF) | (uint32(data&0x01) << 8)
		ch.octave = uint32((data & 0x0E) >> 1)
		ch.keyOn = data&0x10 != 0

	case address >= 0x30 && address <= 0x35:
		ch := &a.channels[address-0x30]
		ch.volume = uint16(data & 0x0F)
	}
}
